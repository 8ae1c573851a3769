package deepseek

import (
	"errors"
	"fmt"
	"net/http"
)

// UpstreamError reports a failed completion. StatusCode is zero when the
// request never got an HTTP answer (network failure, cancelled context,
// malformed stream).
type UpstreamError struct {
	StatusCode int
	Type       string
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Type != "":
		return fmt.Sprintf("deepseek: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("deepseek: HTTP %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return "deepseek: " + e.Err.Error()
	default:
		return "deepseek: " + e.Message
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// RateLimited reports whether the upstream rejected the call with 429.
func (e *UpstreamError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimited reports whether err is (or wraps) a 429 from the upstream.
func IsRateLimited(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue) && ue.RateLimited()
}

// asUpstream wraps err in an UpstreamError unless it already is one.
func asUpstream(err error) *UpstreamError {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue
	}
	return &UpstreamError{Err: err}
}
