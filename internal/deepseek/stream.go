package deepseek

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Fragments is a finite, non-restartable sequence of partial completion
// text. Each call to Next returns the text accumulated so far; io.EOF marks
// the end of the answer. Close must be called when done, even after an
// error, and cancels the underlying request.
//
// Fragments is not safe for concurrent use.
type Fragments struct {
	next   func() (string, error)
	closer io.Closer
	text   strings.Builder
	done   bool
}

// NewFragments builds a sequence from a function returning successive
// deltas (io.EOF when exhausted) and an optional closer.
func NewFragments(next func() (string, error), closer io.Closer) *Fragments {
	return &Fragments{next: next, closer: closer}
}

// Next returns the accumulated text after the next non-empty delta.
// Failures other than io.EOF are reported as *UpstreamError.
func (f *Fragments) Next() (string, error) {
	if f.done {
		return f.text.String(), io.EOF
	}
	for {
		delta, err := f.next()
		if err == io.EOF {
			f.done = true
			return f.text.String(), io.EOF
		}
		if err != nil {
			f.done = true
			return f.text.String(), asUpstream(err)
		}
		if delta == "" {
			continue
		}
		f.text.WriteString(delta)
		return f.text.String(), nil
	}
}

// Text returns everything accumulated so far.
func (f *Fragments) Text() string { return f.text.String() }

func (f *Fragments) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Stream opens an incremental completion. Streaming calls are never
// retried: once fragments have reached the user a replay would duplicate
// them.
func (c *Client) Stream(ctx context.Context, messages []Message, model string) (*Fragments, error) {
	if len(messages) == 0 {
		return nil, &UpstreamError{Message: "no messages to complete"}
	}

	ctx, cancel := context.WithCancel(ctx)
	resp, err := c.post(ctx, messages, model, true)
	if err != nil {
		cancel()
		c.logger.Error("stream open failed", "model", model, "error", err)
		return nil, err
	}

	sse := newSSEReader(resp.Body)
	next := func() (string, error) {
		for {
			if !sse.Next() {
				if err := sse.Err(); err != nil {
					return "", fmt.Errorf("read stream: %w", err)
				}
				// The body ended without the [DONE] sentinel.
				return "", fmt.Errorf("stream ended unexpectedly")
			}

			data := sse.Data()
			if data == "[DONE]" {
				return "", io.EOF
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return "", fmt.Errorf("parse stream chunk: %w", err)
			}
			if chunk.Error != nil {
				return "", &UpstreamError{Type: chunk.Error.Type, Message: chunk.Error.Message}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			return chunk.Choices[0].Delta.Content, nil
		}
	}

	return NewFragments(next, closerFunc(func() error {
		cancel()
		return resp.Body.Close()
	})), nil
}

// CompleteStreaming consumes a Stream, calling onChunk with the accumulated
// text after every fragment, and returns the final text.
func (c *Client) CompleteStreaming(ctx context.Context, messages []Message, model string, onChunk func(string)) (string, error) {
	frags, err := c.Stream(ctx, messages, model)
	if err != nil {
		return "", err
	}
	defer frags.Close()

	for {
		text, err := frags.Next()
		if err == io.EOF {
			return text, nil
		}
		if err != nil {
			return "", err
		}
		if onChunk != nil {
			onChunk(text)
		}
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
