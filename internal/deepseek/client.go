package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/courier/internal/clock"
)

const (
	DefaultAPIURL      = "https://api.deepseek.com/chat/completions"
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7

	defaultRequestTimeout = 120 * time.Second
)

// Message is one entry of the chat-completions messages array.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a Client. Zero values fall back to the package defaults.
type Options struct {
	APIURL         string
	MaxTokens      int
	Temperature    float64
	RequestTimeout time.Duration
	Retry          RetryPolicy
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey         string
	apiURL         string
	maxTokens      int
	temperature    float64
	requestTimeout time.Duration
	retry          RetryPolicy
	clock          clock.Clock
	client         *http.Client
	logger         *slog.Logger
}

func NewClient(apiKey string, opts Options) *Client {
	c := &Client{
		apiKey:         apiKey,
		apiURL:         opts.APIURL,
		maxTokens:      opts.MaxTokens,
		temperature:    opts.Temperature,
		requestTimeout: opts.RequestTimeout,
		retry:          opts.Retry,
		clock:          opts.Clock,
		logger:         opts.Logger,
		// No client-wide timeout: streamed bodies can legitimately run for
		// minutes, so deadlines come from the request context instead.
		client: &http.Client{},
	}
	if c.apiURL == "" {
		c.apiURL = DefaultAPIURL
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.temperature == 0 {
		c.temperature = DefaultTemperature
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = defaultRequestTimeout
	}
	if c.retry.MaxAttempts <= 0 {
		c.retry = DefaultRetryPolicy()
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// SetTestTransport points the client at a test server.
func (c *Client) SetTestTransport(url string) {
	c.apiURL = url
}

type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends messages and returns the whole answer. Rate-limited
// attempts are retried per the client's RetryPolicy; every other failure,
// and the last rate-limited one, is returned as an *UpstreamError.
func (c *Client) Complete(ctx context.Context, messages []Message, model string) (string, error) {
	if len(messages) == 0 {
		return "", &UpstreamError{Message: "no messages to complete"}
	}

	for attempt := 0; ; attempt++ {
		text, err := c.completeAttempt(ctx, messages, model)
		if err == nil {
			return text, nil
		}

		decision := c.retry.Decide(attempt, err)
		if !decision.Retry {
			c.logger.Error("completion failed", "model", model, "attempt", attempt+1, "error", err)
			return "", err
		}

		c.logger.Warn("rate limited, retrying", "model", model, "attempt", attempt+1, "delay", decision.Delay)
		select {
		case <-ctx.Done():
			return "", &UpstreamError{Err: ctx.Err()}
		case <-c.clock.After(decision.Delay):
		}
	}
}

func (c *Client) completeAttempt(ctx context.Context, messages []Message, model string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.post(ctx, messages, model, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var apiResp response
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", &UpstreamError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return "", &UpstreamError{Message: "empty response content"}
	}

	c.logger.Debug("completion received",
		"model", apiResp.Model,
		"prompt_tokens", apiResp.Usage.PromptTokens,
		"completion_tokens", apiResp.Usage.CompletionTokens,
	)
	return apiResp.Choices[0].Message.Content, nil
}

// post issues the HTTP request. On success the caller owns the response
// body; on failure it is already closed and the error is an *UpstreamError.
func (c *Client) post(ctx context.Context, messages []Message, model string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(request{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("api call: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readError(resp)
	}
	return resp, nil
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp errorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return &UpstreamError{
			StatusCode: resp.StatusCode,
			Type:       errResp.Error.Type,
			Message:    errResp.Error.Message,
		}
	}
	return &UpstreamError{StatusCode: resp.StatusCode, Message: string(body)}
}
