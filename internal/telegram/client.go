// Package telegram is courier's Bot API transport: outbound send, edit and
// typing calls, inbound long-polling and webhooks, and chat commands.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/courier/internal/delivery"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	callTimeout    = 10 * time.Second
)

// APIError is a Bot API call that returned ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Client calls the Bot API. It satisfies delivery.Transport.
type Client struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(token string, logger *slog.Logger) *Client {
	return &Client{
		token:   token,
		baseURL: defaultBaseURL,
		// Long polls hold the connection open, so per-call deadlines come
		// from the request context.
		client: &http.Client{},
		logger: logger,
	}
}

// SetTestTransport points the client at a test server.
func (c *Client) SetTestTransport(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The URL embeds the token; never surface it.
		return fmt.Errorf("telegram %s: %w", method, redact(err, c.token))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope struct {
		apiResponse
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("parse %s response: %w", method, err)
	}
	if !envelope.OK {
		apiErr := &APIError{Method: method, Code: envelope.ErrorCode, Description: envelope.Description}
		if envelope.Parameters != nil {
			apiErr.RetryAfter = envelope.Parameters.RetryAfter
		}
		return apiErr
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func redact(err error, token string) error {
	if token == "" {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), token, "<token>"))
}

// SendMessage posts text to chatID. Text longer than MaxMessageLength goes
// out as several messages; the reference points at the last one.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (delivery.MessageRef, error) {
	var ref delivery.MessageRef
	for _, part := range splitText(text, MaxMessageLength) {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		var msg Message
		err := c.call(callCtx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    part,
		}, &msg)
		cancel()
		if err != nil {
			return ref, err
		}
		ref = delivery.MessageRef{ChatID: chatID, MessageID: msg.MessageID}
	}
	c.logger.Debug("sent message", "chat_id", chatID, "message_id", ref.MessageID)
	return ref, nil
}

// EditMessage replaces the text of a sent message. Text is truncated to
// MaxMessageLength. Re-sending identical text is not an error.
func (c *Client) EditMessage(ctx context.Context, ref delivery.MessageRef, text string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    ref.ChatID,
		"message_id": ref.MessageID,
		"text":       truncateText(text, MaxMessageLength),
	}, nil)
	if isNotModified(err) {
		return nil
	}
	return err
}

func isNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}

// SendTyping shows the typing indicator in chatID.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	}, nil)
}

// GetUpdates long-polls for updates after offset, waiting up to timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+callTimeout)
	defer cancel()

	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}, &updates)
	return updates, err
}

// SetWebhook registers url for push delivery. Telegram echoes secret in the
// X-Telegram-Bot-Api-Secret-Token header of every push.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := map[string]any{
		"url":             url,
		"allowed_updates": []string{"message"},
	}
	if secret != "" {
		params["secret_token"] = secret
	}
	if err := c.call(ctx, "setWebhook", params, nil); err != nil {
		return err
	}
	c.logger.Info("webhook registered", "url", url)
	return nil
}

// DeleteWebhook switches the bot back to getUpdates delivery.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return c.call(ctx, "deleteWebhook", map[string]any{"drop_pending_updates": false}, nil)
}
