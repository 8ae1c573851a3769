package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/courier/internal/delivery"
)

const testToken = "123:secret-token"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type apiCall struct {
	Method string
	Params map[string]any
}

// fakeBotAPI records calls and answers each method with a canned result.
type fakeBotAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	results map[string]string
}

func (f *fakeBotAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testToken + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)

		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Errorf("decode params: %v", err)
		}
		f.mu.Lock()
		f.calls = append(f.calls, apiCall{method, params})
		result, ok := f.results[method]
		f.mu.Unlock()

		if !ok {
			result = `{"ok":true,"result":true}`
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, result)
	}
}

func (f *fakeBotAPI) callsTo(method string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newFakeBot(t *testing.T, results map[string]string) (*Client, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{results: results}
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	c := NewClient(testToken, discardLogger())
	c.SetTestTransport(server.URL)
	return c, api
}

func TestSendMessage_Success(t *testing.T) {
	c, api := newFakeBot(t, map[string]string{
		"sendMessage": `{"ok":true,"result":{"message_id":7,"chat":{"id":42,"type":"private"},"text":"hello!"}}`,
	})

	ref, err := c.SendMessage(context.Background(), 42, "hello!")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != (delivery.MessageRef{ChatID: 42, MessageID: 7}) {
		t.Errorf("unexpected ref %+v", ref)
	}

	calls := api.callsTo("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("expected 1 sendMessage call, got %d", len(calls))
	}
	if calls[0].Params["chat_id"] != float64(42) || calls[0].Params["text"] != "hello!" {
		t.Errorf("unexpected params %+v", calls[0].Params)
	}
}

func TestSendMessage_SplitsLongText(t *testing.T) {
	c, api := newFakeBot(t, map[string]string{
		"sendMessage": `{"ok":true,"result":{"message_id":9,"chat":{"id":1}}}`,
	})

	text := strings.Repeat("a", MaxMessageLength+904)
	if _, err := c.SendMessage(context.Background(), 1, text); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := api.callsTo("sendMessage")
	if len(calls) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(calls))
	}
	if n := len(calls[0].Params["text"].(string)); n != MaxMessageLength {
		t.Errorf("first part length = %d, want %d", n, MaxMessageLength)
	}
	if n := len(calls[1].Params["text"].(string)); n != 904 {
		t.Errorf("second part length = %d, want 904", n)
	}
}

func TestSendMessage_APIError(t *testing.T) {
	c, _ := newFakeBot(t, map[string]string{
		"sendMessage": `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
	})

	_, err := c.SendMessage(context.Background(), 1, "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != 403 || apiErr.Method != "sendMessage" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestEditMessage_NotModifiedIsIgnored(t *testing.T) {
	c, _ := newFakeBot(t, map[string]string{
		"editMessageText": `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified: specified new message content and reply markup are exactly the same"}`,
	})

	if err := c.EditMessage(context.Background(), delivery.MessageRef{ChatID: 1, MessageID: 2}, "same"); err != nil {
		t.Errorf("expected nil for unchanged text, got %v", err)
	}
}

func TestEditMessage_TruncatesAndTargetsMessage(t *testing.T) {
	c, api := newFakeBot(t, nil)

	long := strings.Repeat("b", MaxMessageLength+50)
	if err := c.EditMessage(context.Background(), delivery.MessageRef{ChatID: 5, MessageID: 11}, long); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := api.callsTo("editMessageText")
	if len(calls) != 1 {
		t.Fatalf("expected 1 edit, got %d", len(calls))
	}
	p := calls[0].Params
	if p["chat_id"] != float64(5) || p["message_id"] != float64(11) {
		t.Errorf("edit targeted wrong message: %+v", p)
	}
	if n := len([]rune(p["text"].(string))); n != MaxMessageLength {
		t.Errorf("edited text has %d runes, want %d", n, MaxMessageLength)
	}
}

func TestSendTyping(t *testing.T) {
	c, api := newFakeBot(t, nil)

	if err := c.SendTyping(context.Background(), 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := api.callsTo("sendChatAction")
	if len(calls) != 1 || calls[0].Params["action"] != "typing" {
		t.Errorf("unexpected calls %+v", calls)
	}
}

func TestGetUpdates(t *testing.T) {
	c, api := newFakeBot(t, map[string]string{
		"getUpdates": `{"ok":true,"result":[
			{"update_id":100,"message":{"message_id":1,"chat":{"id":42,"type":"private"},"text":"hi"}},
			{"update_id":101}
		]}`,
	})

	updates, err := c.GetUpdates(context.Background(), 99, 5*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(updates))
	}
	if updates[0].Message == nil || updates[0].Message.Text != "hi" || updates[0].Message.Chat.ID != 42 {
		t.Errorf("unexpected first update %+v", updates[0])
	}
	if updates[1].Message != nil {
		t.Error("second update should have no message")
	}

	p := api.callsTo("getUpdates")[0].Params
	if p["offset"] != float64(99) || p["timeout"] != float64(5) {
		t.Errorf("unexpected poll params %+v", p)
	}
}

func TestWebhookRegistration(t *testing.T) {
	c, api := newFakeBot(t, nil)

	if err := c.SetWebhook(context.Background(), "https://example.com/telegram/webhook", "s3cret"); err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	if err := c.DeleteWebhook(context.Background()); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}

	set := api.callsTo("setWebhook")
	if len(set) != 1 || set[0].Params["secret_token"] != "s3cret" {
		t.Errorf("unexpected setWebhook calls %+v", set)
	}
	if len(api.callsTo("deleteWebhook")) != 1 {
		t.Error("expected one deleteWebhook call")
	}
}

func TestNetworkErrorHidesToken(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(testToken, discardLogger())
	c.SetTestTransport(url)

	err := c.SendTyping(context.Background(), 1)
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if strings.Contains(err.Error(), testToken) {
		t.Errorf("error leaks the bot token: %v", err)
	}
}
