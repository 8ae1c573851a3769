package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// SecretHeader carries the secret registered with SetWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookHandler accepts pushed updates. Requests without the expected
// secret are rejected when one is configured. Updates are queued and the
// handler answers immediately so Telegram does not redeliver.
func WebhookHandler(queue *Queue, secret string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(secret)) != 1 {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}

		var u Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&u); err != nil {
			logger.Warn("bad webhook payload", "error", err)
			http.Error(w, `{"error":"invalid update"}`, http.StatusBadRequest)
			return
		}

		queue.Enqueue(u)
		w.WriteHeader(http.StatusOK)
	}
}
