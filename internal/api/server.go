// Package api serves courier's HTTP surface: health and status probes, the
// Telegram webhook and a small admin API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/courier/internal/store"
)

const shutdownTimeout = 10 * time.Second

// SessionCounter reports how many conversations are held in memory.
type SessionCounter interface {
	Len() int
}

// SessionResetter forgets a conversation's history.
type SessionResetter interface {
	Reset(chatID int64)
}

// TurnCounter summarises the turn ledger. Optional.
type TurnCounter interface {
	CountTurns(ctx context.Context, since time.Time) (store.TurnCounts, error)
}

// BusStatus reports the event bus connection. Optional.
type BusStatus interface {
	Connected() bool
}

type Options struct {
	Port      int
	APIToken  string
	Transport string
	Model     string
	Sessions  SessionCounter
	Resetter  SessionResetter
	Ledger    TurnCounter
	Bus       BusStatus
	// Webhook, when set, is mounted at POST /telegram/webhook.
	Webhook http.Handler
	Logger  *slog.Logger
}

type Server struct {
	router *chi.Mux
	opts   Options
	logger *slog.Logger
}

func NewServer(opts Options) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		opts:   opts,
		logger: opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/courier/status", s.status)

	if opts.Webhook != nil {
		router.Method(http.MethodPost, "/telegram/webhook", opts.Webhook)
	}

	if opts.Resetter != nil {
		router.Route("/api/v1/courier/sessions", func(r chi.Router) {
			r.Use(BearerAuthMiddleware(opts.APIToken))
			r.Delete("/{chatID}", s.resetSession)
		})
	}

	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Agent     string            `json:"agent"`
	Status    string            `json:"status"`
	Transport string            `json:"transport,omitempty"`
	Model     string            `json:"default_model,omitempty"`
	Sessions  int               `json:"sessions"`
	Turns24h  *store.TurnCounts `json:"turns_24h,omitempty"`
	NATS      *bool             `json:"nats_connected,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Agent:     "courier",
		Status:    "ok",
		Transport: s.opts.Transport,
		Model:     s.opts.Model,
	}
	if s.opts.Sessions != nil {
		resp.Sessions = s.opts.Sessions.Len()
	}
	if s.opts.Bus != nil {
		connected := s.opts.Bus.Connected()
		resp.NATS = &connected
	}
	if s.opts.Ledger != nil {
		counts, err := s.opts.Ledger.CountTurns(r.Context(), time.Now().Add(-24*time.Hour))
		if err != nil {
			s.logger.Warn("turn ledger unavailable", "error", err)
		} else {
			resp.Turns24h = &counts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// resetSession handles DELETE /api/v1/courier/sessions/{chatID}.
func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid chat id"}`, http.StatusBadRequest)
		return
	}
	s.opts.Resetter.Reset(chatID)
	s.logger.Info("session reset via api", "chat_id", chatID)
	w.WriteHeader(http.StatusNoContent)
}
