package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/courier/internal/api"
	"github.com/MikeSquared-Agency/courier/internal/config"
	"github.com/MikeSquared-Agency/courier/internal/deepseek"
	"github.com/MikeSquared-Agency/courier/internal/delivery"
	"github.com/MikeSquared-Agency/courier/internal/hermes"
	"github.com/MikeSquared-Agency/courier/internal/relay"
	"github.com/MikeSquared-Agency/courier/internal/session"
	"github.com/MikeSquared-Agency/courier/internal/store"
	"github.com/MikeSquared-Agency/courier/internal/telegram"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("courier failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("courier", pflag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("COURIER_CONFIG"), "YAML file overlaid on the environment settings")
	logLevel := flags.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	transport := flags.String("transport", "", "poll or webhook (overrides COURIER_TRANSPORT)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.ApplyFile(*configPath); err != nil {
			return err
		}
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	model, _ := session.ParseModel(cfg.Model)

	slog.Info("courier starting", "port", cfg.Port, "transport", cfg.Transport, "model", string(model))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	logger := slog.Default()

	// Sessions
	sessions := session.NewStore(session.Options{
		DefaultModel:     model,
		DefaultStreaming: cfg.Streaming,
		RetentionCeiling: cfg.RetentionCeiling,
		RetentionKeep:    cfg.RetentionKeep,
		MaxSessions:      cfg.MaxSessions,
		IdleTTL:          cfg.SessionTTL,
	})
	janitor := session.NewJanitor(sessions, session.DefaultJanitorInterval, nil, logger)

	// Upstream and transport
	llm := deepseek.NewClient(cfg.DeepSeekAPIKey, deepseek.Options{
		APIURL:      cfg.DeepSeekAPIURL,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Retry:       deepseek.RetryPolicy{MaxAttempts: cfg.RetryAttempts, Base: cfg.BackoffBase},
		Logger:      logger,
	})
	bot := telegram.NewClient(cfg.TelegramToken, logger)

	coord := delivery.NewCoordinator(bot, llm, delivery.Options{
		Edits:         delivery.EditPolicy{MinInterval: cfg.EditInterval, Every: cfg.EditEvery},
		StreamTimeout: cfg.StreamTimeout,
		Logger:        logger,
	})
	orch := relay.New(sessions, coord, bot, relay.Options{
		SystemPrompt:  cfg.SystemPrompt,
		ContextWindow: cfg.ContextWindow,
		Logger:        logger,
	})

	// Turn ledger (optional)
	var ledger api.TurnCounter
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		orch.AddObserver(db)
		ledger = db
		slog.Info("turn ledger enabled")
	} else {
		slog.Warn("DATABASE_URL not set, running without turn ledger")
	}

	var bus api.BusStatus
	queue := telegram.NewQueue(gctx, telegram.NewDispatcher(orch, bot, logger), logger)

	// NATS/Hermes (optional)
	if cfg.NatsURL != "" {
		hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return err
		}
		defer hermesClient.Close()
		orch.AddObserver(hermesClient)
		bus = hermesClient

		err = hermesClient.SubscribeInbound(func(in hermes.InboundText) {
			queue.Enqueue(telegram.TextUpdate(in.ChatID, in.Text))
		})
		if err != nil {
			return err
		}

		if err := hermesClient.Publish(hermes.SubjectRegistered, map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"transport": cfg.Transport,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Inbound routing
	var webhook http.Handler
	switch cfg.Transport {
	case config.TransportWebhook:
		if err := bot.SetWebhook(ctx, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
		webhook = telegram.WebhookHandler(queue, cfg.WebhookSecret, logger)
	default:
		if err := bot.DeleteWebhook(ctx); err != nil {
			return fmt.Errorf("clear webhook: %w", err)
		}
		poller := telegram.NewPoller(bot, queue, logger)
		g.Go(func() error { return poller.Run(gctx) })
	}

	// HTTP API
	srv := api.NewServer(api.Options{
		Port:      cfg.Port,
		APIToken:  cfg.APIToken,
		Transport: cfg.Transport,
		Model:     string(model),
		Sessions:  sessions,
		Resetter:  orch,
		Ledger:    ledger,
		Bus:       bus,
		Webhook:   webhook,
		Logger:    logger,
	})
	g.Go(func() error { return srv.Run(gctx) })

	janitor.Start(gctx)
	defer janitor.Stop()

	slog.Info("courier ready", "port", cfg.Port, "transport", cfg.Transport)

	err := g.Wait()
	slog.Info("shutting down")
	queue.Wait()
	slog.Info("courier stopped")
	return err
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
