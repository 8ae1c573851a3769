package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/courier/internal/session"
)

const (
	TransportPoll    = "poll"
	TransportWebhook = "webhook"
)

type Config struct {
	TelegramToken  string `yaml:"telegram_bot_token"`
	DeepSeekAPIKey string `yaml:"deepseek_api_key"`
	DeepSeekAPIURL string `yaml:"deepseek_api_url"`

	Model            string        `yaml:"model"`
	Streaming        bool          `yaml:"streaming"`
	SystemPrompt     string        `yaml:"system_prompt"`
	ContextWindow    int           `yaml:"context_window"`
	RetentionCeiling int           `yaml:"retention_ceiling"`
	RetentionKeep    int           `yaml:"retention_keep"`
	RetryAttempts    int           `yaml:"retry_attempts"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      float64       `yaml:"temperature"`
	StreamTimeout    time.Duration `yaml:"stream_timeout"`
	EditInterval     time.Duration `yaml:"edit_interval"`
	EditEvery        int           `yaml:"edit_every"`
	MaxSessions      int           `yaml:"max_sessions"`
	SessionTTL       time.Duration `yaml:"session_ttl"`

	Transport     string `yaml:"transport"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`

	Port        int    `yaml:"port"`
	APIToken    string `yaml:"api_token"`
	NatsURL     string `yaml:"nats_url"`
	NatsToken   string `yaml:"nats_token"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`
}

func Load() Config {
	return Config{
		TelegramToken:  envStr("TELEGRAM_BOT_TOKEN", ""),
		DeepSeekAPIKey: envStr("DEEPSEEK_API_KEY", ""),
		DeepSeekAPIURL: envStr("DEEPSEEK_API_URL", "https://api.deepseek.com/chat/completions"),

		Model:            envStr("COURIER_MODEL", "chat"),
		Streaming:        envBool("COURIER_STREAMING", false),
		SystemPrompt:     envStr("COURIER_SYSTEM_PROMPT", "You are a helpful AI assistant."),
		ContextWindow:    envInt("COURIER_CONTEXT_WINDOW", 10),
		RetentionCeiling: envInt("COURIER_RETENTION_CEILING", 20),
		RetentionKeep:    envInt("COURIER_RETENTION_KEEP", 10),
		RetryAttempts:    envInt("COURIER_RETRY_ATTEMPTS", 3),
		BackoffBase:      envDuration("COURIER_BACKOFF_BASE", time.Second),
		MaxTokens:        envInt("COURIER_MAX_TOKENS", 1000),
		Temperature:      envFloat("COURIER_TEMPERATURE", 0.7),
		StreamTimeout:    envDuration("COURIER_STREAM_TIMEOUT", 2*time.Minute),
		EditInterval:     envDuration("COURIER_EDIT_INTERVAL", time.Second),
		EditEvery:        envInt("COURIER_EDIT_EVERY", 0),
		MaxSessions:      envInt("COURIER_MAX_SESSIONS", 10000),
		SessionTTL:       envDuration("COURIER_SESSION_TTL", 24*time.Hour),

		Transport:     envStr("COURIER_TRANSPORT", TransportPoll),
		WebhookURL:    envStr("COURIER_WEBHOOK_URL", ""),
		WebhookSecret: envStr("TELEGRAM_WEBHOOK_SECRET", ""),

		Port:        envInt("COURIER_PORT", 8760),
		APIToken:    envStr("COURIER_API_TOKEN", ""),
		NatsURL:     envStr("NATS_URL", ""),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
	}
}

// ApplyFile overlays the YAML file at path onto c. Keys absent from the
// file leave the current value alone.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	// Decoding into the existing struct only touches keys present in the file.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.DeepSeekAPIKey == "" {
		errs = append(errs, errors.New("DEEPSEEK_API_KEY is required"))
	}
	if _, err := session.ParseModel(c.Model); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}
	switch c.Transport {
	case TransportPoll:
	case TransportWebhook:
		if c.WebhookURL == "" {
			errs = append(errs, errors.New("COURIER_WEBHOOK_URL is required in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport %q must be %q or %q", c.Transport, TransportPoll, TransportWebhook))
	}
	for name, v := range map[string]int{
		"context window":    c.ContextWindow,
		"retention ceiling": c.RetentionCeiling,
		"retention keep":    c.RetentionKeep,
		"retry attempts":    c.RetryAttempts,
		"max tokens":        c.MaxTokens,
		"max sessions":      c.MaxSessions,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.RetentionKeep > c.RetentionCeiling {
		errs = append(errs, fmt.Errorf("retention keep %d exceeds ceiling %d", c.RetentionKeep, c.RetentionCeiling))
	}
	if c.EditEvery < 0 {
		errs = append(errs, fmt.Errorf("edit every must not be negative, got %d", c.EditEvery))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
