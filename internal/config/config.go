// Package config is the validated configuration surface the replication
// session accepts (component H). Loading and validation happen here, outside
// the core; internal/session asserts its input is already valid.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
)

// SinkKind selects which sink implementation the session hands decoded
// events to.
type SinkKind string

const (
	SinkStdout  SinkKind = "stdout"
	SinkHTTP    SinkKind = "http"
	SinkWebhook SinkKind = "webhook"
)

// RetryConfig mirrors sink.RetryPolicy's fields so a config file/environment
// can override the defaults without internal/config importing internal/sink.
type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts" env:"RETRY_MAX_ATTEMPTS"`
	BaseDelay   time.Duration `toml:"base_delay" env:"RETRY_BASE_DELAY"`
	Cap         time.Duration `toml:"cap" env:"RETRY_CAP"`
	Multiplier  float64       `toml:"multiplier" env:"RETRY_MULTIPLIER"`

	ContinueOnRetryExceed bool `toml:"continue_on_retry_exceed" env:"RETRY_CONTINUE_ON_EXCEED"`
}

// SMTPConfig configures out-of-band failure notification (see internal/notify).
type SMTPConfig struct {
	Host     string `toml:"host" env:"EMAIL_SMTP_HOST"`
	Port     int    `toml:"port" env:"EMAIL_SMTP_PORT"`
	Username string `toml:"username" env:"EMAIL_SMTP_USERNAME"`
	Password string `toml:"password" env:"EMAIL_SMTP_PASSWORD"`
	From     string `toml:"from" env:"EMAIL_FROM"`
	To       string `toml:"to" env:"EMAIL_TO"`
}

// Enabled reports whether an SMTP transport was configured at all.
func (c SMTPConfig) Enabled() bool { return c.Host != "" }

// Config is the top-level, pre-validated configuration handed to
// internal/session. Env vars, read via caarlos0/env, override values loaded
// from an optional TOML file.
type Config struct {
	DatabaseURL      string        `toml:"database_url" env:"DATABASE_URL"`
	SlotName         string        `toml:"slot_name" env:"SLOT_NAME"`
	PublicationName  string        `toml:"pub_name" env:"PUB_NAME"`
	FeedbackInterval time.Duration `toml:"feedback_interval" env:"FEEDBACK_INTERVAL"`

	EventSink SinkKind `toml:"event_sink" env:"EVENT_SINK"`

	HTTPEndpoint string `toml:"http_endpoint" env:"HTTP_ENDPOINT"`

	WebhookAPIURL        string    `toml:"webhook_api_url" env:"WEBHOOK_API_URL"`
	WebhookApplicationID uuid.UUID `toml:"-" env:"-"`
	WebhookApplicationIDRaw string `toml:"webhook_application_id" env:"WEBHOOK_APPLICATION_ID"`
	WebhookAPIToken      string    `toml:"webhook_api_token" env:"WEBHOOK_API_TOKEN"`

	Retry RetryConfig `toml:"retry"`
	Email SMTPConfig  `toml:"email"`

	LogFormat string `toml:"log_format" env:"LOG_FORMAT"`
	LogLevel  string `toml:"log_level" env:"LOG_LEVEL"`
}

var slotNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,63}$`)

// Load reads an optional TOML file at path (skipped if path is empty or
// missing) and then applies environment variable overrides; env always wins.
func Load(path string) (Config, error) {
	cfg := Config{
		SlotName:        "sub",
		PublicationName: "pub",
		FeedbackInterval: time.Second,
		EventSink:       SinkStdout,
		LogFormat:       "console",
		LogLevel:        "info",
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			Cap:         30 * time.Second,
			Multiplier:  2,
		},
		Email: SMTPConfig{Port: 587},
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.WebhookApplicationIDRaw != "" {
		id, err := uuid.Parse(cfg.WebhookApplicationIDRaw)
		if err != nil {
			return cfg, fmt.Errorf("invalid WEBHOOK_APPLICATION_ID: %w", err)
		}
		cfg.WebhookApplicationID = id
	}

	return cfg, nil
}

// Validate enforces slot name pattern, non-empty publication, URL scheme
// checks, and per-sink required
// fields. The core (internal/session) asserts its input already satisfies
// these; only the loader calls Validate.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if !slotNamePattern.MatchString(c.SlotName) {
		errs = append(errs, fmt.Errorf("slot name %q does not match ^[A-Za-z0-9_]{1,63}$", c.SlotName))
	}
	if c.PublicationName == "" {
		errs = append(errs, errors.New("publication name must not be empty"))
	}
	if c.FeedbackInterval <= 0 {
		errs = append(errs, errors.New("feedback interval must be positive"))
	}

	switch c.EventSink {
	case SinkStdout:
	case SinkHTTP:
		if !isHTTPURL(c.HTTPEndpoint) {
			errs = append(errs, fmt.Errorf("http sink: endpoint %q must begin with http:// or https://", c.HTTPEndpoint))
		}
	case SinkWebhook:
		if !isHTTPURL(c.WebhookAPIURL) {
			errs = append(errs, fmt.Errorf("webhook sink: api url %q must begin with http:// or https://", c.WebhookAPIURL))
		}
		if c.WebhookApplicationID == uuid.Nil {
			errs = append(errs, errors.New("webhook sink: application id is required"))
		}
		if c.WebhookAPIToken == "" {
			errs = append(errs, errors.New("webhook sink: api token is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown event sink %q (want stdout, http, or webhook)", c.EventSink))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max_attempts must be at least 1"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	return errors.Join(errs...)
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
