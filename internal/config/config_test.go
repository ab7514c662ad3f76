package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validBaseConfig() Config {
	return Config{
		DatabaseURL:      "postgres://localhost:5432/db",
		SlotName:         "sub",
		PublicationName:  "pub",
		FeedbackInterval: time.Second,
		EventSink:        SinkStdout,
		Retry:            RetryConfig{MaxAttempts: 5, Multiplier: 2},
	}
}

func TestValidateAcceptsStdoutConfig(t *testing.T) {
	c := validBaseConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadSlotName(t *testing.T) {
	c := validBaseConfig()
	c.SlotName = "bad slot!"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for invalid slot name")
	}
}

func TestValidateRejectsEmptyPublication(t *testing.T) {
	c := validBaseConfig()
	c.PublicationName = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for empty publication name")
	}
}

func TestValidateHTTPSinkRequiresHTTPURL(t *testing.T) {
	c := validBaseConfig()
	c.EventSink = SinkHTTP
	c.HTTPEndpoint = "ftp://example.com"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for non-http endpoint")
	}
	c.HTTPEndpoint = "https://example.com/ingest"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateWebhookSinkRequiresApplicationIDAndToken(t *testing.T) {
	c := validBaseConfig()
	c.EventSink = SinkWebhook
	c.WebhookAPIURL = "https://example.com/api"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing application id and token")
	}
	c.WebhookApplicationID = uuid.New()
	c.WebhookAPIToken = "secret"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnknownSinkKind(t *testing.T) {
	c := validBaseConfig()
	c.EventSink = "carrier-pigeon"
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for unknown sink kind")
	}
}

func TestValidateRejectsLowRetryAttempts(t *testing.T) {
	c := validBaseConfig()
	c.Retry.MaxAttempts = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero max attempts")
	}
}
