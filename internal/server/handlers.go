package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/cdcstream/pgoutputcdc/internal/config"
	"github.com/cdcstream/pgoutputcdc/internal/metrics"
)

type handlers struct {
	collector *metrics.Collector
	cfg       *config.Config
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	snap := h.collector.Snapshot()
	writeJSON(w, snap)
}

func (h *handlers) configHandler(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil {
		writeJSON(w, map[string]string{"error": "no config available"})
		return
	}
	writeJSON(w, redactConfig(h.cfg))
}

func (h *handlers) logs(w http.ResponseWriter, r *http.Request) {
	entries := h.collector.Logs()
	writeJSON(w, entries)
}

type redactedConfig struct {
	DatabaseHost     string          `json:"database_host"`
	SlotName         string          `json:"slot_name"`
	PublicationName  string          `json:"pub_name"`
	FeedbackInterval string          `json:"feedback_interval"`
	EventSink        config.SinkKind `json:"event_sink"`
	HTTPEndpoint     string          `json:"http_endpoint,omitempty"`
	WebhookAPIURL    string          `json:"webhook_api_url,omitempty"`
	Retry            config.RetryConfig `json:"retry"`
	EmailEnabled     bool            `json:"email_enabled"`
}

// redactConfig strips credentials (password in the database DSN, the
// webhook API token, the SMTP password) before the config is served over
// HTTP, keeping only what an operator needs to confirm which target this
// process is attached to.
func redactConfig(c *config.Config) redactedConfig {
	host := c.DatabaseURL
	if u, err := url.Parse(c.DatabaseURL); err == nil {
		host = u.Host
	}
	return redactedConfig{
		DatabaseHost:     host,
		SlotName:         c.SlotName,
		PublicationName:  c.PublicationName,
		FeedbackInterval: c.FeedbackInterval.String(),
		EventSink:        c.EventSink,
		HTTPEndpoint:     c.HTTPEndpoint,
		WebhookAPIURL:    c.WebhookAPIURL,
		Retry:            c.Retry,
		EmailEnabled:     c.Email.Enabled(),
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
