package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPSink POSTs a JSON rendering of every message to a configured
// endpoint. Unlike the webhook sink it has no "continue on retry exceed"
// escape hatch: exhausting the retry budget always returns a SinkError.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	policy   RetryPolicy
	logger   zerolog.Logger
}

// NewHTTPSink creates an HTTPSink posting to endpoint with the given retry
// policy.
func NewHTTPSink(endpoint string, policy RetryPolicy, logger zerolog.Logger) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		policy:   policy,
		logger:   logger.With().Str("component", "sink-http").Logger(),
	}
}

func (s *HTTPSink) SendEvent(ctx context.Context, ev Event) error {
	payload := renderHTTPPayload(ev.Message)
	body, err := json.Marshal(payload)
	if err != nil {
		return &SinkError{SinkKind: "http", SinkID: s.endpoint, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		err := s.attempt(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return &SinkError{SinkKind: "http", SinkID: s.endpoint, Err: err}
		}
		if attempt == s.policy.MaxAttempts {
			break
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying http sink delivery")
		if err := sleepWithContext(ctx, s.policy.NextDelay(attempt)); err != nil {
			return &SinkError{SinkKind: "http", SinkID: s.endpoint, Err: err}
		}
	}
	return &SinkError{SinkKind: "http", SinkID: s.endpoint, Err: fmt.Errorf("exhausted %d attempts: %w", s.policy.MaxAttempts, lastErr)}
}

func (s *HTTPSink) attempt(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("transient http status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &permanentError{fmt.Errorf("permanent http status %d", resp.StatusCode)}
	}
	return nil
}

func (s *HTTPSink) Close() error { return nil }

var _ Sink = (*HTTPSink)(nil)

// permanentError marks an error as non-retryable (4xx other than rate
// limit). Network errors and 5xx/429 are treated as transient by default.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var pe *permanentError
	return !errors.As(err, &pe)
}
