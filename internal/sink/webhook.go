package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cdcstream/pgoutputcdc/internal/notify"
	"github.com/cdcstream/pgoutputcdc/internal/typedvalue"
)

// unknownEventSuppressionWindow is how long an event type that the remote
// API rejected as unknown is suppressed from further delivery attempts.
const unknownEventSuppressionWindow = 5 * time.Minute

// webhookErrorID is the symbolic error identifier the remote API returns in
// the response body on failure.
type webhookErrorID string

const (
	errEventTypeDoesNotExist webhookErrorID = "EventTypeDoesNotExist"
	errEventAlreadyIngested  webhookErrorID = "EventAlreadyIngested"
	errUnauthorized          webhookErrorID = "Unauthorized"
	errRateLimitExceeded     webhookErrorID = "RateLimitExceeded"
	errInvalidEventID        webhookErrorID = "InvalidEventId"
	errInvalidPayload        webhookErrorID = "InvalidPayload"
	errInternalServerError   webhookErrorID = "InternalServerError"
)

// WebhookSink posts a structured envelope to a remote webhook-ingestion API
// keyed by an application id and bearer token. It consumes only events
// whose decoded row defines event_id/event_type/created_at/metadata/
// payload/labels; other events are skipped without error.
type WebhookSink struct {
	apiURL        string
	applicationID uuid.UUID
	apiToken      string
	client        *http.Client
	policy        RetryPolicy
	logger        zerolog.Logger
	notifier      notify.Notifier

	mu                sync.Mutex
	unknownEventTypes map[string]time.Time
}

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	APIURL        string
	ApplicationID uuid.UUID
	APIToken      string
	Policy        RetryPolicy
	Notifier      notify.Notifier
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(cfg WebhookConfig, logger zerolog.Logger) *WebhookSink {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &WebhookSink{
		apiURL:            cfg.APIURL,
		applicationID:     cfg.ApplicationID,
		apiToken:          cfg.APIToken,
		client:            &http.Client{Timeout: 10 * time.Second},
		policy:            cfg.Policy,
		logger:            logger.With().Str("component", "sink-webhook").Logger(),
		notifier:          notifier,
		unknownEventTypes: make(map[string]time.Time),
	}
}

type webhookEnvelope struct {
	EventID     string            `json:"event_id"`
	EventType   string            `json:"event_type"`
	Payload     string            `json:"payload"`
	ContentType string            `json:"payload_content_type"`
	Metadata    map[string]string `json:"metadata"`
	Labels      map[string]string `json:"labels"`
	OccurredAt  string            `json:"occurred_at"`
}

// extractRow validates that row carries every column the webhook sink
// requires, in the kinds it requires. A missing or mistyped column means
// "not a matching event" — the caller skips it without error.
func extractRow(row map[string]typedvalue.Value) (eventID uuid.UUID, eventType string, createdAt time.Time, metadata, payload, labels typedvalue.Value, ok bool) {
	id, hasID := row["event_id"]
	typ, hasType := row["event_type"]
	created, hasCreated := row["created_at"]
	md, hasMD := row["metadata"]
	pl, hasPayload := row["payload"]
	lb, hasLabels := row["labels"]

	if !hasID || id.Kind != typedvalue.KindUUID {
		return uuid.UUID{}, "", time.Time{}, typedvalue.Value{}, typedvalue.Value{}, typedvalue.Value{}, false
	}
	if !hasType || (typ.Kind != typedvalue.KindString) {
		return uuid.UUID{}, "", time.Time{}, typedvalue.Value{}, typedvalue.Value{}, typedvalue.Value{}, false
	}
	if !hasCreated || created.Kind != typedvalue.KindTimestampTZ {
		return uuid.UUID{}, "", time.Time{}, typedvalue.Value{}, typedvalue.Value{}, typedvalue.Value{}, false
	}
	if !hasMD || md.Kind != typedvalue.KindJSON {
		return uuid.UUID{}, "", time.Time{}, typedvalue.Value{}, typedvalue.Value{}, typedvalue.Value{}, false
	}
	if !hasPayload || pl.Kind != typedvalue.KindJSON {
		return uuid.UUID{}, "", time.Time{}, typedvalue.Value{}, typedvalue.Value{}, typedvalue.Value{}, false
	}
	if !hasLabels || lb.Kind != typedvalue.KindJSON {
		return uuid.UUID{}, "", time.Time{}, typedvalue.Value{}, typedvalue.Value{}, typedvalue.Value{}, false
	}
	return id.UUID, typ.String, created.TimestampTZ, md, pl, lb, true
}

// stringProjection keeps only the string-valued entries of a JSON object,
// for use as event metadata/labels.
func stringProjection(v typedvalue.Value) map[string]string {
	out := map[string]string{}
	obj, ok := v.JSON.(map[string]any)
	if !ok {
		return out
	}
	for k, val := range obj {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func (s *WebhookSink) SendEvent(ctx context.Context, ev Event) error {
	if ev.TypedRow == nil {
		return nil
	}
	eventID, eventType, createdAt, metadata, payload, labels, ok := extractRow(ev.TypedRow)
	if !ok {
		return nil
	}

	s.mu.Lock()
	if last, seen := s.unknownEventTypes[eventType]; seen {
		if time.Since(last) < unknownEventSuppressionWindow {
			s.mu.Unlock()
			return nil
		}
		delete(s.unknownEventTypes, eventType)
	}
	s.mu.Unlock()

	payloadJSON, err := json.Marshal(payload.JSON)
	if err != nil {
		return &SinkError{SinkKind: "webhook", SinkID: s.apiURL, Err: err}
	}

	envelope := webhookEnvelope{
		EventID:     eventID.String(),
		EventType:   eventType,
		Payload:     string(payloadJSON),
		ContentType: "application/json",
		Metadata:    stringProjection(metadata),
		Labels:      stringProjection(labels),
		OccurredAt:  createdAt.Format(time.RFC3339),
	}

	delay := s.policy.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		outcome, err := s.attempt(ctx, envelope)
		switch outcome {
		case outcomeSuccess:
			return nil
		case outcomeSkip:
			return nil
		case outcomeUnknownEventType:
			s.mu.Lock()
			s.unknownEventTypes[eventType] = time.Now()
			s.mu.Unlock()
			s.notifier.Notify(ctx, "webhook sink: unknown event type", err.Error())
			return nil
		case outcomeUnauthorized:
			s.notifier.Notify(ctx, "webhook sink: unauthorized", err.Error())
			return &SinkError{SinkKind: "webhook", SinkID: s.apiURL, Err: fmt.Errorf("unauthorized, terminating: %w", err)}
		case outcomePermanent:
			return &SinkError{SinkKind: "webhook", SinkID: s.apiURL, Err: err}
		case outcomeTransient:
			lastErr = err
		}

		if attempt == s.policy.MaxAttempts {
			break
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("retrying webhook delivery")
		if err := sleepWithContext(ctx, delay); err != nil {
			return &SinkError{SinkKind: "webhook", SinkID: s.apiURL, Err: err}
		}
		delay = time.Duration(float64(delay) * s.policy.Multiplier)
		if delay > s.policy.Cap {
			delay = s.policy.Cap
		}
	}

	s.notifier.Notify(ctx, "webhook sink: retries exhausted", fmt.Sprintf("event %s: %v", eventID, lastErr))
	if s.policy.ContinueOnRetryExceed {
		return nil
	}
	return &SinkError{SinkKind: "webhook", SinkID: s.apiURL, Err: fmt.Errorf("exhausted %d attempts: %w", s.policy.MaxAttempts, lastErr)}
}

type webhookOutcome int

const (
	outcomeSuccess webhookOutcome = iota
	outcomeSkip
	outcomeUnknownEventType
	outcomeUnauthorized
	outcomePermanent
	outcomeTransient
)

func (s *WebhookSink) attempt(ctx context.Context, envelope webhookEnvelope) (webhookOutcome, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return outcomeTransient, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return outcomeTransient, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiToken)
	req.Header.Set("X-Application-Id", s.applicationID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return outcomeTransient, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return outcomeSuccess, nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	var parsed struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(respBody, &parsed)
	errID := webhookErrorID(parsed.ID)
	if errID == "" {
		errID = errInternalServerError
	}
	bodyErr := fmt.Errorf("status %d, body %s", resp.StatusCode, string(respBody))

	switch errID {
	case errEventTypeDoesNotExist:
		return outcomeUnknownEventType, bodyErr
	case errEventAlreadyIngested:
		return outcomeSkip, nil
	case errUnauthorized:
		return outcomeUnauthorized, bodyErr
	case errRateLimitExceeded:
		return outcomeTransient, bodyErr
	case errInvalidEventID, errInvalidPayload:
		return outcomePermanent, bodyErr
	case errInternalServerError:
		return outcomeTransient, bodyErr
	default:
		return outcomeTransient, bodyErr
	}
}

func (s *WebhookSink) Close() error { return nil }

var _ Sink = (*WebhookSink)(nil)
