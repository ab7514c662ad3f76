package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cdcstream/pgoutputcdc/internal/typedvalue"
)

func sampleRow(eventType string) map[string]typedvalue.Value {
	return map[string]typedvalue.Value{
		"event_id":   {Kind: typedvalue.KindUUID, UUID: uuid.MustParse("11111111-1111-1111-1111-111111111111")},
		"event_type": {Kind: typedvalue.KindString, String: eventType},
		"created_at": {Kind: typedvalue.KindTimestampTZ, TimestampTZ: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
		"metadata":   {Kind: typedvalue.KindJSON, JSON: map[string]any{"source": "test"}},
		"payload":    {Kind: typedvalue.KindJSON, JSON: map[string]any{"foo": "bar"}},
		"labels":     {Kind: typedvalue.KindJSON, JSON: map[string]any{"env": "staging"}},
	}
}

func newTestWebhookSink(url string) *WebhookSink {
	return NewWebhookSink(WebhookConfig{
		APIURL:        url,
		ApplicationID: uuid.New(),
		APIToken:      "token",
		Policy:        fastPolicy(),
	}, zerolog.Nop())
}

func TestWebhookSinkSkipsRowsMissingRequiredColumns(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	s := newTestWebhookSink(srv.URL)
	row := sampleRow("order.created")
	delete(row, "payload")

	err := s.SendEvent(context.Background(), Event{TypedRow: row})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no HTTP calls for a non-matching row, got %d", got)
	}
}

func TestWebhookSinkSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env webhookEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		if env.EventType != "order.created" {
			t.Errorf("unexpected event type: %s", env.EventType)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestWebhookSink(srv.URL)
	err := s.SendEvent(context.Background(), Event{TypedRow: sampleRow("order.created")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWebhookSinkUnknownEventTypeSuppressedAfterFirstRejection(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"id": string(errEventTypeDoesNotExist)})
	}))
	defer srv.Close()

	s := newTestWebhookSink(srv.URL)
	ctx := context.Background()

	if err := s.SendEvent(ctx, Event{TypedRow: sampleRow("unknown.type")}); err != nil {
		t.Fatalf("unexpected error on first send: %v", err)
	}
	if err := s.SendEvent(ctx, Event{TypedRow: sampleRow("unknown.type")}); err != nil {
		t.Fatalf("unexpected error on suppressed send: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 HTTP call (second suppressed), got %d", got)
	}
}

func TestWebhookSinkEventAlreadyIngestedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"id": string(errEventAlreadyIngested)})
	}))
	defer srv.Close()

	s := newTestWebhookSink(srv.URL)
	err := s.SendEvent(context.Background(), Event{TypedRow: sampleRow("order.created")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWebhookSinkInvalidPayloadIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"id": string(errInvalidPayload)})
	}))
	defer srv.Close()

	s := newTestWebhookSink(srv.URL)
	err := s.SendEvent(context.Background(), Event{TypedRow: sampleRow("order.created")})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call for a permanent rejection, got %d", got)
	}
}

func TestWebhookSinkRateLimitRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"id": string(errRateLimitExceeded)})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestWebhookSink(srv.URL)
	err := s.SendEvent(context.Background(), Event{TypedRow: sampleRow("order.created")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestWebhookSinkUnauthorizedTerminates(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"id": string(errUnauthorized)})
	}))
	defer srv.Close()

	s := newTestWebhookSink(srv.URL)
	err := s.SendEvent(context.Background(), Event{TypedRow: sampleRow("order.created")})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call, got %d", got)
	}
}

func TestWebhookSinkContinueOnRetryExceedSuppressesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	policy := fastPolicy()
	policy.ContinueOnRetryExceed = true
	s := NewWebhookSink(WebhookConfig{APIURL: srv.URL, ApplicationID: uuid.New(), APIToken: "t", Policy: policy}, zerolog.Nop())

	err := s.SendEvent(context.Background(), Event{TypedRow: sampleRow("order.created")})
	if err != nil {
		t.Fatalf("expected nil error with ContinueOnRetryExceed, got %v", err)
	}
}

func TestWebhookSinkRetriesExhaustedWithoutContinueReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestWebhookSink(srv.URL)
	err := s.SendEvent(context.Background(), Event{TypedRow: sampleRow("order.created")})
	if err == nil {
		t.Fatal("expected error")
	}
}
