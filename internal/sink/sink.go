// Package sink implements polymorphic event delivery: stdout, generic HTTP,
// and a webhook-service-specific sink, each with a pluggable retry/backoff
// policy and (for the webhook sink) symbolic error classification.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/cdcstream/pgoutputcdc/internal/pgoutput"
	"github.com/cdcstream/pgoutputcdc/internal/typedvalue"
)

// Event is what the replication session hands to a sink: the decoded
// pgoutput message (for sinks that want raw wire fidelity) plus, when the
// message is an Insert/Update and a schema is cached, the typed row (for
// sinks that need typed fields). TypedRow is nil otherwise.
type Event struct {
	Message  pgoutput.Message
	TypedRow map[string]typedvalue.Value
}

// Sink is implemented by every event delivery backend. SendEvent must not
// return until the event is durably accepted by the destination (or
// permanently/transiently failed) — the session advances applied_lsn only
// after SendEvent returns nil.
type Sink interface {
	SendEvent(ctx context.Context, ev Event) error
	Close() error
}

// RetryPolicy is carried as a plain value by each sink constructor rather
// than hidden behind implementation constants: it is the only lever
// operators have against rate-limited upstreams.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Cap         time.Duration
	Multiplier  float64

	// ContinueOnRetryExceed, when set, makes a sink return success (skip the
	// event) instead of a terminal SinkError once MaxAttempts is exhausted
	// on an otherwise-unclassified transport failure. This is an explicit
	// at-least-once weakening and must be opted into.
	ContinueOnRetryExceed bool
}

// DefaultRetryPolicy returns 5 attempts with a 1s base delay doubling up to a
// 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Cap:         30 * time.Second,
		Multiplier:  2,
	}
}

// NextDelay returns the backoff delay to wait after failed attempt number
// attempt (1-indexed): BaseDelay after the first, multiplied by Multiplier for
// each later one, never above Cap.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d > p.Cap {
			d = p.Cap
			break
		}
	}
	if d > p.Cap {
		d = p.Cap
	}
	return d
}

// SinkError is a terminal sink failure after retries have been exhausted or
// a permanent error was classified.
type SinkError struct {
	SinkKind string
	SinkID   string
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s (%s): %v", e.SinkKind, e.SinkID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// sleepWithContext blocks for d or until ctx is cancelled, whichever is
// first, returning ctx.Err() on cancellation.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
