// Package replstate owns the single-writer state a replication session
// mutates across its receive loop: LSN watermarks, the relation schema
// cache, and feedback-cadence timing.
package replstate

import (
	"time"

	"github.com/cdcstream/pgoutputcdc/internal/pgoutput"
)

// LSN is an unsigned 64-bit monotonic WAL position; zero means "none".
type LSN uint64

// State is owned exclusively by the replication session loop (component G);
// it is never shared across goroutines. The pgoutput decoder (component C)
// only reads the relation cache through the narrower RelationLookup
// interface it declares.
type State struct {
	receivedLSN LSN
	appliedLSN  LSN

	relations map[uint32]pgoutput.RelationInfo

	lastFeedback time.Time
}

// New creates an empty State.
func New() *State {
	return &State{relations: make(map[uint32]pgoutput.RelationInfo)}
}

// UpdateReceived raises receivedLSN to lsn if lsn is greater and nonzero.
func (s *State) UpdateReceived(lsn LSN) {
	if lsn > 0 && lsn > s.receivedLSN {
		s.receivedLSN = lsn
	}
}

// UpdateApplied raises appliedLSN to lsn if lsn is greater and nonzero.
func (s *State) UpdateApplied(lsn LSN) {
	if lsn > 0 && lsn > s.appliedLSN {
		s.appliedLSN = lsn
	}
}

// ReceivedLSN returns the highest observed WAL position.
func (s *State) ReceivedLSN() LSN { return s.receivedLSN }

// AppliedLSN returns the highest WAL position whose event was successfully
// delivered to the sink.
func (s *State) AppliedLSN() LSN { return s.appliedLSN }

// AddRelation caches (or replaces) a relation's schema, keyed by oid.
func (s *State) AddRelation(r pgoutput.RelationInfo) {
	s.relations[r.OID] = r
}

// GetRelation implements pgoutput.RelationLookup.
func (s *State) GetRelation(oid uint32) (pgoutput.RelationInfo, bool) {
	r, ok := s.relations[oid]
	return r, ok
}

// SinceLastFeedback returns the time elapsed since the last feedback frame
// was sent. Before the first call to MarkFeedbackSent it returns a duration
// large enough to always trigger an initial feedback send.
func (s *State) SinceLastFeedback() time.Duration {
	if s.lastFeedback.IsZero() {
		return time.Hour
	}
	return time.Since(s.lastFeedback)
}

// MarkFeedbackSent records now as the time of the last feedback frame.
func (s *State) MarkFeedbackSent() {
	s.lastFeedback = time.Now()
}
