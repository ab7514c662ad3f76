package replstate

import (
	"testing"
	"time"

	"github.com/cdcstream/pgoutputcdc/internal/pgoutput"
)

func TestAppliedNeverExceedsReceivedInvariantHolds(t *testing.T) {
	s := New()
	s.UpdateReceived(100)
	s.UpdateApplied(100)
	if s.AppliedLSN() > s.ReceivedLSN() {
		t.Fatalf("applied %d > received %d", s.AppliedLSN(), s.ReceivedLSN())
	}
}

func TestUpdateReceivedIgnoresZeroAndLowerValues(t *testing.T) {
	s := New()
	s.UpdateReceived(50)
	s.UpdateReceived(0)
	s.UpdateReceived(10)
	if s.ReceivedLSN() != 50 {
		t.Fatalf("ReceivedLSN = %d, want 50", s.ReceivedLSN())
	}
}

func TestUpdateAppliedMonotonic(t *testing.T) {
	s := New()
	s.UpdateApplied(10)
	s.UpdateApplied(5)
	s.UpdateApplied(20)
	if s.AppliedLSN() != 20 {
		t.Fatalf("AppliedLSN = %d, want 20", s.AppliedLSN())
	}
}

func TestRelationCacheAddAndLookup(t *testing.T) {
	s := New()
	if _, ok := s.GetRelation(1); ok {
		t.Fatal("expected no relation before AddRelation")
	}
	s.AddRelation(pgoutput.RelationInfo{OID: 1, Name: "t"})
	r, ok := s.GetRelation(1)
	if !ok || r.Name != "t" {
		t.Fatalf("unexpected relation: %+v ok=%v", r, ok)
	}

	s.AddRelation(pgoutput.RelationInfo{OID: 1, Name: "t2"})
	r, ok = s.GetRelation(1)
	if !ok || r.Name != "t2" {
		t.Fatalf("expected replaced schema, got %+v", r)
	}
}

func TestFeedbackCadence(t *testing.T) {
	s := New()
	if s.SinceLastFeedback() < time.Minute {
		t.Fatal("expected a large initial since-last-feedback duration")
	}
	s.MarkFeedbackSent()
	if s.SinceLastFeedback() > time.Second {
		t.Fatal("expected a near-zero since-last-feedback duration right after marking")
	}
}
