package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MedGateAI/medgate-engine/engine/domain"
)

func fileSink(t *testing.T) *FileSink {
	t.Helper()
	s, err := NewFileSink(filepath.Join(t.TempDir(), "logs", "decisions.jsonl"))
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	return s
}

func result(patientID int64, decision domain.Decision) domain.DecisionResult {
	return domain.DecisionResult{
		PatientID:     patientID,
		PatientName:   "Alice Johnson",
		DiagnosisCode: "E11.9",
		ProcedureCode: "83036",
		Decision:      decision,
		DecidedAt:     time.Now().UTC(),
	}
}

func TestFileSink_RecordAssignsID(t *testing.T) {
	s := fileSink(t)
	ctx := context.Background()

	id1, err := s.Record(ctx, result(1, domain.Approved))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	id2, err := s.Record(ctx, result(1, domain.Denied))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("ids not unique: %q %q", id1, id2)
	}

	entries, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.AuditID != e.Result.AuditID {
			t.Fatalf("entry id and result id disagree: %+v", e)
		}
		if e.Version != recordVersion {
			t.Fatalf("version = %q", e.Version)
		}
	}
}

func TestFileSink_QueryFilters(t *testing.T) {
	s := fileSink(t)
	ctx := context.Background()

	for _, r := range []domain.DecisionResult{
		result(1, domain.Approved),
		result(1, domain.Denied),
		result(2, domain.Approved),
		result(3, domain.Denied),
	} {
		if _, err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	byPatient, err := s.Query(ctx, Filter{PatientID: 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byPatient) != 2 {
		t.Fatalf("patient filter: got %d, want 2", len(byPatient))
	}

	byDecision, err := s.Query(ctx, Filter{Decision: domain.Denied})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(byDecision) != 2 {
		t.Fatalf("decision filter: got %d, want 2", len(byDecision))
	}

	limited, err := s.Query(ctx, Filter{Limit: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(limited) != 3 {
		t.Fatalf("limit: got %d, want 3", len(limited))
	}

	history, err := s.History(ctx, 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 || history[0].Result.PatientID != 2 {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestFileSink_QueryNewestFirst(t *testing.T) {
	s := fileSink(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Record(ctx, result(1, domain.Approved)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	entries, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].LoggedAt.After(entries[i-1].LoggedAt) {
			t.Fatalf("entries not newest first: %+v", entries)
		}
	}
}

func TestFileSink_EmptyLog(t *testing.T) {
	s := fileSink(t)
	entries, err := s.Query(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected no entries, got %+v", entries)
	}
}

func TestFileSink_SkipsCorruptLines(t *testing.T) {
	s := fileSink(t)
	ctx := context.Background()
	if _, err := s.Record(ctx, result(1, domain.Approved)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := s.Record(ctx, result(2, domain.Denied)); err != nil {
		t.Fatalf("Record after corruption: %v", err)
	}
	entries, err := s.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 readable", len(entries))
	}
}

func TestFileSink_Stats(t *testing.T) {
	s := fileSink(t)
	ctx := context.Background()
	for _, d := range []domain.Decision{domain.Approved, domain.Approved, domain.Denied, domain.Pending} {
		if _, err := s.Record(ctx, result(1, d)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := Stats{Total: 4, Approved: 2, Denied: 1, Pending: 1}
	if st != want {
		t.Fatalf("stats = %+v, want %+v", st, want)
	}
}

func TestNATSSink_PublishesEntry(t *testing.T) {
	var got Entry
	sink := newNATSSinkWithPublish("medgate.decisions", func(_ context.Context, subject string, e Entry) error {
		if subject != "medgate.decisions" {
			t.Fatalf("subject = %q", subject)
		}
		got = e
		return nil
	})

	id, err := sink.Record(context.Background(), result(2, domain.Denied))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got.AuditID != id || got.Result.AuditID != id {
		t.Fatalf("entry id mismatch: %+v vs %q", got, id)
	}
	if got.Result.Decision != domain.Denied {
		t.Fatalf("decision = %s", got.Result.Decision)
	}
}

func TestNATSSink_RetriesTransientFailure(t *testing.T) {
	attempts := 0
	sink := newNATSSinkWithPublish("medgate.decisions", func(context.Context, string, Entry) error {
		attempts++
		if attempts < 3 {
			return errors.New("nats: connection closed")
		}
		return nil
	})

	if _, err := sink.Record(context.Background(), result(1, domain.Approved)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestNATSSink_ExhaustedRetries(t *testing.T) {
	sink := newNATSSinkWithPublish("medgate.decisions", func(context.Context, string, Entry) error {
		return errors.New("nats: connection closed")
	})
	if _, err := sink.Record(context.Background(), result(1, domain.Approved)); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
}
