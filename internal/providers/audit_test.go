package providers

import (
	"context"
	"errors"
	"testing"
)

type memRecorder struct{ recs []CallRecord }

func (m *memRecorder) RecordLLMCall(_ context.Context, rec CallRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}

func TestWithAuditRecordsOutcome(t *testing.T) {
	rec := &memRecorder{}
	ok := WithAudit(NewMockProvider(8), rec, nil)
	if _, _, err := ok.Generate(context.Background(), GenerateRequest{Operation: "answer"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	bad := WithAudit(&fixedLLM{name: "groq", err: errors.New("timeout")}, rec, nil)
	_, _, _ = bad.Generate(context.Background(), GenerateRequest{Operation: "rewrite"})

	if len(rec.recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(rec.recs))
	}
	if rec.recs[0].Status != "ok" || rec.recs[0].Provider != "mock" || rec.recs[0].Operation != "answer" {
		t.Fatalf("unexpected first record: %+v", rec.recs[0])
	}
	if rec.recs[1].Status != "error" || rec.recs[1].ErrorType != string(ErrorTransient) {
		t.Fatalf("unexpected second record: %+v", rec.recs[1])
	}
}
