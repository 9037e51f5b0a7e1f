package storage

import (
	"context"
	"fmt"

	"researchmcp/internal/providers"

	"github.com/google/uuid"
)

type LLMAuditRepo struct {
	db *DB
}

func NewLLMAuditRepo(db *DB) *LLMAuditRepo {
	return &LLMAuditRepo{db: db}
}

func (r *LLMAuditRepo) RecordLLMCall(ctx context.Context, rec providers.CallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls (call_id, operation, provider_name, model, status, error_type)
VALUES ($1, $2, $3, $4, $5, NULLIF($6,''))`,
		uuid.New(), rec.Operation, rec.Provider, rec.Model, rec.Status, rec.ErrorType)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

var _ providers.CallRecorder = (*LLMAuditRepo)(nil)
