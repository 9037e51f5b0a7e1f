package providers

import (
	"context"

	"go.uber.org/zap"
)

type CallRecord struct {
	Operation string
	Provider  string
	Model     string
	Status    string
	ErrorType string
}

// CallRecorder persists one LLM call; storage.LLMAuditRepo implements it.
type CallRecorder interface {
	RecordLLMCall(ctx context.Context, rec CallRecord) error
}

type auditedLLM struct {
	next     LLMProvider
	recorder CallRecorder
	logger   *zap.Logger
}

// WithAudit records every Generate call. Audit failures are logged, never returned.
func WithAudit(next LLMProvider, recorder CallRecorder, logger *zap.Logger) LLMProvider {
	if recorder == nil {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &auditedLLM{next: next, recorder: recorder, logger: logger}
}

func (a *auditedLLM) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	resp, info, err := a.next.Generate(ctx, req)
	Record(ctx, a.recorder, a.logger, req.Operation, info, err)
	return resp, info, err
}

// Record writes one audit row for a call made outside Generate (tool routing).
func Record(ctx context.Context, recorder CallRecorder, logger *zap.Logger, operation string, info ProviderInfo, err error) {
	if recorder == nil {
		return
	}
	rec := CallRecord{
		Operation: operation,
		Provider:  info.Name,
		Model:     info.Model,
		Status:    "ok",
	}
	if err != nil {
		rec.Status = "error"
		rec.ErrorType = string(ClassifyError(err))
	}
	if aerr := recorder.RecordLLMCall(context.WithoutCancel(ctx), rec); aerr != nil && logger != nil {
		logger.Warn("record llm call failed", zap.String("operation", operation), zap.Error(aerr))
	}
}
