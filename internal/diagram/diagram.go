// Package diagram asks a model for D2 source grounded in retrieved paper context,
// repairs what comes back and renders it with the d2 CLI.
package diagram

import (
	"context"
	"errors"
	"fmt"

	"researchmcp/internal/providers"

	"go.uber.org/zap"
)

var (
	// ErrEmptyDiagram means the model produced nothing usable as D2 source.
	ErrEmptyDiagram = errors.New("no valid D2 code returned")
	// ErrRenderRejected means the renderer refused source that looked valid.
	ErrRenderRejected = errors.New("d2 rendering failed")
)

type Result struct {
	Raw    string `json:"raw_response"`
	Source string `json:"d2_code"`
}

type CompilerOptions struct {
	Model  string
	Logger *zap.Logger
}

type Compiler struct {
	llm    providers.LLMProvider
	model  string
	logger *zap.Logger
}

func NewCompiler(llm providers.LLMProvider, opts CompilerOptions) *Compiler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Compiler{llm: llm, model: opts.Model, logger: opts.Logger.With(zap.String("component", "diagram"))}
}

// Compile returns ErrEmptyDiagram, together with the raw output, when extraction
// leaves nothing to render.
func (c *Compiler) Compile(ctx context.Context, contextText, request string) (Result, error) {
	resp, _, err := c.llm.Generate(ctx, providers.GenerateRequest{
		Operation: "diagram",
		System:    "You output only D2 diagram source.",
		Prompt:    BuildPrompt(contextText, request),
		Model:     c.model,
	})
	if err != nil {
		return Result{}, fmt.Errorf("generate diagram: %w", err)
	}
	res := Result{Raw: resp.Text, Source: Repair(resp.Text)}
	if res.Source == "" {
		c.logger.Warn("diagram model returned no usable source", zap.Int("raw_len", len(resp.Text)))
		return res, ErrEmptyDiagram
	}
	return res, nil
}

// Repair runs extraction, normalisation and brace repair in order.
func Repair(raw string) string {
	return RepairBraces(Normalize(ExtractSource(raw)))
}
