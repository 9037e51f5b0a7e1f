package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"researchmcp/internal/metrics"
	"researchmcp/internal/providers"

	"go.uber.org/zap"
)

type RewriteDecision struct {
	NeedsRewriting bool   `json:"needs_rewriting"`
	RewrittenQuery string `json:"rewritten_query"`
}

type RewriterOptions struct {
	Model   string
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Rewriter decides whether a paper-mode question is a diagram request that needs a
// retrieval-friendly paraphrase.
type Rewriter struct {
	llm     providers.LLMProvider
	model   string
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewRewriter(llm providers.LLMProvider, opts RewriterOptions) *Rewriter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Rewriter{
		llm:     llm,
		model:   opts.Model,
		logger:  opts.Logger.With(zap.String("component", "rewriter")),
		metrics: opts.Metrics,
	}
}

// MaybeRewrite never fails: any provider or parse error yields the unchanged query.
func (r *Rewriter) MaybeRewrite(ctx context.Context, utterance string) RewriteDecision {
	unchanged := RewriteDecision{NeedsRewriting: false, RewrittenQuery: utterance}
	if r == nil || r.llm == nil {
		r.record("fallback")
		return unchanged
	}
	resp, _, err := r.llm.Generate(ctx, providers.GenerateRequest{
		Operation:   "rewrite",
		System:      rewriteSystemPrompt,
		Prompt:      utterance,
		Model:       r.model,
		MaxTokens:   256,
		Temperature: providers.Float(0),
		JSONMode:    true,
	})
	if err != nil {
		r.logger.Warn("rewrite call failed, keeping query", zap.Error(err))
		r.record("fallback")
		return unchanged
	}
	d, err := ParseRewrite(resp.Text, utterance)
	if err != nil {
		r.logger.Warn("rewrite output unusable, keeping query", zap.Error(err))
		r.record("fallback")
		return unchanged
	}
	if d.NeedsRewriting {
		r.record("rewritten")
	} else {
		r.record("unchanged")
	}
	return d
}

func (r *Rewriter) record(outcome string) {
	if r != nil {
		r.metrics.RecordRewrite(outcome)
	}
}

// ParseRewrite validates the model's two-field JSON. A decision not to rewrite
// always carries the original query.
func ParseRewrite(raw, original string) (RewriteDecision, error) {
	body := strings.TrimSpace(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return RewriteDecision{}, fmt.Errorf("no json object in rewrite output")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body[start:end+1]), &fields); err != nil {
		return RewriteDecision{}, fmt.Errorf("decode rewrite output: %w", err)
	}
	needsRaw, ok := fields["needs_rewriting"]
	if !ok {
		return RewriteDecision{}, fmt.Errorf("rewrite output missing needs_rewriting")
	}
	var d RewriteDecision
	if err := json.Unmarshal(needsRaw, &d.NeedsRewriting); err != nil {
		return RewriteDecision{}, fmt.Errorf("needs_rewriting is not a boolean: %w", err)
	}
	if !d.NeedsRewriting {
		d.RewrittenQuery = original
		return d, nil
	}
	if q, ok := fields["rewritten_query"]; ok {
		if err := json.Unmarshal(q, &d.RewrittenQuery); err != nil {
			return RewriteDecision{}, fmt.Errorf("rewritten_query is not a string: %w", err)
		}
	}
	d.RewrittenQuery = strings.TrimSpace(d.RewrittenQuery)
	if d.RewrittenQuery == "" {
		return RewriteDecision{}, fmt.Errorf("rewrite requested without a rewritten_query")
	}
	return d, nil
}
