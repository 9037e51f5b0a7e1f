// Package router classifies a general-mode utterance into one of three actions and
// gates diagram requests through a retrieval query rewrite.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"researchmcp/internal/metrics"
	"researchmcp/internal/providers"
	"researchmcp/internal/util"

	"go.uber.org/zap"
)

type Action string

const (
	ActionDirectAnswer   Action = "direct_answer"
	ActionWebSearch      Action = "web_search"
	ActionResearchLookup Action = "research_lookup"
	ActionUnknown        Action = "unknown"
)

// Decision is the validated outcome of one routing call. Only the fields of the
// chosen action are set; ToolName and Input keep the raw invocation.
type Decision struct {
	Action     Action
	Answer     string
	Query      string
	PaperTitle string
	Question   string
	ToolName   string
	Input      map[string]any
}

// HistoryEntry is one prior turn as kept by a session. Content is loosely typed
// because sessions may hold non-text entries; those never reach the model.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type Router interface {
	Route(ctx context.Context, utterance string, history []HistoryEntry) (Decision, error)
}

// NormalizeHistory keeps only user and assistant turns with string content.
func NormalizeHistory(history []HistoryEntry) []providers.Message {
	out := make([]providers.Message, 0, len(history))
	for _, h := range history {
		if h.Role != "user" && h.Role != "assistant" {
			continue
		}
		s, ok := h.Content.(string)
		if !ok {
			continue
		}
		out = append(out, providers.Message{Role: h.Role, Content: s})
	}
	return out
}

// ToolCaller is the Messages API surface the router needs.
type ToolCaller interface {
	Messages(ctx context.Context, req providers.AnthropicMessagesRequest) (providers.AnthropicMessagesResponse, error)
	Info(model string) providers.ProviderInfo
}

type ToolRouterOptions struct {
	Model     string
	MaxTokens int
	Recorder  providers.CallRecorder
	Logger    *zap.Logger
	Metrics   *metrics.Collector
}

// ToolRouter lets the model pick a tool. Transport failures are returned as is and
// never retried here.
type ToolRouter struct {
	client    ToolCaller
	model     string
	maxTokens int
	recorder  providers.CallRecorder
	logger    *zap.Logger
	metrics   *metrics.Collector
}

func NewToolRouter(client ToolCaller, opts ToolRouterOptions) *ToolRouter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &ToolRouter{
		client:    client,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		recorder:  opts.Recorder,
		logger:    opts.Logger.With(zap.String("component", "router")),
		metrics:   opts.Metrics,
	}
}

func (r *ToolRouter) Route(ctx context.Context, utterance string, history []HistoryEntry) (Decision, error) {
	messages := append(NormalizeHistory(history), providers.Message{Role: "user", Content: utterance})
	resp, err := r.client.Messages(ctx, providers.AnthropicMessagesRequest{
		Model:      r.model,
		MaxTokens:  r.maxTokens,
		System:     SystemPrompt,
		Messages:   messages,
		Tools:      Tools(),
		ToolChoice: map[string]any{"type": "auto"},
	})
	providers.Record(ctx, r.recorder, r.logger, "route", r.client.Info(r.model), err)
	if err != nil {
		return Decision{}, fmt.Errorf("route utterance: %w", err)
	}
	d, err := DecisionFromContent(resp.Content)
	if err != nil {
		return Decision{}, err
	}
	r.metrics.RecordRoute(string(d.Action))
	r.logger.Debug("routed", zap.String("action", string(d.Action)), zap.String("tool", d.ToolName))
	return d, nil
}

// DecisionFromContent takes the first tool invocation in the response. Without one
// the decision is a direct answer made of the text blocks.
func DecisionFromContent(blocks []providers.AnthropicContentBlock) (Decision, error) {
	for _, b := range blocks {
		if b.Type != "tool_use" {
			continue
		}
		return decisionFromTool(b.Name, b.Input)
	}
	return Decision{Action: ActionDirectAnswer, Answer: providers.TextOf(blocks)}, nil
}

func decisionFromTool(name string, raw json.RawMessage) (Decision, error) {
	var input map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &input); err != nil {
			return Decision{}, fmt.Errorf("%w: %s input is not an object", util.ErrMalformedDecision, name)
		}
	}
	if input == nil {
		input = map[string]any{}
	}
	d := Decision{ToolName: name, Input: input}
	switch Action(name) {
	case ActionResearchLookup:
		title := stringField(input, "paper_title")
		if title == "" {
			return Decision{}, fmt.Errorf("%w: research_lookup without paper_title", util.ErrMalformedDecision)
		}
		d.Action = ActionResearchLookup
		d.PaperTitle = title
		d.Question = stringField(input, "question")
	case ActionWebSearch:
		q := stringField(input, "query")
		if q == "" {
			return Decision{}, fmt.Errorf("%w: web_search without query", util.ErrMalformedDecision)
		}
		d.Action = ActionWebSearch
		d.Query = q
	default:
		d.Action = ActionUnknown
	}
	return d, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
