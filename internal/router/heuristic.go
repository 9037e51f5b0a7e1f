package router

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"researchmcp/internal/metrics"
	"researchmcp/internal/providers"
)

var (
	paperLoadRe = regexp.MustCompile(`(?i)\b(find|load|get|fetch|ingest|open|search\s+for|look\s+up|pull\s+up)\b.{0,20}\bpapers?\b|\bpapers?\s+(titled|called|named)\b`)
	titleRe     = regexp.MustCompile(`(?i)\bpapers?\s+(?:titled|called|named|on|about)\s+(.+)$`)
	recencyRe   = regexp.MustCompile(`(?i)\b(latest|current|currently|recent|recently|today|tonight|now|this\s+(?:week|month|year)|breaking|news)\b`)
)

// HeuristicRouter routes on trigger phrases without a tool-calling model. Direct
// answers come from llm when one is set.
type HeuristicRouter struct {
	llm     providers.LLMProvider
	metrics *metrics.Collector
}

func NewHeuristicRouter(llm providers.LLMProvider, m *metrics.Collector) *HeuristicRouter {
	return &HeuristicRouter{llm: llm, metrics: m}
}

func (h *HeuristicRouter) Route(ctx context.Context, utterance string, history []HistoryEntry) (Decision, error) {
	utterance = plainUtterance(utterance)
	d := Classify(utterance)
	if d.Action == ActionDirectAnswer && h.llm != nil {
		resp, _, err := h.llm.Generate(ctx, providers.GenerateRequest{
			Operation: "direct_answer",
			Messages:  NormalizeHistory(history),
			Prompt:    utterance,
		})
		if err != nil {
			return Decision{}, fmt.Errorf("direct answer: %w", err)
		}
		d.Answer = resp.Text
	}
	h.metrics.RecordRoute(string(d.Action))
	return d, nil
}

// plainUtterance unwraps the {original_user_query, retrieval_query} body sessions send.
func plainUtterance(u string) string {
	var body struct {
		Original string `json:"original_user_query"`
	}
	if err := json.Unmarshal([]byte(u), &body); err == nil && strings.TrimSpace(body.Original) != "" {
		return body.Original
	}
	return u
}

// Classify applies the trigger rules: explicit paper-load phrasing first, then
// recency language, otherwise a direct answer.
func Classify(utterance string) Decision {
	u := strings.TrimSpace(utterance)
	if paperLoadRe.MatchString(u) {
		title := u
		if m := titleRe.FindStringSubmatch(u); m != nil {
			title = m[1]
		}
		title = strings.Trim(strings.TrimSpace(title), `"'“”‘’.?!`)
		return Decision{
			Action:     ActionResearchLookup,
			ToolName:   string(ActionResearchLookup),
			PaperTitle: title,
			Input:      map[string]any{"paper_title": title},
		}
	}
	if recencyRe.MatchString(u) {
		return Decision{
			Action:   ActionWebSearch,
			ToolName: string(ActionWebSearch),
			Query:    u,
			Input:    map[string]any{"query": u},
		}
	}
	return Decision{Action: ActionDirectAnswer}
}
