package providers

import "context"

type ProviderInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Key   string `json:"key"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is one chat completion. Prompt becomes the final user turn after
// Messages; Context items are appended to it. Zero values for Model, MaxTokens and
// Temperature use the provider defaults.
type GenerateRequest struct {
	Operation   string    `json:"operation"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	Prompt      string    `json:"prompt"`
	Context     []string  `json:"context,omitempty"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	JSONMode    bool      `json:"json_mode,omitempty"`
}

type GenerateResponse struct {
	Text string `json:"text"`
}

type EmbedRequest struct {
	Operation string   `json:"operation"`
	Inputs    []string `json:"inputs"`
	Dimension int      `json:"dimension"`
}

type LLMProvider interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error)
}

type EmbeddingProvider interface {
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error)
}

func Float(v float64) *float64 { return &v }

const defaultSystem = "You are a research assistant. Keep responses concise and grounded in provided context."

func userPrompt(req GenerateRequest) string {
	prompt := req.Prompt
	if len(req.Context) > 0 {
		prompt += "\n\nContext:\n" + joinContext(req.Context)
	}
	return prompt
}

func joinContext(items []string) string {
	out := ""
	for i, c := range items {
		if i > 0 {
			out += "\n\n"
		}
		out += c
	}
	return out
}
