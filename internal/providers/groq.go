package providers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"researchmcp/internal/util"
)

// GroqProvider supports LLM generation via Groq's OpenAI-compatible API.
type GroqProvider struct {
	keyName string
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewGroqProvider(keyName string) *GroqProvider {
	model := os.Getenv("RESEARCHMCP_GROQ_MODEL")
	if strings.TrimSpace(model) == "" {
		model = "llama-3.1-8b-instant"
	}
	baseURL := strings.TrimSpace(os.Getenv("RESEARCHMCP_GROQ_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	return &GroqProvider{
		keyName: keyName,
		apiKey:  resolveGroqKey(keyName),
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *GroqProvider) HasKey() bool { return g.apiKey != "" }

func (g *GroqProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	model := g.model
	if req.Model != "" {
		model = req.Model
	}
	info := ProviderInfo{Name: "groq", Key: g.keyName, Model: model}
	if g.apiKey == "" {
		return GenerateResponse{}, info, fmt.Errorf("groq key missing for alias %q: %w", g.keyName, util.ErrMissingCredential)
	}
	text, err := chatCompletion(ctx, g.client, "groq", g.baseURL+"/chat/completions", g.apiKey, model, req)
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: text}, info, nil
}

func resolveGroqKey(alias string) string {
	if alias != "" {
		if v := os.Getenv("RESEARCHMCP_GROQ_KEY_" + strings.ToUpper(alias)); v != "" {
			return v
		}
	}
	return os.Getenv("GROQ_API_KEY")
}
