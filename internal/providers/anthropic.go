package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"researchmcp/internal/util"
)

const anthropicVersion = "2023-06-01"

type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type AnthropicMessagesRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []Message       `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       []AnthropicTool `json:"tools,omitempty"`
	ToolChoice  map[string]any  `json:"tool_choice,omitempty"`
}

type AnthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type AnthropicMessagesResponse struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Content    []AnthropicContentBlock `json:"content"`
}

// AnthropicProvider talks to the Messages API directly.
type AnthropicProvider struct {
	keyName   string
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
}

func NewAnthropicProvider(keyName string) *AnthropicProvider {
	baseURL := strings.TrimSpace(os.Getenv("RESEARCHMCP_ANTHROPIC_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := strings.TrimSpace(os.Getenv("CLAUDE_MODEL"))
	if model == "" {
		model = "claude-3-opus-20240229"
	}
	return &AnthropicProvider{
		keyName:   keyName,
		apiKey:    resolveAnthropicKey(keyName),
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		maxTokens: 4096,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

// WithTimeout replaces the HTTP client timeout.
func (a *AnthropicProvider) WithTimeout(d time.Duration) *AnthropicProvider {
	if d > 0 {
		a.client = &http.Client{Timeout: d}
	}
	return a
}

func (a *AnthropicProvider) HasKey() bool { return a.apiKey != "" }

func (a *AnthropicProvider) Info(model string) ProviderInfo {
	if model == "" {
		model = a.model
	}
	return ProviderInfo{Name: "anthropic", Model: model, Key: a.keyName}
}

func (a *AnthropicProvider) Messages(ctx context.Context, req AnthropicMessagesRequest) (AnthropicMessagesResponse, error) {
	if a.apiKey == "" {
		return AnthropicMessagesResponse{}, fmt.Errorf("CLAUDE_API_KEY not set: %w", util.ErrMissingCredential)
	}
	if req.Model == "" {
		req.Model = a.model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = a.maxTokens
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return AnthropicMessagesResponse{}, fmt.Errorf("encode anthropic request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return AnthropicMessagesResponse{}, err
	}
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return AnthropicMessagesResponse{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return AnthropicMessagesResponse{}, fmt.Errorf("anthropic error %d: %s", resp.StatusCode, string(raw))
	}
	var out AnthropicMessagesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return AnthropicMessagesResponse{}, fmt.Errorf("decode anthropic response: %w", err)
	}
	return out, nil
}

func (a *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	info := a.Info(req.Model)
	messages := append([]Message(nil), req.Messages...)
	if p := userPrompt(req); strings.TrimSpace(p) != "" {
		messages = append(messages, Message{Role: "user", Content: p})
	}
	system := req.System
	if system == "" {
		system = defaultSystem
	}
	resp, err := a.Messages(ctx, AnthropicMessagesRequest{
		Model:       info.Model,
		MaxTokens:   req.MaxTokens,
		System:      system,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return GenerateResponse{}, info, err
	}
	return GenerateResponse{Text: TextOf(resp.Content)}, info, nil
}

// TextOf joins the text blocks of a response with newlines.
func TextOf(blocks []AnthropicContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func resolveAnthropicKey(alias string) string {
	if alias != "" {
		if v := os.Getenv("RESEARCHMCP_ANTHROPIC_KEY_" + strings.ToUpper(alias)); v != "" {
			return v
		}
	}
	if v := os.Getenv("CLAUDE_API_KEY"); v != "" {
		return v
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}
