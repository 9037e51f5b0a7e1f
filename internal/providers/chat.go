package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// chatCompletion calls an OpenAI-compatible /chat/completions endpoint.
func chatCompletion(ctx context.Context, client *http.Client, name, endpoint, apiKey, model string, req GenerateRequest) (string, error) {
	system := req.System
	if system == "" {
		system = defaultSystem
	}
	messages := make([]Message, 0, len(req.Messages)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, req.Messages...)
	if p := userPrompt(req); strings.TrimSpace(p) != "" {
		messages = append(messages, Message{Role: "user", Content: p})
	}

	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode %s request: %w", name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s generate request failed: %w", name, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s generate error %d: %s", name, resp.StatusCode, string(raw))
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode %s response: %w", name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s returned empty choices", name)
	}
	return parsed.Choices[0].Message.Content, nil
}
