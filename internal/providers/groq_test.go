package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"researchmcp/internal/util"
)

func TestGroqGenerateSendsSystemAndOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer gk" {
			t.Fatalf("unexpected request %s %q", r.URL.Path, r.Header.Get("Authorization"))
		}
		var body struct {
			Model       string    `json:"model"`
			Messages    []Message `json:"messages"`
			MaxTokens   int       `json:"max_tokens"`
			Temperature *float64  `json:"temperature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Model != "llama-3.3-70b-versatile" || body.MaxTokens != 1024 || body.Temperature == nil || *body.Temperature != 0 {
			t.Fatalf("unexpected body: %+v", body)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[0].Content != "be terse" {
			t.Fatalf("unexpected messages: %+v", body.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()
	t.Setenv("RESEARCHMCP_GROQ_BASE_URL", srv.URL)
	t.Setenv("GROQ_API_KEY", "gk")

	resp, info, err := NewGroqProvider("").Generate(context.Background(), GenerateRequest{
		System: "be terse", Prompt: "hello", Model: "llama-3.3-70b-versatile", MaxTokens: 1024, Temperature: Float(0),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "ok" || info.Model != "llama-3.3-70b-versatile" {
		t.Fatalf("unexpected response %+v %+v", resp, info)
	}
}

func TestGroqMissingKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	_, _, err := NewGroqProvider("alias1").Generate(context.Background(), GenerateRequest{Prompt: "x"})
	if !errors.Is(err, util.ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}
