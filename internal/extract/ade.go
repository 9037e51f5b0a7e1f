package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"researchmcp/internal/util"
)

// ADEParser calls the LandingAI Agentic Document Extraction parse endpoint.
type ADEParser struct {
	APIKey  string
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewADEParser(apiKey, baseURL, model string) *ADEParser {
	if baseURL == "" {
		baseURL = "https://api.va.landing.ai"
	}
	if model == "" {
		model = "dpt-2-latest"
	}
	return &ADEParser{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *ADEParser) Name() string { return "ade" }

func (p *ADEParser) Parse(ctx context.Context, src Source) ([]Item, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, fmt.Errorf("VISION_AGENT_API_KEY not set: %w", util.ErrMissingCredential)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("model", p.Model); err != nil {
		return nil, err
	}
	if len(src.Data) > 0 {
		name := src.Filename
		if name == "" {
			name = "document.pdf"
		}
		fw, err := w.CreateFormFile("document", name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(src.Data); err != nil {
			return nil, fmt.Errorf("write document part: %w", err)
		}
	} else {
		if err := w.WriteField("document_url", src.URL); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/v1/ade/parse", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ade parse request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ade parse status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		Chunks  []Item `json:"chunks"`
		Content []Item `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ade response: %w", err)
	}
	if len(out.Chunks) > 0 {
		return out.Chunks, nil
	}
	return out.Content, nil
}
