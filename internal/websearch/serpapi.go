// Package websearch queries SerpAPI's Google engine and flattens the answer box,
// organic results and related questions into plain results.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"researchmcp/internal/metrics"
	"researchmcp/internal/models"

	"go.uber.org/zap"
)

const DefaultEndpoint = "https://serpapi.com/search"

type Options struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

type Client struct {
	apiKey   string
	endpoint string
	http     *http.Client
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func NewClient(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		apiKey:   strings.TrimSpace(opts.APIKey),
		endpoint: opts.Endpoint,
		http:     &http.Client{Timeout: opts.Timeout},
		logger:   opts.Logger.With(zap.String("component", "websearch")),
		metrics:  opts.Metrics,
	}
}

// Search never fails: a missing key, blank query or any upstream error yields no
// results.
func (c *Client) Search(ctx context.Context, query string, count int) []models.WebResult {
	query = strings.TrimSpace(query)
	if c.apiKey == "" {
		c.logger.Warn("SERPAPI_API_KEY not set")
		return []models.WebResult{}
	}
	if query == "" {
		return []models.WebResult{}
	}
	if count <= 0 {
		count = 5
	}
	start := time.Now()
	data, err := c.fetch(ctx, query, count)
	c.metrics.RecordExternal("serpapi", start, err)
	if err != nil {
		c.logger.Warn("serpapi search failed", zap.String("query", query), zap.Error(err))
		return []models.WebResult{}
	}
	return parse(data, count)
}

func (c *Client) fetch(ctx context.Context, query string, count int) (response, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("api_key", c.apiKey)
	params.Set("engine", "google")
	params.Set("num", strconv.Itoa(min(count+2, 10)))
	params.Set("hl", "en")
	params.Set("gl", "us")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return response{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return response{}, fmt.Errorf("serpapi status %d", resp.StatusCode)
	}
	var data response
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return response{}, fmt.Errorf("decode serpapi response: %w", err)
	}
	if data.Error != "" {
		return response{}, fmt.Errorf("serpapi error: %s", data.Error)
	}
	return data, nil
}

type response struct {
	Error            string         `json:"error"`
	SearchMetadata   metadata       `json:"search_metadata"`
	AnswerBox        map[string]any `json:"answer_box"`
	OrganicResults   []organic      `json:"organic_results"`
	RelatedQuestions []related      `json:"related_questions"`
}

type metadata struct {
	GoogleURL string `json:"google_url"`
}

type organic struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type related struct {
	Question string `json:"question"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

// parse orders results as answer box, organic results, then at most two related
// questions when nothing else was found, truncated to count.
func parse(data response, count int) []models.WebResult {
	out := make([]models.WebResult, 0, count)
	if len(data.AnswerBox) > 0 {
		if r, ok := answerBox(data.AnswerBox, data.SearchMetadata.GoogleURL); ok {
			out = append(out, r)
		}
	}
	for _, item := range data.OrganicResults {
		if len(out) >= count {
			break
		}
		title, link := strings.TrimSpace(item.Title), strings.TrimSpace(item.Link)
		if title == "" || link == "" {
			continue
		}
		desc := strings.TrimSpace(item.Snippet)
		if desc == "" {
			desc = title
		}
		out = append(out, models.WebResult{Title: title, URL: link, Description: desc})
	}
	if len(out) == 0 {
		for _, q := range data.RelatedQuestions[:min(2, len(data.RelatedQuestions))] {
			if q.Snippet == "" {
				continue
			}
			title := q.Question
			if title == "" {
				title = "Related Answer"
			}
			out = append(out, models.WebResult{Title: title, URL: q.Link, Description: q.Snippet})
		}
	}
	if len(out) > count {
		out = out[:count]
	}
	return out
}

func answerBox(box map[string]any, googleURL string) (models.WebResult, bool) {
	if str(box, "type") == "currency_converter" {
		return currency(box, googleURL), true
	}
	for _, k := range []string{"answer", "snippet", "result"} {
		if v, ok := box[k]; ok && truthy(v) {
			return models.WebResult{Title: strOr(box, "title", "Direct Answer"), URL: googleURL, Description: fmt.Sprint(v)}, true
		}
	}
	if words, ok := box["snippet_highlighted_words"].([]any); ok && len(words) > 0 {
		return models.WebResult{
			Title:       strOr(box, "title", "Answer"),
			URL:         strOr(box, "link", googleURL),
			Description: joinAny(words, " ", len(words)),
		}, true
	}
	if items, ok := box["list"].([]any); ok && len(items) > 0 {
		return models.WebResult{
			Title:       strOr(box, "title", "Answer"),
			URL:         googleURL,
			Description: joinAny(items, "; ", 5),
		}, true
	}
	return models.WebResult{}, false
}

func currency(box map[string]any, googleURL string) models.WebResult {
	var desc string
	conv, _ := box["currency_converter"].(map[string]any)
	from, _ := conv["from"].(map[string]any)
	to, _ := conv["to"].(map[string]any)
	switch {
	case len(from) > 0 && len(to) > 0:
		desc = fmt.Sprintf("%s %s = %s %s",
			anyOr(from, "price", "1"), anyOr(from, "currency", "USD"),
			anyOr(to, "price", "N/A"), anyOr(to, "currency", ""))
	case str(box, "result") != "":
		desc = str(box, "result")
	case truthy(box["price"]) && str(box, "currency") != "":
		desc = fmt.Sprintf("1 USD = %v %s", box["price"], str(box, "currency"))
	default:
		desc = "Currency data unavailable"
	}
	if date := str(box, "date"); date != "" {
		desc += " (as of " + date + ")"
	}
	return models.WebResult{Title: "Currency Exchange Rate", URL: googleURL, Description: desc}
}

func str(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return s
}

func strOr(m map[string]any, k, fallback string) string {
	if s := str(m, k); s != "" {
		return s
	}
	return fallback
}

func anyOr(m map[string]any, k, fallback string) string {
	v, ok := m[k]
	if !ok || v == nil {
		return fallback
	}
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0
	case bool:
		return x
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func joinAny(items []any, sep string, limit int) string {
	parts := make([]string, 0, len(items))
	for _, it := range items[:min(limit, len(items))] {
		parts = append(parts, fmt.Sprint(it))
	}
	return strings.Join(parts, sep)
}
