// Package scholar searches Semantic Scholar for candidate papers and resolves an
// open-access PDF for a chosen one.
package scholar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"researchmcp/internal/metrics"
	"researchmcp/internal/models"
	"researchmcp/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://api.semanticscholar.org/graph/v1"
	userAgent       = "researchmcp/1.0 (https://semanticscholar.org)"
	searchFields    = "title,year,venue,paperId,url,authors,externalIds,isOpenAccess,openAccessPdf,citationCount,referenceCount"
	maxSearchLimit  = 20
	searchAttempts  = 2
	defaultInterval = 1050 * time.Millisecond
)

// NewGate returns the limiter every search shares. Build one per process.
func NewGate() *rate.Limiter {
	return rate.NewLimiter(rate.Every(defaultInterval), 1)
}

type Options struct {
	APIKey     string
	BaseURL    string
	Gate       *rate.Limiter
	RetryDelay time.Duration
	Timeout    time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Collector
}

type Client struct {
	apiKey     string
	baseURL    string
	gate       *rate.Limiter
	retryDelay time.Duration
	http       *http.Client
	logger     *zap.Logger
	metrics    *metrics.Collector
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Gate == nil {
		opts.Gate = NewGate()
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		gate:       opts.Gate,
		retryDelay: opts.RetryDelay,
		http:       &http.Client{Timeout: opts.Timeout},
		logger:     opts.Logger.With(zap.String("component", "scholar")),
		metrics:    opts.Metrics,
	}
}

// Search returns up to limit candidates (clamped to 1..20). A missing key is a
// configuration error; every other failure is logged and yields an empty list.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.ScholarPaper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.ScholarPaper{}, nil
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("S2_API_KEY not set: %w", util.ErrMissingCredential)
	}
	limit = max(1, min(limit, maxSearchLimit))

	var lastErr error
	for attempt := 1; attempt <= searchAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return []models.ScholarPaper{}, nil
		}
		start := time.Now()
		papers, err := c.search(ctx, query, limit)
		c.metrics.RecordExternal("semantic_scholar", start, err)
		if err == nil {
			return papers, nil
		}
		lastErr = err
		if attempt < searchAttempts {
			select {
			case <-ctx.Done():
				return []models.ScholarPaper{}, nil
			case <-time.After(c.retryDelay):
			}
		}
	}
	c.logger.Warn("semantic scholar search failed", zap.String("query", query), zap.Error(lastErr))
	return []models.ScholarPaper{}, nil
}

func (c *Client) search(ctx context.Context, query string, limit int) ([]models.ScholarPaper, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", "0")
	params.Set("fields", searchFields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/paper/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semantic scholar request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("semantic scholar error %d: %s", resp.StatusCode, string(raw))
	}
	var out struct {
		Data []models.ScholarPaper `json:"data"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode semantic scholar response: %w", err)
	}
	if out.Data == nil {
		return []models.ScholarPaper{}, nil
	}
	return out.Data, nil
}

// FindByID runs a search and picks the candidate with the given S2 paper id.
func (c *Client) FindByID(ctx context.Context, paperID, title string) (models.ScholarPaper, bool, error) {
	query := strings.TrimSpace(title)
	if query == "" {
		query = paperID
	}
	papers, err := c.Search(ctx, query, maxSearchLimit)
	if err != nil {
		return models.ScholarPaper{}, false, err
	}
	for _, p := range papers {
		if p.PaperID == paperID {
			return p, true, nil
		}
	}
	return models.ScholarPaper{}, false, nil
}
