package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"researchmcp/internal/metrics"
	"researchmcp/internal/models"
	"researchmcp/internal/util"

	"go.uber.org/zap"
)

// Source is either a remote document URL or raw document bytes.
type Source struct {
	URL      string
	Data     []byte
	Filename string
}

func (s Source) validate() error {
	if strings.TrimSpace(s.URL) == "" && len(s.Data) == 0 {
		return fmt.Errorf("extract source needs a url or document bytes")
	}
	return nil
}

// Item is one content item as returned by a document parser.
type Item struct {
	Markdown  string         `json:"markdown,omitempty"`
	Text      string         `json:"text,omitempty"`
	Type      string         `json:"type,omitempty"`
	Caption   string         `json:"caption,omitempty"`
	Grounding map[string]any `json:"grounding,omitempty"`
}

type Parser interface {
	Name() string
	Parse(ctx context.Context, src Source) ([]Item, error)
}

type Options struct {
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

type Extractor struct {
	parser   Parser
	attempts int
	backoff  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func New(parser Parser, opts Options) *Extractor {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Extractor{
		parser:   parser,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		logger:   opts.Logger.With(zap.String("component", "extract"), zap.String("parser", parser.Name())),
		metrics:  opts.Metrics,
	}
}

// Extract parses src into cleaned parts. The parser call is retried with a fixed
// delay; the final failure is returned as is. A missing credential fails at once.
func (e *Extractor) Extract(ctx context.Context, src Source) ([]models.Part, error) {
	if err := src.validate(); err != nil {
		return nil, err
	}

	var (
		items []Item
		err   error
	)
	for attempt := 1; attempt <= e.attempts; attempt++ {
		start := time.Now()
		items, err = e.parser.Parse(ctx, src)
		e.metrics.RecordExternal(e.parser.Name(), start, err)
		if err == nil {
			break
		}
		if attempt == e.attempts || errors.Is(err, util.ErrMissingCredential) {
			return nil, err
		}
		e.logger.Warn("retrying document parse",
			zap.Int("attempt", attempt),
			zap.Int("of", e.attempts),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.backoff):
		}
	}

	parts := Normalize(items)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%s returned 0 usable items (document may be scanned or invalid): %w", e.parser.Name(), util.ErrNoExtractableText)
	}
	e.logger.Info("document parsed", zap.Int("items", len(items)), zap.Int("parts", len(parts)))
	return parts, nil
}

// Normalize turns parser items into parts: markdown is preferred over text, blank
// items are skipped and the survivors are cleaned. Items that clean down to nothing
// are dropped as well.
func Normalize(items []Item) []models.Part {
	parts := make([]models.Part, 0, len(items))
	for _, it := range items {
		raw := it.Markdown
		if raw == "" {
			raw = it.Text
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		text := util.CleanText(util.SanitizeText(raw))
		if text == "" {
			continue
		}
		typ := it.Type
		if typ == "" {
			typ = "text"
		}
		parts = append(parts, models.Part{
			Text:    text,
			Page:    groundingPage(it.Grounding, 1),
			Type:    typ,
			Caption: it.Caption,
			Extra:   it.Grounding,
		})
	}
	return parts
}

func groundingPage(g map[string]any, fallback int) int {
	if g == nil {
		return fallback
	}
	switch v := g["page"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}
