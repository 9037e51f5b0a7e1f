package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"researchmcp/internal/util"

	"github.com/stretchr/testify/require"
)

type stubParser struct {
	failures int
	calls    int
	items    []Item
}

func (s *stubParser) Name() string { return "stub" }

func (s *stubParser) Parse(context.Context, Source) ([]Item, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("service unavailable")
	}
	return s.items, nil
}

func TestExtractRetriesUntilThirdAttempt(t *testing.T) {
	p := &stubParser{failures: 2, items: []Item{{Text: "Figure 1 shows the pipeline [3].", Grounding: map[string]any{"page": float64(2)}}}}
	e := New(p, Options{Attempts: 3})

	parts, err := e.Extract(context.Background(), Source{URL: "https://example.org/a.pdf"})
	require.NoError(t, err)
	require.Equal(t, 3, p.calls)
	require.Len(t, parts, 1)
	require.Equal(t, "Figure 1 shows the pipeline .", parts[0].Text)
	require.Equal(t, 2, parts[0].Page)
	require.Equal(t, "text", parts[0].Type)
}

func TestExtractFailsAfterThreeAttempts(t *testing.T) {
	p := &stubParser{failures: 3}
	e := New(p, Options{Attempts: 3})

	_, err := e.Extract(context.Background(), Source{Data: []byte("%PDF")})
	require.EqualError(t, err, "service unavailable")
	require.Equal(t, 3, p.calls)
}

func TestExtractZeroUsableItems(t *testing.T) {
	p := &stubParser{items: []Item{{Text: "   "}, {Markdown: "[12]"}}}
	_, err := New(p, Options{}).Extract(context.Background(), Source{URL: "u"})
	require.True(t, errors.Is(err, util.ErrNoExtractableText))
	require.Equal(t, 1, p.calls)
}

func TestExtractRequiresSource(t *testing.T) {
	_, err := New(&stubParser{}, Options{}).Extract(context.Background(), Source{})
	require.Error(t, err)
}

func TestExtractStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &stubParser{failures: 5}
	_, err := New(p, Options{Attempts: 3, Backoff: 1 << 40}).Extract(ctx, Source{URL: "u"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, p.calls)
}

func TestNormalizePrefersMarkdown(t *testing.T) {
	parts := Normalize([]Item{
		{Markdown: "| a | b |", Text: "a b", Type: "table", Caption: "Table 2"},
		{Text: "mail me at x@y.org"},
	})
	require.Len(t, parts, 2)
	require.Equal(t, "| a | b |", parts[0].Text)
	require.Equal(t, "table", parts[0].Type)
	require.Equal(t, "Table 2", parts[0].Caption)
	require.Equal(t, 1, parts[0].Page)
	require.Equal(t, "mail me at", parts[1].Text)
}

func TestADEParserSendsURLAndDecodesChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/ade/parse", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "https://arxiv.org/pdf/1.pdf", r.FormValue("document_url"))
		require.Equal(t, "dpt-2-latest", r.FormValue("model"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chunks": []map[string]any{
				{"markdown": "Intro text", "type": "text", "grounding": map[string]any{"page": 0}},
			},
		})
	}))
	defer srv.Close()

	items, err := NewADEParser("key", srv.URL, "").Parse(context.Background(), Source{URL: "https://arxiv.org/pdf/1.pdf"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Intro text", items[0].Markdown)
	require.Equal(t, float64(0), items[0].Grounding["page"])
}

func TestADEParserUploadsBytesAndFallsBackToContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("document")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "paper.pdf", hdr.Filename)
		_, _ = w.Write([]byte(`{"content":[{"text":"body"}]}`))
	}))
	defer srv.Close()

	items, err := NewADEParser("key", srv.URL, "").Parse(context.Background(), Source{Data: []byte("%PDF-1.4"), Filename: "paper.pdf"})
	require.NoError(t, err)
	require.Equal(t, []Item{{Text: "body"}}, items)
}

func TestADEParserMissingKey(t *testing.T) {
	_, err := NewADEParser("", "", "").Parse(context.Background(), Source{URL: "u"})
	require.ErrorIs(t, err, util.ErrMissingCredential)
}

type countingParser struct {
	Parser
	calls int
}

func (c *countingParser) Parse(ctx context.Context, src Source) ([]Item, error) {
	c.calls++
	return c.Parser.Parse(ctx, src)
}

func TestExtractDoesNotRetryMissingCredential(t *testing.T) {
	p := &countingParser{Parser: NewADEParser("", "", "")}
	e := New(p, Options{Attempts: 3, Backoff: time.Hour})

	_, err := e.Extract(context.Background(), Source{URL: "https://example.org/a.pdf"})
	require.ErrorIs(t, err, util.ErrMissingCredential)
	require.Equal(t, 1, p.calls)
}
