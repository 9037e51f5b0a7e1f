package mcpserver

import (
	"context"
	"errors"
	"sort"
	"testing"

	"researchmcp/internal/models"
	"researchmcp/internal/retrieval"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScholar struct {
	papers []models.ScholarPaper
	limit  int
	err    error
}

func (f *fakeScholar) Search(_ context.Context, _ string, limit int) ([]models.ScholarPaper, error) {
	f.limit = limit
	return f.papers, f.err
}

func (f *fakeScholar) FindByID(_ context.Context, paperID, _ string) (models.ScholarPaper, bool, error) {
	for _, p := range f.papers {
		if p.PaperID == paperID {
			return p, true, nil
		}
	}
	return models.ScholarPaper{}, false, f.err
}

type arxivResolver struct{}

func (arxivResolver) Resolve(_ context.Context, p models.ScholarPaper) (string, bool) {
	if id, ok := p.ExternalIDs["ArXiv"].(string); ok {
		return "https://arxiv.org/pdf/" + id + ".pdf", true
	}
	return "", false
}

type fakeWeb struct{ count int }

func (f *fakeWeb) Search(_ context.Context, _ string, count int) []models.WebResult {
	f.count = count
	return nil
}

type fakeContext struct {
	question string
	opts     int
}

func (f *fakeContext) PaperContext(_ context.Context, _, _ int64, question string, opts ...retrieval.Option) (string, error) {
	f.question, f.opts = question, len(opts)
	return "[Page 2 | text]\nthree stages", nil
}

var attention = models.ScholarPaper{
	PaperID:     "abc",
	Title:       "Attention Is All You Need",
	ExternalIDs: map[string]any{"ArXiv": "1706.03762"},
}

func newTestServer(t *testing.T) (*Server, *fakeScholar, *fakeWeb, *fakeContext) {
	t.Helper()
	sch := &fakeScholar{papers: []models.ScholarPaper{attention}}
	web := &fakeWeb{}
	pc := &fakeContext{}
	s, err := NewServer(&Ports{Scholar: sch, Resolver: arxivResolver{}, Web: web, Papers: pc}, nil)
	require.NoError(t, err)
	return s, sch, web, pc
}

func TestNewServerRequiresScholar(t *testing.T) {
	s, err := NewServer(&Ports{}, nil)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrMissingScholar)
}

func TestSearchPapersDefaultsLimit(t *testing.T) {
	s, sch, _, _ := newTestServer(t)
	_, out, err := s.handleSearchPapers(context.Background(), nil, SearchPapersInput{Query: "attention"})
	require.NoError(t, err)
	assert.Equal(t, 5, sch.limit)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "abc", out.Papers[0].PaperID)

	sch.err = errors.New("missing credential")
	_, _, err = s.handleSearchPapers(context.Background(), nil, SearchPapersInput{Query: "x", Limit: 3})
	assert.Error(t, err)
}

func TestResolvePDF(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	_, out, err := s.handleResolvePDF(context.Background(), nil, ResolvePDFInput{PaperID: " abc "})
	require.NoError(t, err)
	assert.Equal(t, ResolvePDFOutput{
		PaperID: "abc",
		Title:   "Attention Is All You Need",
		PDFURL:  "https://arxiv.org/pdf/1706.03762.pdf",
		Found:   true,
	}, out)

	_, out, err = s.handleResolvePDF(context.Background(), nil, ResolvePDFInput{PaperID: "zzz", Title: "Unknown"})
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Equal(t, "Unknown", out.Title)

	_, _, err = s.handleResolvePDF(context.Background(), nil, ResolvePDFInput{})
	assert.Error(t, err)
}

func TestWebSearchReturnsEmptyList(t *testing.T) {
	s, _, web, _ := newTestServer(t)
	_, out, err := s.handleWebSearch(context.Background(), nil, WebSearchInput{Query: "go release"})
	require.NoError(t, err)
	assert.Equal(t, 5, web.count)
	assert.NotNil(t, out.Results)
	assert.Zero(t, out.Count)
}

func TestAskPaper(t *testing.T) {
	s, _, _, pc := newTestServer(t)
	alpha := 0.3
	_, out, err := s.handleAskPaper(context.Background(), nil, AskPaperInput{UserID: 1, PaperID: 7, Question: "stages?", TopK: 3, Alpha: &alpha})
	require.NoError(t, err)
	assert.Contains(t, out.Context, "three stages")
	assert.Equal(t, "stages?", pc.question)
	assert.Equal(t, 2, pc.opts)

	_, _, err = s.handleAskPaper(context.Background(), nil, AskPaperInput{UserID: 1, Question: "x"})
	assert.Error(t, err)
	_, _, err = s.handleAskPaper(context.Background(), nil, AskPaperInput{UserID: 1, PaperID: 7, Question: "  "})
	assert.Error(t, err)
}

func TestToolsAreListedOverTransport(t *testing.T) {
	ctx := context.Background()
	s, _, _, _ := newTestServer(t)

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := s.server.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer cs.Close()

	res, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"ask_paper", "resolve_pdf", "search_papers", "web_search"}, names)
}

func TestOptionalToolsAreSkipped(t *testing.T) {
	ctx := context.Background()
	s, err := NewServer(&Ports{Scholar: &fakeScholar{}}, nil)
	require.NoError(t, err)

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := s.server.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer ss.Close()
	cs, err := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "0"}, nil).Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer cs.Close()

	res, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	require.Len(t, res.Tools, 1)
	assert.Equal(t, "search_papers", res.Tools[0].Name)
}
