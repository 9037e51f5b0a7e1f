package mcpserver

import (
	"context"
	"errors"
	"strings"

	"researchmcp/internal/models"
	"researchmcp/internal/retrieval"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

type SearchPapersInput struct {
	Query string `json:"query" jsonschema:"free-text paper search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of papers, 1 to 20 (default 5)"`
}

type SearchPapersOutput struct {
	Papers []models.ScholarPaper `json:"papers"`
	Count  int                   `json:"count"`
}

type ResolvePDFInput struct {
	PaperID string `json:"paper_id_s2" jsonschema:"Semantic Scholar paper id"`
	Title   string `json:"title,omitempty" jsonschema:"paper title used when the id lookup is ambiguous"`
}

type ResolvePDFOutput struct {
	PaperID string `json:"paper_id_s2"`
	Title   string `json:"title"`
	PDFURL  string `json:"pdf_url,omitempty"`
	Found   bool   `json:"found"`
}

type WebSearchInput struct {
	Query string `json:"query" jsonschema:"web search query"`
	Count int    `json:"count,omitempty" jsonschema:"number of results (default 5)"`
}

type WebSearchOutput struct {
	Results []models.WebResult `json:"results"`
	Count   int                `json:"count"`
}

type AskPaperInput struct {
	UserID   int64    `json:"user_id" jsonschema:"owner of the paper"`
	PaperID  int64    `json:"paper_id" jsonschema:"ingested paper id"`
	Question string   `json:"question" jsonschema:"question to ground"`
	TopK     int      `json:"top_k,omitempty" jsonschema:"number of passages (default 5)"`
	Alpha    *float64 `json:"alpha,omitempty" jsonschema:"dense weight in [0,1] (default 0.6)"`
}

type AskPaperOutput struct {
	Context string `json:"context"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_papers",
		Description: "Search academic papers by keyword",
	}, s.handleSearchPapers)
	if s.ports.Resolver != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "resolve_pdf",
			Description: "Find an open-access PDF link for a paper",
		}, s.handleResolvePDF)
	}
	if s.ports.Web != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "web_search",
			Description: "Search the web for current information",
		}, s.handleWebSearch)
	}
	if s.ports.Papers != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ask_paper",
			Description: "Retrieve the passages of an ingested paper that answer a question",
		}, s.handleAskPaper)
	}
}

func (s *Server) handleSearchPapers(ctx context.Context, _ *mcp.CallToolRequest, in SearchPapersInput) (*mcp.CallToolResult, SearchPapersOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 5
	}
	papers, err := s.ports.Scholar.Search(ctx, in.Query, limit)
	if err != nil {
		return nil, SearchPapersOutput{}, err
	}
	if papers == nil {
		papers = []models.ScholarPaper{}
	}
	return nil, SearchPapersOutput{Papers: papers, Count: len(papers)}, nil
}

func (s *Server) handleResolvePDF(ctx context.Context, _ *mcp.CallToolRequest, in ResolvePDFInput) (*mcp.CallToolResult, ResolvePDFOutput, error) {
	id := strings.TrimSpace(in.PaperID)
	if id == "" {
		return nil, ResolvePDFOutput{}, errors.New("paper_id_s2 is required")
	}
	p, ok, err := s.ports.Scholar.FindByID(ctx, id, in.Title)
	if err != nil {
		return nil, ResolvePDFOutput{}, err
	}
	out := ResolvePDFOutput{PaperID: id, Title: in.Title}
	if !ok {
		return nil, out, nil
	}
	out.Title = p.Title
	out.PDFURL, out.Found = s.ports.Resolver.Resolve(ctx, p)
	return nil, out, nil
}

func (s *Server) handleWebSearch(ctx context.Context, _ *mcp.CallToolRequest, in WebSearchInput) (*mcp.CallToolResult, WebSearchOutput, error) {
	count := in.Count
	if count <= 0 {
		count = 5
	}
	results := s.ports.Web.Search(ctx, in.Query, count)
	if results == nil {
		results = []models.WebResult{}
	}
	return nil, WebSearchOutput{Results: results, Count: len(results)}, nil
}

func (s *Server) handleAskPaper(ctx context.Context, _ *mcp.CallToolRequest, in AskPaperInput) (*mcp.CallToolResult, AskPaperOutput, error) {
	if in.UserID <= 0 || in.PaperID <= 0 {
		return nil, AskPaperOutput{}, errors.New("user_id and paper_id are required")
	}
	if strings.TrimSpace(in.Question) == "" {
		return nil, AskPaperOutput{}, errors.New("question is required")
	}
	opts := []retrieval.Option{retrieval.WithTopK(in.TopK)}
	if in.Alpha != nil {
		opts = append(opts, retrieval.WithAlpha(*in.Alpha))
	}
	text, err := s.ports.Papers.PaperContext(ctx, in.UserID, in.PaperID, in.Question, opts...)
	if err != nil {
		s.logger.Warn("ask_paper failed", zap.Int64("user_id", in.UserID), zap.Int64("paper_id", in.PaperID), zap.Error(err))
		return nil, AskPaperOutput{}, err
	}
	return nil, AskPaperOutput{Context: text}, nil
}
