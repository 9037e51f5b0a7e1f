package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"researchmcp/internal/app"
	"researchmcp/internal/extract"
	"researchmcp/internal/index"
	"researchmcp/internal/lexical"
	"researchmcp/internal/models"
	"researchmcp/internal/storage"
	"researchmcp/internal/util"
	"researchmcp/internal/vector"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// ErrNoOpenAccessPDF means neither the search record nor Unpaywall had a PDF link.
var ErrNoOpenAccessPDF = errors.New("no open-access PDF found for this paper")

type PaperStore interface {
	CreatePaper(ctx context.Context, userID int64, title, pdfURL string) (models.Paper, error)
	UpdateStatus(ctx context.Context, userID, paperID int64, status string) error
}

type NamespaceResolver interface {
	Namespace(ctx context.Context, userID int64) (string, error)
}

type PaperFinder interface {
	FindByID(ctx context.Context, paperID, title string) (models.ScholarPaper, bool, error)
}

type PDFResolver interface {
	Resolve(ctx context.Context, p models.ScholarPaper) (string, bool)
}

type PartExtractor interface {
	Extract(ctx context.Context, src extract.Source) ([]models.Part, error)
}

type PartIndexer interface {
	Ingest(ctx context.Context, parts []models.Part, owner index.Owner, paper index.Paper) (index.Result, error)
}

type Deps struct {
	Papers    PaperStore
	Users     NamespaceResolver
	Finder    PaperFinder
	Resolver  PDFResolver
	Extractor PartExtractor
	Indexer   PartIndexer
	Logger    *zap.Logger
}

type Activities struct {
	papers    PaperStore
	users     NamespaceResolver
	finder    PaperFinder
	resolver  PDFResolver
	extractor PartExtractor
	indexer   PartIndexer
	logger    *zap.Logger
}

func New(d Deps) *Activities {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Activities{
		papers:    d.Papers,
		users:     d.Users,
		finder:    d.Finder,
		resolver:  d.Resolver,
		extractor: d.Extractor,
		indexer:   d.Indexer,
		logger:    d.Logger.With(zap.String("component", "ingest")),
	}
}

func FromContainer(c *app.Container) *Activities {
	return New(Deps{
		Papers:    c.Papers,
		Users:     c.Users,
		Finder:    c.Scholar,
		Resolver:  c.Resolver,
		Extractor: c.Extractor,
		Indexer:   c.Indexer,
		Logger:    c.Logger,
	})
}

// ResolvePDFActivity passes an explicit URL through; otherwise it re-reads the
// search record and resolves an open-access PDF from it.
func (a *Activities) ResolvePDFActivity(ctx context.Context, in ResolvePDFInput) (ResolvePDFOutput, error) {
	if u := strings.TrimSpace(in.PDFURL); u != "" {
		return ResolvePDFOutput{PDFURL: u, Title: in.Title, Found: true}, nil
	}
	if strings.TrimSpace(in.S2PaperID) == "" {
		return ResolvePDFOutput{}, temporal.NewNonRetryableApplicationError("pdf_url or s2_paper_id is required", "InvalidInput", nil)
	}
	p, ok, err := a.finder.FindByID(ctx, in.S2PaperID, in.Title)
	if err != nil {
		return ResolvePDFOutput{}, err
	}
	if !ok {
		return ResolvePDFOutput{Title: in.Title}, nil
	}
	title := in.Title
	if strings.TrimSpace(title) == "" {
		title = p.Title
	}
	url, found := a.resolver.Resolve(ctx, p)
	return ResolvePDFOutput{PDFURL: url, Title: title, Found: found}, nil
}

func (a *Activities) CreatePaperActivity(ctx context.Context, in CreatePaperInput) (CreatePaperOutput, error) {
	p, err := a.papers.CreatePaper(ctx, in.UserID, in.Title, in.PDFURL)
	if err != nil {
		return CreatePaperOutput{}, err
	}
	return CreatePaperOutput{Paper: p}, nil
}

func (a *Activities) ExtractPartsActivity(ctx context.Context, in ExtractPartsInput) (ExtractPartsOutput, error) {
	src := extract.Source{URL: in.PDFURL, Data: in.Data, Filename: in.Filename}
	if len(src.Data) > 0 {
		src.URL = ""
	}
	parts, err := a.extractor.Extract(ctx, src)
	if err != nil {
		return ExtractPartsOutput{}, nonRetryable(err)
	}
	return ExtractPartsOutput{Parts: parts}, nil
}

func (a *Activities) IndexPartsActivity(ctx context.Context, in IndexPartsInput) (IndexPartsOutput, error) {
	res, err := a.indexParts(ctx, in)
	if err != nil {
		return IndexPartsOutput{}, nonRetryable(err)
	}
	return IndexPartsOutput{NumParts: len(res.Parts), NumVectors: res.NumVectors}, nil
}

func (a *Activities) UpdatePaperStatusActivity(ctx context.Context, in UpdatePaperStatusInput) error {
	if in.FailReason != "" {
		a.logger.Warn("paper ingestion stopped", zap.Int64("paper_id", in.PaperID), zap.String("status", in.Status), zap.String("reason", in.FailReason))
	}
	return a.papers.UpdateStatus(ctx, in.UserID, in.PaperID, in.Status)
}

func (a *Activities) indexParts(ctx context.Context, in IndexPartsInput) (index.Result, error) {
	ns, err := a.users.Namespace(ctx, in.UserID)
	if err != nil {
		return index.Result{}, err
	}
	return a.indexer.Ingest(ctx, in.Parts, index.Owner{UserID: in.UserID, Namespace: ns}, index.Paper{
		ID:    vector.PaperID(in.PaperID),
		Title: in.Title,
	})
}

// nonRetryable stops Temporal from retrying failures that cannot change on retry.
func nonRetryable(err error) error {
	switch {
	case errors.Is(err, util.ErrNoExtractableText):
		return temporal.NewNonRetryableApplicationError(err.Error(), "NoExtractableText", err)
	case errors.Is(err, util.ErrNamespaceNotFound), errors.Is(err, util.ErrMissingCredential):
		return temporal.NewNonRetryableApplicationError(err.Error(), "Configuration", err)
	default:
		return err
	}
}

// IngestRequest describes one paper to ingest. Data takes precedence over PDFURL;
// with neither, S2PaperID is resolved to an open-access PDF.
type IngestRequest struct {
	UserID    int64  `json:"user_id"`
	Title     string `json:"title"`
	PDFURL    string `json:"pdf_url,omitempty"`
	S2PaperID string `json:"s2_paper_id,omitempty"`
	Data      []byte `json:"-"`
	Filename  string `json:"filename,omitempty"`
}

type IngestResult struct {
	Paper      models.Paper     `json:"paper"`
	NumParts   int              `json:"num_parts"`
	NumVectors int              `json:"num_vectors"`
	Lexical    *lexical.Encoder `json:"-"`
}

// Ingest runs the same steps as PaperIngestWorkflow in-process. A paper whose
// document yields no text is kept with status failed.
func (a *Activities) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	src := extract.Source{Data: req.Data, Filename: req.Filename}
	pdfURL, title := req.PDFURL, req.Title
	if len(req.Data) > 0 {
		pdfURL = storage.UploadedURL(req.Filename)
		if strings.TrimSpace(title) == "" {
			title = strings.TrimSuffix(req.Filename, ".pdf")
		}
	} else {
		resolved, err := a.ResolvePDFActivity(ctx, ResolvePDFInput{S2PaperID: req.S2PaperID, Title: req.Title, PDFURL: req.PDFURL})
		if err != nil {
			return IngestResult{}, err
		}
		if !resolved.Found {
			return IngestResult{}, ErrNoOpenAccessPDF
		}
		pdfURL, title = resolved.PDFURL, resolved.Title
		src.URL = pdfURL
	}

	created, err := a.CreatePaperActivity(ctx, CreatePaperInput{UserID: req.UserID, Title: title, PDFURL: pdfURL})
	if err != nil {
		return IngestResult{}, err
	}
	paper := created.Paper

	extracted, err := a.extractor.Extract(ctx, src)
	if err != nil {
		a.markFailed(ctx, paper, err)
		return IngestResult{Paper: paper}, fmt.Errorf("extract paper %d: %w", paper.ID, err)
	}
	res, err := a.indexParts(ctx, IndexPartsInput{UserID: req.UserID, PaperID: paper.ID, Title: paper.Title, Parts: extracted})
	if err != nil {
		a.markFailed(ctx, paper, err)
		return IngestResult{Paper: paper}, fmt.Errorf("index paper %d: %w", paper.ID, err)
	}
	return IngestResult{Paper: paper, NumParts: len(res.Parts), NumVectors: res.NumVectors, Lexical: res.Lexical}, nil
}

func (a *Activities) markFailed(ctx context.Context, p models.Paper, cause error) {
	if err := a.UpdatePaperStatusActivity(ctx, UpdatePaperStatusInput{
		UserID:     p.UserID,
		PaperID:    p.ID,
		Status:     models.PaperStatusFailed,
		FailReason: cause.Error(),
	}); err != nil {
		a.logger.Warn("mark paper failed", zap.Int64("paper_id", p.ID), zap.Error(err))
	}
}
