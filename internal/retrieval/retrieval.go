// Package retrieval answers hybrid queries against one paper's vectors and
// assembles the grounding context handed to answer models.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"researchmcp/internal/lexical"
	"researchmcp/internal/metrics"
	"researchmcp/internal/providers"
	"researchmcp/internal/util"
	"researchmcp/internal/vector"

	"go.uber.org/zap"
)

const (
	DefaultTopK  = 5
	DefaultAlpha = 0.6
)

const Primer = "You are a Q&A bot. Answer ONLY from the text below. " +
	"If the answer is not present, say \"I don't know.\" " +
	"Cite the page number if possible.\n\n"

const noContext = "No relevant context found for this question."

var (
	ErrNoLexicalModel = errors.New("no lexical model loaded for this paper")
	ErrInvalidAlpha   = errors.New("alpha must be within [0, 1]")
)

// NamespaceResolver returns the owner's namespace, or "" when it has none.
type NamespaceResolver interface {
	Namespace(ctx context.Context, userID int64) (string, error)
}

type Options struct {
	Dimension int
	Logger    *zap.Logger
	Metrics   *metrics.Collector
}

type Retriever struct {
	embedder providers.EmbeddingProvider
	store    vector.Store
	users    NamespaceResolver
	dim      int
	logger   *zap.Logger
	metrics  *metrics.Collector
}

func New(embedder providers.EmbeddingProvider, store vector.Store, users NamespaceResolver, opts Options) *Retriever {
	if opts.Dimension <= 0 {
		opts.Dimension = 768
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		users:    users,
		dim:      opts.Dimension,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
}

type params struct {
	topK  int
	alpha float64
}

type Option func(*params)

func WithTopK(k int) Option {
	return func(p *params) {
		if k > 0 {
			p.topK = k
		}
	}
}

func WithAlpha(alpha float64) Option {
	return func(p *params) { p.alpha = alpha }
}

// Retrieve queries the paper's vectors in the owner's namespace. The encoder must
// be the one fitted on this paper; a foreign encoder silently skews lexical scores.
func (r *Retriever) Retrieve(ctx context.Context, userID int64, paperID vector.PaperID, question string, enc *lexical.Encoder, opts ...Option) ([]vector.Match, error) {
	p := params{topK: DefaultTopK, alpha: DefaultAlpha}
	for _, o := range opts {
		o(&p)
	}
	if p.alpha < 0 || p.alpha > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidAlpha, p.alpha)
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: %w", ErrNoLexicalModel, util.ErrLexicalStateMissing)
	}
	namespace, err := r.users.Namespace(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve namespace: %w", err)
	}
	if namespace == "" {
		return nil, util.ErrNamespaceNotFound
	}

	start := time.Now()
	vecs, _, err := r.embedder.Embed(ctx, providers.EmbedRequest{
		Operation: "retrieve_embed",
		Inputs:    []string{question},
		Dimension: r.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != r.dim {
		return nil, fmt.Errorf("question embedding has unexpected shape, want 1x%d", r.dim)
	}
	sparse, dense := vector.WeightByAlpha(enc.EncodeQuery(question), vecs[0], p.alpha)

	matches, err := r.store.Query(ctx, vector.Query{
		Namespace: namespace,
		Dense:     dense,
		Sparse:    sparse,
		PaperID:   paperID,
		TopK:      p.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("query vector store: %w", err)
	}
	r.metrics.RecordRetrieval(len(matches), time.Since(start))
	r.logger.Debug("hybrid query",
		zap.Int64("paper_id", paperID.Int64()),
		zap.String("namespace", namespace),
		zap.Int("matches", len(matches)),
		zap.Float64("alpha", p.alpha),
	)
	return matches, nil
}

// BuildLLMContext retrieves and renders the grounding context. Zero matches is not
// an error; the context then says nothing relevant was found.
func (r *Retriever) BuildLLMContext(ctx context.Context, userID int64, paperID vector.PaperID, question string, enc *lexical.Encoder, opts ...Option) (string, error) {
	matches, err := r.Retrieve(ctx, userID, paperID, question, enc, opts...)
	if err != nil {
		return "", err
	}
	return FormatContext(matches), nil
}

func FormatContext(matches []vector.Match) string {
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		snippet := strings.TrimSpace(m.Metadata.Text)
		if snippet == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[Page %d | %s]\n%s\n(Score: %.3f)\n", m.Metadata.Page, m.Metadata.Type, snippet, m.Score))
	}
	if len(blocks) == 0 {
		return Primer + noContext
	}
	return Primer + strings.Join(blocks, "\n")
}
