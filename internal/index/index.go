// Package index turns extracted parts into hybrid dense+sparse vector records and
// keeps the per-paper lexical model reconstructable.
package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"researchmcp/internal/lexical"
	"researchmcp/internal/metrics"
	"researchmcp/internal/models"
	"researchmcp/internal/providers"
	"researchmcp/internal/util"
	"researchmcp/internal/vector"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDimension = 768
	DefaultBatchSize = 32
	embedParallelism = 4
)

type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []models.Chunk) error
	DeleteChunks(ctx context.Context, userID, paperID int64) error
	ListChunkTexts(ctx context.Context, userID, paperID int64) ([]string, error)
}

type LexicalStateStore interface {
	SaveLexicalState(ctx context.Context, userID, paperID int64, st lexical.State) error
	DeleteLexicalState(ctx context.Context, userID, paperID int64) error
	LoadLexicalState(ctx context.Context, userID, paperID int64) (lexical.State, bool, error)
}

type Owner struct {
	UserID    int64
	Namespace string
}

type Paper struct {
	ID    vector.PaperID
	Title string
}

type Result struct {
	Parts      []models.Part
	Lexical    *lexical.Encoder
	NumVectors int
}

type Options struct {
	Dimension int
	BatchSize int
	Logger    *zap.Logger
	Metrics   *metrics.Collector
}

type Indexer struct {
	embedder  providers.EmbeddingProvider
	store     vector.Store
	chunks    ChunkStore
	states    LexicalStateStore
	dim       int
	batchSize int
	logger    *zap.Logger
	metrics   *metrics.Collector
}

func New(embedder providers.EmbeddingProvider, store vector.Store, chunks ChunkStore, states LexicalStateStore, opts Options) *Indexer {
	if opts.Dimension <= 0 {
		opts.Dimension = DefaultDimension
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Indexer{
		embedder:  embedder,
		store:     store,
		chunks:    chunks,
		states:    states,
		dim:       opts.Dimension,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Ingest embeds and encodes every part before writing anything. Writes go chunks,
// then lexical state, then a single vector upsert; when a later write fails the
// earlier ones are removed again. Repeated ingestion of the same paper duplicates
// rows and vectors.
func (ix *Indexer) Ingest(ctx context.Context, parts []models.Part, owner Owner, paper Paper) (Result, error) {
	start := time.Now()
	parts = nonEmpty(parts)
	if len(parts) == 0 {
		return Result{}, util.ErrNoExtractableText
	}
	if owner.Namespace == "" {
		return Result{}, util.ErrNamespaceNotFound
	}
	texts := make([]string, len(parts))
	for i, p := range parts {
		texts[i] = p.Text
	}

	dense, err := ix.Embed(ctx, "ingest_embed", texts)
	if err != nil {
		return Result{}, err
	}
	enc, err := lexical.Fit(texts)
	if err != nil {
		return Result{}, fmt.Errorf("fit lexical model: %w", err)
	}
	sparse := enc.EncodeDocuments(texts)

	rows := make([]models.Chunk, len(parts))
	records := make([]vector.Record, len(parts))
	for i, p := range parts {
		meta := chunkMetadata(p, owner.UserID, paper)
		rows[i] = models.Chunk{
			UserID:    owner.UserID,
			PaperID:   paper.ID.Int64(),
			Page:      meta.Page,
			Type:      meta.Type,
			Caption:   meta.Caption,
			Text:      meta.Text,
			Grounding: meta.Grounding,
		}
		records[i] = vector.Record{
			ID:       recordID(paper.ID),
			Dense:    dense[i],
			Sparse:   sparse[i],
			Metadata: meta,
		}
	}

	if err := ix.chunks.SaveChunks(ctx, rows); err != nil {
		ix.discard(owner.UserID, paper.ID.Int64())
		return Result{}, fmt.Errorf("save chunks: %w", err)
	}
	if err := ix.states.SaveLexicalState(ctx, owner.UserID, paper.ID.Int64(), enc.State()); err != nil {
		ix.discard(owner.UserID, paper.ID.Int64())
		return Result{}, fmt.Errorf("save lexical state: %w", err)
	}
	if err := ix.store.Upsert(ctx, owner.Namespace, records); err != nil {
		ix.discard(owner.UserID, paper.ID.Int64())
		return Result{}, fmt.Errorf("upsert vectors: %w", err)
	}

	ix.metrics.RecordIngest(len(records), time.Since(start))
	ix.logger.Info("paper ingested",
		zap.Int64("paper_id", paper.ID.Int64()),
		zap.String("title", paper.Title),
		zap.String("namespace", owner.Namespace),
		zap.Int("vectors", len(records)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return Result{Parts: parts, Lexical: enc, NumVectors: len(records)}, nil
}

// discard removes whatever a failed ingest persisted for the paper. It runs on a
// fresh context so a cancelled request still cleans up.
func (ix *Indexer) discard(userID, paperID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := ix.chunks.DeleteChunks(ctx, userID, paperID); err != nil {
		ix.logger.Error("discard chunks after failed ingest", zap.Int64("paper_id", paperID), zap.Error(err))
	}
	if err := ix.states.DeleteLexicalState(ctx, userID, paperID); err != nil {
		ix.logger.Error("discard lexical state after failed ingest", zap.Int64("paper_id", paperID), zap.Error(err))
	}
}

// Embed computes dense vectors in batches and checks every vector against the
// configured dimension.
func (ix *Indexer) Embed(ctx context.Context, operation string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallelism)
	for start := 0; start < len(texts); start += ix.batchSize {
		end := min(start+ix.batchSize, len(texts))
		g.Go(func() error {
			vecs, _, err := ix.embedder.Embed(gctx, providers.EmbedRequest{
				Operation: operation,
				Inputs:    texts[start:end],
				Dimension: ix.dim,
			})
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch %d-%d: got %d vectors", start, end, len(vecs))
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, v := range out {
		if len(v) != ix.dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), ix.dim)
		}
	}
	return out, nil
}

// RebuildLexical refits the paper's lexical model from its stored chunk texts,
// falling back to the saved state only when no chunk text exists.
func (ix *Indexer) RebuildLexical(ctx context.Context, userID int64, paperID vector.PaperID) (*lexical.Encoder, error) {
	return RebuildLexical(ctx, ix.chunks, ix.states, userID, paperID)
}

func RebuildLexical(ctx context.Context, chunks ChunkStore, states LexicalStateStore, userID int64, paperID vector.PaperID) (*lexical.Encoder, error) {
	texts, err := chunks.ListChunkTexts(ctx, userID, paperID.Int64())
	if err != nil {
		return nil, fmt.Errorf("list chunk texts: %w", err)
	}
	texts = trimmed(texts)
	if len(texts) > 0 {
		return lexical.Fit(texts)
	}
	st, ok, err := states.LoadLexicalState(ctx, userID, paperID.Int64())
	if err != nil {
		return nil, fmt.Errorf("load lexical state: %w", err)
	}
	if !ok {
		return nil, util.ErrLexicalStateMissing
	}
	return lexical.FromState(st)
}

func chunkMetadata(p models.Part, userID int64, paper Paper) vector.ChunkMetadata {
	return vector.ChunkMetadata{
		UserID:     userID,
		PaperID:    paper.ID,
		PaperTitle: paper.Title,
		Page:       p.Page,
		Type:       p.Type,
		Caption:    p.Caption,
		Text:       p.Text,
		Grounding:  groundingPage(p),
	}
}

// groundingPage prefers the page recorded in the part's provenance.
func groundingPage(p models.Part) int {
	switch v := p.Extra["page"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	}
	return p.Page
}

func recordID(paperID vector.PaperID) string {
	return paperID.String() + "-" + uuid.NewString()
}

func nonEmpty(parts []models.Part) []models.Part {
	out := make([]models.Part, 0, len(parts))
	for _, p := range parts {
		if trimmedText(p.Text) != "" {
			out = append(out, p)
		}
	}
	return out
}

func trimmed(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = trimmedText(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func trimmedText(s string) string {
	return strings.TrimSpace(s)
}
