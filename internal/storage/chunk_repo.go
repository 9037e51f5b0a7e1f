package storage

import (
	"context"
	"fmt"

	"researchmcp/internal/models"

	"github.com/jackc/pgx/v5"
)

const chunkBatchSize = 500

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// SaveChunks writes rows in batches of 500 inside one transaction, so either every
// chunk of the paper is stored or none is.
func (r *ChunkRepo) SaveChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx save chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for start := 0; start < len(chunks); start += chunkBatchSize {
		end := min(start+chunkBatchSize, len(chunks))
		batch := &pgx.Batch{}
		for _, c := range chunks[start:end] {
			batch.Queue(`
INSERT INTO paper_chunks (user_id, paper_id, page, type, caption, text, grounding)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.UserID, c.PaperID, c.Page, c.Type, c.Caption, c.Text, c.Grounding)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert chunk batch %d-%d: %w", start, end, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

// ListChunks returns the paper's chunks in insertion order.
func (r *ChunkRepo) ListChunks(ctx context.Context, userID, paperID int64) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, user_id, paper_id, page, type, caption, text, grounding, created_at
FROM paper_chunks
WHERE user_id=$1 AND paper_id=$2
ORDER BY id ASC`, userID, paperID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	out := make([]models.Chunk, 0)
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.UserID, &c.PaperID, &c.Page, &c.Type, &c.Caption, &c.Text, &c.Grounding, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// DeleteChunks removes every chunk row of one paper.
func (r *ChunkRepo) DeleteChunks(ctx context.Context, userID, paperID int64) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM paper_chunks WHERE user_id=$1 AND paper_id=$2`, userID, paperID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	return nil
}

func (r *ChunkRepo) ListChunkTexts(ctx context.Context, userID, paperID int64) ([]string, error) {
	chunks, err := r.ListChunks(ctx, userID, paperID)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	return texts, nil
}
