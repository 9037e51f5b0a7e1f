package storage

import (
	"context"
	"fmt"

	"researchmcp/internal/models"
)

const DefaultChatLimit = 50

type ChatRepo struct {
	db *DB
}

func NewChatRepo(db *DB) *ChatRepo {
	return &ChatRepo{db: db}
}

func (r *ChatRepo) AppendTurn(ctx context.Context, t models.ChatTurn) (models.ChatTurn, error) {
	if t.SourceType == "" {
		t.SourceType = models.SourcePaper
	}
	var paperID *int64
	if t.PaperID != 0 {
		paperID = &t.PaperID
	}
	err := r.db.Pool.QueryRow(ctx, `
INSERT INTO paper_chats (user_id, paper_id, question, answer, d2_code, svg_path, source_type)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id, created_at`,
		t.UserID, paperID, t.Question, t.Answer, t.D2Code, t.SVGPath, string(t.SourceType)).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return models.ChatTurn{}, fmt.Errorf("insert chat turn: %w", err)
	}
	return t, nil
}

// ListTurns returns the most recent limit turns for the paper, oldest first.
func (r *ChatRepo) ListTurns(ctx context.Context, userID, paperID int64, limit int) ([]models.ChatTurn, error) {
	if limit <= 0 {
		limit = DefaultChatLimit
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, user_id, COALESCE(paper_id, 0), question, answer, d2_code, svg_path, source_type, created_at
FROM (
  SELECT * FROM paper_chats
  WHERE user_id=$1 AND paper_id=$2
  ORDER BY created_at DESC, id DESC
  LIMIT $3
) recent
ORDER BY created_at ASC, id ASC`, userID, paperID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat turns: %w", err)
	}
	defer rows.Close()

	out := make([]models.ChatTurn, 0)
	for rows.Next() {
		var t models.ChatTurn
		var source string
		if err := rows.Scan(&t.ID, &t.UserID, &t.PaperID, &t.Question, &t.Answer, &t.D2Code, &t.SVGPath, &source, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		t.SourceType = models.SourceType(source)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat turns: %w", err)
	}
	return out, nil
}
