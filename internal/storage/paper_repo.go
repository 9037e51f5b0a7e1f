package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"researchmcp/internal/lexical"
	"researchmcp/internal/models"

	"github.com/jackc/pgx/v5"
)

var ErrPaperNotFound = errors.New("paper not found")

const uploadedScheme = "uploaded://"

// UploadedURL is the pdf_url recorded for papers ingested from uploaded bytes.
func UploadedURL(filename string) string {
	return uploadedScheme + strings.TrimSpace(filename)
}

type PaperRepo struct {
	db *DB
}

func NewPaperRepo(db *DB) *PaperRepo {
	return &PaperRepo{db: db}
}

func (r *PaperRepo) CreatePaper(ctx context.Context, userID int64, title, pdfURL string) (models.Paper, error) {
	p := models.Paper{
		UserID: userID,
		Title:  strings.TrimSpace(title),
		PDFURL: pdfURL,
		Status: models.PaperStatusIngested,
	}
	if p.Title == "" {
		p.Title = "Untitled"
	}
	err := r.db.Pool.QueryRow(ctx, `
INSERT INTO papers (user_id, title, pdf_url, status)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at`, p.UserID, p.Title, p.PDFURL, p.Status).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return models.Paper{}, fmt.Errorf("insert paper: %w", err)
	}
	return p, nil
}

func (r *PaperRepo) ListPapers(ctx context.Context, userID int64) ([]models.Paper, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT id, user_id, title, pdf_url, status, created_at
FROM papers
WHERE user_id=$1
ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	out := make([]models.Paper, 0)
	for rows.Next() {
		var p models.Paper
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.PDFURL, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan paper: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate papers: %w", err)
	}
	return out, nil
}

func (r *PaperRepo) GetPaper(ctx context.Context, userID, paperID int64) (models.Paper, error) {
	var p models.Paper
	err := r.db.Pool.QueryRow(ctx, `
SELECT id, user_id, title, pdf_url, status, created_at
FROM papers
WHERE user_id=$1 AND id=$2`, userID, paperID).
		Scan(&p.ID, &p.UserID, &p.Title, &p.PDFURL, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Paper{}, ErrPaperNotFound
	}
	if err != nil {
		return models.Paper{}, fmt.Errorf("get paper: %w", err)
	}
	return p, nil
}

// UpdateStatus marks a paper whose ingestion did not complete.
func (r *PaperRepo) UpdateStatus(ctx context.Context, userID, paperID int64, status string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE papers SET status=$3 WHERE user_id=$1 AND id=$2`, userID, paperID, status)
	if err != nil {
		return fmt.Errorf("update paper status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaperNotFound
	}
	return nil
}

func (r *PaperRepo) SaveLexicalState(ctx context.Context, userID, paperID int64, st lexical.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode lexical state: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO bm25_states (user_id, paper_id, state)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, paper_id)
DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()`, userID, paperID, b)
	if err != nil {
		return fmt.Errorf("save lexical state: %w", err)
	}
	return nil
}

func (r *PaperRepo) DeleteLexicalState(ctx context.Context, userID, paperID int64) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM bm25_states WHERE user_id=$1 AND paper_id=$2`, userID, paperID); err != nil {
		return fmt.Errorf("delete lexical state: %w", err)
	}
	return nil
}

// LoadLexicalState reports ok=false when the paper has no saved state.
func (r *PaperRepo) LoadLexicalState(ctx context.Context, userID, paperID int64) (lexical.State, bool, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx, `SELECT state FROM bm25_states WHERE user_id=$1 AND paper_id=$2`, userID, paperID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return lexical.State{}, false, nil
	}
	if err != nil {
		return lexical.State{}, false, fmt.Errorf("load lexical state: %w", err)
	}
	var st lexical.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return lexical.State{}, false, fmt.Errorf("decode lexical state: %w", err)
	}
	return st, true, nil
}
