package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
}

// PGVectorStore keeps hybrid records in the hybrid_vectors table. The pool must have
// pgvector types registered (storage.NewDB does this).
type PGVectorStore struct {
	q   Querier
	dim int
}

func NewPGVectorStore(q Querier, dim int) *PGVectorStore {
	return &PGVectorStore{q: q, dim: dim}
}

func sparseToPG(s SparseVector) pgvector.SparseVector {
	elements := make(map[int32]float32, len(s.Indices))
	for i, idx := range s.Indices {
		if i < len(s.Values) {
			elements[int32(idx)] += s.Values[i]
		}
	}
	return pgvector.NewSparseVectorFromMap(elements, SparseDim)
}

func (s *PGVectorStore) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for i, r := range records {
		if len(r.Dense) != s.dim {
			return fmt.Errorf("record[%d] dense dimension %d, want %d", i, len(r.Dense), s.dim)
		}
		b.Queue(`
INSERT INTO hybrid_vectors (id, namespace, paper_id, metadata, dense, sparse)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  namespace = EXCLUDED.namespace,
  paper_id = EXCLUDED.paper_id,
  metadata = EXCLUDED.metadata,
  dense = EXCLUDED.dense,
  sparse = EXCLUDED.sparse`,
			r.ID, namespace, r.Metadata.PaperID.Int64(), r.Metadata.Map(), pgvector.NewVector(r.Dense), sparseToPG(r.Sparse))
	}
	br := s.q.SendBatch(ctx, b)
	defer br.Close()
	for i := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert hybrid vector %s: %w", records[i].ID, err)
		}
	}
	return nil
}

// Query scores by negative inner product on both halves, matching a dotproduct index.
func (s *PGVectorStore) Query(ctx context.Context, q Query) ([]Match, error) {
	if q.TopK <= 0 {
		return []Match{}, nil
	}
	if len(q.Dense) != s.dim {
		return nil, fmt.Errorf("query dense dimension %d, want %d", len(q.Dense), s.dim)
	}
	sparse := q.Sparse
	if !sparse.Valid() {
		sparse = SparseVector{}
	}
	rows, err := s.q.Query(ctx, `
SELECT id, metadata, (-(dense <#> $3)) + (-(sparse <#> $4)) AS score
FROM hybrid_vectors
WHERE namespace = $1 AND paper_id = $2
ORDER BY score DESC
LIMIT $5`, q.Namespace, q.PaperID.Int64(), pgvector.NewVector(q.Dense), sparseToPG(sparse), q.TopK)
	if err != nil {
		return nil, fmt.Errorf("query hybrid vectors: %w", err)
	}
	defer rows.Close()

	out := make([]Match, 0, q.TopK)
	for rows.Next() {
		var (
			m    Match
			meta map[string]any
		)
		if err := rows.Scan(&m.ID, &meta, &m.Score); err != nil {
			return nil, fmt.Errorf("scan hybrid match: %w", err)
		}
		m.Metadata = ChunkMetadataFromMap(meta)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hybrid matches: %w", err)
	}
	return out, nil
}

func (s *PGVectorStore) Ready(ctx context.Context) error {
	return s.q.Ping(ctx)
}
