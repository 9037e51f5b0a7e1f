package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps records in process and scores them by dense plus sparse dot product,
// the same way a dotproduct hybrid index does.
type MemoryStore struct {
	dim int

	mu         sync.RWMutex
	namespaces map[string]map[string]Record
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, namespaces: map[string]map[string]Record{}}
}

func (s *MemoryStore) Upsert(_ context.Context, namespace string, records []Record) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	for i, r := range records {
		if s.dim > 0 && len(r.Dense) != s.dim {
			return fmt.Errorf("record[%d] dense dimension %d, want %d", i, len(r.Dense), s.dim)
		}
		if !r.Sparse.Valid() {
			return fmt.Errorf("record[%d] sparse indices and values differ in length", i)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = map[string]Record{}
		s.namespaces[namespace] = ns
	}
	for _, r := range records {
		ns[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]Match, error) {
	if q.TopK <= 0 {
		return []Match{}, nil
	}
	if s.dim > 0 && len(q.Dense) != s.dim {
		return nil, fmt.Errorf("query dense dimension %d, want %d", len(q.Dense), s.dim)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	qs := make(map[uint32]float32, len(q.Sparse.Indices))
	for i, idx := range q.Sparse.Indices {
		qs[idx] += q.Sparse.Values[i]
	}

	out := make([]Match, 0)
	for id, r := range s.namespaces[q.Namespace] {
		if r.Metadata.PaperID.FilterValue() != q.PaperID.FilterValue() {
			continue
		}
		var score float64
		for i := range r.Dense {
			if i < len(q.Dense) {
				score += float64(r.Dense[i] * q.Dense[i])
			}
		}
		for i, idx := range r.Sparse.Indices {
			score += float64(r.Sparse.Values[i] * qs[idx])
		}
		out = append(out, Match{ID: id, Score: score, Metadata: r.Metadata})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	if len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

func (s *MemoryStore) Ready(context.Context) error { return nil }

// Count returns the number of records in a namespace.
func (s *MemoryStore) Count(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.namespaces[namespace])
}
