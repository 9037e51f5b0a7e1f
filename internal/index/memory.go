package index

import (
	"context"
	"sync"

	"researchmcp/internal/lexical"
	"researchmcp/internal/models"
)

type paperKey struct {
	userID, paperID int64
}

// MemoryStore keeps chunks and lexical state in process. It backs offline runs
// and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	chunks map[paperKey][]models.Chunk
	states map[paperKey]lexical.State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks: make(map[paperKey][]models.Chunk),
		states: make(map[paperKey]lexical.State),
	}
}

func (m *MemoryStore) SaveChunks(_ context.Context, chunks []models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.nextID++
		c.ID = m.nextID
		k := paperKey{c.UserID, c.PaperID}
		m.chunks[k] = append(m.chunks[k], c)
	}
	return nil
}

func (m *MemoryStore) ListChunkTexts(_ context.Context, userID, paperID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.chunks[paperKey{userID, paperID}]
	out := make([]string, 0, len(rows))
	for _, c := range rows {
		out = append(out, c.Text)
	}
	return out, nil
}

func (m *MemoryStore) DeleteChunks(_ context.Context, userID, paperID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, paperKey{userID, paperID})
	return nil
}

func (m *MemoryStore) SaveLexicalState(_ context.Context, userID, paperID int64, st lexical.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[paperKey{userID, paperID}] = lexical.State{Texts: append([]string(nil), st.Texts...)}
	return nil
}

func (m *MemoryStore) DeleteLexicalState(_ context.Context, userID, paperID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, paperKey{userID, paperID})
	return nil
}

func (m *MemoryStore) LoadLexicalState(_ context.Context, userID, paperID int64) (lexical.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[paperKey{userID, paperID}]
	return st, ok, nil
}
