package store

import (
	"context"
	"sync"

	"github.com/xhad/contractiq/internal/models"
)

// MemoryIndex is an in-process exact cosine index.
type MemoryIndex struct {
	mu       sync.RWMutex
	entries  map[string]models.Chunk
	minScore float64
}

func NewMemoryIndex(minScore float64) *MemoryIndex {
	return &MemoryIndex{
		entries:  make(map[string]models.Chunk),
		minScore: minScore,
	}
}

// Upsert stores the chunk under its id. A repeated id replaces the previous
// entry.
func (m *MemoryIndex) Upsert(_ context.Context, chunk models.Chunk, vector []float32) error {
	chunk.Embedding = append([]float32(nil), vector...)
	m.mu.Lock()
	m.entries[chunk.ID] = chunk
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int, allowed []string) ([]models.ScoredChunk, error) {
	if len(allowed) == 0 || k <= 0 {
		return []models.ScoredChunk{}, nil
	}
	scope := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		scope[id] = struct{}{}
	}

	m.mu.RLock()
	hits := make([]models.ScoredChunk, 0, len(m.entries))
	for _, c := range m.entries {
		if _, ok := scope[c.DocumentID]; !ok {
			continue
		}
		hits = append(hits, models.ScoredChunk{Chunk: c, Score: Cosine(vector, c.Embedding)})
	}
	m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rank(hits, k, m.minScore), nil
}

func (m *MemoryIndex) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.entries {
		if c.DocumentID == documentID {
			delete(m.entries, id)
		}
	}
	return nil
}

// Len reports the number of stored chunks.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
