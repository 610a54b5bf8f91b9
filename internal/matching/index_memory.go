package matching

import (
	"context"
	"math"
	"sort"
	"sync"

	"voicepassport/pkg/platform/sentinel"
)

// MemoryIndex is an in-process VectorIndex with cosine scoring. It backs
// unit tests and local single-node runs; production uses the Qdrant adapter.
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]map[string]Embedding
	order       map[string][]string
}

// NewMemoryIndex builds an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		collections: make(map[string]map[string]Embedding),
		order:       make(map[string][]string),
	}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, collection string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]Embedding)
	}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, collection, id string, vector Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	points, ok := m.collections[collection]
	if !ok {
		return sentinel.ErrNotFound
	}
	if _, exists := points[id]; !exists {
		m.order[collection] = append(m.order[collection], id)
	}
	points[id] = append(Embedding(nil), vector...)
	return nil
}

// Search returns all points scored by cosine similarity, highest first.
// Insertion order is preserved among equal scores so tie-break behavior is
// deterministic.
func (m *MemoryIndex) Search(_ context.Context, collection string, vector Embedding) ([]Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	points, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	candidates := make([]Candidate, 0, len(points))
	for _, id := range m.order[collection] {
		candidates = append(candidates, Candidate{ID: id, Score: cosine(vector, points[id])})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates, nil
}

func cosine(a, b Embedding) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
