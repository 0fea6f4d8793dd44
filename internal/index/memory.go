package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hurttlocker/cardintel/internal/chunk"
)

// Memory is a brute-force in-process index. Search cost is linear in
// the number of chunks, which is fine for the few thousand chunks a
// card crawl produces.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	chunk  chunk.Chunk
	vector []float32
}

// NewMemory creates an empty in-process index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry)}
}

func (m *Memory) Upsert(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("upserting chunks: %d chunks with %d vectors", len(chunks), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range chunks {
		if vectors[i] == nil {
			continue
		}
		m.entries[c.ID] = memoryEntry{chunk: c, vector: vectors[i]}
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if !filter.Matches(e.chunk) {
			continue
		}
		hits = append(hits, Hit{Chunk: e.chunk, Score: cosineSimilarity(vector, e.vector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *Memory) Scan(ctx context.Context, filter Filter, limit int) ([]chunk.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]chunk.Chunk, 0, limit)
	for _, e := range m.entries {
		if filter.Matches(e.chunk) {
			out = append(out, e.chunk)
		}
	}
	// Map order is random; sort for stable output.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Metadata.SourceURL != out[j].Metadata.SourceURL {
			return out[i].Metadata.SourceURL < out[j].Metadata.SourceURL
		}
		return out[i].Index < out[j].Index
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) DeleteSource(ctx context.Context, sourceURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		if e.chunk.Metadata.SourceURL == sourceURL {
			delete(m.entries, id)
		}
	}
	return nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *Memory) Close() error { return nil }

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
