package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/hurttlocker/cardintel/internal/ann"
	"github.com/hurttlocker/cardintel/internal/chunk"
)

// HNSWConfig configures the file-backed HNSW index.
type HNSWConfig struct {
	Path string // snapshot file, created on first flush
	Dims int    // defaults to 768, nomic-embed-text's width
}

// HNSW is a local persistent index: an HNSW graph over chunk vectors
// plus the chunk metadata needed to filter and render hits. The whole
// index lives in memory and flushes to a single snapshot file, so
// chunks survive process restarts without a Postgres server.
type HNSW struct {
	cfg    HNSWConfig
	mu     sync.RWMutex
	graph  *ann.Graph
	chunks map[string]chunk.Chunk
	dirty  bool
}

// NewHNSW opens the index, loading the snapshot at cfg.Path when one
// exists. A snapshot written with a different vector width is refused;
// re-index after changing embed models.
func NewHNSW(cfg HNSWConfig) (*HNSW, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("hnsw index needs a snapshot path")
	}
	if cfg.Dims == 0 {
		cfg.Dims = 768
	}

	h := &HNSW{
		cfg:    cfg,
		graph:  ann.New(cfg.Dims),
		chunks: make(map[string]chunk.Chunk),
	}

	f, err := os.Open(cfg.Path)
	if os.IsNotExist(err) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening index snapshot: %w", err)
	}
	defer f.Close()

	graph, err := ann.Load(f)
	if err != nil {
		return nil, fmt.Errorf("reading index snapshot %s: %w", cfg.Path, err)
	}
	if graph.Dims() != cfg.Dims {
		return nil, fmt.Errorf("index snapshot %s holds %d-dim vectors, want %d (re-index after changing embed models)",
			cfg.Path, graph.Dims(), cfg.Dims)
	}

	// Chunk metadata follows the graph section.
	var stored []chunk.Chunk
	if err := json.NewDecoder(f).Decode(&stored); err != nil {
		return nil, fmt.Errorf("reading chunk metadata from %s: %w", cfg.Path, err)
	}

	h.graph = graph
	for _, c := range stored {
		h.chunks[c.ID] = c
	}
	return h, nil
}

func (h *HNSW) Upsert(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("upserting chunks: %d chunks with %d vectors", len(chunks), len(vectors))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, c := range chunks {
		if vectors[i] == nil {
			continue
		}
		// Chunk IDs hash source and text, so a known ID keeps its
		// vector; only the metadata refreshes.
		h.chunks[c.ID] = c
		h.graph.Insert(c.ID, vectors[i])
		h.dirty = true
	}
	return nil
}

func (h *HNSW) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	live := h.graph.Len()
	if live == 0 {
		return nil, nil
	}

	// Over-fetch so metadata filtering still leaves k hits, widening
	// to the whole graph when a selective filter starves the first
	// pass.
	fetch := k * 4
	for {
		if fetch > live {
			fetch = live
		}
		results := h.graph.SearchEf(vector, fetch, fetch*2)

		hits := make([]Hit, 0, k)
		for _, r := range results {
			c, ok := h.chunks[r.ID]
			if !ok || !filter.Matches(c) {
				continue
			}
			hits = append(hits, Hit{Chunk: c, Score: float64(1 - r.Distance)})
			if len(hits) == k {
				break
			}
		}

		if len(hits) == k || fetch == live {
			return hits, nil
		}
		fetch = live
	}
}

func (h *HNSW) Scan(ctx context.Context, filter Filter, limit int) ([]chunk.Chunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]chunk.Chunk, 0, limit)
	for _, c := range h.chunks {
		if filter.Matches(c) {
			out = append(out, c)
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

func (h *HNSW) DeleteSource(ctx context.Context, sourceURL string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.chunks {
		if c.Metadata.SourceURL == sourceURL {
			h.graph.Remove(id)
			delete(h.chunks, id)
			h.dirty = true
		}
	}
	return nil
}

func (h *HNSW) Count(ctx context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.chunks), nil
}

// Flush writes the snapshot if anything changed since the last flush.
// Long-running processes call it between batches; Close calls it on
// the way out.
func (h *HNSW) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked()
}

func (h *HNSW) flushLocked() error {
	if !h.dirty {
		return nil
	}

	tmp := h.cfg.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating index snapshot: %w", err)
	}

	if err := h.graph.Save(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing index snapshot: %w", err)
	}

	stored := make([]chunk.Chunk, 0, len(h.chunks))
	for _, c := range h.chunks {
		stored = append(stored, c)
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].ID < stored[j].ID })
	if err := json.NewEncoder(f).Encode(stored); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing chunk metadata: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing index snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing index snapshot: %w", err)
	}
	if err := os.Rename(tmp, h.cfg.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing index snapshot: %w", err)
	}

	h.dirty = false
	return nil
}

func (h *HNSW) Close() error {
	return h.Flush()
}
