// Package index stores chunk embeddings and answers nearest-neighbor
// queries over them. Three backends ship: an in-process brute-force
// index for single-card runs and tests, a file-backed HNSW index for
// persistence without a database server, and a pgvector-backed index
// for multi-card deployments.
package index

import (
	"context"
	"errors"
	"strings"

	"github.com/hurttlocker/cardintel/internal/chunk"
)

// ErrUnavailable means the backend cannot be reached. Callers degrade
// to keyword retrieval when they see it.
var ErrUnavailable = errors.New("vector index unavailable")

// Filter narrows a search to matching chunk metadata. Zero fields
// match everything.
type Filter struct {
	CardName string
	BankName string
	PageType string
	Category string
}

// Hit is one search result with its cosine similarity.
type Hit struct {
	Chunk chunk.Chunk
	Score float64
}

// Index is the vector store port.
type Index interface {
	// Upsert writes chunks with their vectors. Chunks whose vector is
	// nil are skipped. len(vectors) must equal len(chunks).
	Upsert(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32) error
	// Search returns up to k hits nearest to vector, best first.
	Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error)
	// Scan lists up to limit chunks matching the filter without ranking
	// by vector. Fallback retrieval strategies use it when no query
	// embedding is available.
	Scan(ctx context.Context, filter Filter, limit int) ([]chunk.Chunk, error)
	// DeleteSource removes every chunk extracted from sourceURL.
	DeleteSource(ctx context.Context, sourceURL string) error
	// Count reports the number of stored chunks.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Matches reports whether a chunk's metadata satisfies the filter.
func (f Filter) Matches(c chunk.Chunk) bool {
	if f.CardName != "" && !strings.EqualFold(f.CardName, c.Metadata.CardName) {
		return false
	}
	if f.BankName != "" && !strings.EqualFold(f.BankName, c.Metadata.BankName) {
		return false
	}
	if f.PageType != "" && !strings.EqualFold(f.PageType, c.Metadata.PageType) {
		return false
	}
	if f.Category != "" {
		found := false
		for _, cat := range c.Metadata.Categories {
			if strings.EqualFold(f.Category, cat) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
