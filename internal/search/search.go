// Package search resolves card questions to ranked chunks.
//
// The primary path embeds the question and runs a nearest-neighbor
// query against the vector index. When that yields nothing for a known
// card, an ordered chain of identifier-based fallback strategies runs
// instead, because the metadata recorded at index time may not exactly
// match how a later caller names the same card. Every result carries
// the name of the strategy that produced it.
//
// The hybrid mode ranks chunks by vector similarity and keyword hits
// independently and fuses the two lists with reciprocal rank fusion.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hurttlocker/cardintel/internal/chunk"
	"github.com/hurttlocker/cardintel/internal/embed"
	"github.com/hurttlocker/cardintel/internal/index"
)

const (
	defaultTopK      = 8
	defaultScanLimit = 500
)

// Strategy names recorded on results.
const (
	StrategyVector    = "vector"
	StrategyCardName  = "card_name"
	StrategyBankScan  = "bank_scan"
	StrategyURLMatch  = "url_match"
	StrategyTextMatch = "text_match"
	StrategyKeyword   = "keyword"
	StrategyRRF       = "rrf"
)

// Result is one retrieved chunk with its score and the strategy that
// matched it.
type Result struct {
	Chunk    chunk.Chunk `json:"chunk"`
	Score    float64     `json:"score"`
	Strategy string      `json:"strategy"`
}

// Query is one retrieval request. Question drives the vector path;
// CardName, BankName, and CardURL drive the fallback strategies.
type Query struct {
	Question string
	CardName string
	BankName string
	CardURL  string
	Category string
	TopK     int // overrides Config.TopK when positive
}

func (q Query) filter() index.Filter {
	return index.Filter{CardName: q.CardName, BankName: q.BankName, Category: q.Category}
}

// Config tunes the retriever.
type Config struct {
	TopK      int // results returned per query
	ScanLimit int // chunks examined per fallback scan
	RRF       RRFConfig
}

// DefaultConfig returns the retriever defaults.
func DefaultConfig() Config {
	return Config{TopK: defaultTopK, ScanLimit: defaultScanLimit, RRF: DefaultRRFConfig()}
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = defaultScanLimit
	}
	c.RRF = normalizeRRFConfig(c.RRF)
	return c
}

// Retriever answers queries against an index. The embedder may be nil,
// in which case only keyword and fallback retrieval are available.
type Retriever struct {
	idx index.Index
	emb embed.Embedder
	cfg Config
	log *slog.Logger
}

// NewRetriever wires a retriever to its index and embedder.
func NewRetriever(idx index.Index, emb embed.Embedder, cfg Config, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{idx: idx, emb: emb, cfg: cfg.withDefaults(), log: log}
}

// Retrieve embeds the question and queries the index. When the vector
// path returns nothing and the query names a card, the fallback chain
// runs. An error is returned only when the vector path failed and no
// identifier was available to fall back on.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Result, error) {
	k := q.TopK
	if k <= 0 {
		k = r.cfg.TopK
	}
	canFallBack := q.CardName != "" || q.CardURL != ""

	var results []Result
	var vecErr error
	if r.emb != nil && strings.TrimSpace(q.Question) != "" {
		results, vecErr = r.vectorResults(ctx, q, k)
		if len(results) > 0 {
			return results, nil
		}
	}
	if vecErr != nil {
		if !canFallBack {
			return nil, vecErr
		}
		r.log.Warn("vector retrieval failed, trying fallback strategies", "error", vecErr)
	}
	if !canFallBack {
		return nil, nil
	}

	results = r.fallback(ctx, q)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Hybrid computes vector and keyword rankings independently and fuses
// them with reciprocal rank fusion. When both rankings are empty the
// fallback chain runs as in Retrieve.
func (r *Retriever) Hybrid(ctx context.Context, q Query) ([]Result, error) {
	k := q.TopK
	if k <= 0 {
		k = r.cfg.TopK
	}

	var semantic []Result
	if r.emb != nil && strings.TrimSpace(q.Question) != "" {
		var err error
		semantic, err = r.vectorResults(ctx, q, k)
		if err != nil {
			r.log.Warn("vector retrieval failed, keyword ranking only", "error", err)
		}
	}
	keyword, err := r.keywordResults(ctx, q, k)
	if err != nil {
		if len(semantic) == 0 {
			return nil, err
		}
		r.log.Warn("keyword scan failed, vector ranking only", "error", err)
	}

	if len(semantic) == 0 && len(keyword) == 0 {
		results := r.fallback(ctx, q)
		if len(results) > k {
			results = results[:k]
		}
		return results, nil
	}

	fused := FuseRRF(keyword, semantic, r.cfg.RRF)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

func (r *Retriever) vectorResults(ctx context.Context, q Query, k int) ([]Result, error) {
	vec, err := r.emb.Embed(ctx, q.Question)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	hits, err := r.idx.Search(ctx, vec, k, q.filter())
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{Chunk: h.Chunk, Score: h.Score, Strategy: StrategyVector})
	}
	return results, nil
}

// fallback tries each identifier strategy in order and returns the
// matches of the first one that finds anything. A failed strategy is
// logged and skipped, never fatal.
func (r *Retriever) fallback(ctx context.Context, q Query) []Result {
	for _, s := range r.strategies() {
		chunks, err := s.run(ctx, q)
		if err != nil {
			r.log.Warn("fallback strategy failed", "strategy", s.name, "error", err)
			continue
		}
		if len(chunks) == 0 {
			continue
		}
		r.log.Debug("fallback strategy matched", "strategy", s.name, "chunks", len(chunks))
		results := make([]Result, len(chunks))
		for i, c := range chunks {
			results[i] = Result{Chunk: c, Strategy: s.name}
		}
		return results
	}
	return nil
}
