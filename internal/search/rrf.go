package search

import (
	"math"
	"sort"
)

const defaultRRFK = 60

// RRFConfig holds parameters for reciprocal rank fusion.
type RRFConfig struct {
	K              int
	KeywordWeight  float64
	SemanticWeight float64
}

// DefaultRRFConfig returns the default fusion configuration.
func DefaultRRFConfig() RRFConfig {
	return RRFConfig{
		K:              defaultRRFK,
		KeywordWeight:  1.0,
		SemanticWeight: 1.0,
	}
}

// FuseRRF merges keyword and semantic ranked result lists using
// reciprocal rank fusion. A chunk absent from one list is scored
// there at one past that list's last rank.
func FuseRRF(keyword, semantic []Result, cfg RRFConfig) []Result {
	cfg = normalizeRRFConfig(cfg)

	keywordPenaltyRank := len(keyword) + 1
	semanticPenaltyRank := len(semantic) + 1

	type fusedEntry struct {
		result       Result
		keywordRank  int
		semanticRank int
	}

	fusedMap := make(map[string]*fusedEntry)

	for i, r := range keyword {
		fusedMap[r.Chunk.ID] = &fusedEntry{
			result:       r,
			keywordRank:  i + 1,
			semanticRank: semanticPenaltyRank,
		}
	}

	for i, r := range semantic {
		if entry, exists := fusedMap[r.Chunk.ID]; exists {
			entry.semanticRank = i + 1
		} else {
			fusedMap[r.Chunk.ID] = &fusedEntry{
				result:       r,
				keywordRank:  keywordPenaltyRank,
				semanticRank: i + 1,
			}
		}
	}

	merged := make([]Result, 0, len(fusedMap))
	for _, entry := range fusedMap {
		keywordReciprocal := 1.0 / float64(cfg.K+entry.keywordRank)
		semanticReciprocal := 1.0 / float64(cfg.K+entry.semanticRank)

		entry.result.Score = cfg.KeywordWeight*keywordReciprocal + cfg.SemanticWeight*semanticReciprocal
		entry.result.Strategy = StrategyRRF
		merged = append(merged, entry.result)
	}

	sort.Slice(merged, func(i, j int) bool {
		delta := merged[i].Score - merged[j].Score
		if math.Abs(delta) <= 1e-12 {
			return merged[i].Chunk.ID < merged[j].Chunk.ID
		}
		return delta > 0
	})

	return merged
}

func normalizeRRFConfig(cfg RRFConfig) RRFConfig {
	if cfg.K <= 0 {
		cfg.K = defaultRRFK
	}
	if cfg.KeywordWeight == 0 {
		cfg.KeywordWeight = 1.0
	}
	if cfg.SemanticWeight == 0 {
		cfg.SemanticWeight = 1.0
	}
	return cfg
}
