package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/embed"
	"github.com/hurttlocker/cardintel/internal/index"
	"github.com/hurttlocker/cardintel/internal/store"
)

// openStore opens the SQLite store at the resolved path.
func openStore(cfg config.ResolvedConfig) (*store.SQLite, error) {
	s, err := store.Open(cfg.StorePath.Value)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", cfg.StorePath.Value, err)
	}
	return s, nil
}

// newEmbedClient builds the embedding client from resolved config.
func newEmbedClient(cfg config.ResolvedConfig) (*embed.Client, error) {
	ecfg, err := embed.Resolve(cfg.EmbedModel.Value)
	if err != nil {
		return nil, err
	}
	if cfg.EmbedEndpoint.Value != "" {
		ecfg.Endpoint = cfg.EmbedEndpoint.Value
	}
	if cfg.EmbedAPIKey.Value != "" {
		ecfg.APIKey = cfg.EmbedAPIKey.Value
	}
	return embed.NewClient(ecfg)
}

// openIndex picks the vector index backend from resolved config.
// dims may be zero; persistent backends fall back to their default.
func openIndex(ctx context.Context, cfg config.ResolvedConfig, dims int) (index.Index, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.IndexBackend.Value))
	switch backend {
	case "", "memory":
		return index.NewMemory(), nil
	case "hnsw":
		path := indexFilePath(cfg.StorePath.Value)
		if path == "" {
			return nil, fmt.Errorf("index backend %q needs a file-backed store (not :memory:)", backend)
		}
		return index.NewHNSW(index.HNSWConfig{Path: path, Dims: dims})
	case "pgvector", "postgres", "pg":
		if cfg.IndexDSN.Value == "" {
			return nil, fmt.Errorf("index backend %q needs a DSN (--dsn, CARDINTEL_INDEX_DSN, or DATABASE_URL)", backend)
		}
		return index.NewPG(ctx, index.PGConfig{DSN: cfg.IndexDSN.Value, Dims: dims})
	default:
		return nil, fmt.Errorf("unknown index backend %q (memory, hnsw, or pgvector)", backend)
	}
}

// resolveRunID expands a run ID prefix to the full ID so users can
// paste the short form shown in tables.
func resolveRunID(ctx context.Context, s store.Store, prefix string) (string, error) {
	if r, err := s.GetRun(ctx, prefix); err == nil && r != nil {
		return r.ID, nil
	}
	runs, err := s.ListRuns(ctx, 1000)
	if err != nil {
		return "", fmt.Errorf("listing runs: %w", err)
	}
	match := ""
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("run prefix %q is ambiguous", prefix)
			}
			match = r.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no run matching %q", prefix)
	}
	return match, nil
}

// cacheFilePath is the model and document cache snapshot, kept next to
// the store so both share a home directory. Empty for the in-memory store.
func cacheFilePath(storePath string) string {
	if storePath == "" || storePath == ":memory:" {
		return ""
	}
	return filepath.Join(filepath.Dir(storePath), "cache.gob")
}

// indexFilePath is the hnsw backend's snapshot, kept next to the store
// like the cache. Empty for the in-memory store.
func indexFilePath(storePath string) string {
	if storePath == "" || storePath == ":memory:" {
		return ""
	}
	return filepath.Join(filepath.Dir(storePath), "index.ann")
}

// provenance renders where a resolved value came from, for stats output.
func provenance(v config.ResolvedValue) string {
	switch v.Source {
	case config.SourceDefault, config.SourceUnknown, "":
		return "default"
	}
	if v.From != "" {
		return fmt.Sprintf("%s %s", v.Source, v.From)
	}
	return string(v.Source)
}

// isTTY reports whether stdout is a terminal, so tabular output can
// default on for humans and JSON for pipes.
func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
