package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/embed"
	"github.com/hurttlocker/cardintel/internal/index"
	"github.com/hurttlocker/cardintel/internal/ingest"
	"github.com/hurttlocker/cardintel/internal/logging"
	"github.com/hurttlocker/cardintel/internal/mcp"
	"github.com/hurttlocker/cardintel/internal/search"
	"github.com/hurttlocker/cardintel/internal/store"
)

func runMCP(args []string) error {
	var (
		storeFlag  string
		configPath string
		embedFlag  string
		indexFlag  string
		dsnFlag    string
		noRebuild  bool
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--store" && i+1 < len(args):
			i++
			storeFlag = args[i]
		case strings.HasPrefix(args[i], "--store="):
			storeFlag = strings.TrimPrefix(args[i], "--store=")
		case args[i] == "--config" && i+1 < len(args):
			i++
			configPath = args[i]
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--embed" && i+1 < len(args):
			i++
			embedFlag = args[i]
		case strings.HasPrefix(args[i], "--embed="):
			embedFlag = strings.TrimPrefix(args[i], "--embed=")
		case args[i] == "--index" && i+1 < len(args):
			i++
			indexFlag = args[i]
		case strings.HasPrefix(args[i], "--index="):
			indexFlag = strings.TrimPrefix(args[i], "--index=")
		case args[i] == "--dsn" && i+1 < len(args):
			i++
			dsnFlag = args[i]
		case strings.HasPrefix(args[i], "--dsn="):
			dsnFlag = strings.TrimPrefix(args[i], "--dsn=")
		case args[i] == "--no-rebuild":
			noRebuild = true
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: configPath,
		CLIEmbed:   embedFlag,
		CLIStore:   storeFlag,
		CLIIndex:   indexFlag,
		CLIDSN:     dsnFlag,
	})
	if err != nil {
		return err
	}

	log := logging.New("cardintel-mcp")

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()

	scfg := mcp.ServerConfig{Store: s, Version: version}

	// The retriever is best-effort: without an embedder or index the
	// server still answers card_items and card_stats.
	client, err := newEmbedClient(cfg)
	if err != nil {
		log.Warn("embedder unavailable, card_query disabled", "error", err)
	} else {
		idx, err := openIndex(ctx, cfg, client.Dimensions())
		if err != nil {
			log.Warn("index unavailable, card_query disabled", "error", err)
		} else {
			defer idx.Close()
			scfg.Index = idx
			scfg.Retriever = search.NewRetriever(idx, client, search.DefaultConfig(), log)

			backend := strings.ToLower(strings.TrimSpace(cfg.IndexBackend.Value))
			if (backend == "" || backend == "memory") && !noRebuild {
				rebuildMemoryIndex(ctx, s, client, idx, log)
			}
		}
	}

	log.Info("mcp server listening on stdio",
		"store", cfg.StorePath.Value,
		"index", cfg.IndexBackend.Value,
		"version", version,
	)
	return server.ServeStdio(mcp.NewServer(scfg))
}

// rebuildMemoryIndex re-embeds previously indexed runs so the in-memory
// backend can serve card_query without a separate indexing process.
func rebuildMemoryIndex(ctx context.Context, s *store.SQLite, client *embed.Client, idx index.Index, log *slog.Logger) {
	approvals, err := s.ListApprovals(ctx, store.ApprovalIndexed)
	if err != nil {
		log.Warn("listing indexed runs", "error", err)
		return
	}
	if len(approvals) == 0 {
		return
	}

	pipe := ingest.New(ingest.Deps{Store: s, Embedder: client, Index: idx}, ingest.DefaultConfig(), log)
	for _, a := range approvals {
		res, err := pipe.Index(ctx, a.RunID)
		if err != nil {
			log.Warn("rebuilding run", "run", a.RunID, "error", err)
			continue
		}
		log.Info("run rebuilt into memory index", "run", a.RunID, "chunks", res.Indexed)
	}
}
