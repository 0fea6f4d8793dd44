package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/ingest"
	"github.com/hurttlocker/cardintel/internal/logging"
)

func runIndex(args []string) error {
	var (
		runID      string
		embedFlag  string
		indexFlag  string
		dsnFlag    string
		storeFlag  string
		configPath string
		jsonOut    bool
	)

	for i := 0; i < len(args); i++ {
		switch {
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
		case args[i] == "--json":
			jsonOut = true
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			if runID != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			runID = args[i]
		}
	}

	if runID == "" {
		return fmt.Errorf("usage: cardintel index <run-id> [--embed <p/m>] [--index hnsw|pgvector] [--dsn <url>]")
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

	log := logging.New("cardintel")

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()

	id, err := resolveRunID(ctx, s, runID)
	if err != nil {
		return err
	}

	client, err := newEmbedClient(cfg)
	if err != nil {
		return err
	}

	idx, err := openIndex(ctx, cfg, client.Dimensions())
	if err != nil {
		return err
	}
	defer idx.Close()

	backend := strings.ToLower(strings.TrimSpace(cfg.IndexBackend.Value))
	if !jsonOut && (backend == "" || backend == "memory") {
		color.Yellow("⚠ memory index: chunks will not outlive this process (use --index hnsw)")
	}

	pipe := ingest.New(ingest.Deps{Store: s, Embedder: client, Index: idx}, ingest.DefaultConfig(), log)

	res, err := pipe.Index(ctx, id)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("  Sources: %d\n", res.Sources)
	fmt.Printf("  Chunks:  %d\n", res.Chunks)
	fmt.Printf("  Indexed: %d\n", res.Indexed)
	if res.Skipped > 0 {
		fmt.Printf("  Skipped: %d\n", res.Skipped)
	}
	for _, e := range res.Errors {
		color.Red("  [%s] %s: %s", e.Stage, e.URL, e.Message)
	}
	fmt.Println()
	color.Green("✓ Run %s indexed (%d chunks)", shortID(id), res.Indexed)
	return nil
}
