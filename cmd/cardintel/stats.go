package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/store"
)

func runStats(args []string) error {
	var (
		jsonOut    bool
		storeFlag  string
		configPath string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--json":
			jsonOut = true
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
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: configPath,
		CLIStore:   storeFlag,
	})
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.Stats(context.Background())
	if err != nil {
		return err
	}

	if jsonOut {
		// API keys and DSN values stay out of machine output.
		payload := map[string]interface{}{
			"stats": stats,
			"config": map[string]interface{}{
				"config_path":   cfg.ConfigPath,
				"store_path":    cfg.StorePath,
				"model":         cfg.Model,
				"model_url":     cfg.ModelURL,
				"embed_model":   cfg.EmbedModel,
				"index_backend": cfg.IndexBackend,
				"index_dsn_set": cfg.IndexDSN.Value != "",
				"user_agent":    cfg.UserAgent,
			},
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}

	printStats(stats, cfg)
	return nil
}

func printStats(stats *store.Stats, cfg config.ResolvedConfig) {
	fmt.Println("Corpus")
	fmt.Printf("  Runs:        %d (%d indexed)\n", stats.Runs, stats.IndexedRuns)
	fmt.Printf("  Sources:     %d\n", stats.Sources)
	fmt.Printf("  Items:       %d across %d card(s)\n", stats.Items, stats.Cards)
	fmt.Printf("  Approvals:   %d pending\n", stats.PendingApprovals)
	fmt.Printf("  Store size:  %s\n", formatBytes(stats.DBSizeBytes))

	fmt.Println()
	fmt.Printf("Configuration (%s)\n", cfg.ConfigPath)
	fmt.Printf("  Store:     %s (%s)\n", cfg.StorePath.Value, provenance(cfg.StorePath))
	model := cfg.Model.Value
	if model == "" {
		model = "ollama/llama3.2"
	}
	fmt.Printf("  Model:     %s (%s)\n", model, provenance(cfg.Model))
	embedModel := cfg.EmbedModel.Value
	if embedModel == "" {
		embedModel = "ollama/nomic-embed-text"
	}
	fmt.Printf("  Embedder:  %s (%s)\n", embedModel, provenance(cfg.EmbedModel))
	fmt.Printf("  Index:     %s (%s)\n", cfg.IndexBackend.Value, provenance(cfg.IndexBackend))
	if cfg.IndexDSN.Value != "" {
		fmt.Printf("  DSN:       set (%s)\n", provenance(cfg.IndexDSN))
	}
	if cfg.UserAgent.Value != "" {
		fmt.Printf("  Agent:     %s (%s)\n", cfg.UserAgent.Value, provenance(cfg.UserAgent))
	}
}
