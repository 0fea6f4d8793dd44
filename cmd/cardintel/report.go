package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/report"
)

// runReport renders one run as a markdown benefits digest.
func runReport(args []string) error {
	var (
		runArg     string
		outPath    string
		storeFlag  string
		configPath string
		jsonOut    bool
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--out" && i+1 < len(args):
			i++
			outPath = args[i]
		case strings.HasPrefix(args[i], "--out="):
			outPath = strings.TrimPrefix(args[i], "--out=")
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
			if runArg != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			runArg = args[i]
		}
	}

	if runArg == "" {
		return fmt.Errorf("usage: cardintel report <run> [--out <file>]")
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

	ctx := context.Background()
	runID, err := resolveRunID(ctx, s, runArg)
	if err != nil {
		return err
	}

	d, err := report.Build(ctx, s, runID)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	md := d.Render()
	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(md), 0o644); err != nil {
			return fmt.Errorf("writing digest: %w", err)
		}
		fmt.Printf("Digest written to %s (%d items)\n", outPath, d.ItemCount)
		return nil
	}

	fmt.Print(md)
	return nil
}
