package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/hurttlocker/cardintel/internal/config"
)

func runSources(args []string) error {
	var (
		runID      string
		showErrors bool
		jsonOut    bool
		storeFlag  string
		configPath string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--errors":
			showErrors = true
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
			if runID != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			runID = args[i]
		}
	}

	if runID == "" {
		return fmt.Errorf("usage: cardintel sources <run-id> [--errors]")
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

	id, err := resolveRunID(ctx, s, runID)
	if err != nil {
		return err
	}

	sources, err := s.ListSources(ctx, id)
	if err != nil {
		return err
	}

	if jsonOut {
		type sourceRow struct {
			URL       string  `json:"url"`
			Depth     int     `json:"depth"`
			Status    string  `json:"status"`
			Relevance float64 `json:"relevance"`
			PageType  string  `json:"page_type,omitempty"`
			Title     string  `json:"title,omitempty"`
			Error     string  `json:"error,omitempty"`
		}
		rows := make([]sourceRow, 0, len(sources))
		for _, src := range sources {
			rows = append(rows, sourceRow{
				URL:       src.URL,
				Depth:     src.Depth,
				Status:    src.Status,
				Relevance: src.Relevance,
				PageType:  src.PageType,
				Title:     src.Title,
				Error:     src.FetchError,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Printf("%-5s %-9s %-5s %-10s %s\n", "DEPTH", "STATUS", "REL", "TYPE", "URL")
	for _, src := range sources {
		fmt.Printf("%-5d %-9s %-5.2f %-10s %s\n",
			src.Depth, src.Status, src.Relevance, src.PageType, src.URL)
		if src.FetchError != "" {
			fmt.Printf("      error: %s\n", src.FetchError)
		}
	}
	fmt.Printf("\n%d sources\n", len(sources))

	if showErrors {
		entries, err := s.ListErrors(ctx, id)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			fmt.Printf("\n%d recorded error(s):\n", len(entries))
			for _, e := range entries {
				if e.URL != "" {
					fmt.Printf("  [%s] %s: %s\n", e.Stage, e.URL, e.Message)
				} else {
					fmt.Printf("  [%s] %s\n", e.Stage, e.Message)
				}
			}
		}
	}
	return nil
}
