package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/store"
)

func runItems(args []string) error {
	var (
		runFlag    string
		card       string
		category   string
		minConf    float64
		limit      int
		format     string
		storeFlag  string
		configPath string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--run" && i+1 < len(args):
			i++
			runFlag = args[i]
		case strings.HasPrefix(args[i], "--run="):
			runFlag = strings.TrimPrefix(args[i], "--run=")
		case args[i] == "--card" && i+1 < len(args):
			i++
			card = args[i]
		case strings.HasPrefix(args[i], "--card="):
			card = strings.TrimPrefix(args[i], "--card=")
		case args[i] == "--category" && i+1 < len(args):
			i++
			category = args[i]
		case strings.HasPrefix(args[i], "--category="):
			category = strings.TrimPrefix(args[i], "--category=")
		case args[i] == "--min-confidence" && i+1 < len(args):
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil || f < 0 || f > 1 {
				return fmt.Errorf("invalid --min-confidence: %s", args[i])
			}
			minConf = f
		case strings.HasPrefix(args[i], "--min-confidence="):
			v := strings.TrimPrefix(args[i], "--min-confidence=")
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f > 1 {
				return fmt.Errorf("invalid --min-confidence: %s", v)
			}
			minConf = f
		case args[i] == "--limit" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --limit: %s", args[i])
			}
			limit = n
		case strings.HasPrefix(args[i], "--limit="):
			v := strings.TrimPrefix(args[i], "--limit=")
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --limit: %s", v)
			}
			limit = n
		case args[i] == "--format" && i+1 < len(args):
			i++
			format = strings.ToLower(strings.TrimSpace(args[i]))
		case strings.HasPrefix(args[i], "--format="):
			format = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(args[i], "--format=")))
		case args[i] == "--json":
			format = "json"
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

	ctx := context.Background()

	f := store.ItemFilter{CardName: card, MinConfidence: minConf, Limit: limit}
	if runFlag != "" {
		id, err := resolveRunID(ctx, s, runFlag)
		if err != nil {
			return err
		}
		f.RunID = id
	}
	if category != "" {
		f.Category = string(extract.NormalizeCategory(category))
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}

	items, err := s.ListItems(ctx, f)
	if err != nil {
		return err
	}

	if format == "" {
		if isTTY() {
			format = "table"
		} else {
			format = "json"
		}
	}

	switch format {
	case "json":
		if items == nil {
			items = []extract.IntelligenceItem{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	case "list":
		for _, it := range items {
			line := fmt.Sprintf("- [%s] %.2f %s", it.Category, it.Confidence, it.Title)
			if v := it.Value.Display(); v != "" {
				line += " — " + v
			}
			fmt.Println(line)
			if it.Description != "" {
				fmt.Printf("  %s\n", truncate(it.Description, 120))
			}
		}
		fmt.Printf("\n%d items\n", len(items))
		return nil
	case "table":
		fmt.Printf("%-12s %-12s %-5s %-16s %s\n", "ID", "CATEGORY", "CONF", "VALUE", "TITLE")
		for _, it := range items {
			fmt.Printf("%-12s %-12s %-5.2f %-16s %s\n",
				truncate(it.ID, 12), it.Category, it.Confidence,
				truncate(it.Value.Display(), 16), truncate(it.Title, 44))
		}
		fmt.Printf("\n%d items\n", len(items))
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: json, table, list)", format)
	}
}
