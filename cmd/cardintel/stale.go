package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/observe"
)

func runStale(args []string) error {
	var (
		opts       observe.StaleOpts
		jsonOut    bool
		storeFlag  string
		configPath string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--days" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --days: %s", args[i])
			}
			opts.MaxDays = n
		case strings.HasPrefix(args[i], "--days="):
			v := strings.TrimPrefix(args[i], "--days=")
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --days: %s", v)
			}
			opts.MaxDays = n
		case args[i] == "--max-confidence" && i+1 < len(args):
			i++
			f, err := strconv.ParseFloat(args[i], 64)
			if err != nil || f <= 0 || f > 1 {
				return fmt.Errorf("invalid --max-confidence: %s", args[i])
			}
			opts.MaxConfidence = f
		case strings.HasPrefix(args[i], "--max-confidence="):
			v := strings.TrimPrefix(args[i], "--max-confidence=")
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 || f > 1 {
				return fmt.Errorf("invalid --max-confidence: %s", v)
			}
			opts.MaxConfidence = f
		case args[i] == "--limit" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --limit: %s", args[i])
			}
			opts.Limit = n
		case strings.HasPrefix(args[i], "--limit="):
			v := strings.TrimPrefix(args[i], "--limit=")
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --limit: %s", v)
			}
			opts.Limit = n
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

	ctx := context.Background()
	eng := observe.NewEngine(s)

	stale, err := eng.StaleRuns(ctx, opts)
	if err != nil {
		return err
	}
	alerts, err := eng.Alerts(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		out := struct {
			StaleRuns []observe.StaleRun `json:"stale_runs"`
			Alerts    []string           `json:"alerts,omitempty"`
		}{StaleRuns: stale, Alerts: alerts}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, a := range alerts {
		color.Yellow("⚠ %s", a)
	}
	if len(alerts) > 0 {
		fmt.Println()
	}

	if len(stale) == 0 {
		fmt.Println("No stale runs.")
		return nil
	}

	fmt.Printf("%-10s %-26s %-18s %-6s %-6s %s\n",
		"RUN", "CARD", "BANK", "AGE", "CONF", "EFFECTIVE")
	for _, sr := range stale {
		fmt.Printf("%-10s %-26s %-18s %-6s %-6.2f %.2f\n",
			shortID(sr.Run.ID), truncate(sr.Run.CardName, 26), truncate(sr.Run.BankName, 18),
			fmt.Sprintf("%dd", sr.AgeDays), sr.Run.Confidence, sr.EffectiveConfidence)
	}
	fmt.Printf("\n%d stale run(s); refresh with: cardintel extract <url>\n", len(stale))
	return nil
}
