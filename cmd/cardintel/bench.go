package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/hurttlocker/cardintel/internal/bench"
	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/llm"
	"github.com/hurttlocker/cardintel/internal/logging"
)

// runBench races extraction models against built-in fixture pages and
// ranks them. No store is touched; the fixtures ship with the binary.
func runBench(args []string) error {
	var (
		modelsFlag string
		configPath string
		timeoutSec int
		jsonOut    bool
		markdown   bool
		noProgress bool
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--models" && i+1 < len(args):
			i++
			modelsFlag = args[i]
		case strings.HasPrefix(args[i], "--models="):
			modelsFlag = strings.TrimPrefix(args[i], "--models=")
		case args[i] == "--timeout" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --timeout: %s", args[i])
			}
			timeoutSec = n
		case strings.HasPrefix(args[i], "--timeout="):
			v := strings.TrimPrefix(args[i], "--timeout=")
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --timeout: %s", v)
			}
			timeoutSec = n
		case args[i] == "--config" && i+1 < len(args):
			i++
			configPath = args[i]
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--json":
			jsonOut = true
		case args[i] == "--markdown":
			markdown = true
		case args[i] == "--no-progress":
			noProgress = true
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{ConfigPath: configPath})
	if err != nil {
		return err
	}

	opts := bench.Options{
		Log:     logging.New("cardintel"),
		Timeout: time.Duration(timeoutSec) * time.Second,
	}
	if modelsFlag != "" {
		opts.Candidates, err = parseCandidates(modelsFlag)
		if err != nil {
			return err
		}
	}
	opts.NewProvider = func(c bench.Candidate) (llm.Provider, error) {
		mcfg, err := llm.ParseModelFlag(c.Model)
		if err != nil {
			return nil, err
		}
		mcfg.BaseURL = cfg.ModelURL.Value
		if key := cfg.APIKeyForProvider(mcfg.Provider); key.Value != "" {
			mcfg.APIKey = key.Value
		}
		mcfg.Timeout = opts.Timeout
		return llm.NewProvider(mcfg)
	}

	nModels := len(opts.Candidates)
	if nModels == 0 {
		nModels = len(bench.DefaultCandidates)
	}
	nFixtures := len(bench.DefaultFixtures)

	var bar *progressbar.ProgressBar
	if !noProgress && !jsonOut && !markdown {
		color.Cyan("Benchmarking %d model(s) against %d fixture page(s)", nModels, nFixtures)
		opts.ProgressFn = func(label, fixture string, done, total int) {
			if bar == nil {
				bar = newProgressBar(total, "Running models", "cells")
			}
			bar.Set(done - 1)
		}
	}

	rep, err := bench.Run(context.Background(), opts)
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	if markdown {
		fmt.Print(rep.FormatMarkdown())
		return nil
	}

	printBenchReport(rep)
	return nil
}

// parseCandidates turns "ollama/llama3.2,openai/gpt-4o-mini" into
// labeled candidates. The label is the part after the provider.
func parseCandidates(flag string) ([]bench.Candidate, error) {
	var cands []bench.Candidate
	for _, spec := range strings.Split(flag, ",") {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		if _, err := llm.ParseModelFlag(spec); err != nil {
			return nil, err
		}
		label := spec
		if _, m, ok := strings.Cut(spec, "/"); ok {
			label = m
		}
		cands = append(cands, bench.Candidate{Label: label, Model: spec})
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("invalid --models: no models given")
	}
	return cands, nil
}

func printBenchReport(rep *bench.Report) {
	fmt.Println()
	fmt.Printf("%-16s %-9s %-7s %-9s %-9s %s\n",
		"MODEL", "AVG TIME", "ITEMS", "AVG CONF", "CONTRACT", "VERDICT")
	for _, s := range rep.Summary {
		fmt.Printf("%-16s %-9s %-7.1f %-9.2f %-9s %s\n",
			truncate(s.Label, 16),
			fmt.Sprintf("%.1fs", s.AvgTime),
			s.AvgItems,
			s.AvgConfidence,
			fmt.Sprintf("%d/%d", s.Passes, rep.Fixtures),
			s.Verdict)
	}

	for _, res := range rep.Results {
		if res.Err != "" {
			fmt.Println()
			color.Red("✗ %s × %s: %s", res.Label, res.Fixture, res.Err)
			continue
		}
		if !res.Pass {
			fmt.Println()
			color.Yellow("⚠ %s × %s:", res.Label, res.Fixture)
			for _, v := range res.Violations {
				fmt.Printf("    %s\n", v)
			}
		}
	}
	fmt.Printf("\nFull detail: cardintel bench --markdown\n")
}
