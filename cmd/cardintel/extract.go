package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/hurttlocker/cardintel/internal/cache"
	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/fetch"
	"github.com/hurttlocker/cardintel/internal/ingest"
	"github.com/hurttlocker/cardintel/internal/llm"
	"github.com/hurttlocker/cardintel/internal/logging"
	"github.com/hurttlocker/cardintel/internal/store"
)

func runExtract(args []string) error {
	var (
		url         string
		card        string
		bank        string
		modelFlag   string
		storeFlag   string
		configPath  string
		maxSources  int
		concurrency int
		skipLLM     bool
		jsonOut     bool
		noProgress  bool
	)
	depth := -1

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--card" && i+1 < len(args):
			i++
			card = args[i]
		case strings.HasPrefix(args[i], "--card="):
			card = strings.TrimPrefix(args[i], "--card=")
		case args[i] == "--bank" && i+1 < len(args):
			i++
			bank = args[i]
		case strings.HasPrefix(args[i], "--bank="):
			bank = strings.TrimPrefix(args[i], "--bank=")
		case args[i] == "--model" && i+1 < len(args):
			i++
			modelFlag = args[i]
		case strings.HasPrefix(args[i], "--model="):
			modelFlag = strings.TrimPrefix(args[i], "--model=")
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
		case args[i] == "--max-sources" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --max-sources: %s", args[i])
			}
			maxSources = n
		case strings.HasPrefix(args[i], "--max-sources="):
			v := strings.TrimPrefix(args[i], "--max-sources=")
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --max-sources: %s", v)
			}
			maxSources = n
		case args[i] == "--depth" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid --depth: %s", args[i])
			}
			depth = n
		case strings.HasPrefix(args[i], "--depth="):
			v := strings.TrimPrefix(args[i], "--depth=")
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid --depth: %s", v)
			}
			depth = n
		case args[i] == "--concurrency" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --concurrency: %s", args[i])
			}
			concurrency = n
		case strings.HasPrefix(args[i], "--concurrency="):
			v := strings.TrimPrefix(args[i], "--concurrency=")
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --concurrency: %s", v)
			}
			concurrency = n
		case args[i] == "--skip-llm":
			skipLLM = true
		case args[i] == "--json":
			jsonOut = true
		case args[i] == "--no-progress":
			noProgress = true
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			if url != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			url = args[i]
		}
	}

	if url == "" {
		return fmt.Errorf("usage: cardintel extract <url> [--card <name>] [--bank <name>] [--model <p/m>] [--skip-llm]")
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: configPath,
		CLIModel:   modelFlag,
		CLIStore:   storeFlag,
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

	pipeCfg := ingest.DefaultConfig()
	if maxSources > 0 {
		pipeCfg.MaxSources = maxSources
	}
	if depth >= 0 {
		pipeCfg.MaxDepth = depth
	}
	if concurrency > 0 {
		pipeCfg.Concurrency = concurrency
	}
	pipeCfg.SkipLLM = skipLLM

	mem := cache.NewMemory(cache.NormalizeTTL)
	if path := cacheFilePath(cfg.StorePath.Value); path != "" {
		if err := mem.LoadFile(path); err == nil {
			log.Debug("cache warmed", "path", path, "entries", mem.Len())
		}
		defer func() {
			if err := mem.SaveFile(path); err != nil {
				log.Warn("saving cache", "path", path, "error", err)
			}
		}()
	}

	deps := ingest.Deps{
		Store:   s,
		Fetcher: fetch.New(fetch.Config{UserAgent: cfg.UserAgent.Value}, log),
		Cache:   mem,
	}

	modelLabel := ""
	if !skipLLM {
		mcfg, err := llm.ParseModelFlag(cfg.Model.Value)
		if err != nil {
			return err
		}
		mcfg.BaseURL = cfg.ModelURL.Value
		if key := cfg.APIKeyForProvider(mcfg.Provider); key.Value != "" {
			mcfg.APIKey = key.Value
		}
		provider, err := llm.NewProvider(mcfg)
		if err != nil {
			return err
		}
		modelLabel = provider.Name()

		deps.Normalizer = extract.NewNormalizer(provider, mem, extract.DefaultNormalizeConfig(), log)
	}

	pipe := ingest.New(deps, pipeCfg, log)

	opts := ingest.RunOptions{URL: url, CardName: card, BankName: bank, Model: modelLabel}

	var bar *progressbar.ProgressBar
	if !noProgress && !jsonOut {
		opts.ProgressFn = func(done, total int, srcURL string) {
			if bar == nil {
				bar = newProgressBar(total, "Extracting sources", "sources")
			}
			bar.Set(done)
		}
	}

	if !jsonOut {
		color.Cyan("Extracting %s", url)
	}

	rep, err := pipe.Run(context.Background(), opts)
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

	printReport(rep)
	return nil
}

func newProgressBar(total int, description, unit string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString(unit),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printReport(rep *ingest.Report) {
	fmt.Println()
	if rep.CardName != "" {
		fmt.Printf("  Card:         %s\n", rep.CardName)
	}
	if rep.BankName != "" {
		fmt.Printf("  Bank:         %s\n", rep.BankName)
	}
	fmt.Printf("  Run:          %s\n", rep.RunID)
	fmt.Printf("  Sources:      %d fetched, %d skipped, %d failed\n",
		rep.SourcesFetched, rep.SourcesSkipped, rep.SourcesFailed)
	fmt.Printf("  Items:        %d%s\n", rep.Items, categorySummary(rep.ByCategory))
	fmt.Printf("  Confidence:   %.2f\n", rep.Confidence)
	fmt.Printf("  Completeness: %.2f\n", rep.Completeness)
	fmt.Printf("  Validation:   %s\n", rep.Validation)
	fmt.Printf("  Duration:     %s\n", rep.Duration.Round(time.Millisecond))

	if len(rep.Errors) > 0 {
		fmt.Println()
		color.Red("  %d recovered error(s):", len(rep.Errors))
		for _, e := range rep.Errors {
			if e.URL != "" {
				fmt.Printf("    [%s] %s: %s\n", e.Stage, e.URL, e.Message)
			} else {
				fmt.Printf("    [%s] %s\n", e.Stage, e.Message)
			}
		}
	}

	fmt.Println()
	switch rep.Validation {
	case store.ValidationValidated:
		color.Green("✓ Run validated")
	case store.ValidationReview:
		color.Yellow("⚠ Run needs review before indexing")
	}
	fmt.Printf("Approve for indexing: cardintel approve %s\n", shortID(rep.RunID))
}

// categorySummary renders the per-category item counts, largest first.
func categorySummary(byCategory map[extract.Category]int) string {
	if len(byCategory) == 0 {
		return ""
	}
	type catCount struct {
		cat   extract.Category
		count int
	}
	counts := make([]catCount, 0, len(byCategory))
	for cat, n := range byCategory {
		counts = append(counts, catCount{cat, n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].cat < counts[j].cat
	})
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s %d", c.cat, c.count))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
