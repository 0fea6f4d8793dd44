package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/hurttlocker/cardintel/internal/answer"
	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/llm"
	"github.com/hurttlocker/cardintel/internal/logging"
	"github.com/hurttlocker/cardintel/internal/search"
)

func runAsk(args []string) error {
	var (
		words      []string
		card       string
		bank       string
		category   string
		topK       int
		hybrid     bool
		jsonOut    bool
		modelFlag  string
		embedFlag  string
		indexFlag  string
		dsnFlag    string
		storeFlag  string
		configPath string
	)

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
		case args[i] == "--category" && i+1 < len(args):
			i++
			category = args[i]
		case strings.HasPrefix(args[i], "--category="):
			category = strings.TrimPrefix(args[i], "--category=")
		case args[i] == "--top-k" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --top-k: %s", args[i])
			}
			topK = n
		case strings.HasPrefix(args[i], "--top-k="):
			v := strings.TrimPrefix(args[i], "--top-k=")
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --top-k: %s", v)
			}
			topK = n
		case args[i] == "--hybrid":
			hybrid = true
		case args[i] == "--json":
			jsonOut = true
		case args[i] == "--model" && i+1 < len(args):
			i++
			modelFlag = args[i]
		case strings.HasPrefix(args[i], "--model="):
			modelFlag = strings.TrimPrefix(args[i], "--model=")
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
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			words = append(words, args[i])
		}
	}

	question := strings.TrimSpace(strings.Join(words, " "))
	if question == "" {
		return fmt.Errorf("usage: cardintel ask <question> [--card <name>] [--model <p/m>] [--hybrid]")
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: configPath,
		CLIModel:   modelFlag,
		CLIEmbed:   embedFlag,
		CLIStore:   storeFlag,
		CLIIndex:   indexFlag,
		CLIDSN:     dsnFlag,
	})
	if err != nil {
		return err
	}

	log := logging.New("cardintel")

	client, err := newEmbedClient(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	idx, err := openIndex(ctx, cfg, client.Dimensions())
	if err != nil {
		return err
	}
	defer idx.Close()

	retr := search.NewRetriever(idx, client, search.DefaultConfig(), log)

	// The provider is best-effort: a missing model degrades the answer
	// to retrieval-only instead of failing the command.
	var provider llm.Provider
	mcfg, err := llm.ParseModelFlag(cfg.Model.Value)
	if err != nil {
		return err
	}
	mcfg.BaseURL = cfg.ModelURL.Value
	if key := cfg.APIKeyForProvider(mcfg.Provider); key.Value != "" {
		mcfg.APIKey = key.Value
	}
	provider, err = llm.NewProvider(mcfg)
	if err != nil {
		log.Warn("answer model unavailable, retrieval only", "error", err)
		provider = nil
	}

	eng := answer.NewEngine(retr, provider, log)

	opts := answer.Options{
		Question: question,
		Hybrid:   hybrid,
		Search: search.Query{
			CardName: card,
			BankName: bank,
			TopK:     topK,
		},
	}
	if category != "" {
		opts.Search.Category = string(extract.NormalizeCategory(category))
	}

	res, err := eng.Answer(ctx, opts)
	if err != nil {
		return err
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.Degraded {
		if len(res.Results) == 0 {
			color.Yellow("No indexed content matched the question.")
			backend := strings.ToLower(strings.TrimSpace(cfg.IndexBackend.Value))
			if backend == "" || backend == "memory" {
				fmt.Println("The memory index starts empty each process; ask against a persistent backend (--index hnsw) or run `cardintel mcp`.")
			}
			return nil
		}
		color.Yellow("⚠ No generated answer (%s); showing retrieved chunks.", res.Reason)
		fmt.Println()
		for i, r := range res.Results {
			header := fmt.Sprintf("%d. %.3f", i+1, r.Score)
			if r.Chunk.Metadata.CardName != "" {
				header += "  " + r.Chunk.Metadata.CardName
			}
			color.Blue("%s", header)
			fmt.Printf("   %s\n", r.Chunk.Metadata.SourceURL)
			fmt.Printf("   %s\n\n", snippet(r.Chunk.Text, 240))
		}
		return nil
	}

	fmt.Println(res.Answer)
	fmt.Println()
	color.Blue("Sources")
	for _, c := range res.Citations {
		if c.Title != "" {
			fmt.Printf("  [%d] %s — %s\n", c.Index, c.Title, c.SourceURL)
		} else {
			fmt.Printf("  [%d] %s\n", c.Index, c.SourceURL)
		}
	}
	return nil
}
