package main

import (
	"fmt"
	"os"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(os.Args[2:])
	case "approve":
		err = runApprove(os.Args[2:])
	case "index":
		err = runIndex(os.Args[2:])
	case "query":
		err = runQuery(os.Args[2:])
	case "ask":
		err = runAsk(os.Args[2:])
	case "items":
		err = runItems(os.Args[2:])
	case "sources":
		err = runSources(os.Args[2:])
	case "runs":
		err = runRuns(os.Args[2:])
	case "report":
		err = runReport(os.Args[2:])
	case "stale":
		err = runStale(os.Args[2:])
	case "diff":
		err = runDiff(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "bench":
		err = runBench(os.Args[2:])
	case "cache":
		err = runCache(os.Args[2:])
	case "maintain":
		err = runMaintain(os.Args[2:])
	case "mcp":
		err = runMCP(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("cardintel %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`cardintel %s — Card benefits intelligence from bank websites

Usage:
  cardintel <command> [arguments]

Commands:
  extract <url>       Crawl a card's pages and extract benefit intelligence
  approve [run-id]    List pending runs, or approve one for indexing
  index <run-id>      Chunk, embed, and index an approved run
  query <question>    Search the indexed corpus for matching chunks
  ask <question>      Answer a question with citations from indexed chunks
  items               List extracted benefit items
  sources <run-id>    Show the pages fetched during a run
  runs                List extraction runs
  report <run>        Render a run as a markdown benefits digest
  stale               List runs whose confidence has decayed with age
  diff <run> [run]    Compare two runs of a card, or check one for conflicts
  stats               Show corpus statistics and effective configuration
  bench               Benchmark extraction models against fixture pages
  cache               Inspect or clear the extraction result cache
  maintain            Fail stuck runs, expire stale approvals, prune old runs
  mcp                 Serve the corpus over the Model Context Protocol (stdio)
  version             Print version

Extract Flags:
  --card <name>       Card name hint, steers crawling and validation
  --bank <name>       Bank name hint
  --model <p/m>       Normalization model, e.g. ollama/llama3.2
  --skip-llm          Pattern-only extraction, no model calls
  --max-sources <n>   Cap on fetched pages per run
  --depth <n>         Link depth followed from the root page

Query Flags:
  --card <name>       Restrict results to one card
  --bank <name>       Restrict results to one bank
  --category <cat>    Restrict results to a benefit category
  --hybrid            Fuse vector and keyword rankings
  --top-k <n>         Number of chunks to return
  --embed <p/m>       Embedding model, e.g. ollama/nomic-embed-text

Global Flags:
  --store <path>      SQLite store path (default ~/.cardintel/cardintel.db)
  --config <path>     Config file (default ~/.cardintel/config.yaml)
  --index <backend>   Vector index backend: memory, hnsw, or pgvector
  --dsn <url>         Postgres DSN for the pgvector backend
  -h, --help          Show this help message
  -v, --version       Print version

Documentation:
  https://github.com/hurttlocker/cardintel
`, version)
}
