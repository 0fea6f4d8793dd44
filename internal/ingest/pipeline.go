// Package ingest orchestrates a card extraction run end to end:
// collect the root page and its relevant links, score and select
// content, extract intelligence through pattern rules and the model,
// dedupe across sources, persist everything, and report.
//
// A run survives individual source failures. Each recovered failure
// becomes a structured error entry and the run continues; the run
// fails only when no source could be processed at all. Indexing is a
// separate step gated by an approval record.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hurttlocker/cardintel/internal/cache"
	"github.com/hurttlocker/cardintel/internal/chunk"
	"github.com/hurttlocker/cardintel/internal/doc"
	"github.com/hurttlocker/cardintel/internal/embed"
	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/fetch"
	"github.com/hurttlocker/cardintel/internal/index"
	"github.com/hurttlocker/cardintel/internal/store"
)

// Config tunes a pipeline run.
type Config struct {
	MaxSources     int           // Fetched-source cap per run (default: 15)
	MaxDepth       int           // Link depth followed from the root page (default: 1)
	Concurrency    int           // Parallel source extractions (default: 5)
	MinRelevance   float64       // Linked pages scoring below this are skipped (default: 0.3)
	MinPDFQuality  float64       // PDF text below this quality is skipped (default: 0.4)
	ContentBudget  int           // Character budget handed to the model per source
	EmbedBatchSize int           // Chunks per embedding call (default: 64)
	FetchTimeout   time.Duration // Per-fetch deadline (default: 30s)
	ModelTimeout   time.Duration // Per-normalization deadline (default: 120s)
	SkipLLM        bool          // Pattern-only extraction, no model calls
	Chunk          chunk.Config  // Chunk sizing for Index; zero value means defaults
	Score          extract.ScoreConfig
	Dedupe         extract.DedupeConfig
}

// DefaultConfig returns the tunings a normal run uses.
func DefaultConfig() Config {
	return Config{
		MaxSources:     15,
		MaxDepth:       1,
		Concurrency:    5,
		MinRelevance:   0.3,
		MinPDFQuality:  0.4,
		ContentBudget:  extract.DefaultContentBudget,
		EmbedBatchSize: 64,
		FetchTimeout:   30 * time.Second,
		ModelTimeout:   120 * time.Second,
		Score:          extract.DefaultScoreConfig(),
		Dedupe:         extract.DefaultDedupeConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSources <= 0 {
		c.MaxSources = d.MaxSources
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MinRelevance <= 0 {
		c.MinRelevance = d.MinRelevance
	}
	if c.MinPDFQuality <= 0 {
		c.MinPDFQuality = d.MinPDFQuality
	}
	if c.ContentBudget <= 0 {
		c.ContentBudget = d.ContentBudget
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = d.EmbedBatchSize
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = d.ModelTimeout
	}
	if c.Score.MinLength == 0 {
		c.Score = d.Score
	}
	if c.Dedupe.Threshold <= 0 {
		c.Dedupe = d.Dedupe
	}
	return c
}

// Deps are the collaborators a pipeline needs. Store and Fetcher are
// required for Run; Embedder and Index only for Index. A nil
// Normalizer runs pattern-only extraction; a nil Docs gets a default
// document extractor; a nil Cache re-parses documents every run.
type Deps struct {
	Store      store.Store
	Fetcher    *fetch.Fetcher
	Docs       *doc.Extractor
	Normalizer *extract.Normalizer
	Embedder   embed.Embedder
	Index      index.Index
	Cache      cache.Cache
}

// Pipeline wires the extraction stages together.
type Pipeline struct {
	store    store.Store
	fetcher  *fetch.Fetcher
	docs     *doc.Extractor
	norm     *extract.Normalizer
	embedder embed.Embedder
	index    index.Index
	cache    cache.Cache
	detector *extract.Detector
	cfg      Config
	log      *slog.Logger
}

// New wires a pipeline from its collaborators.
func New(deps Deps, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if deps.Docs == nil {
		deps.Docs = doc.New(log)
	}
	return &Pipeline{
		store:    deps.Store,
		fetcher:  deps.Fetcher,
		docs:     deps.Docs,
		norm:     deps.Normalizer,
		embedder: deps.Embedder,
		index:    deps.Index,
		cache:    deps.Cache,
		detector: extract.NewDetector(log),
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// RunOptions identifies the card being extracted. Card and bank names
// left empty are identified from the root page.
type RunOptions struct {
	URL        string
	CardName   string
	BankName   string
	Model      string // Label recorded on the run
	ProgressFn func(done, total int, url string)
}

// Run executes one extraction: crawl, per-source extraction under a
// bounded fan-out, cross-source dedupe, scoring, and persistence. The
// returned report is non-nil whenever a run record was created, even
// when the run itself failed.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("root url is required")
	}
	start := time.Now()

	run := &store.Run{
		RootURL:  opts.URL,
		CardName: opts.CardName,
		BankName: opts.BankName,
		Model:    opts.Model,
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	rep := &Report{RunID: run.ID, RootURL: opts.URL}
	p.log.Info("run started", "run", run.ID, "url", opts.URL)

	sources, root, err := p.collect(ctx, run, rep)
	if err != nil {
		p.failRun(ctx, run, rep, start)
		return rep, err
	}
	if len(sources) == 0 {
		p.failRun(ctx, run, rep, start)
		return rep, fmt.Errorf("no sources could be processed for %s", opts.URL)
	}

	p.identify(run, root)
	rep.CardName = run.CardName
	rep.BankName = run.BankName

	items := p.processAll(ctx, run, sources, rep, opts.ProgressFn)
	items = extract.Dedupe(items, extract.PassAcrossSources, p.cfg.Dedupe)
	extract.SortItems(items)

	if err := p.store.AddItems(ctx, run.ID, items); err != nil {
		p.failRun(ctx, run, rep, start)
		return rep, fmt.Errorf("persisting items: %w", err)
	}

	p.finalize(run, rep, items, start)
	if err := p.store.UpdateRun(ctx, run); err != nil {
		return rep, fmt.Errorf("finalizing run %s: %w", run.ID, err)
	}
	if err := p.store.CreateApproval(ctx, &store.Approval{
		RunID:    run.ID,
		CardName: run.CardName,
		BankKey:  run.BankKey,
	}); err != nil {
		return rep, fmt.Errorf("creating approval for run %s: %w", run.ID, err)
	}

	p.log.Info("run completed",
		"run", run.ID,
		"card", run.CardName,
		"sources", rep.SourcesFetched,
		"items", rep.Items,
		"confidence", fmt.Sprintf("%.2f", rep.Confidence),
		"validation", rep.Validation,
	)
	return rep, nil
}

// identify fills in card, bank, network, and tier from the root page
// wherever the caller did not supply them.
func (p *Pipeline) identify(run *store.Run, root *store.Source) {
	profile := extract.Identify(root.Title, root.URL, root.CleanText)
	if run.CardName == "" {
		run.CardName = profile.Name
	}
	if run.BankName == "" {
		run.BankName = profile.Bank
		run.BankKey = profile.BankKey
	} else if run.BankKey == "" {
		_, run.BankKey = extract.IdentifyIssuer(run.BankName)
	}
	run.Network = profile.Network
	run.Tier = profile.Tier
}

// failRun marks the run failed, best effort.
func (p *Pipeline) failRun(ctx context.Context, run *store.Run, rep *Report, start time.Time) {
	now := time.Now().UTC()
	run.Status = store.RunFailed
	run.SourceCount = rep.SourcesFetched
	run.ErrorCount = len(rep.Errors)
	run.FinishedAt = &now
	rep.Validation = store.ValidationPending
	rep.Duration = time.Since(start)
	if err := p.store.UpdateRun(ctx, run); err != nil {
		p.log.Error("marking run failed", "run", run.ID, "error", err)
	}
}
