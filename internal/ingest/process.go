package ingest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/store"
)

// processAll runs per-source extraction under a counting semaphore of
// Concurrency width. Results and recovered errors from all goroutines
// accumulate into the shared slices under one mutex.
func (p *Pipeline) processAll(ctx context.Context, run *store.Run, sources []*store.Source, rep *Report, progress func(done, total int, url string)) []extract.IntelligenceItem {
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.Concurrency)

	var all []extract.IntelligenceItem
	done := 0
	for _, src := range sources {
		wg.Add(1)
		sem <- struct{}{}

		go func(src *store.Source) {
			defer wg.Done()
			defer func() { <-sem }()

			items, errs := p.processSource(ctx, run, src)

			mu.Lock()
			defer mu.Unlock()
			all = append(all, items...)
			rep.Errors = append(rep.Errors, errs...)
			done++
			if progress != nil {
				progress(done, len(sources), src.URL)
			}
		}(src)
	}
	wg.Wait()
	return all
}

// processSource extracts intelligence from one fetched source: score
// sections, detect patterns, normalize through the model, and fold the
// two item streams together. A model failure degrades the source to
// pattern-only output instead of losing it.
func (p *Pipeline) processSource(ctx context.Context, run *store.Run, src *store.Source) ([]extract.IntelligenceItem, []StageError) {
	var errs []StageError
	now := time.Now().UTC()

	sections := extract.ScoreSections(src.CleanText, p.cfg.Score)
	markSelected(sections, extract.SelectContent(src.CleanText, p.cfg.ContentBudget))
	if err := p.store.AddSections(ctx, src.ID, sections); err != nil {
		errs = append(errs, p.recordError(ctx, run.ID, "store", src.URL, err))
	}

	patterns := flattenPatterns(p.detector.Detect(src.CleanText, src.URL))
	if err := p.store.AddPatterns(ctx, src.ID, patterns); err != nil {
		errs = append(errs, p.recordError(ctx, run.ID, "store", src.URL, err))
	}

	items := make([]extract.IntelligenceItem, 0, len(patterns))
	for _, pat := range patterns {
		items = append(items, extract.ItemFromPattern(pat, now))
	}

	if p.norm != nil && !p.cfg.SkipLLM {
		mctx, cancel := context.WithTimeout(ctx, p.cfg.ModelTimeout)
		llmItems, err := p.norm.Normalize(mctx, extract.NormalizeRequest{
			Content:  src.CleanText,
			Source:   extract.SourceRef{URL: src.URL, Section: src.PageType},
			CardName: run.CardName,
			BankName: run.BankName,
		})
		cancel()
		if err != nil {
			errs = append(errs, p.recordError(ctx, run.ID, "normalize", src.URL, err))
		} else {
			items = append(items, llmItems...)
		}
	}

	merged := extract.Dedupe(items, extract.PassWithinSource, p.cfg.Dedupe)
	p.log.Debug("source processed",
		"url", src.URL,
		"sections", len(sections),
		"patterns", len(patterns),
		"items", len(merged),
	)
	return merged, errs
}

// markSelected flags the sections whose content survived selection.
func markSelected(sections []extract.Section, selected string) {
	for i := range sections {
		sections[i].Selected = strings.Contains(selected, sections[i].Content)
	}
}

// flattenPatterns orders detector output by type name so persistence
// is deterministic across runs.
func flattenPatterns(found map[extract.PatternType][]extract.DetectedPattern) []extract.DetectedPattern {
	types := make([]string, 0, len(found))
	for t := range found {
		types = append(types, string(t))
	}
	sort.Strings(types)

	var out []extract.DetectedPattern
	for _, t := range types {
		out = append(out, found[extract.PatternType(t)]...)
	}
	return out
}

// recordError logs and persists one recovered stage failure.
func (p *Pipeline) recordError(ctx context.Context, runID, stage, url string, err error) StageError {
	p.log.Warn("stage failed", "stage", stage, "url", url, "error", err)
	entry := &store.ErrorEntry{RunID: runID, Stage: stage, URL: url, Message: err.Error()}
	if dbErr := p.store.AddError(ctx, entry); dbErr != nil {
		p.log.Error("recording error entry", "run", runID, "error", dbErr)
	}
	return StageError{Stage: stage, URL: url, Message: err.Error()}
}
