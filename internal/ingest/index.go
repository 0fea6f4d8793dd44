package ingest

import (
	"context"
	"fmt"

	"github.com/hurttlocker/cardintel/internal/chunk"
	"github.com/hurttlocker/cardintel/internal/store"
)

// IndexResult summarizes one indexing pass.
type IndexResult struct {
	RunID   string       `json:"run_id"`
	Sources int          `json:"sources"`
	Chunks  int          `json:"chunks"`
	Indexed int          `json:"indexed"`
	Skipped int          `json:"skipped"`
	Errors  []StageError `json:"errors,omitempty"`
}

// Index chunks an approved run's sources, embeds them, and writes the
// vectors to the index. Existing chunks for each source are replaced so
// re-indexing never leaves stale text behind. A batch that fails to
// embed or upsert is skipped and reported, not fatal; the run is marked
// indexed as long as at least one batch landed.
func (p *Pipeline) Index(ctx context.Context, runID string) (*IndexResult, error) {
	if p.embedder == nil || p.index == nil {
		return nil, fmt.Errorf("indexing requires an embedder and an index")
	}

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("no such run: %s", runID)
	}

	approval, err := p.store.GetApproval(ctx, runID)
	if err != nil {
		return nil, err
	}
	if approval == nil || (approval.Status != store.ApprovalApproved && approval.Status != store.ApprovalIndexed) {
		status := "missing"
		if approval != nil {
			status = approval.Status
		}
		return nil, fmt.Errorf("run %s is not approved for indexing (approval %s)", runID, status)
	}

	sources, err := p.store.ListSources(ctx, runID)
	if err != nil {
		return nil, err
	}

	res := &IndexResult{RunID: runID}
	var chunks []chunk.Chunk
	for _, src := range sources {
		if src.Status != store.SourceFetched || src.CleanText == "" {
			continue
		}
		if err := p.index.DeleteSource(ctx, src.URL); err != nil {
			return res, fmt.Errorf("clearing chunks for %s: %w", src.URL, err)
		}
		res.Sources++
		chunks = append(chunks, chunk.Build(src.CleanText, chunk.Metadata{
			SourceURL: src.URL,
			Title:     src.Title,
			CardName:  run.CardName,
			BankName:  run.BankName,
			Network:   run.Network,
			Tier:      run.Tier,
			PageType:  src.PageType,
		}, p.cfg.Chunk)...)
	}
	res.Chunks = len(chunks)

	for start := 0; start < len(chunks); start += p.cfg.EmbedBatchSize {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		end := start + p.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			res.Errors = append(res.Errors, p.recordError(ctx, runID, "embed", batch[0].Metadata.SourceURL, err))
			res.Skipped += len(batch)
			continue
		}
		if err := p.index.Upsert(ctx, batch, vectors); err != nil {
			res.Errors = append(res.Errors, p.recordError(ctx, runID, "index", batch[0].Metadata.SourceURL, err))
			res.Skipped += len(batch)
			continue
		}
		res.Indexed += len(batch)
	}

	if res.Indexed == 0 && res.Chunks > 0 {
		return res, fmt.Errorf("indexing run %s: no chunks could be indexed", runID)
	}
	if err := p.store.MarkIndexed(ctx, runID, res.Indexed); err != nil {
		return res, fmt.Errorf("marking run %s indexed: %w", runID, err)
	}

	p.log.Info("run indexed",
		"run", runID,
		"card", run.CardName,
		"sources", res.Sources,
		"chunks", res.Chunks,
		"indexed", res.Indexed,
	)
	return res, nil
}
