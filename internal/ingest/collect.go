package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"time"

	"github.com/hurttlocker/cardintel/internal/cache"
	"github.com/hurttlocker/cardintel/internal/chunk"
	"github.com/hurttlocker/cardintel/internal/doc"
	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/fetch"
	"github.com/hurttlocker/cardintel/internal/store"
)

// crawlItem is one queued URL during collection.
type crawlItem struct {
	url    string
	parent string
	depth  int
}

// collect fetches the root page and follows its relevant links breadth
// first, bounded by MaxSources and MaxDepth. Every candidate is
// recorded as a source row: fetched, failed, or skipped. The returned
// slice holds only fetched sources, best relevance first; root is the
// root page's row, nil when its fetch failed. Only store failures
// return an error.
func (p *Pipeline) collect(ctx context.Context, run *store.Run, rep *Report) ([]*store.Source, *store.Source, error) {
	var kept []*store.Source
	var root *store.Source
	seen := map[string]bool{}
	queue := []crawlItem{{url: run.RootURL, depth: 0}}

	for len(queue) > 0 && len(kept) < p.cfg.MaxSources {
		if ctx.Err() != nil {
			break
		}
		item := queue[0]
		queue = queue[1:]
		if seen[item.url] {
			continue
		}
		seen[item.url] = true

		src, links := p.fetchSource(ctx, run, rep, item)
		id, err := p.store.AddSource(ctx, src)
		if err != nil {
			return nil, nil, fmt.Errorf("recording source %s: %w", src.URL, err)
		}
		src.ID = id

		if item.depth == 0 {
			root = src
		}
		if src.Status != store.SourceFetched {
			continue
		}
		kept = append(kept, src)
		if item.depth < p.cfg.MaxDepth {
			for _, l := range links {
				queue = append(queue, crawlItem{url: l, parent: item.url, depth: item.depth + 1})
			}
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Relevance > kept[j].Relevance
	})
	rep.SourcesFetched = len(kept)
	return kept, root, nil
}

// fetchSource fetches one candidate and builds its source row. PDF
// responses go through document extraction with a quality gate; linked
// HTML pages below the relevance minimum are marked skipped. The root
// page bypasses the relevance minimum: it is the card page the caller
// chose.
func (p *Pipeline) fetchSource(ctx context.Context, run *store.Run, rep *Report, item crawlItem) (*store.Source, []string) {
	src := &store.Source{
		RunID:     run.ID,
		URL:       item.url,
		ParentURL: item.parent,
		Depth:     item.depth,
		PageType:  chunk.ClassifyPage(item.url),
		FetchedAt: time.Now().UTC(),
	}

	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	page, err := p.fetcher.Fetch(fctx, item.url)
	cancel()
	if err != nil {
		src.Status = store.SourceFailed
		src.FetchError = err.Error()
		rep.SourcesFailed++
		rep.Errors = append(rep.Errors, p.recordError(ctx, run.ID, "fetch", item.url, err))
		return src, nil
	}
	src.URL = page.FinalURL
	src.Title = page.Title
	src.FetchedAt = page.FetchedAt

	if page.IsPDF() {
		res, err := p.extractDoc(ctx, page)
		if err != nil {
			src.Status = store.SourceFailed
			src.FetchError = err.Error()
			rep.SourcesFailed++
			rep.Errors = append(rep.Errors, p.recordError(ctx, run.ID, "parse", item.url, err))
			return src, nil
		}
		if res.Quality < p.cfg.MinPDFQuality {
			src.Status = store.SourceSkipped
			src.FetchError = fmt.Sprintf("text quality %.2f below %.2f", res.Quality, p.cfg.MinPDFQuality)
			rep.SourcesSkipped++
			p.log.Debug("skipping low-quality pdf", "url", item.url, "quality", res.Quality)
			return src, nil
		}
		src.Title = res.Title
		src.CleanText = res.Text
	} else {
		src.RawText = page.RawHTML
		src.CleanText = page.Content
	}

	src.Relevance = extract.Relevance(src.CleanText, src.URL, p.cfg.Score)
	if item.depth > 0 && src.Relevance < p.cfg.MinRelevance {
		src.Status = store.SourceSkipped
		rep.SourcesSkipped++
		p.log.Debug("skipping irrelevant page", "url", item.url, "relevance", src.Relevance)
		return src, nil
	}

	src.Status = store.SourceFetched
	return src, page.Links
}

// extractDoc parses a fetched document, reusing a cached extraction
// when the same bytes were parsed before. Keys hash the content, so
// the cache survives URL changes and never serves stale text.
func (p *Pipeline) extractDoc(ctx context.Context, page *fetch.Page) (*doc.Result, error) {
	key := cache.ExtractionKey("pdf", page.RawHTML)
	if p.cache != nil {
		if b, ok := p.cache.Get(key); ok {
			var res doc.Result
			if err := json.Unmarshal(b, &res); err == nil {
				return &res, nil
			}
		}
	}

	res, err := p.docs.Extract(ctx, []byte(page.RawHTML), docName(page.FinalURL))
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		if b, err := json.Marshal(res); err == nil {
			p.cache.Set(key, b, cache.ExtractionTTL)
		}
	}
	return res, nil
}

// docName derives a document name from a URL for format detection and
// error messages.
func docName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "document"
	}
	return path.Base(u.Path)
}
