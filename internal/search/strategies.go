package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hurttlocker/cardintel/internal/chunk"
	"github.com/hurttlocker/cardintel/internal/index"
)

type strategy struct {
	name string
	run  func(context.Context, Query) ([]chunk.Chunk, error)
}

// strategies returns the fallback chain in the order it is tried.
func (r *Retriever) strategies() []strategy {
	return []strategy{
		{StrategyCardName, r.byCardName},
		{StrategyBankScan, r.byBankScan},
		{StrategyURLMatch, r.byURL},
		{StrategyTextMatch, r.byText},
	}
}

// byCardName matches chunks whose recorded card name equals the
// queried one.
func (r *Retriever) byCardName(ctx context.Context, q Query) ([]chunk.Chunk, error) {
	if q.CardName == "" {
		return nil, nil
	}
	return r.idx.Scan(ctx, index.Filter{CardName: q.CardName}, r.cfg.ScanLimit)
}

// byBankScan scans the bank's chunks and keeps those whose recorded
// card name contains the queried one. Catches renamed variants like
// "FAB Cashback Credit Card" queried as "Cashback Credit Card".
func (r *Retriever) byBankScan(ctx context.Context, q Query) ([]chunk.Chunk, error) {
	if q.CardName == "" || q.BankName == "" {
		return nil, nil
	}
	chunks, err := r.idx.Scan(ctx, index.Filter{BankName: q.BankName}, r.cfg.ScanLimit)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(q.CardName)
	var out []chunk.Chunk
	for _, c := range chunks {
		if strings.Contains(strings.ToLower(c.Metadata.CardName), want) {
			out = append(out, c)
		}
	}
	return out, nil
}

// byURL matches when the queried card URL contains a chunk's source
// URL or the reverse. Trailing slashes and case are ignored.
func (r *Retriever) byURL(ctx context.Context, q Query) ([]chunk.Chunk, error) {
	if q.CardURL == "" {
		return nil, nil
	}
	chunks, err := r.idx.Scan(ctx, index.Filter{BankName: q.BankName}, r.cfg.ScanLimit)
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(strings.TrimRight(q.CardURL, "/"))
	var out []chunk.Chunk
	for _, c := range chunks {
		src := strings.ToLower(strings.TrimRight(c.Metadata.SourceURL, "/"))
		if src == "" {
			continue
		}
		if strings.Contains(src, want) || strings.Contains(want, src) {
			out = append(out, c)
		}
	}
	return out, nil
}

// byText scans the whole corpus for the card name: the full name, or
// at least two significant name tokens, in chunk text or metadata.
func (r *Retriever) byText(ctx context.Context, q Query) ([]chunk.Chunk, error) {
	if q.CardName == "" {
		return nil, nil
	}
	chunks, err := r.idx.Scan(ctx, index.Filter{}, r.cfg.ScanLimit)
	if err != nil {
		return nil, err
	}
	full := strings.ToLower(q.CardName)
	tokens := significantTokens(q.CardName)
	var out []chunk.Chunk
	for _, c := range chunks {
		text := strings.ToLower(c.Text)
		meta := strings.ToLower(c.Metadata.CardName)
		if strings.Contains(text, full) || strings.Contains(meta, full) {
			out = append(out, c)
			continue
		}
		if len(tokens) < 2 {
			continue
		}
		if countContained(text, tokens) >= 2 || countContained(meta, tokens) >= 2 {
			out = append(out, c)
		}
	}
	return out, nil
}

// keywordResults ranks chunks by occurrences of the question's
// significant tokens. Chunks with no hits are dropped.
func (r *Retriever) keywordResults(ctx context.Context, q Query, k int) ([]Result, error) {
	tokens := queryTokens(q.Question)
	if len(tokens) == 0 {
		return nil, nil
	}
	chunks, err := r.idx.Scan(ctx, q.filter(), r.cfg.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("scanning chunks: %w", err)
	}
	type scored struct {
		c    chunk.Chunk
		hits int
	}
	var matches []scored
	for _, c := range chunks {
		text := strings.ToLower(c.Text)
		hits := 0
		for _, tok := range tokens {
			hits += strings.Count(text, tok)
		}
		if hits > 0 {
			matches = append(matches, scored{c, hits})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].hits != matches[j].hits {
			return matches[i].hits > matches[j].hits
		}
		return matches[i].c.ID < matches[j].c.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = Result{Chunk: m.c, Score: float64(m.hits), Strategy: StrategyKeyword}
	}
	return out, nil
}

// nameStopWords are card-name tokens that carry no identity: every UAE
// bank has a "Platinum Credit Card" of some sort.
var nameStopWords = map[string]bool{
	"credit": true, "card": true, "cards": true,
	"the": true, "a": true, "and": true, "or": true,
	"for": true, "of": true, "in": true, "on": true, "to": true,
}

// questionStopWords additionally drops interrogative filler when
// tokenizing free-form questions.
var questionStopWords = map[string]bool{
	"what": true, "which": true, "when": true, "where": true, "who": true,
	"why": true, "how": true, "does": true, "do": true, "did": true,
	"is": true, "are": true, "was": true, "can": true, "will": true,
	"this": true, "that": true, "with": true, "have": true, "has": true,
	"get": true, "give": true, "much": true, "many": true, "any": true,
	"about": true, "from": true, "there": true, "offer": true,
}

// significantTokens lowercases and splits a card name, dropping stop
// words and tokens of two characters or fewer.
func significantTokens(name string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(name)) {
		if len(w) > 2 && !nameStopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// queryTokens tokenizes a question for keyword ranking.
func queryTokens(question string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,!?:;()\"'")
		if len(w) <= 2 || nameStopWords[w] || questionStopWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func countContained(s string, tokens []string) int {
	n := 0
	for _, tok := range tokens {
		if strings.Contains(s, tok) {
			n++
		}
	}
	return n
}
