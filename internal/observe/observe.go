// Package observe reports on corpus health after extraction: runs whose
// confidence has decayed past usefulness, benefit items inside a run
// that disagree with each other, and drift between two runs of the same
// card. It reads the store and never writes it.
package observe

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/store"
)

// DefaultDecayRate halves a run's effective confidence in about 90 days
// (ln 2 / 90). Banks revise fee schedules and promotions on roughly a
// quarterly cycle, so an extraction loses standing at that pace.
const DefaultDecayRate = 0.0077

const (
	dbSizeNotice = int64(1) << 30 // 1 GiB
	dbSizeHigh   = dbSizeNotice + dbSizeNotice/2

	approvalMaxAge   = 7 * 24 * time.Hour
	processingMaxAge = time.Hour
)

// Engine answers health questions against the store.
type Engine struct {
	store store.Store
}

func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// StaleRun is a completed run whose age has eroded its confidence.
type StaleRun struct {
	Run                 store.Run `json:"run"`
	EffectiveConfidence float64   `json:"effective_confidence"`
	AgeDays             int       `json:"age_days"`
}

// StaleOpts controls staleness detection. Zero values select defaults.
type StaleOpts struct {
	MaxConfidence float64 // flag runs whose effective confidence falls below this (default 0.5)
	MaxDays       int     // ignore runs younger than this many days (default 30)
	Limit         int     // maximum runs returned (default 50)
	DecayRate     float64 // exponential decay per day (default DefaultDecayRate)
}

// StaleRuns returns the runs most in need of re-extraction, stalest
// first. Only the newest completed run per card is considered: older
// runs of the same card are superseded, not stale.
func (e *Engine) StaleRuns(ctx context.Context, opts StaleOpts) ([]StaleRun, error) {
	if opts.MaxConfidence <= 0 {
		opts.MaxConfidence = 0.5
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.DecayRate <= 0 {
		opts.DecayRate = DefaultDecayRate
	}

	runs, err := e.store.ListRuns(ctx, 1000)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	var stale []StaleRun
	seen := make(map[string]bool)
	now := time.Now().UTC()
	for _, r := range runs {
		if r.Status != store.RunCompleted {
			continue
		}
		key := cardKey(r)
		if seen[key] {
			continue
		}
		seen[key] = true

		ref := r.StartedAt
		if r.FinishedAt != nil {
			ref = *r.FinishedAt
		}
		ageDays := int(now.Sub(ref).Hours() / 24)
		if ageDays < opts.MaxDays {
			continue
		}
		eff := r.Confidence * math.Exp(-opts.DecayRate*float64(ageDays))
		if eff >= opts.MaxConfidence {
			continue
		}
		stale = append(stale, StaleRun{Run: *r, EffectiveConfidence: eff, AgeDays: ageDays})
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].EffectiveConfidence < stale[j].EffectiveConfidence
	})
	if len(stale) > opts.Limit {
		stale = stale[:opts.Limit]
	}
	return stale, nil
}

// cardKey identifies a card across runs. Falls back to the root URL when
// discovery never produced a card name.
func cardKey(r *store.Run) string {
	card := strings.ToLower(strings.TrimSpace(r.CardName))
	if card == "" {
		return "url|" + r.RootURL
	}
	return card + "|" + strings.ToLower(strings.TrimSpace(r.BankName))
}

// Alerts scans the store for operational problems worth surfacing before
// they bite: a database outgrowing its disk, approvals nobody is acting
// on, and runs that never finished. Each alert reads "code: message".
func (e *Engine) Alerts(ctx context.Context) ([]string, error) {
	var alerts []string

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading store stats: %w", err)
	}
	switch {
	case stats.DBSizeBytes >= dbSizeHigh:
		alerts = append(alerts, fmt.Sprintf("db_size_high: store is %.1f GB, vacuum or archive old runs", float64(stats.DBSizeBytes)/1e9))
	case stats.DBSizeBytes >= dbSizeNotice:
		alerts = append(alerts, fmt.Sprintf("db_size_notice: store is %.1f GB", float64(stats.DBSizeBytes)/1e9))
	}

	pending, err := e.store.ListApprovals(ctx, store.ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("listing approvals: %w", err)
	}
	aging := 0
	for _, a := range pending {
		if time.Since(a.CreatedAt) > approvalMaxAge {
			aging++
		}
	}
	if aging > 0 {
		alerts = append(alerts, fmt.Sprintf("approvals_aging: %d approval(s) pending for over a week", aging))
	}

	runs, err := e.store.ListRuns(ctx, 200)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	stuck := 0
	for _, r := range runs {
		if r.Status == store.RunProcessing && time.Since(r.StartedAt) > processingMaxAge {
			stuck++
		}
	}
	if stuck > 0 {
		alerts = append(alerts, fmt.Sprintf("runs_stuck: %d run(s) processing for over an hour", stuck))
	}

	return alerts, nil
}

// Conflict is a pair of items in one run that give different readings of
// what looks like the same benefit.
type Conflict struct {
	Item1 extract.IntelligenceItem `json:"item1"`
	Item2 extract.IntelligenceItem `json:"item2"`
	Field string                   `json:"field"`
}

// Conflicts finds items within a run that share a category and title but
// disagree on value. Bank pages restate the same benefit in several
// places; when the restatements disagree, at least one of them is wrong.
func (e *Engine) Conflicts(ctx context.Context, runID string) ([]Conflict, error) {
	items, err := e.store.ListItems(ctx, store.ItemFilter{RunID: runID, Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("listing items for run %s: %w", runID, err)
	}

	groups := make(map[string][]extract.IntelligenceItem)
	for _, it := range items {
		k := itemKey(it)
		groups[k] = append(groups[k], it)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conflicts []Conflict
	for _, k := range keys {
		group := groups[k]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				v1 := group[i].Value.Display()
				v2 := group[j].Value.Display()
				if v1 == "" || v2 == "" || strings.EqualFold(v1, v2) {
					continue
				}
				conflicts = append(conflicts, Conflict{Item1: group[i], Item2: group[j], Field: "value"})
			}
		}
	}
	return conflicts, nil
}

// itemKey groups items that describe the same benefit: same category,
// same title modulo case and whitespace.
func itemKey(it extract.IntelligenceItem) string {
	return string(it.Category) + "|" + normTitle(it.Title)
}

func normTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
