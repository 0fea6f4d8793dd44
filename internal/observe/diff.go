package observe

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/store"
)

// ItemChange pairs the old and new reading of one benefit.
type ItemChange struct {
	Before extract.IntelligenceItem `json:"before"`
	After  extract.IntelligenceItem `json:"after"`
	Fields []string                 `json:"fields"`
}

// RunDiff describes how a card's extracted benefits moved between two
// runs: what the bank added, what it withdrew, and what it reworded.
type RunDiff struct {
	OldRunID  string                     `json:"old_run_id"`
	NewRunID  string                     `json:"new_run_id"`
	CardName  string                     `json:"card_name,omitempty"`
	Added     []extract.IntelligenceItem `json:"added"`
	Removed   []extract.IntelligenceItem `json:"removed"`
	Changed   []ItemChange               `json:"changed"`
	Unchanged int                        `json:"unchanged"`
}

// Diff compares the items of two runs, pairing them by category and
// title. Pairs that differ in value, conditions, or flags land in
// Changed; items with no counterpart land in Added or Removed.
func (e *Engine) Diff(ctx context.Context, oldRunID, newRunID string) (*RunDiff, error) {
	oldRun, err := e.store.GetRun(ctx, oldRunID)
	if err != nil {
		return nil, err
	}
	if oldRun == nil {
		return nil, fmt.Errorf("no such run: %s", oldRunID)
	}
	newRun, err := e.store.GetRun(ctx, newRunID)
	if err != nil {
		return nil, err
	}
	if newRun == nil {
		return nil, fmt.Errorf("no such run: %s", newRunID)
	}

	oldItems, err := e.store.ListItems(ctx, store.ItemFilter{RunID: oldRunID, Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("listing items for run %s: %w", oldRunID, err)
	}
	newItems, err := e.store.ListItems(ctx, store.ItemFilter{RunID: newRunID, Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("listing items for run %s: %w", newRunID, err)
	}

	diff := &RunDiff{OldRunID: oldRunID, NewRunID: newRunID, CardName: newRun.CardName}
	if diff.CardName == "" {
		diff.CardName = oldRun.CardName
	}

	byKey := make(map[string][]int, len(oldItems))
	for i, it := range oldItems {
		k := itemKey(it)
		byKey[k] = append(byKey[k], i)
	}
	matched := make([]bool, len(oldItems))

	for _, it := range newItems {
		// First unmatched old item under the same key; duplicate titles
		// within a run pair off in listing order.
		idx := -1
		for _, i := range byKey[itemKey(it)] {
			if !matched[i] {
				idx = i
				break
			}
		}
		if idx < 0 {
			diff.Added = append(diff.Added, it)
			continue
		}
		matched[idx] = true
		fields := changedFields(oldItems[idx], it)
		if len(fields) == 0 {
			diff.Unchanged++
			continue
		}
		diff.Changed = append(diff.Changed, ItemChange{Before: oldItems[idx], After: it, Fields: fields})
	}
	for i, it := range oldItems {
		if !matched[i] {
			diff.Removed = append(diff.Removed, it)
		}
	}
	return diff, nil
}

// changedFields lists what moved between two readings of the same benefit.
func changedFields(before, after extract.IntelligenceItem) []string {
	var fields []string
	if !strings.EqualFold(before.Value.Display(), after.Value.Display()) {
		fields = append(fields, "value")
	}
	if !sameConditions(before.Conditions, after.Conditions) {
		fields = append(fields, "conditions")
	}
	if before.RequiresEnrollment != after.RequiresEnrollment {
		fields = append(fields, "enrollment")
	}
	if before.Promotional != after.Promotional {
		fields = append(fields, "promotional")
	}
	if before.Headline != after.Headline {
		fields = append(fields, "headline")
	}
	return fields
}

// sameConditions compares condition sets by description, ignoring order
// and case. Extraction order varies between model calls.
func sameConditions(a, b []extract.Condition) bool {
	if len(a) != len(b) {
		return false
	}
	as := conditionSet(a)
	bs := conditionSet(b)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func conditionSet(conds []extract.Condition) []string {
	out := make([]string, 0, len(conds))
	for _, c := range conds {
		out = append(out, strings.ToLower(strings.TrimSpace(c.Description)))
	}
	sort.Strings(out)
	return out
}

// LatestRuns returns up to n completed runs for a card, newest first.
func (e *Engine) LatestRuns(ctx context.Context, cardName string, n int) ([]*store.Run, error) {
	runs, err := e.store.ListRuns(ctx, 1000)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	want := strings.TrimSpace(cardName)
	var out []*store.Run
	for _, r := range runs {
		if r.Status != store.RunCompleted {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(r.CardName), want) {
			continue
		}
		out = append(out, r)
		if len(out) == n {
			break
		}
	}
	return out, nil
}
