package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// DedupePass selects which duplicates a pass may fold together.
type DedupePass string

const (
	// PassWithinSource folds repeats of the same benefit found on one
	// page, e.g. a headline and a detail row.
	PassWithinSource DedupePass = "within_source"
	// PassAcrossSources folds the same benefit found on different pages
	// of a crawl.
	PassAcrossSources DedupePass = "across_sources"
	// PassAcrossRuns folds fresh extractions into previously stored
	// items, keeping the earliest-seen item as canonical.
	PassAcrossRuns DedupePass = "across_runs"
)

// DedupeConfig tunes duplicate detection.
type DedupeConfig struct {
	// Threshold is the minimum title similarity for two items to be
	// considered the same benefit. Similarity is the better of token
	// overlap against the smaller title and normalized edit distance.
	Threshold float64
}

// DefaultDedupeConfig returns the threshold the pipeline runs with.
func DefaultDedupeConfig() DedupeConfig {
	return DedupeConfig{Threshold: 0.6}
}

// Dedupe folds duplicate items into canonical ones and returns the
// survivors. Winners absorb the sources, tags, conditions, and entities
// of the items folded into them, and their confidence is rescored.
func Dedupe(items []IntelligenceItem, pass DedupePass, cfg DedupeConfig) []IntelligenceItem {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultDedupeConfig().Threshold
	}
	if len(items) < 2 {
		return items
	}

	ordered := make([]IntelligenceItem, len(items))
	copy(ordered, items)
	sortForPass(ordered, pass)

	claimed := make([]bool, len(ordered))
	var out []IntelligenceItem
	for i := range ordered {
		if claimed[i] {
			continue
		}
		winner := ordered[i]
		claimed[i] = true
		for j := i + 1; j < len(ordered); j++ {
			if claimed[j] {
				continue
			}
			if !eligible(&winner, &ordered[j], pass) {
				continue
			}
			if !sameBenefit(&winner, &ordered[j], cfg.Threshold) {
				continue
			}
			mergeInto(&winner, &ordered[j])
			claimed[j] = true
		}
		out = append(out, winner)
	}
	return out
}

// sortForPass orders candidates so the preferred canonical item comes
// first. Across runs the earliest-seen item wins; otherwise the most
// confident, best-sourced one does.
func sortForPass(items []IntelligenceItem, pass DedupePass) {
	if pass == PassAcrossRuns {
		sort.SliceStable(items, func(i, j int) bool {
			fi, fj := firstSeen(&items[i]), firstSeen(&items[j])
			if !fi.Equal(fj) {
				return fi.Before(fj)
			}
			if items[i].Confidence != items[j].Confidence {
				return items[i].Confidence > items[j].Confidence
			}
			return items[i].ID < items[j].ID
		})
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence > items[j].Confidence
		}
		if len(items[i].Sources) != len(items[j].Sources) {
			return len(items[i].Sources) > len(items[j].Sources)
		}
		return items[i].ID < items[j].ID
	})
}

func firstSeen(it *IntelligenceItem) time.Time {
	var first time.Time
	for _, src := range it.Sources {
		if src.ExtractedAt.IsZero() {
			continue
		}
		if first.IsZero() || src.ExtractedAt.Before(first) {
			first = src.ExtractedAt
		}
	}
	return first
}

func eligible(a, b *IntelligenceItem, pass DedupePass) bool {
	if pass != PassWithinSource {
		return true
	}
	return primarySource(a) != "" && primarySource(a) == primarySource(b)
}

func primarySource(it *IntelligenceItem) string {
	if len(it.Sources) == 0 {
		return ""
	}
	return it.Sources[0].URL
}

// sameBenefit decides whether two items describe one benefit: their
// titles must be similar and their values must not contradict.
func sameBenefit(a, b *IntelligenceItem, threshold float64) bool {
	if a.Category != b.Category && a.Category != CategoryOther && b.Category != CategoryOther {
		return false
	}
	if TitleSimilarity(a.Title, b.Title) < threshold {
		return false
	}
	return valuesCompatible(a.Value, b.Value)
}

var titleTokenRe = regexp.MustCompile(`[\p{L}\d]+%?|%|\$`)

func normalizeTitle(title string) []string {
	return titleTokenRe.FindAllString(strings.ToLower(title), -1)
}

// TitleSimilarity rates two titles in [0, 1]. It takes the better of
// token overlap against the smaller token set and normalized
// Levenshtein distance, so both reworded and lightly edited titles
// score high.
func TitleSimilarity(a, b string) float64 {
	ta, tb := normalizeTitle(a), normalizeTitle(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	overlap := tokenOverlap(ta, tb)
	na, nb := strings.Join(ta, " "), strings.Join(tb, " ")
	lev := 1.0 - float64(levenshtein(na, nb))/float64(maxInt(len([]rune(na)), len([]rune(nb))))
	if overlap > lev {
		return overlap
	}
	return lev
}

func tokenOverlap(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	shared := 0
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		if set[t] && !seen[t] {
			shared++
			seen[t] = true
		}
	}
	smaller := minInt(len(uniq(a)), len(uniq(b)))
	if smaller == 0 {
		return 0
	}
	return float64(shared) / float64(smaller)
}

func uniq(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(minInt(curr[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

var (
	valueCurrencySpacingRe = regexp.MustCompile(`(aed|usd|eur|gbp)\s*`)
	valuePercentSpacingRe  = regexp.MustCompile(`\s*%`)
)

// normalizeValue canonicalizes a raw value phrase for comparison:
// lowercased, commas dropped, currency and percent spacing fixed.
func normalizeValue(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, ",", "")
	v = valueCurrencySpacingRe.ReplaceAllString(v, "$1 ")
	v = valuePercentSpacingRe.ReplaceAllString(v, "%")
	return collapseSpace(v)
}

// valuesCompatible reports whether two values could describe the same
// benefit. A missing value never contradicts a present one.
func valuesCompatible(a, b *ValueSpec) bool {
	if a == nil || b == nil {
		return true
	}
	if normalizeValue(a.Raw) == normalizeValue(b.Raw) {
		return true
	}
	if a.Numeric != nil && b.Numeric != nil {
		return *a.Numeric == *b.Numeric &&
			strings.EqualFold(a.Currency, b.Currency) &&
			strings.EqualFold(a.Unit, b.Unit)
	}
	return false
}

// mergeInto folds dup into winner. Sources, tags, conditions, and
// entities union; empty scalars fill from dup; the longer description
// wins; booleans OR; confidence is rescored over the merged item.
func mergeInto(winner, dup *IntelligenceItem) {
	winner.Sources = mergeSources(winner.Sources, dup.Sources)
	winner.Tags = mergeStrings(winner.Tags, dup.Tags)
	winner.RelatedIDs = mergeStrings(winner.RelatedIDs, dup.RelatedIDs)
	winner.Conditions = mergeConditions(winner.Conditions, dup.Conditions)
	winner.Entities = mergeEntities(winner.Entities, dup.Entities)

	if len(dup.Description) > len(winner.Description) {
		winner.Description = dup.Description
	}
	if winner.Value == nil {
		winner.Value = dup.Value
	}
	if winner.ParentID == "" {
		winner.ParentID = dup.ParentID
	}
	if winner.Category == CategoryOther && dup.Category != CategoryOther {
		winner.Category = dup.Category
	}
	winner.Headline = winner.Headline || dup.Headline
	winner.RequiresEnrollment = winner.RequiresEnrollment || dup.RequiresEnrollment
	winner.Promotional = winner.Promotional || dup.Promotional
	winner.Conditional = len(winner.Conditions) > 0

	winner.Confidence = ScoreConfidence(winner)
}

func mergeSources(a, b []SourceRef) []SourceRef {
	key := func(s SourceRef) string {
		return s.URL + "|" + s.Section + "|" + s.Method
	}
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[key(s)] = true
	}
	out := a
	for _, s := range b {
		if seen[key(s)] {
			continue
		}
		seen[key(s)] = true
		out = append(out, s)
	}
	return out
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	out := a
	for _, s := range b {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func mergeConditions(a, b []Condition) []Condition {
	key := func(c Condition) string {
		return string(c.Type) + "|" + strings.ToLower(collapseSpace(c.Description))
	}
	seen := make(map[string]bool, len(a))
	for _, c := range a {
		seen[key(c)] = true
	}
	out := a
	for _, c := range b {
		if seen[key(c)] {
			continue
		}
		seen[key(c)] = true
		out = append(out, c)
	}
	return out
}

func mergeEntities(a, b []Entity) []Entity {
	key := func(e Entity) string {
		return strings.ToLower(e.Name) + "|" + strings.ToLower(e.Type)
	}
	seen := make(map[string]bool, len(a))
	for _, e := range a {
		seen[key(e)] = true
	}
	out := a
	for _, e := range b {
		if seen[key(e)] {
			continue
		}
		seen[key(e)] = true
		out = append(out, e)
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
