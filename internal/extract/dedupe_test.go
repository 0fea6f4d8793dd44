package extract

import (
	"testing"
	"time"
)

func floatPtr(v float64) *float64 { return &v }

func TestDedupeMergesRewordedTitles(t *testing.T) {
	a := IntelligenceItem{
		ID: "llm-1", Title: "5% Dining Cashback", Category: CategoryReward,
		Value:      &ValueSpec{Raw: "5%", Numeric: floatPtr(5), Type: ValuePercentage},
		Sources:    []SourceRef{{URL: "https://bank.example/benefits", Method: "llm", Confidence: 0.8}},
		Confidence: 0.9,
	}
	b := IntelligenceItem{
		ID: "pat-1", Title: "Dining Cashback - 5%", Category: CategoryReward,
		Value:      &ValueSpec{Raw: "5 %", Numeric: floatPtr(5), Type: ValuePercentage},
		Sources:    []SourceRef{{URL: "https://bank.example/terms", Method: "pattern", Confidence: 0.6}},
		Confidence: 0.6,
	}

	out := Dedupe([]IntelligenceItem{a, b}, PassAcrossSources, DefaultDedupeConfig())
	if len(out) != 1 {
		t.Fatalf("got %d items, want 1 canonical", len(out))
	}
	got := out[0]
	if got.ID != "llm-1" {
		t.Errorf("winner = %q, want the more confident item", got.ID)
	}
	if len(got.Sources) != 2 {
		t.Fatalf("sources = %+v, want both kept", got.Sources)
	}
	methods := map[string]bool{}
	for _, s := range got.Sources {
		methods[s.Method] = true
	}
	if !methods["llm"] || !methods["pattern"] {
		t.Errorf("merged methods = %v", methods)
	}
	// Rescored over merged sources: 0.8 base, value and numeric boosts.
	if got.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", got.Confidence)
	}
}

func TestDedupeKeepsConflictingValues(t *testing.T) {
	a := IntelligenceItem{
		ID: "a", Title: "5% Dining Cashback", Category: CategoryReward,
		Value:   &ValueSpec{Raw: "5%", Numeric: floatPtr(5), Type: ValuePercentage},
		Sources: []SourceRef{{URL: "https://bank.example/a", Method: "llm", Confidence: 0.8}},
	}
	b := IntelligenceItem{
		ID: "b", Title: "10% Dining Cashback", Category: CategoryReward,
		Value:   &ValueSpec{Raw: "10%", Numeric: floatPtr(10), Type: ValuePercentage},
		Sources: []SourceRef{{URL: "https://bank.example/b", Method: "llm", Confidence: 0.8}},
	}
	out := Dedupe([]IntelligenceItem{a, b}, PassAcrossSources, DefaultDedupeConfig())
	if len(out) != 2 {
		t.Fatalf("conflicting values folded: %+v", out)
	}
}

func TestDedupeKeepsDistinctCategories(t *testing.T) {
	a := IntelligenceItem{ID: "a", Title: "Golf access", Category: CategoryAccess,
		Sources: []SourceRef{{URL: "https://bank.example/a", Method: "llm"}}}
	b := IntelligenceItem{ID: "b", Title: "Golf access", Category: CategoryInsurance,
		Sources: []SourceRef{{URL: "https://bank.example/b", Method: "llm"}}}
	out := Dedupe([]IntelligenceItem{a, b}, PassAcrossSources, DefaultDedupeConfig())
	if len(out) != 2 {
		t.Fatalf("distinct categories folded: %+v", out)
	}
}

func TestDedupeWithinSourceScope(t *testing.T) {
	mk := func(id, url string) IntelligenceItem {
		return IntelligenceItem{
			ID: id, Title: "Airport lounge access", Category: CategoryAccess,
			Sources: []SourceRef{{URL: url, Method: "llm", Confidence: 0.8}},
		}
	}
	// Same title on different pages survives the within-source pass.
	out := Dedupe([]IntelligenceItem{mk("a", "https://x/1"), mk("b", "https://x/2")}, PassWithinSource, DefaultDedupeConfig())
	if len(out) != 2 {
		t.Fatalf("within-source pass crossed pages: %+v", out)
	}
	// Same page folds.
	out = Dedupe([]IntelligenceItem{mk("a", "https://x/1"), mk("b", "https://x/1")}, PassWithinSource, DefaultDedupeConfig())
	if len(out) != 1 {
		t.Fatalf("same-page duplicate survived: %+v", out)
	}
	// The across-sources pass folds both.
	out = Dedupe([]IntelligenceItem{mk("a", "https://x/1"), mk("b", "https://x/2")}, PassAcrossSources, DefaultDedupeConfig())
	if len(out) != 1 {
		t.Fatalf("across-sources pass kept both: %+v", out)
	}
}

func TestDedupeAcrossRunsEarliestWins(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(48 * time.Hour)
	old := IntelligenceItem{
		ID: "old", Title: "Unlimited lounge access", Category: CategoryAccess,
		Sources:    []SourceRef{{URL: "https://x/1", Method: "llm", Confidence: 0.7, ExtractedAt: t0}},
		Confidence: 0.7,
	}
	fresh := IntelligenceItem{
		ID: "new", Title: "Unlimited lounge access", Category: CategoryAccess,
		Sources:    []SourceRef{{URL: "https://x/1", Method: "llm", Confidence: 0.95, ExtractedAt: t1}},
		Confidence: 0.95,
	}
	out := Dedupe([]IntelligenceItem{fresh, old}, PassAcrossRuns, DefaultDedupeConfig())
	if len(out) != 1 {
		t.Fatalf("got %d items, want 1", len(out))
	}
	if out[0].ID != "old" {
		t.Errorf("winner = %q, want the earliest-seen item", out[0].ID)
	}
}

func TestDedupeMergeUnions(t *testing.T) {
	a := IntelligenceItem{
		ID: "a", Title: "5% Dining Cashback", Category: CategoryReward,
		Tags:       []string{"dining"},
		Sources:    []SourceRef{{URL: "https://x/1", Method: "llm", Confidence: 0.8}},
		Confidence: 0.8,
	}
	b := IntelligenceItem{
		ID: "b", Title: "Dining cashback 5%", Category: CategoryReward,
		Description: "Earn five percent back on restaurant spends across the network.",
		Tags:        []string{"dining", "cashback"},
		Conditions:  []Condition{{Type: CondMinimumSpend, Description: "AED 3,000 monthly spend"}},
		Entities:    []Entity{{Name: "Zomato", Type: "merchant"}},
		Sources:     []SourceRef{{URL: "https://x/2", Method: "pattern", Confidence: 0.6}},
		Confidence:  0.6,
	}
	out := Dedupe([]IntelligenceItem{a, b}, PassAcrossSources, DefaultDedupeConfig())
	if len(out) != 1 {
		t.Fatalf("got %d items, want 1", len(out))
	}
	got := out[0]
	if len(got.Tags) != 2 {
		t.Errorf("tags = %v", got.Tags)
	}
	if len(got.Conditions) != 1 || !got.Conditional {
		t.Errorf("conditions = %+v conditional = %v", got.Conditions, got.Conditional)
	}
	if len(got.Entities) != 1 {
		t.Errorf("entities = %+v", got.Entities)
	}
	if got.Description == "" {
		t.Error("description not filled from absorbed item")
	}
}

func TestDedupeTooFewItems(t *testing.T) {
	one := []IntelligenceItem{{ID: "a", Title: "x"}}
	if out := Dedupe(one, PassAcrossSources, DefaultDedupeConfig()); len(out) != 1 {
		t.Errorf("single item changed: %+v", out)
	}
	if out := Dedupe(nil, PassAcrossSources, DefaultDedupeConfig()); len(out) != 0 {
		t.Errorf("nil input changed: %+v", out)
	}
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"5% Dining Cashback", "5% Dining Cashback", 1.0, 1.0},
		{"5% Dining Cashback", "Dining Cashback - 5%", 1.0, 1.0},
		{"Lounge access", "Unlimited lounge access", 1.0, 1.0},
		{"Golf", "Cinema", 0, 0.4},
		{"", "Cinema", 0, 0},
	}
	for _, tt := range tests {
		got := TitleSimilarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("TitleSimilarity(%q, %q) = %v, want in [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
}

func TestValuesCompatible(t *testing.T) {
	tests := []struct {
		name string
		a, b *ValueSpec
		want bool
	}{
		{"both nil", nil, nil, true},
		{"one nil", &ValueSpec{Raw: "5%"}, nil, true},
		{"equal after normalization", &ValueSpec{Raw: "AED 500"}, &ValueSpec{Raw: "aed500"}, true},
		{"percent spacing", &ValueSpec{Raw: "5%"}, &ValueSpec{Raw: "5 %"}, true},
		{"same numeric different raw", &ValueSpec{Raw: "AED 500.00", Numeric: floatPtr(500), Currency: "AED"},
			&ValueSpec{Raw: "AED 500", Numeric: floatPtr(500), Currency: "AED"}, true},
		{"different amounts", &ValueSpec{Raw: "AED 500", Numeric: floatPtr(500), Currency: "AED"},
			&ValueSpec{Raw: "AED 600", Numeric: floatPtr(600), Currency: "AED"}, false},
		{"different currencies", &ValueSpec{Raw: "500", Numeric: floatPtr(500), Currency: "AED"},
			&ValueSpec{Raw: "500.0", Numeric: floatPtr(500), Currency: "USD"}, false},
	}
	for _, tt := range tests {
		if got := valuesCompatible(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: valuesCompatible = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"cashback", "cashback", 0},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
