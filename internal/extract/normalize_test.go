package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/hurttlocker/cardintel/internal/cache"
	"github.com/hurttlocker/cardintel/internal/llm"
)

type fakeProvider struct {
	out   string
	err   error
	calls int
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func (f *fakeProvider) Name() string { return "fake/model" }

const goodPayload = `{"intelligence": [
  {"item_id": "cb-dining", "title": "5% Dining Cashback",
   "description": "Earn 5% cashback on all dining spends at restaurants worldwide, capped monthly.",
   "category": "cashback", "tags": ["dining"],
   "value": {"raw_value": "5%", "numeric_value": 5, "value_type": "percentage"},
   "conditions": [{"type": "maximum_cap", "description": "Capped at AED 400 per month", "value": "400", "currency": "aed", "time_unit": "per month"}],
   "entities": [{"name": "Talabat", "type": "merchant"}],
   "confidence": 0.9},
  {"title": "Airport lounge access", "category": "lounge", "confidence": 3.5}
]}`

func testRequest() NormalizeRequest {
	return NormalizeRequest{
		Content: "page content about dining cashback and lounges",
		Source:  SourceRef{URL: "https://bank.example/card", Section: "benefits"},
	}
}

func TestNormalizeParsesItems(t *testing.T) {
	p := &fakeProvider{out: goodPayload}
	n := NewNormalizer(p, cache.NewMemory(0), DefaultNormalizeConfig(), nil)

	items, err := n.Normalize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	cb := items[0]
	if cb.ID != "cb-dining" {
		t.Errorf("model id not kept: %q", cb.ID)
	}
	if cb.Category != CategoryReward {
		t.Errorf("category = %q, want reward", cb.Category)
	}
	if cb.Value == nil || cb.Value.Type != ValuePercentage || *cb.Value.Numeric != 5 {
		t.Errorf("value = %+v", cb.Value)
	}
	if len(cb.Conditions) != 1 {
		t.Fatalf("conditions = %+v", cb.Conditions)
	}
	cond := cb.Conditions[0]
	if cond.Type != CondMaximumCap || cond.Currency != "AED" || cond.TimeUnit != "monthly" {
		t.Errorf("condition = %+v", cond)
	}
	if !cb.Conditional {
		t.Error("item with conditions not flagged conditional")
	}
	if len(cb.Entities) != 1 || cb.Entities[0].Name != "Talabat" {
		t.Errorf("entities = %+v", cb.Entities)
	}
	if cb.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 after boosts", cb.Confidence)
	}
	if len(cb.Sources) != 1 || cb.Sources[0].Method != "llm" || cb.Sources[0].URL != "https://bank.example/card" {
		t.Errorf("sources = %+v", cb.Sources)
	}

	lounge := items[1]
	if len(lounge.ID) != 8 {
		t.Errorf("missing model id not derived: %q", lounge.ID)
	}
	if lounge.Category != CategoryAccess {
		t.Errorf("lounge category = %q, want access", lounge.Category)
	}
	// Out-of-range model confidence falls back to the default, which is
	// also the llm floor plus nothing.
	if lounge.Confidence != 0.75 {
		t.Errorf("lounge confidence = %v, want 0.75", lounge.Confidence)
	}
}

func TestNormalizeCacheHit(t *testing.T) {
	p := &fakeProvider{out: goodPayload}
	n := NewNormalizer(p, cache.NewMemory(0), DefaultNormalizeConfig(), nil)
	req := testRequest()

	first, err := n.Normalize(context.Background(), req)
	if err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	second, err := n.Normalize(context.Background(), req)
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1", p.calls)
	}
	if len(first) != len(second) {
		t.Errorf("cached result differs: %d vs %d items", len(first), len(second))
	}

	// Different content misses the cache.
	req.Content = "entirely different page content"
	if _, err := n.Normalize(context.Background(), req); err != nil {
		t.Fatalf("third Normalize: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("provider called %d times after new content, want 2", p.calls)
	}
}

func TestNormalizeDerivedIDsStable(t *testing.T) {
	req := testRequest()
	a, err := NewNormalizer(&fakeProvider{out: goodPayload}, cache.NewMemory(0), DefaultNormalizeConfig(), nil).
		Normalize(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewNormalizer(&fakeProvider{out: goodPayload}, cache.NewMemory(0), DefaultNormalizeConfig(), nil).
		Normalize(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if a[1].ID != b[1].ID {
		t.Errorf("derived ids differ across runs: %q vs %q", a[1].ID, b[1].ID)
	}
}

func TestNormalizeFencedOutput(t *testing.T) {
	p := &fakeProvider{out: "```json\n" + goodPayload + "\n```"}
	n := NewNormalizer(p, cache.NewMemory(0), DefaultNormalizeConfig(), nil)
	items, err := n.Normalize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items from fenced output, want 2", len(items))
	}
}

func TestNormalizeBareArray(t *testing.T) {
	p := &fakeProvider{out: `[{"title": "Golf access", "category": "golf"}]`}
	n := NewNormalizer(p, cache.NewMemory(0), DefaultNormalizeConfig(), nil)
	items, err := n.Normalize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(items) != 1 || items[0].Category != CategoryAccess {
		t.Errorf("items = %+v", items)
	}
}

func TestNormalizeEmptyFindings(t *testing.T) {
	p := &fakeProvider{out: `{"intelligence": []}`}
	n := NewNormalizer(p, cache.NewMemory(0), DefaultNormalizeConfig(), nil)
	items, err := n.Normalize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("got %d items from empty findings", len(items))
	}
}

func TestNormalizeSkipsUntitled(t *testing.T) {
	p := &fakeProvider{out: `{"intelligence": [{"title": "  "}, {"title": "Valid item"}]}`}
	n := NewNormalizer(p, cache.NewMemory(0), DefaultNormalizeConfig(), nil)
	items, err := n.Normalize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(items) != 1 || items[0].Title != "Valid item" {
		t.Errorf("items = %+v", items)
	}
}

func TestNormalizeBadOutput(t *testing.T) {
	p := &fakeProvider{out: "I cannot extract anything from this."}
	n := NewNormalizer(p, cache.NewMemory(0), DefaultNormalizeConfig(), nil)
	_, err := n.Normalize(context.Background(), testRequest())
	var outErr *OutputError
	if !errors.As(err, &outErr) {
		t.Fatalf("err = %v, want OutputError", err)
	}
}

func TestNormalizeProviderError(t *testing.T) {
	boom := errors.New("model down")
	p := &fakeProvider{err: boom}
	n := NewNormalizer(p, cache.NewMemory(0), DefaultNormalizeConfig(), nil)
	_, err := n.Normalize(context.Background(), testRequest())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped provider error", err)
	}
	if p.calls != 1 {
		t.Errorf("provider called %d times, want 1", p.calls)
	}
}
