package bench

import (
	"context"
	"errors"
	"strings"
	"testing"

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

func (f *fakeProvider) Name() string { return "fake" }

// goodPayload satisfies the cashback fixture's contract: three items
// spanning fee, reward, and access, all carrying values.
const goodPayload = `{"items": [
  {"title": "Annual fee", "category": "fee", "confidence": 0.9,
   "description": "Annual fee of AED 315, waived for the first year of membership.",
   "value": {"raw_value": "AED 315", "value_type": "fixed_amount", "numeric_value": 315, "currency": "AED"}},
  {"title": "Dining cashback", "category": "reward", "confidence": 0.9, "is_headline": true,
   "description": "Earn 5% cashback on dining spend at any restaurant worldwide.",
   "value": {"raw_value": "5%", "value_type": "percentage", "numeric_value": 5},
   "conditions": [{"type": "minimum_spend", "description": "Minimum monthly spend AED 2,500", "currency": "AED"}]},
  {"title": "Airport lounge access", "category": "access", "confidence": 0.85,
   "description": "Complimentary lounge access, 8 visits per calendar year for the primary cardholder.",
   "value": {"raw_value": "8 visits", "value_type": "count", "numeric_value": 8}}
]}`

const thinPayload = `{"items": [
  {"title": "Cinema offer", "category": "discount", "confidence": 0.6,
   "description": "Buy one get one free cinema tickets."}
]}`

func TestRunMatrix(t *testing.T) {
	opts := Options{
		Candidates: []Candidate{
			{Label: "good", Model: "fake/good"},
			{Label: "broken", Model: "fake/broken"},
		},
		Fixtures: DefaultFixtures[:1],
		NewProvider: func(c Candidate) (llm.Provider, error) {
			if c.Label == "broken" {
				return nil, errors.New("no such model")
			}
			return &fakeProvider{out: goodPayload}, nil
		},
	}

	rep, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Models != 2 || rep.Fixtures != 1 {
		t.Fatalf("matrix = %d models x %d fixtures, want 2 x 1", rep.Models, rep.Fixtures)
	}
	if len(rep.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(rep.Results))
	}

	good := rep.Results[0]
	if good.Label != "good" || !good.Pass || good.Err != "" {
		t.Errorf("good cell = %+v, want pass with no error", good)
	}
	if good.Items != 3 || good.Categories != 3 {
		t.Errorf("good cell items=%d categories=%d, want 3 and 3", good.Items, good.Categories)
	}
	if good.AvgConfidence <= minAvgConfidence {
		t.Errorf("good cell avg confidence = %.2f, want above %.2f", good.AvgConfidence, minAvgConfidence)
	}

	broken := rep.Results[1]
	if broken.Pass || !strings.Contains(broken.Err, "provider init") {
		t.Errorf("broken cell = %+v, want provider init error", broken)
	}

	if len(rep.Summary) != 2 {
		t.Fatalf("got %d summaries, want 2", len(rep.Summary))
	}
	if rep.Summary[0].Label != "good" {
		t.Errorf("summary[0] = %q, want the passing model first", rep.Summary[0].Label)
	}
	if rep.Summary[0].Passes != 1 || rep.Summary[0].Errors != 0 {
		t.Errorf("good summary = %+v, want 1 pass and 0 errors", rep.Summary[0])
	}
	if rep.Summary[1].Errors != 1 || rep.Summary[1].Verdict != "✗ unusable" {
		t.Errorf("broken summary = %+v, want 1 error and unusable verdict", rep.Summary[1])
	}
}

func TestRunModelError(t *testing.T) {
	rep, err := Run(context.Background(), Options{
		Candidates: []Candidate{{Label: "flaky", Model: "fake/flaky"}},
		Fixtures:   DefaultFixtures[:1],
		NewProvider: func(Candidate) (llm.Provider, error) {
			return &fakeProvider{err: errors.New("connection refused")}, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := rep.Results[0]
	if res.Pass || !strings.Contains(res.Err, "connection refused") {
		t.Errorf("result = %+v, want completion error recorded", res)
	}
	if rep.Summary[0].Errors != 1 {
		t.Errorf("summary errors = %d, want 1", rep.Summary[0].Errors)
	}
}

func TestRunContractViolations(t *testing.T) {
	rep, err := Run(context.Background(), Options{
		Candidates: []Candidate{{Label: "thin", Model: "fake/thin"}},
		Fixtures:   DefaultFixtures[:1],
		NewProvider: func(Candidate) (llm.Provider, error) {
			return &fakeProvider{out: thinPayload}, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := rep.Results[0]
	if res.Pass || res.Err != "" {
		t.Fatalf("result = %+v, want a clean run that fails the contract", res)
	}
	joined := strings.Join(res.Violations, "; ")
	for _, want := range []string{"only 1 item(s)", "no fee item", "no reward item", "no access item"} {
		if !strings.Contains(joined, want) {
			t.Errorf("violations %q missing %q", joined, want)
		}
	}
	if rep.Summary[0].Verdict != "✗ misses the contract" {
		t.Errorf("verdict = %q, want contract miss", rep.Summary[0].Verdict)
	}
}

func TestRunRanksPassesBeforeSpeed(t *testing.T) {
	rep, err := Run(context.Background(), Options{
		Candidates: []Candidate{
			{Label: "fast-thin", Model: "fake/a"},
			{Label: "slow-good", Model: "fake/b"},
		},
		Fixtures: DefaultFixtures[:1],
		NewProvider: func(c Candidate) (llm.Provider, error) {
			if c.Label == "fast-thin" {
				return &fakeProvider{out: thinPayload}, nil
			}
			return &fakeProvider{out: goodPayload}, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Summary[0].Label != "slow-good" {
		t.Errorf("summary order = [%s, %s], want the passing model first",
			rep.Summary[0].Label, rep.Summary[1].Label)
	}
}

func TestRunProgressCallback(t *testing.T) {
	var cells []string
	last := 0
	_, err := Run(context.Background(), Options{
		Candidates: []Candidate{{Label: "a", Model: "fake/a"}, {Label: "b", Model: "fake/b"}},
		Fixtures:   DefaultFixtures,
		NewProvider: func(Candidate) (llm.Provider, error) {
			return &fakeProvider{out: goodPayload}, nil
		},
		ProgressFn: func(label, fixture string, done, total int) {
			cells = append(cells, label+"/"+fixture)
			if total != 4 {
				t.Errorf("total = %d, want 4", total)
			}
			last = done
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(cells) != 4 || last != 4 {
		t.Fatalf("progress saw %d cells (last=%d), want all 4", len(cells), last)
	}
	if cells[0] != "a/cashback-card" || cells[3] != "b/travel-card" {
		t.Errorf("cell order = %v", cells)
	}
}

func TestFormatMarkdown(t *testing.T) {
	rep, err := Run(context.Background(), Options{
		Candidates: []Candidate{{Label: "good", Model: "fake/good"}},
		Fixtures:   DefaultFixtures[:1],
		NewProvider: func(Candidate) (llm.Provider, error) {
			return &fakeProvider{out: goodPayload}, nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	md := rep.FormatMarkdown()
	for _, want := range []string{
		"# Extraction model benchmark",
		"1 models × 1 fixtures",
		"| Model | Avg Time |",
		"| good |",
		"✓ recommended",
		"### good × cashback-card",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestDefaultFixturesWellFormed(t *testing.T) {
	if len(DefaultFixtures) < 2 {
		t.Fatalf("got %d fixtures, want at least 2", len(DefaultFixtures))
	}
	for _, fx := range DefaultFixtures {
		if fx.Name == "" || fx.CardName == "" || fx.BankName == "" {
			t.Errorf("fixture %q missing identity fields", fx.Name)
		}
		if len(fx.Expect) == 0 {
			t.Errorf("fixture %q has no expected categories", fx.Name)
		}
		if len(fx.Text) < 300 {
			t.Errorf("fixture %q text is %d bytes, too thin to exercise a model", fx.Name, len(fx.Text))
		}
	}
}
