// Package bench races normalization models against fixture benefit
// pages. Every candidate reads the same fixtures through the same
// Normalizer, and the report ranks them on contract passes first,
// speed second. Benchmarks bypass the normalization cache so timings
// measure the model, not a warm cache.
package bench

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/llm"
)

// Candidate is one model under test. Model uses the CLI's
// provider/model form, e.g. "ollama/llama3.2".
type Candidate struct {
	Label string `json:"label"`
	Model string `json:"model"`
}

// DefaultCandidates is the local lineup. Hosted models join via --models.
var DefaultCandidates = []Candidate{
	{Label: "llama3.2", Model: "ollama/llama3.2"},
	{Label: "qwen2.5:7b", Model: "ollama/qwen2.5:7b"},
	{Label: "mistral", Model: "ollama/mistral"},
}

// Fixture is a benefit page the candidates normalize. Expect lists the
// categories a competent extraction must find in it.
type Fixture struct {
	Name      string
	CardName  string
	BankName  string
	SourceURL string
	Expect    []extract.Category
	Text      string
}

// DefaultFixtures cover the two page shapes that dominate real runs: a
// cashback card dense with percentages and caps, and a travel card
// dense with memberships and coverage amounts.
var DefaultFixtures = []Fixture{
	{
		Name:      "cashback-card",
		CardName:  "Everyday Cashback Card",
		BankName:  "First Gulf Bank",
		SourceURL: "https://bench.cardintel.local/cashback-card",
		Expect:    []extract.Category{extract.CategoryFee, extract.CategoryReward, extract.CategoryAccess},
		Text: `Everyday Cashback Card

Annual fee: AED 315, waived for the first year. A joining fee does not apply.

Earn 5% cashback on dining and 2% on groceries and fuel. Cashback is capped at AED 500 per statement month and requires a minimum monthly spend of AED 2,500. All other retail purchases earn 1% unlimited cashback.

Minimum salary requirement: AED 8,000 per month.

Complimentary airport lounge access at over 25 lounges across the region, up to 8 visits per calendar year for the primary cardholder.

Buy one get one free cinema tickets every weekend at participating cinemas, up to 2 free tickets per month.

Interest rate: 3.69% per month on retail purchases. Late payment fee AED 241.50.`,
	},
	{
		Name:      "travel-card",
		CardName:  "Skyline Travel Elite",
		BankName:  "Emirates Capital Bank",
		SourceURL: "https://bench.cardintel.local/travel-card",
		Expect:    []extract.Category{extract.CategoryFee, extract.CategoryReward, extract.CategoryInsurance},
		Text: `Skyline Travel Elite Card

Annual membership fee of AED 1,575. Supplementary cards are free of charge.

Earn 2 miles for every AED 4 spent on international transactions and 1 mile per AED 4 locally. Miles never expire while the card is active.

Unlimited complimentary access to more than 1,000 airport lounges worldwide for the cardholder and one guest, through the LoungeKey programme. Enrollment required.

Multi-trip travel insurance covering trips up to 90 days, with medical coverage up to USD 500,000 when travel is booked on the card.

Two complimentary rounds of golf per month at selected courses across the UAE. Advance booking required.

Eligibility: minimum monthly salary of AED 25,000. Foreign exchange fee 1.99%.`,
	},
}

// Result is one candidate × fixture cell.
type Result struct {
	Label         string        `json:"label"`
	Model         string        `json:"model"`
	Fixture       string        `json:"fixture"`
	WallTime      time.Duration `json:"wall_time"`
	Items         int           `json:"items"`
	Categories    int           `json:"categories"`
	AvgConfidence float64       `json:"avg_confidence"`
	Violations    []string      `json:"violations,omitempty"`
	Pass          bool          `json:"pass"`
	Err           string        `json:"error,omitempty"`
}

// Summary aggregates one candidate across fixtures.
type Summary struct {
	Label         string  `json:"label"`
	Model         string  `json:"model"`
	AvgTime       float64 `json:"avg_time_sec"`
	AvgItems      float64 `json:"avg_items"`
	AvgConfidence float64 `json:"avg_confidence"`
	Passes        int     `json:"passes"`
	Errors        int     `json:"errors"`
	Verdict       string  `json:"verdict"`
}

// Report is the full benchmark output.
type Report struct {
	Timestamp string    `json:"timestamp"`
	Models    int       `json:"models_tested"`
	Fixtures  int       `json:"fixtures_tested"`
	Results   []Result  `json:"results"`
	Summary   []Summary `json:"summary"`
}

// Options configures a benchmark run. Zero values select defaults.
type Options struct {
	Candidates  []Candidate
	Fixtures    []Fixture
	Timeout     time.Duration // per model call
	Log         *slog.Logger
	NewProvider func(Candidate) (llm.Provider, error) // tests inject fakes
	ProgressFn  func(label, fixture string, done, total int)
}

// Run executes the candidate × fixture matrix. A model that fails to
// initialize or errors on a fixture gets an error row, never aborts
// the matrix.
func Run(ctx context.Context, opts Options) (*Report, error) {
	candidates := opts.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates
	}
	fixtures := opts.Fixtures
	if len(fixtures) == 0 {
		fixtures = DefaultFixtures
	}
	newProvider := opts.NewProvider
	if newProvider == nil {
		newProvider = func(c Candidate) (llm.Provider, error) {
			cfg, err := llm.ParseModelFlag(c.Model)
			if err != nil {
				return nil, err
			}
			cfg.Timeout = opts.Timeout
			return llm.NewProvider(cfg)
		}
	}

	total := len(candidates) * len(fixtures)
	results := make([]Result, 0, total)
	done := 0
	for _, cand := range candidates {
		provider, perr := newProvider(cand)
		var norm *extract.Normalizer
		if perr == nil {
			cfg := extract.DefaultNormalizeConfig()
			cfg.Timeout = opts.Timeout
			norm = extract.NewNormalizer(provider, nil, cfg, opts.Log)
		}
		for _, fx := range fixtures {
			done++
			if opts.ProgressFn != nil {
				opts.ProgressFn(cand.Label, fx.Name, done, total)
			}
			res := Result{Label: cand.Label, Model: cand.Model, Fixture: fx.Name}
			if perr != nil {
				res.Err = fmt.Sprintf("provider init: %v", perr)
				results = append(results, res)
				continue
			}

			start := time.Now()
			items, err := norm.Normalize(ctx, extract.NormalizeRequest{
				Content:  fx.Text,
				CardName: fx.CardName,
				BankName: fx.BankName,
				Source:   extract.SourceRef{URL: fx.SourceURL},
			})
			res.WallTime = time.Since(start)
			if err != nil {
				res.Err = err.Error()
				results = append(results, res)
				continue
			}

			res.Items = len(items)
			cats := make(map[extract.Category]bool)
			var confSum float64
			for _, it := range items {
				cats[it.Category] = true
				confSum += it.Confidence
			}
			res.Categories = len(cats)
			if len(items) > 0 {
				res.AvgConfidence = confSum / float64(len(items))
			}
			res.Violations = CheckContract(items, fx.Expect)
			res.Pass = len(res.Violations) == 0
			results = append(results, res)
		}
	}

	return &Report{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Models:    len(candidates),
		Fixtures:  len(fixtures),
		Results:   results,
		Summary:   buildSummary(results, len(fixtures)),
	}, nil
}

func buildSummary(results []Result, fixtures int) []Summary {
	byLabel := make(map[string]*Summary)
	var order []string
	for _, r := range results {
		s, ok := byLabel[r.Label]
		if !ok {
			s = &Summary{Label: r.Label, Model: r.Model}
			byLabel[r.Label] = s
			order = append(order, r.Label)
		}
		if r.Err != "" {
			s.Errors++
			continue
		}
		s.AvgTime += r.WallTime.Seconds()
		s.AvgItems += float64(r.Items)
		s.AvgConfidence += r.AvgConfidence
		if r.Pass {
			s.Passes++
		}
	}

	summaries := make([]Summary, 0, len(byLabel))
	for _, label := range order {
		s := byLabel[label]
		if runs := fixtures - s.Errors; runs > 0 {
			s.AvgTime /= float64(runs)
			s.AvgItems /= float64(runs)
			s.AvgConfidence /= float64(runs)
		}
		s.Verdict = verdict(s, fixtures)
		summaries = append(summaries, *s)
	}

	// Contract passes outrank speed: a fast model that misses fees loses.
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Passes != summaries[j].Passes {
			return summaries[i].Passes > summaries[j].Passes
		}
		return summaries[i].AvgTime < summaries[j].AvgTime
	})
	return summaries
}

func verdict(s *Summary, fixtures int) string {
	switch {
	case s.Errors == fixtures:
		return "✗ unusable"
	case s.Errors > 0:
		return "⚠ errors"
	case s.Passes == fixtures && s.AvgTime < 15:
		return "✓ recommended"
	case s.Passes == fixtures:
		return "✓ complete but slow"
	case s.Passes > 0:
		return "~ partial"
	default:
		return "✗ misses the contract"
	}
}

// FormatMarkdown renders the report for sharing: a summary table and a
// per-cell breakdown with contract violations spelled out.
func (r *Report) FormatMarkdown() string {
	var sb strings.Builder

	sb.WriteString("# Extraction model benchmark\n")
	date := r.Timestamp
	if len(date) >= 10 {
		date = date[:10]
	}
	fmt.Fprintf(&sb, "*%s — %d models × %d fixtures*\n\n", date, r.Models, r.Fixtures)

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Model | Avg Time | Avg Items | Avg Conf | Passes | Verdict |\n")
	sb.WriteString("|---|---|---|---|---|---|\n")
	for _, s := range r.Summary {
		fmt.Fprintf(&sb, "| %s | %.1fs | %.1f | %.2f | %d/%d | %s |\n",
			s.Label, s.AvgTime, s.AvgItems, s.AvgConfidence, s.Passes, r.Fixtures, s.Verdict)
	}

	sb.WriteString("\n## Results\n\n")
	for _, res := range r.Results {
		if res.Err != "" {
			fmt.Fprintf(&sb, "### %s × %s — error\n\n%s\n\n", res.Label, res.Fixture, res.Err)
			continue
		}
		fmt.Fprintf(&sb, "### %s × %s — %.1fs\n", res.Label, res.Fixture, res.WallTime.Seconds())
		fmt.Fprintf(&sb, "*%d items, %d categories, avg confidence %.2f*\n\n",
			res.Items, res.Categories, res.AvgConfidence)
		for _, v := range res.Violations {
			fmt.Fprintf(&sb, "- ✗ %s\n", v)
		}
		if len(res.Violations) > 0 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
