// Package report renders an extraction run as a shareable markdown
// digest: headline benefits up top, every item grouped by category,
// fees and caps near the bottom, sources in an appendix. It reads the
// store and never writes it.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/store"
)

const maxHighlights = 6

// Section is one category's worth of benefits, in the store's
// confidence order.
type Section struct {
	Category extract.Category           `json:"category"`
	Title    string                     `json:"title"`
	Items    []extract.IntelligenceItem `json:"items"`
}

// SourceCount is one source URL and how many items cite it.
type SourceCount struct {
	URL   string `json:"url"`
	Items int    `json:"items"`
}

// Digest is a run reshaped for rendering.
type Digest struct {
	Run        store.Run                  `json:"run"`
	Generated  time.Time                  `json:"generated"`
	Highlights []extract.IntelligenceItem `json:"highlights,omitempty"`
	Sections   []Section                  `json:"sections"`
	Sources    []SourceCount              `json:"sources,omitempty"`
	ItemCount  int                        `json:"item_count"`
}

// Benefits lead and costs trail; a digest is read top to bottom.
var sectionOrder = []extract.Category{
	extract.CategoryReward,
	extract.CategoryAccess,
	extract.CategoryComplimentary,
	extract.CategoryDiscount,
	extract.CategoryInsurance,
	extract.CategoryService,
	extract.CategoryProgram,
	extract.CategoryPartner,
	extract.CategoryPromotion,
	extract.CategoryFeature,
	extract.CategoryEligibility,
	extract.CategoryFee,
	extract.CategoryLimit,
	extract.CategoryOther,
}

var sectionTitles = map[extract.Category]string{
	extract.CategoryReward:        "Rewards",
	extract.CategoryAccess:        "Access",
	extract.CategoryComplimentary: "Complimentary Benefits",
	extract.CategoryDiscount:      "Discounts",
	extract.CategoryInsurance:     "Insurance & Protection",
	extract.CategoryService:       "Services",
	extract.CategoryProgram:       "Programs",
	extract.CategoryPartner:       "Partners",
	extract.CategoryPromotion:     "Promotions",
	extract.CategoryFeature:       "Features",
	extract.CategoryEligibility:   "Eligibility",
	extract.CategoryFee:           "Fees & Charges",
	extract.CategoryLimit:         "Limits & Caps",
	extract.CategoryOther:         "Other",
}

// Build assembles the digest for one run.
func Build(ctx context.Context, s store.Store, runID string) (*Digest, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("no such run: %s", runID)
	}

	items, err := s.ListItems(ctx, store.ItemFilter{RunID: runID, Limit: 10000})
	if err != nil {
		return nil, err
	}

	d := &Digest{Run: *run, Generated: time.Now().UTC(), ItemCount: len(items)}

	byCat := make(map[extract.Category][]extract.IntelligenceItem)
	srcCount := make(map[string]int)
	for _, it := range items {
		if it.Headline && len(d.Highlights) < maxHighlights {
			d.Highlights = append(d.Highlights, it)
		}
		byCat[it.Category] = append(byCat[it.Category], it)
		seen := make(map[string]bool, len(it.Sources))
		for _, src := range it.Sources {
			if src.URL == "" || seen[src.URL] {
				continue
			}
			seen[src.URL] = true
			srcCount[src.URL]++
		}
	}

	for _, cat := range sectionOrder {
		if group := byCat[cat]; len(group) > 0 {
			d.Sections = append(d.Sections, Section{Category: cat, Title: sectionTitles[cat], Items: group})
			delete(byCat, cat)
		}
	}
	// Categories outside the canonical order still render, name-sorted.
	rest := make([]extract.Category, 0, len(byCat))
	for cat := range byCat {
		rest = append(rest, cat)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, cat := range rest {
		d.Sections = append(d.Sections, Section{Category: cat, Title: string(cat), Items: byCat[cat]})
	}

	urls := make([]string, 0, len(srcCount))
	for u := range srcCount {
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool {
		if srcCount[urls[i]] != srcCount[urls[j]] {
			return srcCount[urls[i]] > srcCount[urls[j]]
		}
		return urls[i] < urls[j]
	})
	for _, u := range urls {
		d.Sources = append(d.Sources, SourceCount{URL: u, Items: srcCount[u]})
	}

	return d, nil
}

// Render writes the digest as markdown.
func (d *Digest) Render() string {
	var b strings.Builder

	title := d.Run.CardName
	if title == "" {
		title = d.Run.RootURL
	}
	fmt.Fprintf(&b, "# %s\n", title)

	var meta []string
	if d.Run.BankName != "" {
		meta = append(meta, d.Run.BankName)
	}
	if d.Run.Network != "" {
		meta = append(meta, d.Run.Network)
	}
	if d.Run.Tier != "" {
		meta = append(meta, d.Run.Tier)
	}
	meta = append(meta, "extracted "+extractedDate(d.Run))
	fmt.Fprintf(&b, "*%s*\n\n", strings.Join(meta, " · "))

	fmt.Fprintf(&b, "**%d benefits** across %d categories from %d source(s) · confidence %.2f · completeness %.2f\n",
		d.ItemCount, len(d.Sections), len(d.Sources), d.Run.Confidence, d.Run.Completeness)

	if len(d.Highlights) > 0 {
		b.WriteString("\n## Highlights\n\n")
		for _, it := range d.Highlights {
			fmt.Fprintf(&b, "- **%s**", it.Title)
			if v := it.Value.Display(); v != "" {
				fmt.Fprintf(&b, " — %s", v)
			}
			b.WriteString("\n")
		}
	}

	for _, sec := range d.Sections {
		fmt.Fprintf(&b, "\n## %s (%d)\n", sec.Title, len(sec.Items))
		for _, it := range sec.Items {
			b.WriteString("\n")
			renderItem(&b, it)
		}
	}

	if len(d.Sources) > 0 {
		b.WriteString("\n## Sources\n\n")
		for _, src := range d.Sources {
			fmt.Fprintf(&b, "- %s (%d item(s))\n", src.URL, src.Items)
		}
	}

	fmt.Fprintf(&b, "\n---\n*Generated %s · run %s*\n", d.Generated.Format("2006-01-02"), d.Run.ID)
	return b.String()
}

func renderItem(b *strings.Builder, it extract.IntelligenceItem) {
	fmt.Fprintf(b, "### %s", it.Title)
	if v := it.Value.Display(); v != "" {
		fmt.Fprintf(b, " — %s", v)
	}
	b.WriteString("\n")

	if it.Description != "" && !strings.EqualFold(it.Description, it.Title) {
		fmt.Fprintf(b, "%s\n", it.Description)
	}
	for _, c := range it.Conditions {
		fmt.Fprintf(b, "- *%s*\n", conditionLine(c))
	}

	var marks []string
	if it.RequiresEnrollment {
		marks = append(marks, "enrollment required")
	}
	if it.Promotional {
		marks = append(marks, "limited-time offer")
	}
	if it.Confidence > 0 && it.Confidence < 0.5 {
		marks = append(marks, fmt.Sprintf("low confidence %.2f", it.Confidence))
	}
	if len(marks) > 0 {
		fmt.Fprintf(b, "`%s`\n", strings.Join(marks, "` · `"))
	}
}

// conditionLine prefers the model's prose and reconstructs a readable
// line from the structured fields when prose is missing.
func conditionLine(c extract.Condition) string {
	if c.Description != "" {
		return c.Description
	}
	parts := []string{strings.ReplaceAll(string(c.Type), "_", " ")}
	if c.Operator != "" {
		parts = append(parts, c.Operator)
	}
	if c.Value != "" {
		v := c.Value
		if c.Currency != "" {
			v = c.Currency + " " + v
		}
		parts = append(parts, v)
	}
	if c.TimeUnit != "" {
		parts = append(parts, "per "+c.TimeUnit)
	}
	return strings.Join(parts, " ")
}

func extractedDate(r store.Run) string {
	if r.FinishedAt != nil {
		return r.FinishedAt.Format("2006-01-02")
	}
	return r.StartedAt.Format("2006-01-02")
}
