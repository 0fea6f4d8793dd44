package extract

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultContentBudget is the character budget handed to the model when
// none is configured.
const DefaultContentBudget = 6000

// benefitIndicators are cheap signals that a paragraph talks about a
// benefit rather than boilerplate. Each hit adds half a point.
var benefitIndicators = []string{
	"free", "complimentary", "discount", "%", "aed", "offer",
	"eligible", "valid", "terms", "conditions", "benefit",
}

var (
	menuSeparatorRe = regexp.MustCompile(`\n\s*\|\s*\n`)
	noiseLineRes    = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(english|العربية|arabic|عربي|français)\s*(\|.*)?$`),
		regexp.MustCompile(`(?i)copyright\s*(©|\(c\))?\s*\d{4}`),
		regexp.MustCompile(`©\s*\d{4}`),
		regexp.MustCompile(`(?i)all rights reserved`),
		regexp.MustCompile(`(?i)^\s*(privacy policy|cookies? policy|terms of use|sitemap|contact us|our websites)\s*$`),
	}
)

// SelectContent fits page content into a character budget for the
// model. Content already inside the budget passes through untouched.
// Otherwise boilerplate is stripped, and if that is still too long the
// highest-scoring paragraphs are packed greedily until the budget is
// spent. A budget of zero or below means DefaultContentBudget.
func SelectContent(content string, budget int) string {
	if budget <= 0 {
		budget = DefaultContentBudget
	}
	if len(content) <= budget {
		return content
	}

	stripped := stripNoise(content)
	if len(stripped) <= budget {
		return stripped
	}

	keywords := DefaultScoreConfig().Keywords
	paras := splitParagraphs(stripped)
	type scored struct {
		text  string
		score float64
	}
	ranked := make([]scored, 0, len(paras))
	for _, p := range paras {
		ranked = append(ranked, scored{text: p, score: scoreParagraph(p, keywords)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var (
		selected []string
		length   int
	)
	for _, r := range ranked {
		if length+len(r.text)+2 <= budget {
			selected = append(selected, r.text)
			length += len(r.text) + 2
		}
	}
	if len(selected) == 0 && len(ranked) > 0 {
		// The best paragraph alone blows the budget; keep its head.
		return truncate(ranked[0].text, budget)
	}
	return strings.Join(selected, "\n\n")
}

// stripNoise drops navigation and footer boilerplate lines and
// collapses menu separators.
func stripNoise(content string) string {
	content = menuSeparatorRe.ReplaceAllString(content, "\n")
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		noisy := false
		for _, re := range noiseLineRes {
			if re.MatchString(line) {
				noisy = true
				break
			}
		}
		if !noisy {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func splitParagraphs(content string) []string {
	var paras []string
	for _, block := range sectionSplitRe.Split(content, -1) {
		if p := strings.TrimSpace(block); p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

func scoreParagraph(p string, keywords []string) float64 {
	lower := strings.ToLower(p)
	score := 0.0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	for _, ind := range benefitIndicators {
		if strings.Contains(lower, ind) {
			score += 0.5
		}
	}
	return score
}
