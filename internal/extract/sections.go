package extract

import (
	"regexp"
	"sort"
	"strings"
)

// Section is one blank-line-delimited block of page text with its
// benefit-signal score. Start and End are byte offsets into the page
// content the section was cut from.
type Section struct {
	Content       string  `json:"content"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Score         float64 `json:"score"`
	KeywordHits   int     `json:"keyword_hits"`
	HasCurrency   bool    `json:"has_currency"`
	HasPercentage bool    `json:"has_percentage"`
	HasNumbers    bool    `json:"has_numbers"`
	Selected      bool    `json:"selected"`
}

// ScoreConfig tunes section scoring and page relevance.
type ScoreConfig struct {
	Keywords     []string
	BenefitTerms []string
	Negative     []string
	MinLength    int
}

// DefaultScoreConfig returns the scoring vocabulary for card benefit
// pages.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Keywords: []string{
			"cashback", "cash back", "reward", "rewards", "points", "miles",
			"lounge", "airport", "golf", "cinema", "movie", "dining",
			"travel", "insurance", "discount", "offer", "offers",
			"complimentary", "free", "annual fee", "joining fee", "interest",
			"apr", "salary", "minimum spend", "eligibility", "benefit",
			"benefits", "valet", "concierge", "voucher", "membership",
			"waiver", "installment", "balance transfer", "fee", "charges",
			"tariff", "buy 1 get 1", "supplementary card",
		},
		BenefitTerms: []string{
			"lounge", "cashback", "reward", "points", "miles", "insurance",
			"discount",
		},
		Negative: []string{
			"page not found", "404", "under maintenance", "coming soon",
			"access denied",
		},
		MinLength: 30,
	}
}

var (
	sectionSplitRe = regexp.MustCompile(`\n{2,}`)
	amountSignalRe = regexp.MustCompile(`(?i)\d+\s*%|\d+\s*aed|aed\s*\d+`)
	currencyRe     = regexp.MustCompile(`(?i)\b(aed|usd|eur|gbp|dollar|dirham)s?\b|[$€£]`)
	percentRe      = regexp.MustCompile(`\d+(?:\.\d+)?\s*%`)
	digitRe        = regexp.MustCompile(`\d`)
	urlBonusRe     = regexp.MustCompile(`(?i)terms|conditions|key-?facts?|tariff|charges|fees|benefits`)
)

// ScoreSections splits page content on blank lines and scores each
// block for benefit signal. Blocks shorter than MinLength are dropped.
// The result is ordered score desc, then document position.
func ScoreSections(content string, cfg ScoreConfig) []Section {
	if cfg.MinLength == 0 {
		cfg = DefaultScoreConfig()
	}
	var sections []Section
	for _, span := range splitWithOffsets(content) {
		block := content[span[0]:span[1]]
		trimmed := strings.TrimSpace(block)
		if len(trimmed) < cfg.MinLength {
			continue
		}
		s := Section{Content: trimmed, Start: span[0], End: span[1]}
		scoreSection(&s, cfg)
		sections = append(sections, s)
	}
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].Score != sections[j].Score {
			return sections[i].Score > sections[j].Score
		}
		return sections[i].Start < sections[j].Start
	})
	return sections
}

// splitWithOffsets returns [start,end) byte spans of blank-line
// separated blocks.
func splitWithOffsets(content string) [][2]int {
	var spans [][2]int
	seps := sectionSplitRe.FindAllStringIndex(content, -1)
	start := 0
	for _, sep := range seps {
		if sep[0] > start {
			spans = append(spans, [2]int{start, sep[0]})
		}
		start = sep[1]
	}
	if start < len(content) {
		spans = append(spans, [2]int{start, len(content)})
	}
	return spans
}

func scoreSection(s *Section, cfg ScoreConfig) {
	lower := strings.ToLower(s.Content)
	for _, kw := range cfg.Keywords {
		if strings.Contains(lower, kw) {
			s.KeywordHits++
			s.Score++
		}
	}
	if amountSignalRe.MatchString(s.Content) {
		s.Score += 5
	}
	s.HasPercentage = percentRe.MatchString(s.Content)
	s.HasNumbers = digitRe.MatchString(s.Content)
	if currencyRe.MatchString(s.Content) {
		s.HasCurrency = true
		s.Score += 2
	}
	for _, term := range cfg.BenefitTerms {
		if strings.Contains(lower, term) {
			s.Score += 2
		}
	}
}

// Relevance rates how likely a page is to contain card benefit content,
// from its text and URL. Known error-page markers zero the score
// outright; URLs that look like fee or benefit pages get a bonus.
func Relevance(content, url string, cfg ScoreConfig) float64 {
	if cfg.MinLength == 0 {
		cfg = DefaultScoreConfig()
	}
	lower := strings.ToLower(content)
	for _, neg := range cfg.Negative {
		if strings.Contains(lower, neg) {
			return 0.0
		}
	}

	keywordHits, exactHits := 0, 0
	for _, kw := range cfg.Keywords {
		if !strings.Contains(lower, kw) {
			continue
		}
		keywordHits++
		if containsWord(lower, kw) {
			exactHits++
		}
	}

	score := 0.0
	switch {
	case keywordHits >= 5 || exactHits >= 3:
		score = 1.0
	case keywordHits >= 3 || exactHits >= 2:
		score = 0.8
	case keywordHits >= 2:
		score = 0.5
	case keywordHits == 1:
		score = 0.2
	}
	if urlBonusRe.MatchString(url) {
		score += 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// containsWord reports whether kw occurs in lower bounded by
// non-alphanumeric runes (or string edges) on both sides.
func containsWord(lower, kw string) bool {
	for from := 0; ; {
		i := strings.Index(lower[from:], kw)
		if i < 0 {
			return false
		}
		i += from
		before := i == 0 || !isWordByte(lower[i-1])
		end := i + len(kw)
		after := end == len(lower) || !isWordByte(lower[end])
		if before && after {
			return true
		}
		from = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
