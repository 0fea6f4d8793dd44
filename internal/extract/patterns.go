package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// PatternType identifies a deterministic benefit pattern.
type PatternType string

const (
	PatternAnnualFee       PatternType = "annual_fee"
	PatternJoiningFee      PatternType = "joining_fee"
	PatternFeeWaiver       PatternType = "fee_waiver"
	PatternInterestRate    PatternType = "interest_rate"
	PatternCashback        PatternType = "cashback"
	PatternCashbackCap     PatternType = "cashback_cap"
	PatternMinimumSpend    PatternType = "minimum_spend"
	PatternMinimumSalary   PatternType = "minimum_salary"
	PatternRewardsPoints   PatternType = "rewards_points"
	PatternLoungeAccess    PatternType = "lounge_access"
	PatternDiscount        PatternType = "discount"
	PatternComplimentary   PatternType = "complimentary"
	PatternMovieTickets    PatternType = "movie_tickets"
	PatternGolf            PatternType = "golf"
	PatternInstallmentPlan PatternType = "installment_plan"
)

// DetectedPattern is one regex hit with enough context to audit it.
type DetectedPattern struct {
	Type         PatternType `json:"type"`
	RawText      string      `json:"raw_text"`
	NumericValue *float64    `json:"numeric_value,omitempty"`
	Currency     string      `json:"currency,omitempty"`
	Before       string      `json:"context_before,omitempty"`
	After        string      `json:"context_after,omitempty"`
	SourceURL    string      `json:"source_url"`
}

// RuleError reports a pattern rule that failed to compile. Bad rules
// are skipped, not fatal.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("compiling pattern rule %s: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

type patternRule struct {
	typ  PatternType
	expr string
	re   *regexp.Regexp
}

// ruleSpecs holds one expression per pattern type. Expressions stay as
// source strings so a broken one degrades to a skipped rule instead of
// a panic.
var ruleSpecs = []patternRule{
	{typ: PatternAnnualFee, expr: `(?i)annual\s+(?:membership\s+)?fee[:\s]*(?:of\s+)?(?:(?:aed|usd|eur|gbp)\s*)?[\d,]+(?:\.\d+)?`},
	{typ: PatternJoiningFee, expr: `(?i)(?:joining|setup|first\s+year)\s+fee[:\s]*(?:of\s+)?(?:(?:aed|usd|eur|gbp)\s*)?(?:[\d,]+(?:\.\d+)?|free|waived)`},
	{typ: PatternFeeWaiver, expr: `(?i)fee\s+(?:is\s+)?waived|no\s+annual\s+fee|free\s+for\s+life|zero\s+annual\s+fee|fee\s+waiver`},
	{typ: PatternInterestRate, expr: `(?i)(?:interest|profit)\s+rate[:\s]*(?:of\s+)?[\d.]+\s*%|[\d.]+\s*%\s*(?:per\s+month|p\.?m\.?|per\s+annum|p\.?a\.?|apr)`},
	{typ: PatternCashback, expr: `(?i)(?:up\s+to\s+)?[\d.]+\s*%\s*cash\s?back(?:\s+on\s+[^.!?\n]{0,60})?|cash\s?back\s+(?:of\s+)?(?:up\s+to\s+)?[\d.]+\s*%`},
	{typ: PatternCashbackCap, expr: `(?i)cash\s?back\s+(?:is\s+)?capped\s+at\s+(?:(?:aed|usd|eur|gbp)\s*)?[\d,]+|maximum\s+(?:monthly\s+)?cash\s?back[:\s]*(?:of\s+)?(?:(?:aed|usd|eur|gbp)\s*)?[\d,]+`},
	{typ: PatternMinimumSpend, expr: `(?i)minimum\s+(?:monthly\s+)?spend[:\s]*(?:of\s+)?(?:(?:aed|usd|eur|gbp)\s*)?[\d,]+|spend\s+(?:at\s+least\s+)?(?:(?:aed|usd|eur|gbp)\s*)?[\d,]+\s+(?:or\s+more\s+)?(?:per|a|each)\s+month`},
	{typ: PatternMinimumSalary, expr: `(?i)minimum\s+(?:monthly\s+)?salary[:\s]*(?:of\s+)?(?:(?:aed|usd|eur|gbp)\s*)?[\d,]+|salary\s+(?:of\s+)?(?:(?:aed|usd|eur|gbp)\s*)?[\d,]+\s+(?:or\s+above|and\s+above|or\s+more)`},
	{typ: PatternRewardsPoints, expr: `(?i)(?:earn\s+)?[\d.]+x?\s+(?:reward|bonus|membership|skywards)?\s*(?:points?|miles?)\s+(?:per|on|for\s+every)\s+(?:aed|usd|eur|gbp)?\s*[\d,]*|[\d,]+\s+(?:welcome\s+|bonus\s+)+(?:points?|miles?)`},
	{typ: PatternLoungeAccess, expr: `(?i)(?:unlimited|complimentary|free)\s+(?:airport\s+)?lounge\s+(?:access|visits?)|lounge\s+(?:access|visits?)|\bpriority\s+pass\b`},
	{typ: PatternDiscount, expr: `(?i)(?:up\s+to\s+)?[\d.]+\s*%\s*(?:off|discount)(?:\s+(?:on|at)\s+[^.!?\n]{0,60})?`},
	{typ: PatternComplimentary, expr: `(?i)(?:complimentary|free)\s+(?:valet\s+parking|airport\s+transfers?|cinema\s+tickets?|movie\s+tickets?|golf|spa|gym\s+access|car\s+wash|delivery|supplementary\s+cards?|travel\s+insurance)`},
	{typ: PatternMovieTickets, expr: `(?i)(?:buy\s+1\s+get\s+1|bogo|2\s+for\s+1|free|complimentary)\s+(?:movie|cinema)\s+tickets?|(?:movie|cinema)\s+tickets?\s+(?:offer|free)`},
	{typ: PatternGolf, expr: `(?i)(?:free|complimentary|unlimited)\s+(?:rounds?\s+of\s+)?golf|golf\s+(?:access|privileges|rounds?)`},
	{typ: PatternInstallmentPlan, expr: `(?i)0\s*%\s*(?:easy\s+)?(?:payment|installment)\s+plans?|installment\s+plans?\s+(?:at\s+)?0\s*%|easy\s+payment\s+plans?`},
}

var matchCurrencyRe = regexp.MustCompile(`(?i)\b(aed|usd|eur|gbp)\b`)

// Detector runs the pattern rule set over page text.
type Detector struct {
	rules []patternRule
	log   *slog.Logger
}

// NewDetector compiles the rule set. Rules that fail to compile are
// logged and skipped.
func NewDetector(log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	d := &Detector{log: log}
	for _, spec := range ruleSpecs {
		re, err := regexp.Compile(spec.expr)
		if err != nil {
			ruleErr := &RuleError{Rule: string(spec.typ), Err: err}
			log.Warn("skipping pattern rule", "rule", spec.typ, "error", ruleErr)
			continue
		}
		spec.re = re
		d.rules = append(d.rules, spec)
	}
	return d
}

// Detect returns all pattern hits in text, grouped by type. Hits with
// the same normalized raw text collapse to one per type; the per-type
// slices keep document order.
func (d *Detector) Detect(text, sourceURL string) map[PatternType][]DetectedPattern {
	found := make(map[PatternType][]DetectedPattern)
	seen := make(map[PatternType]map[string]bool)
	for _, rule := range d.rules {
		for _, m := range rule.re.FindAllStringIndex(text, -1) {
			raw := text[m[0]:m[1]]
			key := strings.ToLower(collapseSpace(raw))
			if seen[rule.typ] == nil {
				seen[rule.typ] = make(map[string]bool)
			}
			if seen[rule.typ][key] {
				continue
			}
			seen[rule.typ][key] = true

			p := DetectedPattern{
				Type:         rule.typ,
				RawText:      raw,
				NumericValue: parseNumeric(raw),
				Before:       contextWindow(text, m[0]-50, m[0]),
				After:        contextWindow(text, m[1], m[1]+50),
				SourceURL:    sourceURL,
			}
			if cur := matchCurrencyRe.FindString(raw); cur != "" {
				p.Currency = strings.ToUpper(cur)
			}
			found[rule.typ] = append(found[rule.typ], p)
		}
	}
	return found
}

// contextWindow slices text[from:to] clamped to bounds and rune
// boundaries.
func contextWindow(text string, from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > len(text) {
		to = len(text)
	}
	if from >= to {
		return ""
	}
	for from > 0 && !utf8RuneStart(text[from]) {
		from--
	}
	for to < len(text) && !utf8RuneStart(text[to]) {
		to++
	}
	return text[from:to]
}

var patternCategories = map[PatternType]Category{
	PatternAnnualFee:       CategoryFee,
	PatternJoiningFee:      CategoryFee,
	PatternFeeWaiver:       CategoryFee,
	PatternInterestRate:    CategoryFee,
	PatternCashback:        CategoryReward,
	PatternCashbackCap:     CategoryLimit,
	PatternMinimumSpend:    CategoryEligibility,
	PatternMinimumSalary:   CategoryEligibility,
	PatternRewardsPoints:   CategoryReward,
	PatternLoungeAccess:    CategoryAccess,
	PatternDiscount:        CategoryDiscount,
	PatternComplimentary:   CategoryComplimentary,
	PatternMovieTickets:    CategoryComplimentary,
	PatternGolf:            CategoryAccess,
	PatternInstallmentPlan: CategoryFeature,
}

// ItemFromPattern lifts a regex hit into an intelligence item. The id
// is a pure function of type, normalized text, and source URL, so the
// same hit on a re-crawl maps to the same item.
func ItemFromPattern(p DetectedPattern, extractedAt time.Time) IntelligenceItem {
	title := truncate(collapseSpace(p.RawText), 80)
	it := IntelligenceItem{
		ID:          shortID(string(p.Type), strings.ToLower(collapseSpace(p.RawText)), p.SourceURL),
		Title:       title,
		Description: collapseSpace(p.Before + p.RawText + p.After),
		Category:    patternCategories[p.Type],
		Tags:        []string{string(p.Type)},
		Value:       patternValue(p),
		Sources: []SourceRef{{
			URL:           p.SourceURL,
			ExtractedText: collapseSpace(p.RawText),
			Method:        "pattern",
			Confidence:    confidencePattern,
			ExtractedAt:   extractedAt,
		}},
	}
	it.ensureLists()
	it.Confidence = ScoreConfidence(&it)
	return it
}

func patternValue(p DetectedPattern) *ValueSpec {
	lower := strings.ToLower(p.RawText)
	if strings.Contains(lower, "unlimited") {
		return &ValueSpec{Raw: "unlimited", Type: ValueBoolean}
	}
	if p.NumericValue == nil {
		return nil
	}
	v := &ValueSpec{Raw: collapseSpace(p.RawText), Numeric: p.NumericValue}
	switch {
	case p.Type == PatternRewardsPoints:
		v.Type = ValuePoints
		v.Unit = "points"
	case p.Currency != "":
		v.Type = ValueFixedAmount
		v.Currency = p.Currency
	case strings.Contains(p.RawText, "%"):
		v.Type = ValuePercentage
	default:
		v.Type = ValueCount
	}
	return v
}
