// Package extract turns raw card-benefit text into structured
// intelligence items. The pipeline runs four stages over fetched
// content: section scoring, regex pattern detection, budgeted content
// selection, and model normalization, with deduplication folding the
// results into canonical items. Every item links back to the sources
// it was extracted from.
package extract

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Category classifies what kind of benefit an item describes.
type Category string

const (
	CategoryReward        Category = "reward"
	CategoryAccess        Category = "access"
	CategoryDiscount      Category = "discount"
	CategoryComplimentary Category = "complimentary"
	CategoryInsurance     Category = "insurance"
	CategoryService       Category = "service"
	CategoryFee           Category = "fee"
	CategoryLimit         Category = "limit"
	CategoryEligibility   Category = "eligibility"
	CategoryPartner       Category = "partner"
	CategoryPromotion     Category = "promotion"
	CategoryFeature       Category = "feature"
	CategoryProgram       Category = "program"
	CategoryOther         Category = "other"
)

// Categories lists the closed category vocabulary.
func Categories() []Category {
	return []Category{
		CategoryReward, CategoryAccess, CategoryDiscount, CategoryComplimentary,
		CategoryInsurance, CategoryService, CategoryFee, CategoryLimit,
		CategoryEligibility, CategoryPartner, CategoryPromotion, CategoryFeature,
		CategoryProgram, CategoryOther,
	}
}

// ValueType describes how a benefit value is measured.
type ValueType string

const (
	ValuePercentage  ValueType = "percentage"
	ValueFixedAmount ValueType = "fixed_amount"
	ValuePoints      ValueType = "points"
	ValueMultiplier  ValueType = "multiplier"
	ValueCount       ValueType = "count"
	ValueBoolean     ValueType = "boolean"
	ValueText        ValueType = "text"
	ValueRange       ValueType = "range"
)

// ConditionType describes what gates a benefit.
type ConditionType string

const (
	CondMinimumSpend     ConditionType = "minimum_spend"
	CondMaximumCap       ConditionType = "maximum_cap"
	CondTimePeriod       ConditionType = "time_period"
	CondLocation         ConditionType = "location"
	CondMerchantCategory ConditionType = "merchant_category"
	CondSpecificMerchant ConditionType = "specific_merchant"
	CondCardVariant      ConditionType = "card_variant"
	CondMembershipTier   ConditionType = "membership_tier"
	CondBookingChannel   ConditionType = "booking_channel"
	CondDayOfWeek        ConditionType = "day_of_week"
	CondTransactionType  ConditionType = "transaction_type"
	CondCumulative       ConditionType = "cumulative"
	CondFirstTime        ConditionType = "first_time"
	CondOther            ConditionType = "other"
)

// ValueSpec is a parsed benefit value. Raw always holds the original
// phrasing; the typed fields are best-effort parses of it.
type ValueSpec struct {
	Raw      string    `json:"raw_value"`
	Numeric  *float64  `json:"numeric_value,omitempty"`
	Type     ValueType `json:"value_type"`
	Currency string    `json:"currency,omitempty"`
	Unit     string    `json:"unit,omitempty"`
	Min      *float64  `json:"min_value,omitempty"`
	Max      *float64  `json:"max_value,omitempty"`
}

// Condition is a restriction attached to an item.
type Condition struct {
	Type        ConditionType `json:"type"`
	Description string        `json:"description"`
	Value       string        `json:"value,omitempty"`
	Operator    string        `json:"operator,omitempty"`
	Currency    string        `json:"currency,omitempty"`
	TimeUnit    string        `json:"time_unit,omitempty"`
}

// Entity is a merchant, partner, or program referenced by an item.
type Entity struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
}

// SourceRef records where and how an item was extracted.
type SourceRef struct {
	URL           string    `json:"url"`
	Section       string    `json:"section,omitempty"`
	ExtractedText string    `json:"extracted_text,omitempty"`
	Method        string    `json:"extraction_method"`
	Confidence    float64   `json:"confidence"`
	ExtractedAt   time.Time `json:"extracted_at"`
}

// IntelligenceItem is one canonical card benefit. List fields are never
// nil after construction.
type IntelligenceItem struct {
	ID                 string      `json:"item_id"`
	Title              string      `json:"title"`
	Description        string      `json:"description,omitempty"`
	Category           Category    `json:"category"`
	Tags               []string    `json:"tags"`
	Value              *ValueSpec  `json:"value,omitempty"`
	Conditions         []Condition `json:"conditions"`
	Entities           []Entity    `json:"entities"`
	RelatedIDs         []string    `json:"related_items"`
	ParentID           string      `json:"parent_item,omitempty"`
	Sources            []SourceRef `json:"sources"`
	Headline           bool        `json:"is_headline"`
	RequiresEnrollment bool        `json:"requires_enrollment"`
	Promotional        bool        `json:"is_promotional"`
	Conditional        bool        `json:"is_conditional"`
	Confidence         float64     `json:"confidence"`
}

// ensureLists replaces nil list fields with empty slices so persisted
// and serialized items never carry nulls.
func (it *IntelligenceItem) ensureLists() {
	if it.Tags == nil {
		it.Tags = []string{}
	}
	if it.Conditions == nil {
		it.Conditions = []Condition{}
	}
	if it.Entities == nil {
		it.Entities = []Entity{}
	}
	if it.RelatedIDs == nil {
		it.RelatedIDs = []string{}
	}
	if it.Sources == nil {
		it.Sources = []SourceRef{}
	}
}

// Vocabulary normalization tables. Each is an ordered substring scan:
// first match wins, more specific entries come first, anything
// unmatched lands on the catch-all.

var categoryTable = []struct {
	substr string
	cat    Category
}{
	{"insurance", CategoryInsurance},
	{"takaful", CategoryInsurance},
	{"protection", CategoryInsurance},
	{"cover", CategoryInsurance},
	{"cashback", CategoryReward},
	{"cash back", CategoryReward},
	{"reward", CategoryReward},
	{"point", CategoryReward},
	{"mile", CategoryReward},
	{"lounge", CategoryAccess},
	{"golf", CategoryAccess},
	{"access", CategoryAccess},
	{"entry", CategoryAccess},
	{"complimentary", CategoryComplimentary},
	{"free", CategoryComplimentary},
	{"discount", CategoryDiscount},
	{"% off", CategoryDiscount},
	{"promo", CategoryPromotion},
	{"limited time", CategoryPromotion},
	{"offer", CategoryPromotion},
	{"fee", CategoryFee},
	{"charge", CategoryFee},
	{"tariff", CategoryFee},
	{"rate", CategoryFee},
	{"cap", CategoryLimit},
	{"limit", CategoryLimit},
	{"maximum", CategoryLimit},
	{"eligib", CategoryEligibility},
	{"salary", CategoryEligibility},
	{"requirement", CategoryEligibility},
	{"partner", CategoryPartner},
	{"merchant", CategoryPartner},
	{"concierge", CategoryService},
	{"valet", CategoryService},
	{"assistance", CategoryService},
	{"service", CategoryService},
	{"program", CategoryProgram},
	{"membership", CategoryProgram},
	{"tier", CategoryProgram},
	{"feature", CategoryFeature},
	{"benefit", CategoryFeature},
}

// NormalizeCategory maps free-form model output onto the closed
// category vocabulary.
func NormalizeCategory(raw string) Category {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return CategoryOther
	}
	for _, c := range Categories() {
		if v == string(c) {
			return c
		}
	}
	for _, e := range categoryTable {
		if strings.Contains(v, e.substr) {
			return e.cat
		}
	}
	return CategoryOther
}

var valueTypeTable = []struct {
	substr string
	typ    ValueType
}{
	{"percent", ValuePercentage},
	{"%", ValuePercentage},
	{"fixed", ValueFixedAmount},
	{"amount", ValueFixedAmount},
	{"aed", ValueFixedAmount},
	{"currency", ValueFixedAmount},
	{"point", ValuePoints},
	{"mile", ValuePoints},
	{"multiplier", ValueMultiplier},
	{"times", ValueMultiplier},
	{"range", ValueRange},
	{"count", ValueCount},
	{"visit", ValueCount},
	{"number", ValueCount},
	{"bool", ValueBoolean},
	{"unlimited", ValueBoolean},
	{"yes", ValueBoolean},
}

// NormalizeValueType maps free-form value type strings onto the closed
// vocabulary, defaulting to text.
func NormalizeValueType(raw string) ValueType {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return ValueText
	}
	for _, t := range []ValueType{
		ValuePercentage, ValueFixedAmount, ValuePoints, ValueMultiplier,
		ValueCount, ValueBoolean, ValueText, ValueRange,
	} {
		if v == string(t) {
			return t
		}
	}
	for _, e := range valueTypeTable {
		if strings.Contains(v, e.substr) {
			return e.typ
		}
	}
	return ValueText
}

var conditionTypeTable = []struct {
	substr string
	typ    ConditionType
}{
	{"minimum spend", CondMinimumSpend},
	{"min spend", CondMinimumSpend},
	{"spend", CondMinimumSpend},
	{"cap", CondMaximumCap},
	{"maximum", CondMaximumCap},
	{"max", CondMaximumCap},
	{"first", CondFirstTime},
	{"new customer", CondFirstTime},
	{"cumulative", CondCumulative},
	{"total", CondCumulative},
	{"per month", CondTimePeriod},
	{"per year", CondTimePeriod},
	{"month", CondTimePeriod},
	{"quarter", CondTimePeriod},
	{"year", CondTimePeriod},
	{"period", CondTimePeriod},
	{"weekend", CondDayOfWeek},
	{"weekday", CondDayOfWeek},
	{"day", CondDayOfWeek},
	{"booking", CondBookingChannel},
	{"channel", CondBookingChannel},
	{"app", CondBookingChannel},
	{"tier", CondMembershipTier},
	{"membership", CondMembershipTier},
	{"variant", CondCardVariant},
	{"card type", CondCardVariant},
	{"merchant categor", CondMerchantCategory},
	{"categor", CondMerchantCategory},
	{"merchant", CondSpecificMerchant},
	{"location", CondLocation},
	{"country", CondLocation},
	{"uae", CondLocation},
	{"international", CondTransactionType},
	{"online", CondTransactionType},
	{"transaction", CondTransactionType},
}

// NormalizeConditionType maps free-form condition types onto the closed
// vocabulary.
func NormalizeConditionType(raw string) ConditionType {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return CondOther
	}
	for _, t := range []ConditionType{
		CondMinimumSpend, CondMaximumCap, CondTimePeriod, CondLocation,
		CondMerchantCategory, CondSpecificMerchant, CondCardVariant,
		CondMembershipTier, CondBookingChannel, CondDayOfWeek,
		CondTransactionType, CondCumulative, CondFirstTime, CondOther,
	} {
		if v == string(t) {
			return t
		}
	}
	for _, e := range conditionTypeTable {
		if strings.Contains(v, e.substr) {
			return e.typ
		}
	}
	return CondOther
}

var timeUnitTable = []struct {
	substr string
	unit   string
}{
	{"annual", "yearly"},
	{"year", "yearly"},
	{"quarter", "quarterly"},
	{"month", "monthly"},
	{"week", "weekly"},
	{"daily", "daily"},
	{"day", "daily"},
	{"transaction", "per_transaction"},
	{"once", "one_time"},
	{"one time", "one_time"},
	{"one-time", "one_time"},
}

// NormalizeTimeUnit maps a frequency phrase onto the closed time-unit
// vocabulary; blank input stays blank.
func NormalizeTimeUnit(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return ""
	}
	for _, u := range []string{"yearly", "quarterly", "monthly", "weekly", "daily", "per_transaction", "one_time"} {
		if v == u {
			return u
		}
	}
	for _, e := range timeUnitTable {
		if strings.Contains(v, e.substr) {
			return e.unit
		}
	}
	return "other"
}

// Extraction method base confidence. Items merged from both model and
// pattern output score highest; bare pattern hits lowest.
const (
	confidenceMerged  = 0.75
	confidenceLLM     = 0.70
	confidencePattern = 0.60
)

// ScoreConfidence computes an item's confidence from its extraction
// methods and structural completeness, capped at 1.0.
func ScoreConfidence(it *IntelligenceItem) float64 {
	score := 0.0
	hasLLM, hasPattern := false, false
	for _, src := range it.Sources {
		if src.Confidence > score {
			score = src.Confidence
		}
		switch src.Method {
		case "llm":
			hasLLM = true
		case "pattern":
			hasPattern = true
		}
	}

	floor := confidencePattern
	switch {
	case hasLLM && hasPattern:
		floor = confidenceMerged
	case hasLLM:
		floor = confidenceLLM
	}
	if score < floor {
		score = floor
	}

	if it.Value != nil {
		score += 0.05
		if it.Value.Numeric != nil {
			score += 0.05
		}
	}
	if len(it.Conditions) > 0 {
		score += 0.05
	}
	for _, e := range it.Entities {
		t := strings.ToLower(e.Type)
		if t == "merchant" || t == "partner" {
			score += 0.05
			break
		}
	}
	if len(it.Description) > 50 {
		score += 0.05
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ConfidenceLevel buckets a confidence score.
func ConfidenceLevel(score float64) string {
	switch {
	case score >= 0.8:
		return "high"
	case score >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

var numberRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// parseNumeric pulls the first number out of a phrase, commas stripped.
func parseNumeric(s string) *float64 {
	m := numberRe.FindString(s)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

// Display renders the value for human output: the raw capture when
// present, otherwise composed from the parsed fields.
func (v *ValueSpec) Display() string {
	if v == nil {
		return ""
	}
	if v.Raw != "" {
		return v.Raw
	}
	if v.Type == ValueRange && v.Min != nil && v.Max != nil {
		return formatNumeric(*v.Min) + " to " + formatNumeric(*v.Max)
	}
	if v.Numeric == nil {
		return ""
	}
	n := formatNumeric(*v.Numeric)
	switch v.Type {
	case ValuePercentage:
		return n + "%"
	case ValueFixedAmount:
		if v.Currency != "" {
			return strings.ToUpper(v.Currency) + " " + n
		}
		return n
	case ValuePoints:
		if v.Unit != "" {
			return n + " " + v.Unit
		}
		return n + " points"
	case ValueMultiplier:
		return n + "x"
	default:
		return n
	}
}

// formatNumeric renders a parsed number without a trailing ".0".
func formatNumeric(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// shortID derives a stable 8-hex-char id from the given parts.
func shortID(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum(nil))[:8]
}

// collapseSpace trims and collapses runs of whitespace to single spaces.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimRight(b.String(), " ")
}

// truncate caps a string at n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// SortItems orders items confidence desc, then id asc, the display and
// persistence order used everywhere.
func SortItems(items []IntelligenceItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Confidence != items[j].Confidence {
			return items[i].Confidence > items[j].Confidence
		}
		return items[i].ID < items[j].ID
	})
}
