package extract

import (
	"testing"
	"time"
)

func TestNewDetectorCompilesAllRules(t *testing.T) {
	d := NewDetector(nil)
	if len(d.rules) != len(ruleSpecs) {
		t.Fatalf("compiled %d rules, want %d", len(d.rules), len(ruleSpecs))
	}
}

func TestDetectBenefitPage(t *testing.T) {
	d := NewDetector(nil)
	text := "Annual fee: AED 500. Enjoy unlimited airport lounge access. 5% cashback on dining."
	found := d.Detect(text, "https://bank.example/card")

	if len(found) != 3 {
		t.Fatalf("detected %d pattern types, want 3: %v", len(found), found)
	}

	fees := found[PatternAnnualFee]
	if len(fees) != 1 {
		t.Fatalf("annual_fee hits = %d, want 1", len(fees))
	}
	if fees[0].Currency != "AED" {
		t.Errorf("annual_fee currency = %q, want AED", fees[0].Currency)
	}
	if fees[0].NumericValue == nil || *fees[0].NumericValue != 500 {
		t.Errorf("annual_fee numeric = %v, want 500", fees[0].NumericValue)
	}

	lounges := found[PatternLoungeAccess]
	if len(lounges) != 1 {
		t.Fatalf("lounge_access hits = %d, want 1", len(lounges))
	}

	cbs := found[PatternCashback]
	if len(cbs) != 1 {
		t.Fatalf("cashback hits = %d, want 1", len(cbs))
	}
	if cbs[0].NumericValue == nil || *cbs[0].NumericValue != 5 {
		t.Errorf("cashback numeric = %v, want 5", cbs[0].NumericValue)
	}
	if cbs[0].Currency != "" {
		t.Errorf("cashback currency = %q, want empty", cbs[0].Currency)
	}
}

func TestDetectTable(t *testing.T) {
	d := NewDetector(nil)
	tests := []struct {
		name string
		text string
		typ  PatternType
		num  float64
	}{
		{"minimum salary", "Minimum salary: AED 10,000 required.", PatternMinimumSalary, 10000},
		{"minimum spend", "Spend AED 3,000 per month to qualify.", PatternMinimumSpend, 3000},
		{"interest rate", "Interest rate: 3.25% applies on balances.", PatternInterestRate, 3.25},
		{"joining fee", "Joining fee: AED 250 for the first card.", PatternJoiningFee, 250},
		{"cashback cap", "Cashback capped at AED 400 per statement.", PatternCashbackCap, 400},
		{"discount", "Get 20% off at partner restaurants.", PatternDiscount, 20},
		{"rewards", "Earn 3 points per AED 1 spent.", PatternRewardsPoints, 3},
	}
	for _, tt := range tests {
		found := d.Detect(tt.text, "https://bank.example/card")
		hits := found[tt.typ]
		if len(hits) == 0 {
			t.Errorf("%s: no %s hit in %q, got %v", tt.name, tt.typ, tt.text, found)
			continue
		}
		if hits[0].NumericValue == nil || *hits[0].NumericValue != tt.num {
			t.Errorf("%s: numeric = %v, want %v", tt.name, hits[0].NumericValue, tt.num)
		}
	}
}

func TestDetectNoNumberPatterns(t *testing.T) {
	d := NewDetector(nil)
	tests := []struct {
		text string
		typ  PatternType
	}{
		{"Annual fee waived for the first year.", PatternFeeWaiver},
		{"Complimentary valet parking at Dubai Mall.", PatternComplimentary},
		{"Buy 1 get 1 movie tickets every weekend.", PatternMovieTickets},
		{"Unlimited golf at Emirates Golf Club.", PatternGolf},
		{"0% easy payment plans at electronics stores.", PatternInstallmentPlan},
	}
	for _, tt := range tests {
		found := d.Detect(tt.text, "https://bank.example/card")
		if len(found[tt.typ]) == 0 {
			t.Errorf("no %s hit in %q, got %v", tt.typ, tt.text, found)
		}
	}
}

func TestDetectDedupesRepeats(t *testing.T) {
	d := NewDetector(nil)
	text := "5% cashback on groceries. 5% cashback on groceries."
	found := d.Detect(text, "https://bank.example/card")
	if got := len(found[PatternCashback]); got != 1 {
		t.Errorf("repeated hit not collapsed, got %d", got)
	}

	text = "5% cashback on dining. 10% cashback on fuel."
	found = d.Detect(text, "https://bank.example/card")
	cbs := found[PatternCashback]
	if len(cbs) != 2 {
		t.Fatalf("distinct hits = %d, want 2", len(cbs))
	}
	if *cbs[0].NumericValue != 5 || *cbs[1].NumericValue != 10 {
		t.Errorf("hits out of document order: %v then %v", *cbs[0].NumericValue, *cbs[1].NumericValue)
	}
}

func TestDetectContextWindows(t *testing.T) {
	d := NewDetector(nil)
	text := "Intro text before the benefit. 5% cashback on dining. Trailing text after."
	found := d.Detect(text, "https://bank.example/card")
	cb := found[PatternCashback][0]
	if cb.Before == "" || cb.After == "" {
		t.Errorf("context windows empty: before %q after %q", cb.Before, cb.After)
	}

	// Short text never panics on window bounds.
	d.Detect("5% cashback", "https://bank.example/card")
}

func TestItemFromPattern(t *testing.T) {
	now := time.Now()
	d := NewDetector(nil)
	text := "Annual fee: AED 500. Enjoy unlimited airport lounge access. 5% cashback on dining."
	found := d.Detect(text, "https://bank.example/card")

	fee := ItemFromPattern(found[PatternAnnualFee][0], now)
	if fee.Category != CategoryFee {
		t.Errorf("fee category = %q", fee.Category)
	}
	if fee.Value == nil || fee.Value.Type != ValueFixedAmount || fee.Value.Currency != "AED" || *fee.Value.Numeric != 500 {
		t.Errorf("fee value = %+v", fee.Value)
	}

	cb := ItemFromPattern(found[PatternCashback][0], now)
	if cb.Category != CategoryReward {
		t.Errorf("cashback category = %q", cb.Category)
	}
	if cb.Value == nil || cb.Value.Type != ValuePercentage || *cb.Value.Numeric != 5 || cb.Value.Currency != "" {
		t.Errorf("cashback value = %+v", cb.Value)
	}

	lounge := ItemFromPattern(found[PatternLoungeAccess][0], now)
	if lounge.Category != CategoryAccess {
		t.Errorf("lounge category = %q", lounge.Category)
	}
	if lounge.Value == nil || lounge.Value.Type != ValueBoolean || lounge.Value.Raw != "unlimited" {
		t.Errorf("lounge value = %+v", lounge.Value)
	}

	for _, it := range []IntelligenceItem{fee, cb, lounge} {
		if len(it.Sources) != 1 || it.Sources[0].Method != "pattern" {
			t.Errorf("%s: sources = %+v", it.Title, it.Sources)
		}
		if it.Confidence < confidencePattern {
			t.Errorf("%s: confidence %v below pattern floor", it.Title, it.Confidence)
		}
		if it.ID == "" || len(it.ID) != 8 {
			t.Errorf("%s: id = %q", it.Title, it.ID)
		}
	}

	// Same hit re-detected yields the same id; a different source does not.
	again := ItemFromPattern(found[PatternCashback][0], now.Add(time.Hour))
	if again.ID != cb.ID {
		t.Error("re-extraction changed item id")
	}
	other := found[PatternCashback][0]
	other.SourceURL = "https://bank.example/other"
	if ItemFromPattern(other, now).ID == cb.ID {
		t.Error("different source produced same item id")
	}
}
