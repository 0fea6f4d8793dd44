package ingest

import (
	"fmt"
	"testing"

	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/store"
)

func TestValidation(t *testing.T) {
	tests := []struct {
		confidence   float64
		completeness float64
		want         string
	}{
		{0.9, 0.8, store.ValidationValidated},
		{0.8, 0.7, store.ValidationValidated},
		{0.85, 0.5, store.ValidationReview},
		{0.6, 0.9, store.ValidationReview},
		{0.5, 0.0, store.ValidationReview},
		{0.4, 1.0, store.ValidationPending},
		{0.0, 0.0, store.ValidationPending},
	}
	for _, tt := range tests {
		if got := validation(tt.confidence, tt.completeness); got != tt.want {
			t.Errorf("validation(%.2f, %.2f) = %q, want %q", tt.confidence, tt.completeness, got, tt.want)
		}
	}
}

func TestMeanConfidence(t *testing.T) {
	if got := meanConfidence(nil); got != 0 {
		t.Errorf("meanConfidence(nil) = %v, want 0", got)
	}
	items := []extract.IntelligenceItem{{Confidence: 0.5}, {Confidence: 1.0}}
	if got := meanConfidence(items); got != 0.75 {
		t.Errorf("meanConfidence = %v, want 0.75", got)
	}
}

func TestCompleteness(t *testing.T) {
	identified := &store.Run{CardName: "Platinum Cashback Card", BankKey: "fab"}

	t.Run("empty run", func(t *testing.T) {
		if got := completeness(identified, nil); got != 0.2 {
			t.Errorf("completeness = %v, want 0.2 for identification alone", got)
		}
	})

	t.Run("unidentified sparse run", func(t *testing.T) {
		items := make([]extract.IntelligenceItem, 6)
		if got := completeness(&store.Run{}, items); got != 0.1 {
			t.Errorf("completeness = %v, want 0.1", got)
		}
	})

	t.Run("thorough run", func(t *testing.T) {
		var items []extract.IntelligenceItem
		for i := 0; i < 20; i++ {
			items = append(items, extract.IntelligenceItem{
				Title: fmt.Sprintf("Benefit %d", i),
				Tags:  []string{fmt.Sprintf("tag-%d", i%6)},
			})
		}
		items[0].Headline = true
		items[1].Category = extract.CategoryFee
		items[2].Category = extract.CategoryEligibility
		items[3].Entities = []extract.Entity{{Name: "Careem", Type: "merchant"}}
		if got := completeness(identified, items); got != 1.0 {
			t.Errorf("completeness = %v, want 1.0", got)
		}
	})
}
