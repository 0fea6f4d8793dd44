package bench

import (
	"fmt"

	"github.com/hurttlocker/cardintel/internal/extract"
)

// Contract floors. A model that cannot clear these on a fixture it was
// handed verbatim will not survive real bank pages.
const (
	minItems         = 3
	minAvgConfidence = 0.5
)

// CheckContract lists what a normalization run failed to deliver. An
// empty result is a pass.
func CheckContract(items []extract.IntelligenceItem, expect []extract.Category) []string {
	if len(items) == 0 {
		return []string{"no items extracted"}
	}

	var violations []string
	if len(items) < minItems {
		violations = append(violations,
			fmt.Sprintf("only %d item(s) extracted, want at least %d", len(items), minItems))
	}

	found := make(map[extract.Category]bool, len(items))
	valued := 0
	var confSum float64
	for _, it := range items {
		found[it.Category] = true
		if it.Value.Display() != "" {
			valued++
		}
		confSum += it.Confidence
	}

	for _, c := range expect {
		if !found[c] {
			violations = append(violations, fmt.Sprintf("no %s item extracted", c))
		}
	}
	if valued == 0 {
		violations = append(violations, "no item carries a value")
	}
	if avg := confSum / float64(len(items)); avg < minAvgConfidence {
		violations = append(violations,
			fmt.Sprintf("average confidence %.2f below %.2f", avg, minAvgConfidence))
	}
	return violations
}
