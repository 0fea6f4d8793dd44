package ingest

import (
	"time"

	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/store"
)

// Report summarizes one extraction run.
type Report struct {
	RunID          string                   `json:"run_id"`
	CardName       string                   `json:"card_name"`
	BankName       string                   `json:"bank_name"`
	RootURL        string                   `json:"root_url"`
	SourcesFetched int                      `json:"sources_fetched"`
	SourcesSkipped int                      `json:"sources_skipped"`
	SourcesFailed  int                      `json:"sources_failed"`
	Items          int                      `json:"items"`
	ByCategory     map[extract.Category]int `json:"by_category"`
	Confidence     float64                  `json:"confidence"`
	Completeness   float64                  `json:"completeness"`
	Validation     string                   `json:"validation"`
	Errors         []StageError             `json:"errors,omitempty"`
	Duration       time.Duration            `json:"duration"`
}

// StageError is one recovered failure surfaced in the report.
type StageError struct {
	Stage   string `json:"stage"`
	URL     string `json:"url,omitempty"`
	Message string `json:"message"`
}

// finalize scores the finished run and fills the report. Confidence is
// the mean item confidence; completeness is the fraction of coverage
// checks the item set passes.
func (p *Pipeline) finalize(run *store.Run, rep *Report, items []extract.IntelligenceItem, start time.Time) {
	rep.Items = len(items)
	rep.ByCategory = make(map[extract.Category]int)
	for _, it := range items {
		rep.ByCategory[it.Category]++
	}

	rep.Confidence = meanConfidence(items)
	rep.Completeness = completeness(run, items)
	rep.Validation = validation(rep.Confidence, rep.Completeness)
	rep.Duration = time.Since(start)

	now := time.Now().UTC()
	run.Status = store.RunCompleted
	run.Validation = rep.Validation
	run.Confidence = rep.Confidence
	run.Completeness = rep.Completeness
	run.ItemCount = len(items)
	run.SourceCount = rep.SourcesFetched
	run.ErrorCount = len(rep.Errors)
	run.FinishedAt = &now
}

func meanConfidence(items []extract.IntelligenceItem) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, it := range items {
		sum += it.Confidence
	}
	return sum / float64(len(items))
}

// completeness measures coverage of the extracted set against what a
// thorough card profile contains. Each check contributes equally.
func completeness(run *store.Run, items []extract.IntelligenceItem) float64 {
	var headline, fee, eligibility, entities bool
	tags := make(map[string]struct{})
	for _, it := range items {
		if it.Headline {
			headline = true
		}
		if it.Category == extract.CategoryFee {
			fee = true
		}
		if it.Category == extract.CategoryEligibility {
			eligibility = true
		}
		if len(it.Entities) > 0 {
			entities = true
		}
		for _, t := range it.Tags {
			tags[t] = struct{}{}
		}
	}

	checks := []bool{
		run.CardName != "",
		run.BankKey != "",
		len(items) >= 5,
		len(items) >= 10,
		len(items) >= 20,
		headline,
		fee,
		eligibility,
		entities,
		len(tags) >= 5,
	}
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	return float64(passed) / float64(len(checks))
}

// validation assigns the run's review status from its scores.
func validation(confidence, completeness float64) string {
	switch {
	case confidence >= 0.8 && completeness >= 0.7:
		return store.ValidationValidated
	case confidence >= 0.5:
		return store.ValidationReview
	default:
		return store.ValidationPending
	}
}
