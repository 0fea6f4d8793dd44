// Package lifecycle applies housekeeping policies to the extraction
// corpus: runs stuck in processing are failed, approvals nobody
// reviewed expire, and superseded runs are pruned once a card
// accumulates newer completed ones. Every policy supports dry-run and
// reports each action it would take.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/cardintel/internal/store"
)

// Policy defaults. Stuck runs alert after an hour; failing them waits
// a second hour for slow model calls still in flight.
const (
	DefaultStuckAfter  = 2 * time.Hour
	DefaultExpireAfter = 30 * 24 * time.Hour
	DefaultKeepRuns    = 5
)

const scanLimit = 10000

// FailStuckPolicy fails runs left in processing, usually after a
// crashed extraction.
type FailStuckPolicy struct {
	Enabled bool
	After   time.Duration
}

// ExpireApprovalsPolicy rejects approvals that sat pending so long the
// underlying extraction is no longer trustworthy.
type ExpireApprovalsPolicy struct {
	Enabled bool
	After   time.Duration
}

// PruneRunsPolicy deletes a card's oldest completed runs beyond Keep.
// Indexed runs are never pruned; they back live search results.
type PruneRunsPolicy struct {
	Enabled bool
	Keep    int
}

// Policies bundles every housekeeping policy.
type Policies struct {
	FailStuck       FailStuckPolicy
	ExpireApprovals ExpireApprovalsPolicy
	PruneRuns       PruneRunsPolicy
}

// DefaultPolicies enables everything with the package defaults.
func DefaultPolicies() Policies {
	return Policies{
		FailStuck:       FailStuckPolicy{Enabled: true, After: DefaultStuckAfter},
		ExpireApprovals: ExpireApprovalsPolicy{Enabled: true, After: DefaultExpireAfter},
		PruneRuns:       PruneRunsPolicy{Enabled: true, Keep: DefaultKeepRuns},
	}
}

// Action is one change a policy decided on. Applied stays false under
// dry-run and on apply errors.
type Action struct {
	Policy     string `json:"policy"`
	RunID      string `json:"run_id"`
	CardName   string `json:"card_name,omitempty"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`
	Reason     string `json:"reason"`
	Applied    bool   `json:"applied"`
}

// Report summarizes one maintenance pass.
type Report struct {
	DryRun     bool     `json:"dry_run"`
	Scanned    int      `json:"scanned"`
	Applied    int      `json:"applied"`
	Actions    []Action `json:"actions"`
	PolicyRuns struct {
		FailStuck       int `json:"fail_stuck"`
		ExpireApprovals int `json:"expire_approvals"`
		PruneRuns       int `json:"prune_runs"`
	} `json:"policy_runs"`
}

// Runner executes the policies against a store.
type Runner struct {
	st       store.Store
	policies Policies
	now      time.Time
}

func NewRunner(st store.Store, policies Policies) *Runner {
	return &Runner{st: st, policies: policies, now: time.Now().UTC()}
}

// Run evaluates every enabled policy. Under dryRun no store writes
// happen, but the actions report what an apply pass would do.
func (r *Runner) Run(ctx context.Context, dryRun bool) (*Report, error) {
	if err := validatePolicies(r.policies); err != nil {
		return nil, err
	}

	report := &Report{DryRun: dryRun, Actions: make([]Action, 0, 16)}

	if r.policies.FailStuck.Enabled {
		actions, scanned, err := r.applyFailStuck(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		report.Scanned += scanned
		report.PolicyRuns.FailStuck = len(actions)
		report.Actions = append(report.Actions, actions...)
	}

	if r.policies.ExpireApprovals.Enabled {
		actions, scanned, err := r.applyExpireApprovals(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		report.Scanned += scanned
		report.PolicyRuns.ExpireApprovals = len(actions)
		report.Actions = append(report.Actions, actions...)
	}

	if r.policies.PruneRuns.Enabled {
		actions, scanned, err := r.applyPruneRuns(ctx, dryRun)
		if err != nil {
			return nil, err
		}
		report.Scanned += scanned
		report.PolicyRuns.PruneRuns = len(actions)
		report.Actions = append(report.Actions, actions...)
	}

	for _, a := range report.Actions {
		if a.Applied {
			report.Applied++
		}
	}
	return report, nil
}

func (r *Runner) applyFailStuck(ctx context.Context, dryRun bool) ([]Action, int, error) {
	cfg := r.policies.FailStuck
	runs, err := r.st.ListRuns(ctx, scanLimit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing runs for fail-stuck: %w", err)
	}

	var actions []Action
	for _, run := range runs {
		if run.Status != store.RunProcessing {
			continue
		}
		age := r.now.Sub(run.StartedAt)
		if age < cfg.After {
			continue
		}
		act := Action{
			Policy:     "fail-stuck",
			RunID:      run.ID,
			CardName:   run.CardName,
			FromStatus: run.Status,
			ToStatus:   store.RunFailed,
			Reason:     fmt.Sprintf("processing for %s, threshold %s", age.Round(time.Minute), cfg.After),
		}
		if !dryRun {
			updated := *run
			updated.Status = store.RunFailed
			finished := r.now
			updated.FinishedAt = &finished
			if err := r.st.UpdateRun(ctx, &updated); err != nil {
				act.Reason += "; apply_error: " + err.Error()
			} else {
				act.Applied = true
			}
		}
		actions = append(actions, act)
	}
	return actions, len(runs), nil
}

func (r *Runner) applyExpireApprovals(ctx context.Context, dryRun bool) ([]Action, int, error) {
	cfg := r.policies.ExpireApprovals
	approvals, err := r.st.ListApprovals(ctx, store.ApprovalPending)
	if err != nil {
		return nil, 0, fmt.Errorf("listing approvals for expiry: %w", err)
	}

	var actions []Action
	for _, a := range approvals {
		age := r.now.Sub(a.CreatedAt)
		if age < cfg.After {
			continue
		}
		note := fmt.Sprintf("expired after %d days pending", int(age.Hours()/24))
		act := Action{
			Policy:     "expire-approvals",
			RunID:      a.RunID,
			CardName:   a.CardName,
			FromStatus: a.Status,
			ToStatus:   store.ApprovalRejected,
			Reason:     note,
		}
		if !dryRun {
			if err := r.st.SetApprovalStatus(ctx, a.RunID, store.ApprovalRejected, note); err != nil {
				act.Reason += "; apply_error: " + err.Error()
			} else {
				act.Applied = true
			}
		}
		actions = append(actions, act)
	}
	return actions, len(approvals), nil
}

func (r *Runner) applyPruneRuns(ctx context.Context, dryRun bool) ([]Action, int, error) {
	cfg := r.policies.PruneRuns
	runs, err := r.st.ListRuns(ctx, scanLimit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing runs for pruning: %w", err)
	}

	// ListRuns is newest first, so each card's keepers come before its
	// prune candidates.
	completedPerCard := map[string]int{}
	var actions []Action
	for _, run := range runs {
		if run.Status != store.RunCompleted {
			continue
		}
		key := cardKey(run)
		completedPerCard[key]++
		newer := completedPerCard[key] - 1
		if newer < cfg.Keep {
			continue
		}

		approval, err := r.st.GetApproval(ctx, run.ID)
		if err != nil {
			return nil, len(runs), fmt.Errorf("checking approval for run %s: %w", run.ID, err)
		}
		if approval != nil && approval.Status == store.ApprovalIndexed {
			continue
		}

		act := Action{
			Policy:   "prune-runs",
			RunID:    run.ID,
			CardName: run.CardName,
			Reason:   fmt.Sprintf("superseded by %d newer completed run(s), keep %d", newer, cfg.Keep),
		}
		if !dryRun {
			if err := r.st.DeleteRun(ctx, run.ID); err != nil {
				act.Reason += "; apply_error: " + err.Error()
			} else {
				act.Applied = true
			}
		}
		actions = append(actions, act)
	}
	return actions, len(runs), nil
}

func cardKey(r *store.Run) string {
	if strings.TrimSpace(r.CardName) == "" {
		return "url|" + r.RootURL
	}
	return strings.ToLower(r.CardName) + "|" + strings.ToLower(r.BankName)
}

func validatePolicies(p Policies) error {
	if p.FailStuck.Enabled && p.FailStuck.After <= 0 {
		return fmt.Errorf("fail-stuck threshold must be positive, got %s", p.FailStuck.After)
	}
	if p.ExpireApprovals.Enabled && p.ExpireApprovals.After <= 0 {
		return fmt.Errorf("approval expiry must be positive, got %s", p.ExpireApprovals.After)
	}
	if p.PruneRuns.Enabled && p.PruneRuns.Keep < 1 {
		return fmt.Errorf("prune keep count must be at least 1, got %d", p.PruneRuns.Keep)
	}
	return nil
}
