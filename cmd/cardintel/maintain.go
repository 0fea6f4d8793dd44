package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/lifecycle"
)

// runMaintain applies the lifecycle policies to the store and vacuums
// it when runs were pruned.
func runMaintain(args []string) error {
	var (
		dryRun     bool
		vacuum     bool
		jsonOut    bool
		keep       int
		stuckHours int
		expireDays int
		storeFlag  string
		configPath string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--keep" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid --keep: %s", args[i])
			}
			keep = n
		case strings.HasPrefix(args[i], "--keep="):
			v := strings.TrimPrefix(args[i], "--keep=")
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid --keep: %s", v)
			}
			keep = n
		case args[i] == "--stuck-after" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid --stuck-after: %s", args[i])
			}
			stuckHours = n
		case strings.HasPrefix(args[i], "--stuck-after="):
			v := strings.TrimPrefix(args[i], "--stuck-after=")
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid --stuck-after: %s", v)
			}
			stuckHours = n
		case args[i] == "--expire-after" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 1 {
				return fmt.Errorf("invalid --expire-after: %s", args[i])
			}
			expireDays = n
		case strings.HasPrefix(args[i], "--expire-after="):
			v := strings.TrimPrefix(args[i], "--expire-after=")
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid --expire-after: %s", v)
			}
			expireDays = n
		case args[i] == "--store" && i+1 < len(args):
			i++
			storeFlag = args[i]
		case strings.HasPrefix(args[i], "--store="):
			storeFlag = strings.TrimPrefix(args[i], "--store=")
		case args[i] == "--config" && i+1 < len(args):
			i++
			configPath = args[i]
		case strings.HasPrefix(args[i], "--config="):
			configPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--dry-run":
			dryRun = true
		case args[i] == "--vacuum":
			vacuum = true
		case args[i] == "--json":
			jsonOut = true
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}

	cfg, err := config.ResolveConfig(config.ResolveOptions{
		ConfigPath: configPath,
		CLIStore:   storeFlag,
	})
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	policies := lifecycle.DefaultPolicies()
	if keep > 0 {
		policies.PruneRuns.Keep = keep
	}
	if stuckHours > 0 {
		policies.FailStuck.After = time.Duration(stuckHours) * time.Hour
	}
	if expireDays > 0 {
		policies.ExpireApprovals.After = time.Duration(expireDays) * 24 * time.Hour
	}

	ctx := context.Background()
	rep, err := lifecycle.NewRunner(s, policies).Run(ctx, dryRun)
	if err != nil {
		return err
	}

	pruned := 0
	for _, a := range rep.Actions {
		if a.Policy == "prune-runs" && a.Applied {
			pruned++
		}
	}
	if !dryRun && (vacuum || pruned > 0) {
		if err := s.Vacuum(ctx); err != nil {
			return fmt.Errorf("vacuuming store: %w", err)
		}
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	if dryRun {
		color.Yellow("Dry run — no changes applied")
	}
	if len(rep.Actions) == 0 {
		fmt.Printf("Nothing to do; %d record(s) scanned.\n", rep.Scanned)
		return nil
	}

	fmt.Printf("%d action(s), %d applied:\n\n", len(rep.Actions), rep.Applied)
	for _, a := range rep.Actions {
		fmt.Printf("  %-18s %-10s %s\n", a.Policy, shortID(a.RunID), a.Reason)
	}
	if !dryRun && (vacuum || pruned > 0) {
		fmt.Println("\nStore vacuumed.")
	}
	return nil
}
