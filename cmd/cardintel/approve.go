package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/store"
)

func runApprove(args []string) error {
	var (
		runID      string
		note       string
		storeFlag  string
		configPath string
		reject     bool
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--note" && i+1 < len(args):
			i++
			note = args[i]
		case strings.HasPrefix(args[i], "--note="):
			note = strings.TrimPrefix(args[i], "--note=")
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
		case args[i] == "--reject":
			reject = true
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			if runID != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			runID = args[i]
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

	ctx := context.Background()

	if runID == "" {
		return listPendingApprovals(ctx, s)
	}

	id, err := resolveRunID(ctx, s, runID)
	if err != nil {
		return err
	}

	a, err := s.GetApproval(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("run %s has no approval record", shortID(id))
	}

	status := store.ApprovalApproved
	if reject {
		status = store.ApprovalRejected
	}
	if err := s.SetApprovalStatus(ctx, id, status, note); err != nil {
		return err
	}

	if reject {
		color.Red("✗ Run %s rejected", shortID(id))
		return nil
	}
	color.Green("✓ Run %s approved", shortID(id))
	fmt.Printf("Index it: cardintel index %s\n", shortID(id))
	return nil
}

func listPendingApprovals(ctx context.Context, s store.Store) error {
	pending, err := s.ListApprovals(ctx, store.ApprovalPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No runs waiting for approval.")
		return nil
	}

	fmt.Printf("%-10s %-30s %-12s %s\n", "RUN", "CARD", "BANK", "CREATED")
	for _, a := range pending {
		fmt.Printf("%-10s %-30s %-12s %s\n",
			shortID(a.RunID), truncate(a.CardName, 30), truncate(a.BankKey, 12),
			a.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Printf("\n%d pending. Approve with: cardintel approve <run-id>\n", len(pending))
	return nil
}
