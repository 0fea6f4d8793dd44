package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/hurttlocker/cardintel/internal/config"
	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/observe"
)

// runDiff compares extraction runs. One run id reports conflicts inside
// that run; two ids (or --card, which picks the card's latest two
// completed runs) report what changed between them.
func runDiff(args []string) error {
	var (
		runArgs    []string
		card       string
		jsonOut    bool
		storeFlag  string
		configPath string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--card" && i+1 < len(args):
			i++
			card = args[i]
		case strings.HasPrefix(args[i], "--card="):
			card = strings.TrimPrefix(args[i], "--card=")
		case args[i] == "--json":
			jsonOut = true
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
		case strings.HasPrefix(args[i], "-"):
			return fmt.Errorf("unknown flag: %s", args[i])
		default:
			if len(runArgs) == 2 {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			runArgs = append(runArgs, args[i])
		}
	}

	if card != "" && len(runArgs) > 0 {
		return fmt.Errorf("use run ids or --card, not both")
	}
	if card == "" && len(runArgs) == 0 {
		return fmt.Errorf("usage: cardintel diff <run> [<run>] | --card <name>")
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
	eng := observe.NewEngine(s)

	var oldID, newID string
	switch {
	case card != "":
		runs, err := eng.LatestRuns(ctx, card, 2)
		if err != nil {
			return err
		}
		switch len(runs) {
		case 0:
			return fmt.Errorf("no completed runs for card %q", card)
		case 1:
			if !jsonOut {
				fmt.Printf("Only one completed run for %s; checking it for conflicts.\n\n", card)
			}
			return printConflicts(ctx, eng, runs[0].ID, jsonOut)
		default:
			oldID, newID = runs[1].ID, runs[0].ID
		}
	case len(runArgs) == 1:
		id, err := resolveRunID(ctx, s, runArgs[0])
		if err != nil {
			return err
		}
		return printConflicts(ctx, eng, id, jsonOut)
	default:
		if oldID, err = resolveRunID(ctx, s, runArgs[0]); err != nil {
			return err
		}
		if newID, err = resolveRunID(ctx, s, runArgs[1]); err != nil {
			return err
		}
	}

	diff, err := eng.Diff(ctx, oldID, newID)
	if err != nil {
		return err
	}
	conflicts, err := eng.Conflicts(ctx, newID)
	if err != nil {
		return err
	}

	if jsonOut {
		out := struct {
			Diff      *observe.RunDiff   `json:"diff"`
			Conflicts []observe.Conflict `json:"conflicts,omitempty"`
		}{Diff: diff, Conflicts: conflicts}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	header := fmt.Sprintf("Diff %s -> %s", shortID(oldID), shortID(newID))
	if diff.CardName != "" {
		header += " — " + diff.CardName
	}
	color.Blue("%s", header)
	fmt.Println()

	if len(diff.Added)+len(diff.Removed)+len(diff.Changed) == 0 {
		fmt.Printf("No item changes; %d item(s) unchanged.\n", diff.Unchanged)
	} else {
		if len(diff.Added) > 0 {
			fmt.Printf("Added (%d)\n", len(diff.Added))
			for _, it := range diff.Added {
				fmt.Printf("  + %s\n", itemLine(it))
			}
		}
		if len(diff.Removed) > 0 {
			fmt.Printf("Removed (%d)\n", len(diff.Removed))
			for _, it := range diff.Removed {
				fmt.Printf("  - %s\n", itemLine(it))
			}
		}
		if len(diff.Changed) > 0 {
			fmt.Printf("Changed (%d)\n", len(diff.Changed))
			for _, ch := range diff.Changed {
				fmt.Printf("  ~ %s\n", changeLine(ch))
			}
		}
		fmt.Printf("Unchanged: %d\n", diff.Unchanged)
	}

	if len(conflicts) > 0 {
		fmt.Printf("\nConflicts in %s (%d)\n", shortID(newID), len(conflicts))
		for _, c := range conflicts {
			color.Yellow("⚠ %s", conflictLine(c))
		}
	}
	return nil
}

func printConflicts(ctx context.Context, eng *observe.Engine, runID string, jsonOut bool) error {
	conflicts, err := eng.Conflicts(ctx, runID)
	if err != nil {
		return err
	}
	if jsonOut {
		out := struct {
			RunID     string             `json:"run_id"`
			Conflicts []observe.Conflict `json:"conflicts"`
		}{RunID: runID, Conflicts: conflicts}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if len(conflicts) == 0 {
		fmt.Printf("No conflicting items in run %s.\n", shortID(runID))
		return nil
	}
	fmt.Printf("Conflicts in %s (%d)\n", shortID(runID), len(conflicts))
	for _, c := range conflicts {
		color.Yellow("⚠ %s", conflictLine(c))
	}
	return nil
}

func itemLine(it extract.IntelligenceItem) string {
	line := fmt.Sprintf("%s (%s)", truncate(it.Title, 50), it.Category)
	if v := it.Value.Display(); v != "" {
		line += " " + truncate(v, 30)
	}
	return line
}

func changeLine(ch observe.ItemChange) string {
	line := fmt.Sprintf("%s [%s]", truncate(ch.After.Title, 50), strings.Join(ch.Fields, ","))
	for _, f := range ch.Fields {
		if f == "value" {
			line += fmt.Sprintf(": %q -> %q",
				truncate(ch.Before.Value.Display(), 30), truncate(ch.After.Value.Display(), 30))
			break
		}
	}
	return line
}

func conflictLine(c observe.Conflict) string {
	return fmt.Sprintf("%s (%s): %q vs %q",
		truncate(c.Item1.Title, 50), c.Item1.Category,
		truncate(c.Item1.Value.Display(), 30), truncate(c.Item2.Value.Display(), 30))
}
