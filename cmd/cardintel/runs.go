package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hurttlocker/cardintel/internal/config"
)

func runRuns(args []string) error {
	var (
		limit      int
		jsonOut    bool
		storeFlag  string
		configPath string
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--limit" && i+1 < len(args):
			i++
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --limit: %s", args[i])
			}
			limit = n
		case strings.HasPrefix(args[i], "--limit="):
			v := strings.TrimPrefix(args[i], "--limit=")
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid --limit: %s", v)
			}
			limit = n
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

	ctx := context.Background()

	runs, err := s.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	type runRow struct {
		ID         string  `json:"id"`
		CardName   string  `json:"card_name"`
		BankName   string  `json:"bank_name,omitempty"`
		Status     string  `json:"status"`
		Validation string  `json:"validation"`
		Confidence float64 `json:"confidence"`
		Items      int     `json:"items"`
		Approval   string  `json:"approval,omitempty"`
		StartedAt  string  `json:"started_at"`
	}

	rows := make([]runRow, 0, len(runs))
	for _, r := range runs {
		row := runRow{
			ID:         r.ID,
			CardName:   r.CardName,
			BankName:   r.BankName,
			Status:     r.Status,
			Validation: r.Validation,
			Confidence: r.Confidence,
			Items:      r.ItemCount,
			StartedAt:  r.StartedAt.Local().Format("2006-01-02 15:04"),
		}
		if a, err := s.GetApproval(ctx, r.ID); err == nil && a != nil {
			row.Approval = a.Status
		}
		rows = append(rows, row)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No runs yet. Start one with: cardintel extract <url>")
		return nil
	}

	fmt.Printf("%-10s %-26s %-10s %-15s %-5s %-6s %-9s %s\n",
		"RUN", "CARD", "STATUS", "VALIDATION", "CONF", "ITEMS", "APPROVAL", "STARTED")
	for _, row := range rows {
		approval := row.Approval
		if approval == "" {
			approval = "-"
		}
		fmt.Printf("%-10s %-26s %-10s %-15s %-5.2f %-6d %-9s %s\n",
			shortID(row.ID), truncate(row.CardName, 26), row.Status, row.Validation,
			row.Confidence, row.Items, approval, row.StartedAt)
	}
	fmt.Printf("\n%d runs\n", len(rows))
	return nil
}
