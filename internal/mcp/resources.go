package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hurttlocker/cardintel/internal/index"
	"github.com/hurttlocker/cardintel/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerStatsResource(s *server.MCPServer, st store.Store, idx index.Index) {
	resource := mcp.NewResource(
		"cardintel://stats",
		"Corpus Statistics",
		mcp.WithResourceDescription("Run, source, item, and card counts, pending approvals, indexed runs, and database size."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		payload, err := statsPayload(ctx, st, idx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerRunsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"cardintel://runs/recent",
		"Recent Extraction Runs",
		mcp.WithResourceDescription("The 20 most recent extraction runs with their validation scores."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		runs, err := st.ListRuns(ctx, 20)
		if err != nil {
			return nil, fmt.Errorf("listing recent runs: %w", err)
		}

		type recentRun struct {
			ID         string  `json:"id"`
			CardName   string  `json:"card_name"`
			BankName   string  `json:"bank_name,omitempty"`
			Status     string  `json:"status"`
			Validation string  `json:"validation"`
			Confidence float64 `json:"confidence"`
			Items      int     `json:"items"`
			StartedAt  string  `json:"started_at"`
		}
		recent := make([]recentRun, 0, len(runs))
		for _, r := range runs {
			recent = append(recent, recentRun{
				ID:         r.ID,
				CardName:   r.CardName,
				BankName:   r.BankName,
				Status:     r.Status,
				Validation: r.Validation,
				Confidence: r.Confidence,
				Items:      r.ItemCount,
				StartedAt:  r.StartedAt.Format(time.RFC3339),
			})
		}

		data, _ := json.MarshalIndent(recent, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func registerApprovalsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"cardintel://approvals/pending",
		"Pending Approvals",
		mcp.WithResourceDescription("Runs waiting for review before their content can be indexed."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		approvals, err := st.ListApprovals(ctx, store.ApprovalPending)
		if err != nil {
			return nil, fmt.Errorf("listing pending approvals: %w", err)
		}

		type pendingApproval struct {
			RunID     string `json:"run_id"`
			CardName  string `json:"card_name"`
			BankKey   string `json:"bank_key,omitempty"`
			CreatedAt string `json:"created_at"`
		}
		pending := make([]pendingApproval, 0, len(approvals))
		for _, a := range approvals {
			pending = append(pending, pendingApproval{
				RunID:     a.RunID,
				CardName:  a.CardName,
				BankKey:   a.BankKey,
				CreatedAt: a.CreatedAt.Format(time.RFC3339),
			})
		}

		payload := map[string]interface{}{
			"approvals": pending,
			"count":     len(pending),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
