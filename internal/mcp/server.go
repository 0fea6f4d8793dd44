// Package mcp provides a Model Context Protocol server for cardintel.
//
// It exposes the extracted intelligence corpus (ranked chunk retrieval,
// structured benefit items, store statistics) as MCP tools, and recent
// runs plus pending approvals as MCP resources. Runs over stdio for
// Claude Desktop, Cursor, and other MCP clients.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/index"
	"github.com/hurttlocker/cardintel/internal/search"
	"github.com/hurttlocker/cardintel/internal/store"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store     store.Store
	Retriever *search.Retriever // optional, card_query errors without it
	Index     index.Index       // optional, adds chunk counts to card_stats
	Version   string            // version string for MCP server info
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines.
// SQLite (even with WAL) supports only one writer at a time, and
// concurrent reads during writes can return stale results. A global
// mutex keeps calls ordered: an approval lands before the next stats
// read sees it.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all cardintel tools
// and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"cardintel",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	// Register tools
	registerQueryTool(s, cfg.Retriever)
	registerItemsTool(s, cfg.Store)
	registerStatsTool(s, cfg.Store, cfg.Index)

	// Register resources
	registerStatsResource(s, cfg.Store, cfg.Index)
	registerRunsResource(s, cfg.Store)
	registerApprovalsResource(s, cfg.Store)

	return s
}

// categoryValues enumerates the benefit categories accepted by the
// category parameters.
var categoryValues = []string{
	"reward", "access", "discount", "complimentary", "insurance",
	"service", "fee", "limit", "eligibility", "partner", "promotion",
	"feature", "program", "other",
}

// --- Tools ---

func registerQueryTool(s *server.MCPServer, retr *search.Retriever) {
	tool := mcp.NewTool("card_query",
		mcp.WithDescription("Ask a question about extracted card benefits. Embeds the question, searches the vector index, and returns ranked chunks with card metadata and source provenance. Falls back to identifier matching when the vector path finds nothing for a named card."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Natural-language question about a card's benefits"),
		),
		mcp.WithString("card",
			mcp.Description("Scope results to one card name. Also drives fallback matching when the vector path is empty."),
		),
		mcp.WithString("bank",
			mcp.Description("Scope results to one issuing bank"),
		),
		mcp.WithString("category",
			mcp.Description("Scope results to one benefit category"),
			mcp.Enum(categoryValues...),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of chunks (default: 8, max: 50)"),
		),
		mcp.WithBoolean("hybrid",
			mcp.Description("Fuse keyword and vector rankings with reciprocal rank fusion (default: false)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if retr == nil {
			return mcp.NewToolResultError("card_query requires a configured index and embedder"), nil
		}

		dbMu.Lock()
		defer dbMu.Unlock()

		question, err := req.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError("question is required"), nil
		}

		q := search.Query{Question: question}
		if card, err := req.RequireString("card"); err == nil && card != "" {
			q.CardName = card
		}
		if bank, err := req.RequireString("bank"); err == nil && bank != "" {
			q.BankName = bank
		}
		if cat, err := req.RequireString("category"); err == nil && cat != "" {
			q.Category = string(extract.NormalizeCategory(cat))
		}
		if kVal, err := req.RequireFloat("top_k"); err == nil {
			k := int(kVal)
			if k > 50 {
				k = 50
			}
			if k > 0 {
				q.TopK = k
			}
		}

		hybrid := false
		if h, err := req.RequireString("hybrid"); err == nil {
			hybrid = h == "true"
		}

		var results []search.Result
		if hybrid {
			results, err = retr.Hybrid(ctx, q)
		} else {
			results, err = retr.Retrieve(ctx, q)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query error: %v", err)), nil
		}
		if results == nil {
			results = []search.Result{}
		}

		data, _ := json.MarshalIndent(results, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerItemsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("card_items",
		mcp.WithDescription("List structured intelligence items extracted from card pages, best confidence first. Filter by run, card name, benefit category, or minimum confidence."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("run_id",
			mcp.Description("Limit to one extraction run"),
		),
		mcp.WithString("card",
			mcp.Description("Filter by card name (exact, case-insensitive)"),
		),
		mcp.WithString("category",
			mcp.Description("Filter by benefit category"),
			mcp.Enum(categoryValues...),
		),
		mcp.WithNumber("min_confidence",
			mcp.Description("Only items at or above this confidence (0..1)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of items (default: 50, max: 200)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		f := store.ItemFilter{Limit: 50}
		if id, err := req.RequireString("run_id"); err == nil && id != "" {
			f.RunID = id
		}
		if card, err := req.RequireString("card"); err == nil && card != "" {
			f.CardName = card
		}
		if cat, err := req.RequireString("category"); err == nil && cat != "" {
			f.Category = string(extract.NormalizeCategory(cat))
		}
		if min, err := req.RequireFloat("min_confidence"); err == nil && min > 0 {
			f.MinConfidence = min
		}
		if limitVal, err := req.RequireFloat("limit"); err == nil {
			limit := int(limitVal)
			if limit > 200 {
				limit = 200
			}
			if limit > 0 {
				f.Limit = limit
			}
		}

		items, err := st.ListItems(ctx, f)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing items: %v", err)), nil
		}
		if items == nil {
			items = []extract.IntelligenceItem{}
		}

		data, _ := json.MarshalIndent(items, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, st store.Store, idx index.Index) {
	tool := mcp.NewTool("card_stats",
		mcp.WithDescription("Corpus statistics: run, source, item, and card counts, pending approvals, indexed runs, and database size."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		payload, err := statsPayload(ctx, st, idx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reading stats: %v", err)), nil
		}

		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// statsPayload builds the stats document served by both the card_stats
// tool and the cardintel://stats resource. The index count is included
// only when an index is configured and reachable.
func statsPayload(ctx context.Context, st store.Store, idx index.Index) (map[string]interface{}, error) {
	stats, err := st.Stats(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"runs":              stats.Runs,
		"sources":           stats.Sources,
		"items":             stats.Items,
		"cards":             stats.Cards,
		"pending_approvals": stats.PendingApprovals,
		"indexed_runs":      stats.IndexedRuns,
		"db_size_bytes":     stats.DBSizeBytes,
	}
	if idx != nil {
		if n, err := idx.Count(ctx); err == nil {
			payload["index_chunks"] = n
		}
	}
	return payload, nil
}
