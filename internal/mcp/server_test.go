package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hurttlocker/cardintel/internal/chunk"
	"github.com/hurttlocker/cardintel/internal/extract"
	"github.com/hurttlocker/cardintel/internal/index"
	"github.com/hurttlocker/cardintel/internal/search"
	"github.com/hurttlocker/cardintel/internal/store"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// helper: create a test store with one finished run
func setupTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}

	ctx := context.Background()

	run := &store.Run{
		ID:       "run-1",
		CardName: "FAB Cashback Card",
		BankName: "First Abu Dhabi Bank",
		BankKey:  "fab",
		Network:  "mastercard",
		Tier:     "platinum",
		RootURL:  "https://bank.example/cards/cashback",
		Status:   store.RunCompleted,
	}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("creating test run: %v", err)
	}

	items := []extract.IntelligenceItem{
		{ID: "itm-1", Title: "5% Dining Cashback", Description: "Earn 5% back on dining spend at partner restaurants.", Category: extract.CategoryReward, Confidence: 0.9, Headline: true},
		{ID: "itm-2", Title: "Airport lounge access", Description: "Unlimited access to participating airport lounges worldwide.", Category: extract.CategoryAccess, Confidence: 0.8},
		{ID: "itm-3", Title: "Annual fee", Description: "AED 315 annual membership fee.", Category: extract.CategoryFee, Confidence: 0.6},
	}
	if err := s.AddItems(ctx, run.ID, items); err != nil {
		t.Fatalf("adding test items: %v", err)
	}

	approval := &store.Approval{RunID: run.ID, CardName: run.CardName, BankKey: run.BankKey}
	if err := s.CreateApproval(ctx, approval); err != nil {
		t.Fatalf("creating test approval: %v", err)
	}

	return s
}

// topicVector maps text onto one of three orthogonal directions so
// tests can steer which chunk ranks first.
func topicVector(text string) []float32 {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "lounge"):
		return []float32{0, 1, 0}
	case strings.Contains(t, "cashback"):
		return []float32{0, 0, 1}
	default:
		return []float32{1, 0, 0}
	}
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return topicVector(text), nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, txt := range texts {
		out[i] = topicVector(txt)
	}
	return out, nil
}

func (stubEmbedder) Dimensions() int { return 3 }

// helper: create a seeded in-process index and a retriever over it
func setupTestRetriever(t *testing.T) (*search.Retriever, *index.Memory) {
	t.Helper()

	meta := func(pageType string, categories ...string) chunk.Metadata {
		return chunk.Metadata{
			SourceURL:  "https://bank.example/cards/cashback/" + pageType,
			CardName:   "FAB Cashback Card",
			BankName:   "First Abu Dhabi Bank",
			PageType:   pageType,
			Categories: categories,
		}
	}
	chunks := []chunk.Chunk{
		{ID: "c-dining", Text: "Earn 5% cashback on dining spend at partner restaurants every month.", Metadata: meta("benefits", "reward")},
		{ID: "c-lounge", Text: "Complimentary airport lounge access for the cardholder and one guest.", Metadata: meta("benefits", "access")},
		{ID: "c-fees", Text: "An annual membership charge of AED 315 applies from the second year.", Metadata: meta("fees", "fee")},
	}
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vectors[i] = topicVector(c.Text)
	}

	idx := index.NewMemory()
	if err := idx.Upsert(context.Background(), chunks, vectors); err != nil {
		t.Fatalf("seeding test index: %v", err)
	}
	return search.NewRetriever(idx, stubEmbedder{}, search.DefaultConfig(), nil), idx
}

func TestNewServer(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	srv := NewServer(ServerConfig{Store: s})
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
}

// callTool is a helper that invokes an MCP tool through the server's
// JSON-RPC message handler.
func callTool(t *testing.T, srv *server.MCPServer, name string, args map[string]interface{}) *mcplib.CallToolResult {
	t.Helper()

	result := srv.HandleMessage(context.Background(), mustMarshal(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      name,
			"arguments": args,
		},
	}))

	// Parse the JSON-RPC response
	respBytes, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, string(respBytes))
	}

	if resp.Error != nil {
		t.Fatalf("JSON-RPC error: %d %s", resp.Error.Code, resp.Error.Message)
	}

	callResult := &mcplib.CallToolResult{
		IsError: resp.Result.IsError,
	}
	for _, c := range resp.Result.Content {
		if c.Type == "text" {
			callResult.Content = append(callResult.Content, mcplib.NewTextContent(c.Text))
		}
	}

	return callResult
}

func mustMarshal(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func getTextContent(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content found")
	return ""
}

func TestQueryTool(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	retr, idx := setupTestRetriever(t)

	srv := NewServer(ServerConfig{Store: s, Retriever: retr, Index: idx})

	result := callTool(t, srv, "card_query", map[string]interface{}{
		"question": "what lounge access does the card include",
	})

	text := getTextContent(t, result)
	var results []search.Result
	if err := json.Unmarshal([]byte(text), &results); err != nil {
		t.Fatalf("parsing query results: %v", err)
	}

	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Chunk.ID != "c-lounge" {
		t.Errorf("top chunk = %s, want c-lounge", results[0].Chunk.ID)
	}
	if results[0].Strategy != search.StrategyVector {
		t.Errorf("strategy = %s, want %s", results[0].Strategy, search.StrategyVector)
	}
}

func TestQueryToolCategoryFilter(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	retr, idx := setupTestRetriever(t)

	srv := NewServer(ServerConfig{Store: s, Retriever: retr, Index: idx})

	// "lounge" is an alias; the filter should normalize it to access.
	result := callTool(t, srv, "card_query", map[string]interface{}{
		"question": "lounge benefits",
		"category": "lounge",
	})

	text := getTextContent(t, result)
	var results []search.Result
	if err := json.Unmarshal([]byte(text), &results); err != nil {
		t.Fatalf("parsing query results: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 category-filtered result, got %d", len(results))
	}
	if results[0].Chunk.ID != "c-lounge" {
		t.Errorf("filtered chunk = %s, want c-lounge", results[0].Chunk.ID)
	}
}

func TestQueryToolHybrid(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	retr, idx := setupTestRetriever(t)

	srv := NewServer(ServerConfig{Store: s, Retriever: retr, Index: idx})

	result := callTool(t, srv, "card_query", map[string]interface{}{
		"question": "cashback dining",
		"hybrid":   "true",
		"top_k":    float64(2),
	})

	text := getTextContent(t, result)
	var results []search.Result
	if err := json.Unmarshal([]byte(text), &results); err != nil {
		t.Fatalf("parsing query results: %v", err)
	}

	if len(results) == 0 || len(results) > 2 {
		t.Fatalf("expected 1-2 fused results, got %d", len(results))
	}
	if results[0].Chunk.ID != "c-dining" {
		t.Errorf("top fused chunk = %s, want c-dining", results[0].Chunk.ID)
	}
	if results[0].Strategy != search.StrategyRRF {
		t.Errorf("strategy = %s, want %s", results[0].Strategy, search.StrategyRRF)
	}
}

func TestQueryToolMissingQuestion(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	retr, idx := setupTestRetriever(t)

	srv := NewServer(ServerConfig{Store: s, Retriever: retr, Index: idx})

	result := callTool(t, srv, "card_query", map[string]interface{}{})
	if !result.IsError {
		t.Error("expected error for missing question")
	}
}

func TestQueryToolWithoutRetriever(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	srv := NewServer(ServerConfig{Store: s})

	result := callTool(t, srv, "card_query", map[string]interface{}{
		"question": "any lounge access",
	})
	if !result.IsError {
		t.Error("expected error when no retriever is configured")
	}
}

func TestItemsTool(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	srv := NewServer(ServerConfig{Store: s})

	result := callTool(t, srv, "card_items", map[string]interface{}{})

	text := getTextContent(t, result)
	var items []extract.IntelligenceItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		t.Fatalf("parsing items: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	// Highest confidence first
	if items[0].Title != "5% Dining Cashback" {
		t.Errorf("first item = %q, want the headline cashback item", items[0].Title)
	}
}

func TestItemsToolCategoryFilter(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	srv := NewServer(ServerConfig{Store: s})

	// "fees" is an alias; the filter should normalize it to fee.
	result := callTool(t, srv, "card_items", map[string]interface{}{
		"category": "fees",
	})

	text := getTextContent(t, result)
	var items []extract.IntelligenceItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		t.Fatalf("parsing items: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("expected 1 fee item, got %d", len(items))
	}
	if items[0].Title != "Annual fee" {
		t.Errorf("fee item = %q, want Annual fee", items[0].Title)
	}
}

func TestItemsToolMinConfidence(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	srv := NewServer(ServerConfig{Store: s})

	result := callTool(t, srv, "card_items", map[string]interface{}{
		"min_confidence": 0.7,
	})

	text := getTextContent(t, result)
	var items []extract.IntelligenceItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		t.Fatalf("parsing items: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items at confidence >= 0.7, got %d", len(items))
	}
}

func TestItemsToolUnknownRun(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	srv := NewServer(ServerConfig{Store: s})

	result := callTool(t, srv, "card_items", map[string]interface{}{
		"run_id": "no-such-run",
	})

	text := getTextContent(t, result)
	var items []extract.IntelligenceItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		t.Fatalf("parsing items: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty item list for unknown run, got %d", len(items))
	}
}

func TestStatsTool(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()
	_, idx := setupTestRetriever(t)

	srv := NewServer(ServerConfig{Store: s, Index: idx})

	result := callTool(t, srv, "card_stats", map[string]interface{}{})

	text := getTextContent(t, result)
	var stats map[string]interface{}
	if err := json.Unmarshal([]byte(text), &stats); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}

	if runs := stats["runs"].(float64); runs != 1 {
		t.Errorf("expected 1 run, got %v", runs)
	}
	if items := stats["items"].(float64); items != 3 {
		t.Errorf("expected 3 items, got %v", items)
	}
	if cards := stats["cards"].(float64); cards != 1 {
		t.Errorf("expected 1 card, got %v", cards)
	}
	if pending := stats["pending_approvals"].(float64); pending != 1 {
		t.Errorf("expected 1 pending approval, got %v", pending)
	}
	if chunks := stats["index_chunks"].(float64); chunks != 3 {
		t.Errorf("expected 3 indexed chunks, got %v", chunks)
	}
}

func TestStatsToolWithoutIndex(t *testing.T) {
	s := setupTestStore(t)
	defer s.Close()

	srv := NewServer(ServerConfig{Store: s})

	result := callTool(t, srv, "card_stats", map[string]interface{}{})

	text := getTextContent(t, result)
	var stats map[string]interface{}
	if err := json.Unmarshal([]byte(text), &stats); err != nil {
		t.Fatalf("parsing stats: %v", err)
	}

	if _, ok := stats["index_chunks"]; ok {
		t.Error("index_chunks should be absent when no index is configured")
	}
	if indexed := stats["indexed_runs"].(float64); indexed != 0 {
		t.Errorf("expected 0 indexed runs, got %v", indexed)
	}
}
