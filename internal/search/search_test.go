package search

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/hurttlocker/cardintel/internal/chunk"
	"github.com/hurttlocker/cardintel/internal/index"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vec) }

// testIndex holds three chunks for two cards of the same bank.
func testIndex(t *testing.T) *index.Memory {
	t.Helper()
	chunks := []chunk.Chunk{
		{ID: "c1", Text: "5% cashback on dining and groceries", Metadata: chunk.Metadata{
			SourceURL:  "https://bank.ae/cards/cashback-card",
			CardName:   "FAB Cashback Credit Card",
			BankName:   "First Abu Dhabi Bank",
			PageType:   "benefits",
			Categories: []string{"cashback", "dining"},
		}},
		{ID: "c2", Text: "annual fee AED 315, waived in the first year", Metadata: chunk.Metadata{
			SourceURL:  "https://bank.ae/cards/cashback-card/fees",
			CardName:   "FAB Cashback Credit Card",
			BankName:   "First Abu Dhabi Bank",
			PageType:   "fees",
			Categories: []string{"fees"},
		}},
		{ID: "c3", Text: "unlimited lounge access across the region", Metadata: chunk.Metadata{
			SourceURL:  "https://bank.ae/cards/travel-elite",
			CardName:   "FAB Travel Elite Card",
			BankName:   "First Abu Dhabi Bank",
			PageType:   "benefits",
			Categories: []string{"lounge"},
		}},
	}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	idx := index.NewMemory()
	if err := idx.Upsert(context.Background(), chunks, vectors); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return idx
}

func TestRetrieveVector(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, &fakeEmbedder{vec: []float32{1, 0, 0}}, DefaultConfig(), nil)

	results, err := r.Retrieve(context.Background(), Query{Question: "what cashback do I earn?", TopK: 2})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Chunk.ID != "c1" {
		t.Errorf("top result = %q, want c1", results[0].Chunk.ID)
	}
	if math.Abs(results[0].Score-1.0) > 1e-9 {
		t.Errorf("top score = %v, want 1.0", results[0].Score)
	}
	for _, res := range results {
		if res.Strategy != StrategyVector {
			t.Errorf("strategy = %q, want %q", res.Strategy, StrategyVector)
		}
	}
}

func TestRetrieveExactCardNameFallback(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, nil, DefaultConfig(), nil)

	// No question, so only the identifier chain can serve this.
	results, err := r.Retrieve(context.Background(), Query{CardName: "fab cashback credit card"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Chunk.ID != "c1" || results[1].Chunk.ID != "c2" {
		t.Errorf("chunks = %s, %s; want c1, c2", results[0].Chunk.ID, results[1].Chunk.ID)
	}
	for _, res := range results {
		if res.Strategy != StrategyCardName {
			t.Errorf("strategy = %q, want %q", res.Strategy, StrategyCardName)
		}
	}
}

func TestRetrieveBankScanFallback(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, &fakeEmbedder{vec: []float32{1, 0, 0}}, DefaultConfig(), nil)

	// "Cashback Credit Card" is how a caller names the card later; the
	// index recorded "FAB Cashback Credit Card". The exact-name filter
	// misses on the vector path and on strategy one, then the
	// bank-scoped substring scan catches it.
	results, err := r.Retrieve(context.Background(), Query{
		Question: "cashback rate",
		CardName: "Cashback Credit Card",
		BankName: "First Abu Dhabi Bank",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, res := range results {
		if res.Strategy != StrategyBankScan {
			t.Errorf("strategy = %q, want %q", res.Strategy, StrategyBankScan)
		}
		if !strings.Contains(res.Chunk.Metadata.CardName, "Cashback") {
			t.Errorf("wrong card matched: %+v", res.Chunk.Metadata)
		}
	}
}

func TestRetrieveURLFallback(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, nil, DefaultConfig(), nil)

	// Name matches nothing; the recorded source URL contains the
	// queried card URL.
	results, err := r.Retrieve(context.Background(), Query{
		CardName: "Platinum Card",
		CardURL:  "https://bank.ae/cards/travel-elite/",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c3" {
		t.Fatalf("results = %+v, want single c3", results)
	}
	if results[0].Strategy != StrategyURLMatch {
		t.Errorf("strategy = %q, want %q", results[0].Strategy, StrategyURLMatch)
	}

	// A card landingURL is a prefix of its fee page URL.
	results, err = r.Retrieve(context.Background(), Query{
		CardName: "Platinum Card",
		CardURL:  "https://bank.ae/cards/cashback-card",
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results for prefix URL, want 2", len(results))
	}
}

func TestRetrieveTextMatchFallback(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, nil, DefaultConfig(), nil)

	// Partial name, no bank, no URL. Only the full-corpus text scan
	// can find it, via the recorded card-name metadata.
	results, err := r.Retrieve(context.Background(), Query{CardName: "Travel Elite"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c3" {
		t.Fatalf("results = %+v, want single c3", results)
	}
	if results[0].Strategy != StrategyTextMatch {
		t.Errorf("strategy = %q, want %q", results[0].Strategy, StrategyTextMatch)
	}

	// Shuffled tokens still clear the two-significant-token bar.
	results, err = r.Retrieve(context.Background(), Query{CardName: "Elite Travel Rewards"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c3" {
		t.Fatalf("token results = %+v, want single c3", results)
	}
}

func TestRetrieveNoIdentifiers(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, nil, DefaultConfig(), nil)

	results, err := r.Retrieve(context.Background(), Query{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if results != nil {
		t.Errorf("empty query returned %+v", results)
	}
}

func TestRetrieveEmbedError(t *testing.T) {
	idx := testIndex(t)
	sentinel := errors.New("model down")
	r := NewRetriever(idx, &fakeEmbedder{err: sentinel}, DefaultConfig(), nil)

	// Without an identifier the embed failure surfaces.
	_, err := r.Retrieve(context.Background(), Query{Question: "lounge?"})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", err)
	}

	// With one, retrieval degrades to the identifier chain.
	results, err := r.Retrieve(context.Background(), Query{
		Question: "lounge?",
		CardName: "fab travel elite card",
	})
	if err != nil {
		t.Fatalf("Retrieve with fallback: %v", err)
	}
	if len(results) != 1 || results[0].Strategy != StrategyCardName {
		t.Fatalf("degraded results = %+v", results)
	}
}

func TestRetrieveTopKCapsFallback(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, nil, DefaultConfig(), nil)

	results, err := r.Retrieve(context.Background(), Query{CardName: "fab cashback credit card", TopK: 1})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestHybridFusesRankings(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, &fakeEmbedder{vec: []float32{1, 0, 0}}, DefaultConfig(), nil)

	results, err := r.Hybrid(context.Background(), Query{Question: "cashback on groceries"})
	if err != nil {
		t.Fatalf("Hybrid: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	// c1 leads both rankings: keyword hits on "cashback" and
	// "groceries", cosine 1.0 on the vector side.
	if results[0].Chunk.ID != "c1" {
		t.Errorf("top result = %q, want c1", results[0].Chunk.ID)
	}
	for _, res := range results {
		if res.Strategy != StrategyRRF {
			t.Errorf("strategy = %q, want %q", res.Strategy, StrategyRRF)
		}
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted: %v before %v", results[i-1].Score, results[i].Score)
		}
	}
}

func TestHybridWithoutEmbedder(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, nil, DefaultConfig(), nil)

	results, err := r.Hybrid(context.Background(), Query{Question: "lounge access please"})
	if err != nil {
		t.Fatalf("Hybrid: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "c3" {
		t.Fatalf("results = %+v, want single c3", results)
	}
}

func TestHybridFallsBackOnEmptyRankings(t *testing.T) {
	idx := testIndex(t)
	r := NewRetriever(idx, nil, DefaultConfig(), nil)

	results, err := r.Hybrid(context.Background(), Query{
		Question: "zzz qqq xxx",
		CardName: "fab travel elite card",
	})
	if err != nil {
		t.Fatalf("Hybrid: %v", err)
	}
	if len(results) != 1 || results[0].Strategy != StrategyCardName {
		t.Fatalf("results = %+v, want card_name fallback", results)
	}
}

func TestSignificantTokens(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"FAB Cashback Credit Card", []string{"fab", "cashback"}},
		{"Emirates NBD GO4it Card", []string{"emirates", "nbd", "go4it"}},
		{"The Card", nil},
		{"My A1 Go Card", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := significantTokens(tt.name)
		if len(got) != len(tt.want) {
			t.Errorf("significantTokens(%q) = %v, want %v", tt.name, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("significantTokens(%q) = %v, want %v", tt.name, got, tt.want)
				break
			}
		}
	}
}

func TestQueryTokens(t *testing.T) {
	tests := []struct {
		question string
		want     []string
	}{
		{"What cashback does this card give?", []string{"cashback"}},
		{"How much is the annual fee?", []string{"annual", "fee"}},
		{"lounge access", []string{"lounge", "access"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := queryTokens(tt.question)
		if len(got) != len(tt.want) {
			t.Errorf("queryTokens(%q) = %v, want %v", tt.question, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("queryTokens(%q) = %v, want %v", tt.question, got, tt.want)
				break
			}
		}
	}
}
