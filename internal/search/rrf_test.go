package search

import (
	"fmt"
	"testing"

	"github.com/hurttlocker/cardintel/internal/chunk"
)

func res(id string) Result {
	return Result{Chunk: chunk.Chunk{ID: id}}
}

func positionsByID(results []Result) map[string]int {
	pos := make(map[string]int, len(results))
	for i, r := range results {
		pos[r.Chunk.ID] = i
	}
	return pos
}

func TestRRFBasicFusion(t *testing.T) {
	keyword := []Result{res("a"), res("b"), res("c")}
	semantic := []Result{res("b"), res("a"), res("d")}

	got := FuseRRF(keyword, semantic, DefaultRRFConfig())
	if len(got) != 4 {
		t.Fatalf("expected 4 fused results, got %d", len(got))
	}

	// a and b tie on 1/61+1/62; the tie breaks on chunk id. c and d
	// tie the same way one rung down.
	wantOrder := []string{"a", "b", "c", "d"}
	for i, wantID := range wantOrder {
		if got[i].Chunk.ID != wantID {
			t.Fatalf("rank %d: got chunk %q want %q", i+1, got[i].Chunk.ID, wantID)
		}
		if got[i].Strategy != StrategyRRF {
			t.Fatalf("expected strategy %q, got %q", StrategyRRF, got[i].Strategy)
		}
	}
}

func TestRRFDisjointLists(t *testing.T) {
	keyword := []Result{res("x"), res("y")}
	semantic := []Result{res("z")}

	got := FuseRRF(keyword, semantic, DefaultRRFConfig())
	if len(got) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(got))
	}

	scores := map[string]float64{}
	for _, r := range got {
		scores[r.Chunk.ID] = r.Score
	}
	if scores["x"] <= scores["y"] {
		t.Fatalf("higher keyword rank should score higher: %.8f <= %.8f", scores["x"], scores["y"])
	}
	if scores["z"] <= scores["y"] {
		t.Fatalf("semantic-only top rank should outrank lower keyword rank: %.8f <= %.8f", scores["z"], scores["y"])
	}
}

func TestRRFSingleList(t *testing.T) {
	keyword := []Result{res("a"), res("b")}

	got := FuseRRF(keyword, nil, DefaultRRFConfig())
	if len(got) != 2 {
		t.Fatalf("expected 2 fused results, got %d", len(got))
	}
	if got[0].Chunk.ID != "a" || got[1].Chunk.ID != "b" {
		t.Fatalf("single-list fusion reordered: %s, %s", got[0].Chunk.ID, got[1].Chunk.ID)
	}
	for _, r := range got {
		if r.Score <= 0 {
			t.Fatalf("expected positive score, got %.8f", r.Score)
		}
	}
}

func TestRRFKParameter(t *testing.T) {
	// "peak" is first on keyword but last on semantic; "steady" is
	// tenth on both. Low K rewards the single excellent rank, high K
	// rewards consistency.
	const total = 40

	keyword := make([]Result, 0, total)
	semantic := make([]Result, 0, total)
	for rank := 1; rank <= total; rank++ {
		switch rank {
		case 1:
			keyword = append(keyword, res("peak"))
		case 10:
			keyword = append(keyword, res("steady"))
		default:
			keyword = append(keyword, res(fmt.Sprintf("kw-%02d", rank)))
		}
	}
	for rank := 1; rank <= total; rank++ {
		switch rank {
		case 10:
			semantic = append(semantic, res("steady"))
		case total:
			semantic = append(semantic, res("peak"))
		default:
			semantic = append(semantic, res(fmt.Sprintf("sm-%02d", rank)))
		}
	}

	lowK := positionsByID(FuseRRF(keyword, semantic, RRFConfig{K: 1, KeywordWeight: 1, SemanticWeight: 1}))
	highK := positionsByID(FuseRRF(keyword, semantic, RRFConfig{K: 60, KeywordWeight: 1, SemanticWeight: 1}))

	if lowK["peak"] >= lowK["steady"] {
		t.Fatalf("low K: peak at %d, steady at %d; want peak first", lowK["peak"], lowK["steady"])
	}
	if highK["steady"] >= highK["peak"] {
		t.Fatalf("high K: steady at %d, peak at %d; want steady first", highK["steady"], highK["peak"])
	}
}

func TestRRFWeights(t *testing.T) {
	keyword := []Result{res("kw")}
	semantic := []Result{res("sm")}

	got := FuseRRF(keyword, semantic, RRFConfig{K: 60, KeywordWeight: 2.0, SemanticWeight: 0.5})
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Chunk.ID != "kw" {
		t.Fatalf("keyword weight 2.0 should rank keyword-only first, got %q", got[0].Chunk.ID)
	}
}

func TestNormalizeRRFConfig(t *testing.T) {
	got := normalizeRRFConfig(RRFConfig{})
	if got.K != defaultRRFK || got.KeywordWeight != 1.0 || got.SemanticWeight != 1.0 {
		t.Errorf("zero config normalized to %+v", got)
	}

	got = normalizeRRFConfig(RRFConfig{K: -5})
	if got.K != defaultRRFK {
		t.Errorf("negative K normalized to %d", got.K)
	}

	got = normalizeRRFConfig(RRFConfig{K: 10, KeywordWeight: 0.3, SemanticWeight: 1.7})
	if got.K != 10 || got.KeywordWeight != 0.3 || got.SemanticWeight != 1.7 {
		t.Errorf("explicit config rewritten to %+v", got)
	}
}
