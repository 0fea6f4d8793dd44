// Package ann provides approximate nearest neighbor search over chunk
// embeddings using HNSW (Hierarchical Navigable Small World graphs),
// following Malkov & Yashunin (2018), arXiv:1603.09320.
//
// Pure Go, no CGO. Sized for card corpora: a few hundred chunks per
// card, tens of thousands across a bank's portfolio. Brute force wins
// below ~1K vectors; past that the graph gives O(log N) lookups.
//
// Entries are keyed by chunk ID. Removal tombstones the node so the
// graph stays navigable; Compact rebuilds once tombstones pile up.
package ann

import (
	"math"
	"math/rand"
	"sort"
	"sync"
)

// Graph is an in-memory HNSW index keyed by chunk ID.
type Graph struct {
	mu         sync.RWMutex
	nodes      []node
	idToIdx    map[string]int
	entryPoint int // node index, -1 when empty
	maxLevel   int
	dims       int
	liveCount  int

	// Tuning parameters
	M              int     // max connections per layer
	Mmax0          int     // max connections for layer 0 (2*M)
	EfConstruction int     // build-time beam width
	EfSearch       int     // search-time beam width
	LevelMult      float64 // level generation multiplier: 1/ln(M)

	rng *rand.Rand
}

type node struct {
	id      string
	vector  []float32
	friends [][]int // friends[layer] = neighbor node indices
	level   int
	live    bool
}

// Result is one neighbor with its cosine distance (1 - similarity);
// lower is more similar.
type Result struct {
	ID       string
	Distance float32
}

type candidate struct {
	idx  int
	dist float32
}

const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 50
)

// New creates a graph for vectors of the given dimensionality.
func New(dims int) *Graph {
	return NewWithParams(dims, DefaultM, DefaultEfConstruction, DefaultEfSearch)
}

// NewWithParams creates a graph with custom HNSW parameters.
func NewWithParams(dims, m, efConstruction, efSearch int) *Graph {
	if m < 2 {
		m = 2
	}
	return &Graph{
		dims:           dims,
		M:              m,
		Mmax0:          2 * m,
		EfConstruction: efConstruction,
		EfSearch:       efSearch,
		LevelMult:      1.0 / math.Log(float64(m)),
		entryPoint:     -1,
		maxLevel:       -1,
		idToIdx:        make(map[string]int),
		rng:            rand.New(rand.NewSource(42)),
	}
}

// Len reports the number of live vectors.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.liveCount
}

// Dead reports the number of tombstoned vectors still in the graph.
func (g *Graph) Dead() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes) - g.liveCount
}

// Dims reports the configured vector dimensionality.
func (g *Graph) Dims() int {
	return g.dims
}

// Insert adds a vector under the given chunk ID. Chunk IDs are derived
// from source and text, so a known ID always carries the same text; a
// tombstoned ID is revived in place and a live one left untouched.
func (g *Graph) Insert(id string, vector []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if i, exists := g.idToIdx[id]; exists {
		if !g.nodes[i].live {
			g.nodes[i].live = true
			g.liveCount++
		}
		return
	}

	nodeIdx := len(g.nodes)
	level := g.randomLevel()

	g.nodes = append(g.nodes, node{
		id:      id,
		vector:  vector,
		friends: make([][]int, level+1),
		level:   level,
		live:    true,
	})
	g.idToIdx[id] = nodeIdx
	g.liveCount++

	if g.entryPoint == -1 {
		g.entryPoint = nodeIdx
		g.maxLevel = level
		return
	}

	// Greedy descent from the top layer to one above the node's level.
	ep := g.entryPoint
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedyClosest(vector, ep, l)
	}

	topLayer := level
	if topLayer > g.maxLevel {
		topLayer = g.maxLevel
	}

	for l := topLayer; l >= 0; l-- {
		candidates := g.searchLayer(vector, ep, g.EfConstruction, l)

		maxConn := g.M
		if l == 0 {
			maxConn = g.Mmax0
		}
		neighbors := g.selectNeighbors(candidates, maxConn)

		g.nodes[nodeIdx].friends[l] = neighbors

		for _, neighborIdx := range neighbors {
			g.nodes[neighborIdx].friends[l] = append(g.nodes[neighborIdx].friends[l], nodeIdx)
			if len(g.nodes[neighborIdx].friends[l]) > maxConn {
				g.nodes[neighborIdx].friends[l] = g.shrinkNeighbors(
					neighborIdx, g.nodes[neighborIdx].friends[l], maxConn,
				)
			}
		}

		if len(candidates) > 0 {
			ep = candidates[0].idx
		}
	}

	if level > g.maxLevel {
		g.entryPoint = nodeIdx
		g.maxLevel = level
	}
}

// Remove tombstones the vector for the given chunk ID. The node keeps
// its links so paths through it survive; it just stops appearing in
// results. Reports whether the ID was live.
func (g *Graph) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, exists := g.idToIdx[id]
	if !exists || !g.nodes[i].live {
		return false
	}
	g.nodes[i].live = false
	g.liveCount--
	return true
}

// Has reports whether the chunk ID is live in the graph.
func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, exists := g.idToIdx[id]
	return exists && g.nodes[i].live
}

// Search finds the k nearest live neighbors, closest first.
func (g *Graph) Search(query []float32, k int) []Result {
	return g.SearchEf(query, k, g.EfSearch)
}

// SearchEf finds the k nearest live neighbors with a custom beam width.
// Higher ef trades speed for recall.
func (g *Graph) SearchEf(query []float32, k, ef int) []Result {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.nodes) == 0 || g.entryPoint == -1 || g.liveCount == 0 {
		return nil
	}

	if ef < k {
		ef = k
	}
	// Widen the beam past the tombstones so k live results stay
	// reachable.
	if dead := len(g.nodes) - g.liveCount; dead > 0 && ef < k+dead {
		ef = k + dead
	}

	ep := g.entryPoint
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedyClosest(query, ep, l)
	}

	candidates := g.searchLayer(query, ep, ef, 0)

	results := make([]Result, 0, k)
	for _, c := range candidates {
		if !g.nodes[c.idx].live {
			continue
		}
		results = append(results, Result{ID: g.nodes[c.idx].id, Distance: c.dist})
		if len(results) == k {
			break
		}
	}
	return results
}

// IDs returns the live chunk IDs in insertion order.
func (g *Graph) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids := make([]string, 0, g.liveCount)
	for _, n := range g.nodes {
		if n.live {
			ids = append(ids, n.id)
		}
	}
	return ids
}

// Compact rebuilds the graph without tombstoned nodes. A no-op when
// nothing is dead.
func (g *Graph) Compact() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.compactLocked()
}

func (g *Graph) compactLocked() {
	if len(g.nodes) == g.liveCount {
		return
	}

	fresh := NewWithParams(g.dims, g.M, g.EfConstruction, g.EfSearch)
	for _, n := range g.nodes {
		if n.live {
			fresh.Insert(n.id, n.vector)
		}
	}

	g.nodes = fresh.nodes
	g.idToIdx = fresh.idToIdx
	g.entryPoint = fresh.entryPoint
	g.maxLevel = fresh.maxLevel
	g.liveCount = fresh.liveCount
	g.rng = fresh.rng
}

// randomLevel draws a level from the geometric distribution.
func (g *Graph) randomLevel() int {
	r := g.rng.Float64()
	if r == 0 {
		r = 1e-10
	}
	return int(math.Floor(-math.Log(r) * g.LevelMult))
}

// greedyClosest walks to the single closest node at the given layer.
func (g *Graph) greedyClosest(query []float32, ep int, layer int) int {
	dist := cosineDistance(query, g.nodes[ep].vector)

	for {
		improved := false
		if layer < len(g.nodes[ep].friends) {
			for _, friendIdx := range g.nodes[ep].friends[layer] {
				friendDist := cosineDistance(query, g.nodes[friendIdx].vector)
				if friendDist < dist {
					ep = friendIdx
					dist = friendDist
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return ep
}

// searchLayer runs beam search at one layer and returns up to ef
// candidates sorted ascending by distance. Tombstoned nodes still
// participate; callers filter them.
func (g *Graph) searchLayer(query []float32, ep int, ef int, layer int) []candidate {
	visited := make(map[int]bool)
	visited[ep] = true

	epDist := cosineDistance(query, g.nodes[ep].vector)
	candidates := []candidate{{idx: ep, dist: epDist}}
	results := []candidate{{idx: ep, dist: epDist}}

	for len(candidates) > 0 {
		closest := candidates[0]
		candidates = candidates[1:]

		farthest := results[len(results)-1]
		if closest.dist > farthest.dist && len(results) >= ef {
			break
		}

		if layer < len(g.nodes[closest.idx].friends) {
			for _, neighborIdx := range g.nodes[closest.idx].friends[layer] {
				if visited[neighborIdx] {
					continue
				}
				visited[neighborIdx] = true

				neighborDist := cosineDistance(query, g.nodes[neighborIdx].vector)
				if neighborDist < results[len(results)-1].dist || len(results) < ef {
					candidates = insertSorted(candidates, candidate{idx: neighborIdx, dist: neighborDist})
					results = insertSorted(results, candidate{idx: neighborIdx, dist: neighborDist})
					if len(results) > ef {
						results = results[:ef]
					}
				}
			}
		}
	}

	return results
}

// selectNeighbors keeps the closest maxConn candidates.
func (g *Graph) selectNeighbors(candidates []candidate, maxConn int) []int {
	if len(candidates) > maxConn {
		candidates = candidates[:maxConn]
	}
	neighbors := make([]int, len(candidates))
	for i, c := range candidates {
		neighbors[i] = c.idx
	}
	return neighbors
}

// shrinkNeighbors prunes a neighbor list to the closest maxConn.
func (g *Graph) shrinkNeighbors(nodeIdx int, neighbors []int, maxConn int) []int {
	if len(neighbors) <= maxConn {
		return neighbors
	}

	vec := g.nodes[nodeIdx].vector
	ranked := make([]candidate, len(neighbors))
	for i, nIdx := range neighbors {
		ranked[i] = candidate{idx: nIdx, dist: cosineDistance(vec, g.nodes[nIdx].vector)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	result := make([]int, maxConn)
	for i := 0; i < maxConn; i++ {
		result[i] = ranked[i].idx
	}
	return result
}

// insertSorted inserts into a slice kept ascending by distance.
func insertSorted(s []candidate, c candidate) []candidate {
	i := sort.Search(len(s), func(i int) bool { return s[i].dist >= c.dist })
	s = append(s, candidate{})
	copy(s[i+1:], s[i:])
	s[i] = c
	return s
}

// cosineDistance returns 1 - cosine similarity, in [0, 2]. Mismatched
// or zero-norm vectors land at max distance.
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return 1.0 - sim
}
