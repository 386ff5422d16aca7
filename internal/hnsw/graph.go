// Package hnsw implements the hierarchical navigable small world graph
// described in spec §4.5: level assignment, per-layer neighbor lists,
// construction and search, tombstone-aware traversal, and compaction
// support via a full rebuild over a remapped vector store.
//
// Readers (Search) may run concurrently with each other and with at most
// one writer (Insert/Delete), per spec §5: edge updates are atomic
// pointer swaps of a node's per-layer neighbor slice (see node.go), so a
// reader never observes a torn neighbor list.
package hnsw

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/dreamware/vectorgraph/internal/metric"
	"github.com/dreamware/vectorgraph/internal/vecstore"
	"github.com/dreamware/vectorgraph/internal/vgerr"
)

// yieldEvery is the candidate-expansion frequency at which a search or
// construction loop checks its cancellation token (spec §5 default).
const yieldEvery = 1024

// CancelToken is checked at bounded frequency during long traversals.
type CancelToken interface {
	// Done returns a channel that's closed when the operation should
	// stop, mirroring context.Context so callers can pass one directly.
	Done() <-chan struct{}
}

// Result is one search hit: a live handle and its distance to the query.
type Result struct {
	Handle vecstore.Handle
	Dist   float32
}

// Accept is an optional per-candidate predicate used by the query
// pipeline's hybrid plan (spec §4.9): rejected candidates don't count
// toward k but still expand their neighbors.
type Accept func(h vecstore.Handle) bool

// Graph is one collection's HNSW index.
type Graph struct {
	mu     sync.RWMutex
	cfg    Config
	distFn metric.Func
	store  *vecstore.Store

	nodes  []*nodeState
	layers [][]*neighbors // layers[level][handle]

	entryPoint vecstore.Handle
	hasEntry   bool
	maxLevel   int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds an empty graph over store using cfg.
func New(cfg Config, store *vecstore.Store) *Graph {
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Graph{
		cfg:    cfg,
		distFn: metric.For(cfg.Metric, cfg.Normalized),
		store:  store,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of nodes ever inserted (including tombstoned).
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EntryPoint returns the current entry point handle and whether one
// exists yet.
func (g *Graph) EntryPoint() (vecstore.Handle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entryPoint, g.hasEntry
}

// sampleLevel draws floor(-ln(U) * mL) as described in spec §4.5.
func (g *Graph) sampleLevel(seed int64) int {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	src := g.rng
	if seed != 0 {
		src = rand.New(rand.NewSource(seed))
	}
	u := src.Float64()
	if u <= 0 {
		u = 1e-12
	}
	return int(math.Floor(-math.Log(u) * g.cfg.mL()))
}

func (g *Graph) capFor(level int) int {
	if level == 0 {
		return g.cfg.M0()
	}
	return g.cfg.M
}

// Insert adds handle h (already present in the backing vector store) to
// the graph. seed, when non-zero, makes this insert's level sampling
// reproducible (spec §4.5).
func (g *Graph) Insert(h vecstore.Handle, seed int64) error {
	vector := g.store.GetVectorUnsafe(h)
	if vector == nil {
		return vgerr.New(vgerr.UnknownID, "handle not present in vector store")
	}
	level := g.sampleLevel(seed)

	g.mu.Lock()
	g.growTo(h, level)
	hadEntry := g.hasEntry
	entry := g.entryPoint
	entryLevel := g.maxLevel
	if !hadEntry {
		g.entryPoint = h
		g.maxLevel = level
		g.hasEntry = true
	}
	g.mu.Unlock()

	if !hadEntry {
		return nil
	}

	// Phase 1: greedy descent from the entry point down to level+1,
	// keeping a single best candidate per layer.
	best := candidate{handle: entry, dist: g.distFn(vector, g.store.GetVectorUnsafe(entry))}
	for l := entryLevel; l > level; l-- {
		best = g.greedyDescendOneLayer(vector, best, l)
	}

	// Phase 2: best-first construction search at each layer from
	// min(level, entryLevel) down to 0, connecting bidirectional edges.
	top := level
	if entryLevel < top {
		top = entryLevel
	}
	for l := top; l >= 0; l-- {
		candidates, err := g.searchLayer(context.Background(), vector, best, g.cfg.EfConstruction, l, nil)
		if err != nil {
			return err
		}
		selected := g.selectNeighborsHeuristic(vector, candidates, g.capFor(l))
		g.setNeighbors(h, l, selected)
		for _, nb := range selected {
			g.addBackEdgeAndPrune(nb.handle, h, l)
		}
		if len(candidates) > 0 {
			best = candidates[0]
		}
	}

	g.mu.Lock()
	if level > g.maxLevel {
		g.maxLevel = level
		g.entryPoint = h
	}
	g.mu.Unlock()
	return nil
}

// growTo extends the dense per-handle node-state slice and per-layer
// neighbor slices to cover handle h at its sampled level.
func (g *Graph) growTo(h vecstore.Handle, level int) {
	for len(g.nodes) <= int(h) {
		g.nodes = append(g.nodes, nil)
	}
	g.nodes[h] = &nodeState{topLevel: level}

	for len(g.layers) <= level {
		g.layers = append(g.layers, make([]*neighbors, 0))
	}
	for l := 0; l <= level; l++ {
		for len(g.layers[l]) <= int(h) {
			g.layers[l] = append(g.layers[l], nil)
		}
		g.layers[l][h] = newNeighbors()
	}
}

func (g *Graph) neighborsAt(h vecstore.Handle, level int) *neighbors {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if level >= len(g.layers) || int(h) >= len(g.layers[level]) {
		return nil
	}
	return g.layers[level][h]
}

func (g *Graph) setNeighbors(h vecstore.Handle, level int, selected []candidate) {
	handles := make([]vecstore.Handle, len(selected))
	for i, c := range selected {
		handles[i] = c.handle
	}
	n := g.neighborsAt(h, level)
	if n != nil {
		n.store(handles)
	}
}

// addBackEdgeAndPrune adds h as a neighbor of nb at level, re-pruning
// nb's neighbor set with the heuristic selector if it now exceeds cap.
func (g *Graph) addBackEdgeAndPrune(nb vecstore.Handle, h vecstore.Handle, level int) {
	n := g.neighborsAt(nb, level)
	if n == nil {
		return
	}
	existing := n.load()
	updated := append(append([]vecstore.Handle{}, existing...), h)

	cap := g.capFor(level)
	if len(updated) <= cap {
		n.store(updated)
		return
	}

	nbVector := g.store.GetVectorUnsafe(nb)
	cands := make([]candidate, 0, len(updated))
	for _, other := range updated {
		v := g.store.GetVectorUnsafe(other)
		if v == nil {
			continue
		}
		cands = append(cands, candidate{handle: other, dist: g.distFn(nbVector, v)})
	}
	sortCandidatesAscending(cands)
	selected := g.selectNeighborsHeuristic(nbVector, cands, cap)
	handles := make([]vecstore.Handle, len(selected))
	for i, c := range selected {
		handles[i] = c.handle
	}
	n.store(handles)
}

// selectNeighborsHeuristic implements spec §4.5 step 4: iterate
// candidates nearest-first, accept a candidate only if its distance to
// the new node is strictly less than its distance to every already
// accepted neighbor, stopping at cap.
func (g *Graph) selectNeighborsHeuristic(target []float32, candidates []candidate, cap int) []candidate {
	sortCandidatesAscending(candidates)
	selected := make([]candidate, 0, cap)
	for _, c := range candidates {
		if len(selected) >= cap {
			break
		}
		cVec := g.store.GetVectorUnsafe(c.handle)
		if cVec == nil {
			continue
		}
		dominated := false
		for _, s := range selected {
			sVec := g.store.GetVectorUnsafe(s.handle)
			if sVec == nil {
				continue
			}
			if g.distFn(cVec, sVec) < c.dist {
				dominated = true
				break
			}
		}
		if !dominated {
			selected = append(selected, c)
		}
	}
	return selected
}

func sortCandidatesAscending(cs []candidate) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j].less(cs[j-1]); j-- {
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

// greedyDescendOneLayer keeps the single best candidate while moving
// down one layer from best's position (spec §4.5 phase 1 / search step
// 1 share this shape).
func (g *Graph) greedyDescendOneLayer(query []float32, best candidate, level int) candidate {
	improved := true
	for improved {
		improved = false
		n := g.neighborsAt(best.handle, level)
		for _, nb := range n.load() {
			v := g.store.GetVectorUnsafe(nb)
			if v == nil {
				continue
			}
			d := g.distFn(query, v)
			if d < best.dist {
				best = candidate{handle: nb, dist: d}
				improved = true
			}
		}
	}
	return best
}

// searchLayer runs a best-first search with a dynamic candidate set of
// size ef at level, starting from entry. If accept is non-nil, rejected
// candidates are excluded from the returned result set but their
// neighbors are still expanded (spec §4.9 hybrid mode). ctx is checked
// every yieldEvery candidate expansions (spec §5's bounded-frequency
// cancellation contract) since nearly all of a query's work happens in
// this loop, not in the caller's per-layer descent.
func (g *Graph) searchLayer(ctx context.Context, query []float32, entry candidate, ef int, level int, accept Accept) ([]candidate, error) {
	visited := map[vecstore.Handle]bool{entry.handle: true}
	frontier := &minHeap{entry}
	results := newBoundedMaxHeap(ef)
	if accept == nil || accept(entry.handle) {
		results.offer(entry)
	}

	expanded := 0
	for frontier.Len() > 0 {
		cur := (*frontier)[0]
		if worst, ok := results.worst(); ok && results.len() >= ef && !cur.less(worst) {
			break
		}
		popMin(frontier)

		n := g.neighborsAt(cur.handle, level)
		for _, nb := range n.load() {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			v := g.store.GetVectorUnsafe(nb)
			if v == nil {
				continue
			}
			d := g.distFn(query, v)
			c := candidate{handle: nb, dist: d}
			if worst, ok := results.worst(); !ok || results.len() < ef || d < worst.dist {
				pushMin(frontier, c)
				if accept == nil || accept(nb) {
					results.offer(c)
				}
			}
			expanded++
			if expanded%yieldEvery == 0 {
				select {
				case <-ctx.Done():
					return nil, vgerr.New(vgerr.Cancelled, "search cancelled during candidate expansion")
				default:
				}
			}
		}
	}
	return results.drainAscending(), nil
}

func pushMin(h *minHeap, c candidate) {
	*h = append(*h, c)
	i := len(*h) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if (*h)[i].less((*h)[parent]) {
			(*h)[i], (*h)[parent] = (*h)[parent], (*h)[i]
			i = parent
		} else {
			break
		}
	}
}

func popMin(h *minHeap) candidate {
	old := *h
	top := old[0]
	n := len(old)
	old[0] = old[n-1]
	*h = old[:n-1]
	i := 0
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < len(*h) && (*h)[left].less((*h)[smallest]) {
			smallest = left
		}
		if right < len(*h) && (*h)[right].less((*h)[smallest]) {
			smallest = right
		}
		if smallest == i {
			break
		}
		(*h)[i], (*h)[smallest] = (*h)[smallest], (*h)[i]
		i = smallest
	}
	return top
}

// Search performs k-NN search with the given ef (spec §4.5 search
// algorithm). tombstoned handles are skipped in the result set but
// their edges remain navigable during traversal. ctx is checked at each
// layer of the descent and after every yieldEvery candidate expansions.
func (g *Graph) Search(ctx context.Context, query []float32, k int, ef int, accept Accept) ([]Result, error) {
	g.mu.RLock()
	if !g.hasEntry {
		g.mu.RUnlock()
		return nil, nil
	}
	entry := g.entryPoint
	maxLevel := g.maxLevel
	g.mu.RUnlock()

	entryVec := g.store.GetVectorUnsafe(entry)
	best := candidate{handle: entry, dist: g.distFn(query, entryVec)}
	for l := maxLevel; l > 0; l-- {
		select {
		case <-ctx.Done():
			return nil, vgerr.New(vgerr.Cancelled, "search cancelled during layer descent")
		default:
		}
		best = g.greedyDescendOneLayer(query, best, l)
	}

	effectiveAccept := func(h vecstore.Handle) bool {
		if g.IsTombstoned(h) {
			return false
		}
		if accept != nil {
			return accept(h)
		}
		return true
	}

	candidates, err := g.searchLayer(ctx, query, best, ef, 0, effectiveAccept)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, vgerr.New(vgerr.Cancelled, "search cancelled before result assembly")
	default:
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{Handle: c.handle, Dist: c.dist}
	}
	return out, nil
}

// Delete sets the tombstone bit for h. The node and its edges remain in
// the graph so traversal paths are preserved (spec §4.5).
func (g *Graph) Delete(h vecstore.Handle) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(h) < len(g.nodes) && g.nodes[h] != nil {
		g.nodes[h].tombstoned.Store(true)
	}
}

// IsTombstoned reports h's tombstone bit within the graph.
func (g *Graph) IsTombstoned(h vecstore.Handle) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(h) >= len(g.nodes) || g.nodes[h] == nil {
		return true
	}
	return g.nodes[h].tombstoned.Load()
}

// TombstoneRatio returns the fraction of ever-inserted nodes that are
// tombstoned, used by the collection to trigger compaction (spec §4.5:
// default threshold 20%).
func (g *Graph) TombstoneRatio() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.nodes) == 0 {
		return 0
	}
	tomb := 0
	for _, n := range g.nodes {
		if n != nil && n.tombstoned.Load() {
			tomb++
		}
	}
	return float64(tomb) / float64(len(g.nodes))
}

// TopLevel returns the sampled top level for handle h, or an error if h
// was never inserted.
func (g *Graph) TopLevel(h vecstore.Handle) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(h) >= len(g.nodes) || g.nodes[h] == nil {
		return 0, fmt.Errorf("handle %d not present", h)
	}
	return g.nodes[h].topLevel, nil
}

// Neighbors returns a copy of h's neighbor list at level, for
// inspection/testing and for the snapshot codec.
func (g *Graph) Neighbors(h vecstore.Handle, level int) []vecstore.Handle {
	n := g.neighborsAt(h, level)
	if n == nil {
		return nil
	}
	src := n.load()
	out := make([]vecstore.Handle, len(src))
	copy(out, src)
	return out
}

// MaxLevel returns the current topmost occupied level.
func (g *Graph) MaxLevel() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.maxLevel
}
