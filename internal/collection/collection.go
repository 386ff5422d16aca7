package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/vectorgraph/internal/filter"
	"github.com/dreamware/vectorgraph/internal/hnsw"
	"github.com/dreamware/vectorgraph/internal/metric"
	"github.com/dreamware/vectorgraph/internal/payload"
	"github.com/dreamware/vectorgraph/internal/vecstore"
	"github.com/dreamware/vectorgraph/internal/vgerr"
)

// State tracks a collection's operational mode, mirroring the teacher's
// ShardState machine but with the states spec §4.8 failure semantics and
// §7 error taxonomy actually require.
type State string

const (
	// StateActive accepts both reads and writes.
	StateActive State = "active"
	// StateReadOnly rejects writes. It is entered only through SetState;
	// the collection does not switch to it on its own, including after an
	// integrity error.
	StateReadOnly State = "read_only"
	// StateDeleted rejects all operations.
	StateDeleted State = "deleted"
)

// scanYieldEvery is the candidate-scan frequency at which filter-first and
// flat-search scans check for cancellation, matching the HNSW search
// path's yieldEvery (spec §5's bounded-frequency cancellation contract).
const scanYieldEvery = 1024

// SearchResult is one hit returned by Search: the original external id,
// its distance-based score (smaller is closer, per internal/metric), and
// its payload if requested. For the Euclidean metric Score is the
// squared L2 distance; no square root is applied.
type SearchResult struct {
	ExternalID string
	Score      float32
	Payload    map[string]any
}

// Stats summarizes a collection's resource usage (spec §4.6 stats()).
type Stats struct {
	Live            int
	Tombstoned      int
	TombstoneRatio  float64
	GraphMaxLevel   int
	HighWaterHandle uint32
}

// BatchEntry is one row of a batch_insert call.
type BatchEntry struct {
	ExternalID string
	Vector     []float32
	Payload    map[string]any
}

// BatchResult is the per-entry outcome of BatchInsert: atomic per entry,
// not atomic across entries (spec §4.6).
type BatchResult struct {
	Handle vecstore.Handle
	Err    error
}

// Collection binds a vector store, payload index, and HNSW graph behind
// one state machine (spec §4.6). store and graph are held behind atomic
// pointers so that compaction can swap both in after an offline rebuild
// without blocking in-flight readers (spec §5: "atomically swaps
// references; in-flight readers finish on the old snapshot").
type Collection struct {
	cfg Config

	store atomic.Pointer[vecstore.Store]
	graph atomic.Pointer[hnsw.Graph]
	index atomic.Pointer[payload.Index]

	// writeMu serializes insert/upsert/delete/compact: spec §5 says
	// writers are serialized per collection, while readers proceed
	// lock-free against the atomic snapshots above.
	writeMu sync.Mutex

	stateMu sync.RWMutex
	state   State

	logger zerolog.Logger
}

// New creates an empty collection ready for inserts.
func New(cfg Config) *Collection {
	c := &Collection{
		cfg:    cfg,
		state:  StateActive,
		logger: log.With().Str("component", "collection").Str("collection", cfg.Name).Logger(),
	}
	c.store.Store(vecstore.New(cfg.Dim, cfg.Quota))
	c.graph.Store(hnsw.New(cfg.HNSW, c.store.Load()))
	c.index.Store(payload.NewIndex(cfg.Schema))
	return c
}

func (c *Collection) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// SetState transitions the collection's operational mode. Nothing in
// this repository calls it: quorum loss seen by a QuorumWatcher and
// integrity errors do not change a collection's state.
func (c *Collection) SetState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != s {
		c.logger.Info().Str("from", string(c.state)).Str("to", string(s)).Msg("collection state transition")
	}
	c.state = s
}

// syncPayloadSink best-effort mirrors a payload write or delete to the
// configured PayloadSink. Sink failures are logged, not returned: the
// in-memory index is the source of truth for the running process, and
// the sink exists for crash recovery rather than read serving.
func (c *Collection) syncPayloadSink(id string, pl map[string]any) {
	if c.cfg.PayloadSink == nil {
		return
	}
	if pl == nil {
		if err := c.cfg.PayloadSink.Delete(id); err != nil {
			c.logger.Warn().Str("id", id).Err(err).Msg("payload sink delete failed")
		}
		return
	}
	encoded, err := json.Marshal(pl)
	if err != nil {
		c.logger.Warn().Str("id", id).Err(err).Msg("payload sink marshal failed")
		return
	}
	if err := c.cfg.PayloadSink.Put(id, encoded); err != nil {
		c.logger.Warn().Str("id", id).Err(err).Msg("payload sink put failed")
	}
}

func (c *Collection) checkWritable() error {
	switch c.State() {
	case StateDeleted:
		return vgerr.New(vgerr.UnknownCollection, "collection has been deleted")
	case StateReadOnly:
		return vgerr.New(vgerr.ReadOnly, "collection is read-only")
	default:
		return nil
	}
}

// Insert adds a fresh vector (spec §4.6). On success it returns the
// assigned handle.
func (c *Collection) Insert(id string, vector []float32, pl map[string]any) (vecstore.Handle, error) {
	if err := c.checkWritable(); err != nil {
		return vecstore.InvalidHandle, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	store := c.store.Load()
	h, err := store.Insert(id, vector, pl)
	if err != nil {
		return vecstore.InvalidHandle, err
	}
	if err := c.graph.Load().Insert(h, 0); err != nil {
		return vecstore.InvalidHandle, err
	}
	c.index.Load().IndexPayload(h, pl)
	c.syncPayloadSink(id, pl)
	return h, nil
}

// Upsert logically deletes any prior handle for id, then inserts fresh
// (spec §4.6).
func (c *Collection) Upsert(id string, vector []float32, pl map[string]any) (vecstore.Handle, error) {
	if err := c.checkWritable(); err != nil {
		return vecstore.InvalidHandle, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	store := c.store.Load()
	if prev, ok := store.ByExternalID(id); ok {
		if prevPayload := store.PayloadUnsafe(prev); prevPayload != nil {
			c.index.Load().RemovePayload(prev, prevPayload)
		}
		c.graph.Load().Delete(prev)
	}
	h, err := store.Upsert(id, vector, pl)
	if err != nil {
		return vecstore.InvalidHandle, err
	}
	if err := c.graph.Load().Insert(h, 0); err != nil {
		return vecstore.InvalidHandle, err
	}
	c.index.Load().IndexPayload(h, pl)
	c.syncPayloadSink(id, pl)
	return h, nil
}

// Delete tombstones id in both the vector store and the HNSW graph, and
// removes it from the payload index. Returns false if id was not live.
func (c *Collection) Delete(id string) (bool, error) {
	if err := c.checkWritable(); err != nil {
		return false, err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	store := c.store.Load()
	h, ok := store.ByExternalID(id)
	if !ok {
		return false, nil
	}
	pl := store.PayloadUnsafe(h)
	if !store.Delete(id) {
		return false, nil
	}
	c.graph.Load().Delete(h)
	if pl != nil {
		c.index.Load().RemovePayload(h, pl)
	}
	c.syncPayloadSink(id, nil)

	if store.TombstoneRatio() >= c.cfg.TombstoneCompactThreshold {
		c.logger.Info().Float64("ratio", store.TombstoneRatio()).Msg("tombstone ratio exceeds threshold, compacting")
		if err := c.compactLocked(); err != nil {
			c.logger.Error().Err(err).Msg("compaction failed")
		}
	}
	return true, nil
}

// BatchInsert inserts each entry independently: atomic per entry, not
// atomic across entries (spec §4.6).
func (c *Collection) BatchInsert(entries []BatchEntry) []BatchResult {
	out := make([]BatchResult, len(entries))
	for i, e := range entries {
		h, err := c.Insert(e.ExternalID, e.Vector, e.Payload)
		out[i] = BatchResult{Handle: h, Err: err}
	}
	return out
}

// Get returns the vector and payload for a live external id.
func (c *Collection) Get(id string) ([]float32, map[string]any, bool) {
	store := c.store.Load()
	h, ok := store.ByExternalID(id)
	if !ok {
		return nil, nil, false
	}
	return store.Get(h)
}

// Count returns the number of live vectors.
func (c *Collection) Count() int {
	return c.store.Load().Count()
}

// Scroll pages through live vectors (spec §4.6).
func (c *Collection) Scroll(cursor vecstore.Cursor, batchSize int) vecstore.ScrollResult {
	return c.store.Load().Scroll(cursor, batchSize)
}

// Stats reports the collection's current resource usage.
func (c *Collection) Stats() Stats {
	store := c.store.Load()
	graph := c.graph.Load()
	return Stats{
		Live:            store.Count(),
		Tombstoned:      int(store.HighWater()) - store.Count(),
		TombstoneRatio:  store.TombstoneRatio(),
		GraphMaxLevel:   graph.MaxLevel(),
		HighWaterHandle: uint32(store.HighWater()),
	}
}

// Search executes the cost-based query plan described in spec §4.9: a
// nil filter always takes the vector-first path; otherwise the planner
// picks filter-first, vector-first, or hybrid based on the filter's
// estimated selectivity.
func (c *Collection) Search(ctx context.Context, query []float32, k int, f *filter.Filter, efSearch int) ([]SearchResult, error) {
	if len(query) != c.cfg.Dim {
		return nil, vgerr.New(vgerr.DimensionMismatch, "query vector length does not match collection dimension")
	}
	if efSearch <= 0 {
		efSearch = c.cfg.HNSW.EfSearch
	}

	store := c.store.Load()
	graph := c.graph.Load()

	if f == nil {
		results, err := graph.Search(ctx, query, k, efSearch, nil)
		if err != nil {
			return nil, err
		}
		return c.toSearchResults(store, results), nil
	}

	universeSize := int(store.HighWater())
	ev, err := filter.Eval(f, c.index.Load(), universeSize)
	if err != nil {
		return nil, err
	}

	fetch := func(h vecstore.Handle) map[string]any { return store.PayloadUnsafe(h) }
	sel := ev.Selectivity()

	switch {
	case sel < c.cfg.SelectivityLow:
		return c.searchFilterFirst(ctx, store, graph, query, k, ev, fetch)
	case sel > c.cfg.SelectivityHigh:
		accept := acceptOf(ev, fetch)
		enlargedEf := int(float64(efSearch) * (1 + c.cfg.EfSearchGrowthAlpha*(1-sel)))
		results, err := graph.Search(ctx, query, k, enlargedEf, accept)
		if err != nil {
			return nil, err
		}
		return c.toSearchResults(store, results), nil
	default:
		accept := acceptOf(ev, fetch)
		results, err := graph.Search(ctx, query, k, efSearch, accept)
		if err != nil {
			return nil, err
		}
		if len(results) < k {
			// Hybrid search starved: re-plan as filter-first (spec §4.9).
			return c.searchFilterFirst(ctx, store, graph, query, k, ev, fetch)
		}
		return c.toSearchResults(store, results), nil
	}
}

func acceptOf(ev filter.Evaluated, fetch func(vecstore.Handle) map[string]any) hnsw.Accept {
	if ev.Concrete() {
		postings := ev.Postings
		return func(h vecstore.Handle) bool { return postings.Contains(h) }
	}
	pred := ev.Predicate
	return func(h vecstore.Handle) bool { return pred(h, fetch(h)) }
}

// searchFilterFirst materializes the filter's posting list and computes
// exact distances for every survivor (spec §4.9 filter-first plan). The
// scan honors ctx cancellation at the same bounded frequency as the HNSW
// search path (spec §5).
func (c *Collection) searchFilterFirst(ctx context.Context, store *vecstore.Store, graph *hnsw.Graph, query []float32, k int, ev filter.Evaluated, fetch func(vecstore.Handle) map[string]any) ([]SearchResult, error) {
	liveUniverse := payload.Universe(int(store.HighWater()))
	postings := filter.Materialize(ev, liveUniverse, fetch)

	distFn := metric.For(c.cfg.Metric, c.cfg.Normalized)
	type scored struct {
		handle vecstore.Handle
		dist   float32
	}
	var candidates []scored
	it := postings.Iterator()
	for scanned := 0; it.HasNext(); scanned++ {
		if scanned%scanYieldEvery == 0 {
			select {
			case <-ctx.Done():
				return nil, vgerr.New(vgerr.Cancelled, "filter-first search cancelled during postings scan")
			default:
			}
		}
		h := it.Next()
		if store.IsTombstoned(h) {
			continue
		}
		v := store.GetVectorUnsafe(h)
		if v == nil {
			continue
		}
		candidates = append(candidates, scored{handle: h, dist: distFn(query, v)})
	}
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && (candidates[j].dist < candidates[j-1].dist ||
			(candidates[j].dist == candidates[j-1].dist && candidates[j].handle < candidates[j-1].handle)); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]SearchResult, len(candidates))
	for i, cd := range candidates {
		eid, _ := store.ExternalID(cd.handle)
		out[i] = SearchResult{ExternalID: eid, Score: cd.dist, Payload: store.PayloadUnsafe(cd.handle)}
	}
	return out, nil
}

// FlatSearch computes exact nearest neighbors by scanning every live
// vector, ignoring the HNSW graph entirely. It exists as the ground
// truth baseline a recall calibrator compares approximate search
// against (spec §4.9: "ef_search may be raised... when measured recall
// falls below the configured target"). Like every scatter-gather scan,
// it honors ctx cancellation at bounded frequency (spec §5).
func (c *Collection) FlatSearch(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if len(query) != c.cfg.Dim {
		return nil, vgerr.New(vgerr.DimensionMismatch, fmt.Sprintf("query has dim %d, collection has dim %d", len(query), c.cfg.Dim))
	}
	store := c.store.Load()
	distFn := metric.For(c.cfg.Metric, c.cfg.Normalized)

	type scored struct {
		handle vecstore.Handle
		dist   float32
	}
	var candidates []scored
	cursor := vecstore.Cursor{}
	scanned := 0
	for {
		res := store.Scroll(cursor, 1024)
		for _, h := range res.Handle {
			if scanned%scanYieldEvery == 0 {
				select {
				case <-ctx.Done():
					return nil, vgerr.New(vgerr.Cancelled, "flat search cancelled during scan")
				default:
				}
			}
			scanned++
			v := store.GetVectorUnsafe(h)
			if v == nil {
				continue
			}
			candidates = append(candidates, scored{handle: h, dist: distFn(query, v)})
		}
		if res.Done {
			break
		}
		cursor = res.Next
	}

	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && (candidates[j].dist < candidates[j-1].dist ||
			(candidates[j].dist == candidates[j-1].dist && candidates[j].handle < candidates[j-1].handle)); j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]SearchResult, len(candidates))
	for i, cd := range candidates {
		eid, _ := store.ExternalID(cd.handle)
		out[i] = SearchResult{ExternalID: eid, Score: cd.dist, Payload: store.PayloadUnsafe(cd.handle)}
	}
	return out, nil
}

func (c *Collection) toSearchResults(store *vecstore.Store, results []hnsw.Result) []SearchResult {
	out := make([]SearchResult, len(results))
	for i, r := range results {
		eid, _ := store.ExternalID(r.Handle)
		out[i] = SearchResult{ExternalID: eid, Score: r.Dist, Payload: store.PayloadUnsafe(r.Handle)}
	}
	return out
}

// Compact rebuilds the vector store, HNSW graph, and payload index with
// tombstones physically removed, then atomically swaps all three in.
// Callers needing a background compaction should run this from their own
// goroutine; Compact itself serializes against other writers.
func (c *Collection) Compact() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.compactLocked()
}

func (c *Collection) compactLocked() error {
	oldStore := c.store.Load()
	newStore, _ := oldStore.Compact()

	newGraph, err := hnsw.Rebuild(c.cfg.HNSW, newStore)
	if err != nil {
		return err
	}

	newIndex := payload.NewIndex(c.cfg.Schema)
	cursor := vecstore.Cursor{}
	for {
		res := newStore.Scroll(cursor, 1024)
		for _, h := range res.Handle {
			if pl := newStore.PayloadUnsafe(h); pl != nil {
				newIndex.IndexPayload(h, pl)
			}
		}
		cursor = res.Next
		if res.Done {
			break
		}
	}

	c.store.Store(newStore)
	c.graph.Store(newGraph)
	c.index.Store(newIndex)
	return nil
}
