package hnsw

import "github.com/dreamware/vectorgraph/internal/vecstore"

// Rebuild constructs a fresh graph over a compacted store by reinserting
// every live handle in ascending order. Compaction remaps handle
// identities (spec §4.8's "rebuild over the compacted vector store"
// note), so edge lists cannot simply be relabeled: a full reinsertion is
// the straightforward, correct way to restore connectivity.
func Rebuild(cfg Config, store *vecstore.Store) (*Graph, error) {
	g := New(cfg, store)
	n := store.HighWater()
	for h := vecstore.Handle(0); h < n; h++ {
		if store.IsTombstoned(h) {
			continue
		}
		if err := g.Insert(h, 0); err != nil {
			return nil, err
		}
	}
	return g, nil
}
