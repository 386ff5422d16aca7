package hnsw

import (
	"sync/atomic"

	"github.com/dreamware/vectorgraph/internal/vecstore"
)

// neighbors wraps an atomic pointer to a neighbor-handle slice so that a
// writer's edge update is a single pointer swap: concurrent readers
// either see the old slice or the new one in full, never a torn list
// (spec §5).
type neighbors struct {
	ptr atomic.Pointer[[]vecstore.Handle]
}

func newNeighbors() *neighbors {
	n := &neighbors{}
	empty := make([]vecstore.Handle, 0)
	n.ptr.Store(&empty)
	return n
}

// load returns the current neighbor slice. Callers must not mutate it.
func (n *neighbors) load() []vecstore.Handle {
	if n == nil {
		return nil
	}
	p := n.ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// store atomically replaces the neighbor slice.
func (n *neighbors) store(v []vecstore.Handle) {
	n.ptr.Store(&v)
}

// nodeState is the per-handle metadata kept outside the per-layer
// neighbor arrays: its sampled top level and whether it is tombstoned.
type nodeState struct {
	topLevel   int
	tombstoned atomic.Bool
}
