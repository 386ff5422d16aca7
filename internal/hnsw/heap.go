package hnsw

import (
	"container/heap"

	"github.com/dreamware/vectorgraph/internal/vecstore"
)

// candidate pairs a handle with its distance to the query, the unit the
// two heaps below order by.
type candidate struct {
	handle vecstore.Handle
	dist   float32
}

// less gives the deterministic tie-break required by spec §4.5: equal
// distances order by ascending handle.
func (c candidate) less(o candidate) bool {
	if c.dist != o.dist {
		return c.dist < o.dist
	}
	return c.handle < o.handle
}

// minHeap pops the closest candidate first; used as the traversal
// frontier during best-first search.
type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// maxHeap pops the farthest candidate first; used to keep a bounded
// "current best ef/M results" set where the worst entry is evicted first.
type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[j].less(h[i]) }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// boundedMaxHeap keeps at most `cap` entries, always evicting the
// farthest when a closer candidate arrives.
type boundedMaxHeap struct {
	h   maxHeap
	cap int
}

func newBoundedMaxHeap(cap int) *boundedMaxHeap {
	return &boundedMaxHeap{h: make(maxHeap, 0, cap), cap: cap}
}

func (b *boundedMaxHeap) offer(c candidate) bool {
	if b.h.Len() < b.cap {
		heap.Push(&b.h, c)
		return true
	}
	if b.h.Len() == 0 {
		return false
	}
	if c.less(b.h[0]) {
		heap.Pop(&b.h)
		heap.Push(&b.h, c)
		return true
	}
	return false
}

func (b *boundedMaxHeap) worst() (candidate, bool) {
	if b.h.Len() == 0 {
		return candidate{}, false
	}
	return b.h[0], true
}

func (b *boundedMaxHeap) len() int { return b.h.Len() }

// drainAscending empties the heap into an ascending-distance slice.
func (b *boundedMaxHeap) drainAscending() []candidate {
	out := make([]candidate, b.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&b.h).(candidate)
	}
	return out
}
