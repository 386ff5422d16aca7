package payload

import (
	"sync"

	"github.com/google/btree"

	"github.com/dreamware/vectorgraph/internal/vecstore"
)

// orderedItem is one (value, handle) pair stored in the ordered index's
// btree. Ties on value are broken by handle so the tree has a total
// order even with duplicate values.
type orderedItem struct {
	value  float64
	handle vecstore.Handle
}

func lessOrderedItem(a, b orderedItem) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	return a.handle < b.handle
}

// OrderedIndex supports range queries (gt/gte/lt/lte/range) over numeric
// or date fields (dates are stored as unix-epoch float64 seconds).
type OrderedIndex struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[orderedItem]
	// byHandle lets Remove find a handle's current value without a scan.
	byHandle map[vecstore.Handle]float64
}

// NewOrderedIndex returns an empty ordered index.
func NewOrderedIndex() *OrderedIndex {
	return &OrderedIndex{
		tree:     btree.NewG(32, lessOrderedItem),
		byHandle: make(map[vecstore.Handle]float64),
	}
}

// Add records that handle h has the given numeric value.
func (idx *OrderedIndex) Add(h vecstore.Handle, value float64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.tree.ReplaceOrInsert(orderedItem{value: value, handle: h})
	idx.byHandle[h] = value
}

// Remove drops handle h from the index.
func (idx *OrderedIndex) Remove(h vecstore.Handle) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if v, ok := idx.byHandle[h]; ok {
		idx.tree.Delete(orderedItem{value: v, handle: h})
		delete(idx.byHandle, h)
	}
}

// Range returns handles whose value lies between min and max, each bound
// included or excluded per minInclusive/maxInclusive (use +/-Inf for
// open ends; gt/gte/lt/lte all reduce to this with appropriate bounds).
func (idx *OrderedIndex) Range(min, max float64, minInclusive, maxInclusive bool) *Postings {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := NewPostings()
	lowerBound := orderedItem{value: min}
	if !minInclusive {
		lowerBound.handle = vecstore.InvalidHandle
	}
	idx.tree.AscendGreaterOrEqual(lowerBound, func(item orderedItem) bool {
		if item.value > max || (item.value == max && !maxInclusive) {
			return false
		}
		if item.value == min && !minInclusive {
			return true
		}
		out.Add(item.handle)
		return true
	})
	return out
}

// Len returns the number of indexed handles, used for selectivity
// estimation when a range query's bounds are unknown ahead of time.
func (idx *OrderedIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.tree.Len()
}
