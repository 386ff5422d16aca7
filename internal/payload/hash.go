package payload

import (
	"fmt"
	"sync"

	"github.com/dreamware/vectorgraph/internal/vecstore"
)

// HashIndex supports equality and set-membership queries over keyword,
// integer, and bool fields by keying a postings list off the value's
// string form.
type HashIndex struct {
	mu      sync.RWMutex
	byValue map[string]*Postings
}

// NewHashIndex returns an empty hash index.
func NewHashIndex() *HashIndex {
	return &HashIndex{byValue: make(map[string]*Postings)}
}

// Add records that handle h has value v.
func (idx *HashIndex) Add(h vecstore.Handle, v any) {
	key := hashKey(v)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	p, ok := idx.byValue[key]
	if !ok {
		p = NewPostings()
		idx.byValue[key] = p
	}
	p.Add(h)
}

// Remove drops handle h from value v's postings list.
func (idx *HashIndex) Remove(h vecstore.Handle, v any) {
	key := hashKey(v)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if p, ok := idx.byValue[key]; ok {
		p.Remove(h)
	}
}

// Eq returns the postings list for handles with value == v.
func (idx *HashIndex) Eq(v any) *Postings {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if p, ok := idx.byValue[hashKey(v)]; ok {
		return p.Clone()
	}
	return NewPostings()
}

// In returns the union of postings for handles with value in vs.
func (idx *HashIndex) In(vs []any) *Postings {
	out := NewPostings()
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, v := range vs {
		if p, ok := idx.byValue[hashKey(v)]; ok {
			out = out.Union(p)
		}
	}
	return out
}

// Selectivity estimates eq(v)'s fraction of the indexed universe,
// consulted by the filter engine's cost-based planner.
func (idx *HashIndex) Selectivity(v any, universeSize int) float64 {
	if universeSize == 0 {
		return 0
	}
	return float64(idx.Eq(v).Len()) / float64(universeSize)
}

func hashKey(v any) string {
	switch t := v.(type) {
	case string:
		return "s:" + t
	case bool:
		if t {
			return "b:1"
		}
		return "b:0"
	default:
		return fmt.Sprintf("v:%v", t)
	}
}
