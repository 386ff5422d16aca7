// Package payload implements per-field secondary indexes over a
// collection's payload values: hash (keyword/integer/bool), ordered
// (numeric/date range), geo-point, and inverted text. Every index type
// produces a Postings list over internal vector-store handles so the
// filter engine (internal/filter) can intersect, union, and skip across
// them uniformly.
package payload

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dreamware/vectorgraph/internal/vecstore"
)

// Postings is a sorted sequence of internal handles backed by a Roaring
// bitmap, giving cheap iteration, skip-to-next, intersection, union, and
// membership test as required by spec §4.3.
type Postings struct {
	bm *roaring.Bitmap
}

// NewPostings returns an empty postings list.
func NewPostings() *Postings { return &Postings{bm: roaring.New()} }

// PostingsOf builds a postings list from a slice of handles.
func PostingsOf(handles ...vecstore.Handle) *Postings {
	p := NewPostings()
	for _, h := range handles {
		p.Add(h)
	}
	return p
}

// Add inserts a handle.
func (p *Postings) Add(h vecstore.Handle) { p.bm.Add(uint32(h)) }

// Remove deletes a handle.
func (p *Postings) Remove(h vecstore.Handle) { p.bm.Remove(uint32(h)) }

// Contains is the membership test.
func (p *Postings) Contains(h vecstore.Handle) bool { return p.bm.Contains(uint32(h)) }

// Len returns the number of handles in the list; used by the filter
// engine as the selectivity estimate for a leaf clause.
func (p *Postings) Len() int { return int(p.bm.GetCardinality()) }

// Clone returns an independent copy.
func (p *Postings) Clone() *Postings { return &Postings{bm: p.bm.Clone()} }

// Intersect returns a new postings list containing handles in both p and
// other; used for AND evaluation, smallest-list-first per spec §4.4.
func (p *Postings) Intersect(other *Postings) *Postings {
	return &Postings{bm: roaring.And(p.bm, other.bm)}
}

// Union returns a new postings list containing handles in either p or
// other; used for OR evaluation.
func (p *Postings) Union(other *Postings) *Postings {
	return &Postings{bm: roaring.Or(p.bm, other.bm)}
}

// Difference returns handles in p but not in other; used to materialize
// NOT against a concrete universe when the parent requires it.
func (p *Postings) Difference(other *Postings) *Postings {
	return &Postings{bm: roaring.AndNot(p.bm, other.bm)}
}

// Iterator exposes ascending iteration with skip-to support.
type Iterator struct {
	it roaring.IntPeekable
}

// Iterator returns a fresh ascending iterator over p.
func (p *Postings) Iterator() *Iterator {
	return &Iterator{it: p.bm.Iterator()}
}

// HasNext reports whether more handles remain.
func (it *Iterator) HasNext() bool { return it.it.HasNext() }

// Next returns the next handle in ascending order.
func (it *Iterator) Next() vecstore.Handle { return vecstore.Handle(it.it.Next()) }

// SkipTo advances the iterator to the first handle >= h.
func (it *Iterator) SkipTo(h vecstore.Handle) { it.it.AdvanceIfNeeded(uint32(h)) }

// ToSlice materializes the postings list as a slice of handles in
// ascending order.
func (p *Postings) ToSlice() []vecstore.Handle {
	raw := p.bm.ToArray()
	out := make([]vecstore.Handle, len(raw))
	for i, v := range raw {
		out[i] = vecstore.Handle(v)
	}
	return out
}

// Universe builds the full [0, n) postings list, used to materialize NOT
// at the root of a filter tree (spec §8 filter algebra: NOT(a) = U \ a).
func Universe(n int) *Postings {
	p := NewPostings()
	for i := 0; i < n; i++ {
		p.Add(vecstore.Handle(i))
	}
	return p
}
