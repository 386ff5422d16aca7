package payload

import (
	"strings"
	"sync"

	"github.com/dreamware/vectorgraph/internal/vecstore"
)

// TextIndex is a tokenized inverted index over a text field, storing
// token positions per handle so that phrase queries (adjacent tokens in
// order) can be evaluated in addition to plain term-set matches.
type TextIndex struct {
	mu sync.RWMutex
	// postings maps token -> handles containing it.
	postings map[string]*Postings
	// positions maps (token, handle) -> sorted token positions within
	// that handle's document, used for phrase matching.
	positions map[string]map[vecstore.Handle][]int
}

// NewTextIndex returns an empty text index.
func NewTextIndex() *TextIndex {
	return &TextIndex{
		postings:  make(map[string]*Postings),
		positions: make(map[string]map[vecstore.Handle][]int),
	}
}

// Tokenize performs the same lowercase-whitespace tokenization used for
// both indexing and querying, so the two sides always agree.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Add indexes text under handle h.
func (idx *TextIndex) Add(h vecstore.Handle, text string) {
	tokens := Tokenize(text)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for pos, tok := range tokens {
		p, ok := idx.postings[tok]
		if !ok {
			p = NewPostings()
			idx.postings[tok] = p
		}
		p.Add(h)

		byHandle, ok := idx.positions[tok]
		if !ok {
			byHandle = make(map[vecstore.Handle][]int)
			idx.positions[tok] = byHandle
		}
		byHandle[h] = append(byHandle[h], pos)
	}
}

// Remove drops handle h's prior indexing for text. Callers pass the same
// text that was originally added.
func (idx *TextIndex) Remove(h vecstore.Handle, text string) {
	tokens := Tokenize(text)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, tok := range tokens {
		if p, ok := idx.postings[tok]; ok {
			p.Remove(h)
		}
		if byHandle, ok := idx.positions[tok]; ok {
			delete(byHandle, h)
		}
	}
}

// MatchTerms returns handles containing every token in terms (a term-set
// AND match), intersecting smallest-postings-first.
func (idx *TextIndex) MatchTerms(terms []string) *Postings {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	lists := make([]*Postings, 0, len(terms))
	for _, t := range terms {
		p, ok := idx.postings[strings.ToLower(t)]
		if !ok {
			return NewPostings()
		}
		lists = append(lists, p)
	}
	if len(lists) == 0 {
		return NewPostings()
	}
	sortPostingsBySize(lists)
	result := lists[0].Clone()
	for _, p := range lists[1:] {
		result = result.Intersect(p)
	}
	return result
}

// MatchPhrase returns handles where the given tokens appear consecutively
// and in order.
func (idx *TextIndex) MatchPhrase(phrase []string) *Postings {
	candidates := idx.MatchTerms(phrase)
	if len(phrase) <= 1 {
		return candidates
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := NewPostings()
	it := candidates.Iterator()
	for it.HasNext() {
		h := it.Next()
		if hasPhraseAt(idx.positions, phrase, h) {
			out.Add(h)
		}
	}
	return out
}

func hasPhraseAt(positions map[string]map[vecstore.Handle][]int, phrase []string, h vecstore.Handle) bool {
	firstPositions := positions[strings.ToLower(phrase[0])][h]
	for _, start := range firstPositions {
		match := true
		for offset := 1; offset < len(phrase); offset++ {
			positionsForToken := positions[strings.ToLower(phrase[offset])][h]
			if !containsInt(positionsForToken, start+offset) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func sortPostingsBySize(lists []*Postings) {
	for i := 1; i < len(lists); i++ {
		for j := i; j > 0 && lists[j].Len() < lists[j-1].Len(); j-- {
			lists[j], lists[j-1] = lists[j-1], lists[j]
		}
	}
}
