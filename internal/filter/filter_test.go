package filter

import (
	"testing"

	"github.com/dreamware/vectorgraph/internal/payload"
	"github.com/dreamware/vectorgraph/internal/vecstore"
	"github.com/stretchr/testify/require"
)

func buildIndex() *payload.Index {
	schema := payload.Schema{
		{Name: "tag", Type: payload.FieldKeyword},
		{Name: "score", Type: payload.FieldFloat},
	}
	idx := payload.NewIndex(schema)
	idx.IndexPayload(0, map[string]any{"tag": "x", "score": 1.0})
	idx.IndexPayload(1, map[string]any{"tag": "y", "score": 2.0})
	idx.IndexPayload(2, map[string]any{"tag": "x", "score": 3.0})
	idx.IndexPayload(3, map[string]any{"tag": "y", "score": 4.0})
	return idx
}

func TestEvalEqConcrete(t *testing.T) {
	idx := buildIndex()
	ev, err := Eval(EqOf("tag", "x"), idx, 4)
	require.NoError(t, err)
	require.True(t, ev.Concrete())
	require.ElementsMatch(t, []vecstore.Handle{0, 2}, ev.Postings.ToSlice())
}

func TestFilterAlgebraAndOrNot(t *testing.T) {
	idx := buildIndex()
	a := EqOf("tag", "x")
	b := GteOf("score", 3)

	evA, _ := Eval(a, idx, 4)
	evB, _ := Eval(b, idx, 4)
	evAnd, err := Eval(AndOf(a, b), idx, 4)
	require.NoError(t, err)
	require.ElementsMatch(t, evA.Postings.Intersect(evB.Postings).ToSlice(), evAnd.Postings.ToSlice())

	evOr, err := Eval(OrOf(a, b), idx, 4)
	require.NoError(t, err)
	require.ElementsMatch(t, evA.Postings.Union(evB.Postings).ToSlice(), evOr.Postings.ToSlice())

	evNot, err := Eval(NotOf(a), idx, 4)
	require.NoError(t, err)
	require.ElementsMatch(t, payload.Universe(4).Difference(evA.Postings).ToSlice(), evNot.Postings.ToSlice())
}

func TestUnindexedFieldFallsBackToPredicate(t *testing.T) {
	idx := buildIndex()
	ev, err := Eval(EqOf("missing", "z"), idx, 4)
	require.NoError(t, err)
	require.False(t, ev.Concrete())

	fetch := func(h vecstore.Handle) map[string]any {
		if h == 2 {
			return map[string]any{"missing": "z"}
		}
		return map[string]any{}
	}
	live := payload.Universe(4)
	result := Materialize(ev, live, fetch)
	require.ElementsMatch(t, []vecstore.Handle{2}, result.ToSlice())
}

func TestAndMixedConcreteAndPredicate(t *testing.T) {
	idx := buildIndex()
	concrete := EqOf("tag", "x")
	predicateOnly := EqOf("missing", "z")

	fetch := func(h vecstore.Handle) map[string]any {
		if h == 0 {
			return map[string]any{"missing": "z"}
		}
		return map[string]any{}
	}

	ev, err := Eval(AndOf(concrete, predicateOnly), idx, 4)
	require.NoError(t, err)
	require.False(t, ev.Concrete())

	result := Materialize(ev, payload.Universe(4), fetch)
	require.ElementsMatch(t, []vecstore.Handle{0}, result.ToSlice())
}

// unindexedFetch returns a fetch function backed by the given per-handle
// raw payloads, for exercising evalRawPredicate via Materialize against a
// schema with no matching sub-index for the field under test.
func unindexedFetch(payloads map[vecstore.Handle]map[string]any) func(vecstore.Handle) map[string]any {
	return func(h vecstore.Handle) map[string]any {
		if p, ok := payloads[h]; ok {
			return p
		}
		return map[string]any{}
	}
}

func TestUnindexedOrderedKinds(t *testing.T) {
	idx := payload.NewIndex(payload.Schema{})
	fetch := unindexedFetch(map[vecstore.Handle]map[string]any{
		0: {"weight": 1.0},
		1: {"weight": 2.0},
		2: {"weight": 3.0},
		3: {"weight": 4.0},
	})
	live := payload.Universe(4)

	cases := []struct {
		name string
		f    *Filter
		want []vecstore.Handle
	}{
		{"gt", GtOf("weight", 2), []vecstore.Handle{2, 3}},
		{"gte", GteOf("weight", 2), []vecstore.Handle{1, 2, 3}},
		{"lt", LtOf("weight", 3), []vecstore.Handle{0, 1}},
		{"lte", LteOf("weight", 3), []vecstore.Handle{0, 1, 2}},
		{"range_exclusive", RangeOf("weight", 1, 4, false, false), []vecstore.Handle{1, 2}},
		{"range_inclusive", RangeOf("weight", 1, 4, true, true), []vecstore.Handle{0, 1, 2, 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Eval(tc.f, idx, 4)
			require.NoError(t, err)
			require.False(t, ev.Concrete())
			result := Materialize(ev, live, fetch)
			require.ElementsMatch(t, tc.want, result.ToSlice())
		})
	}
}

func TestUnindexedGeoKinds(t *testing.T) {
	idx := payload.NewIndex(payload.Schema{})
	fetch := unindexedFetch(map[vecstore.Handle]map[string]any{
		0: {"loc": payload.GeoPoint{Lat: 0, Lon: 0}},
		1: {"loc": payload.GeoPoint{Lat: 0.01, Lon: 0.01}},
		2: {"loc": payload.GeoPoint{Lat: 10, Lon: 10}},
	})
	live := payload.Universe(3)

	radiusEv, err := Eval(GeoRadiusOf("loc", GeoPoint{Lat: 0, Lon: 0}, 5000), idx, 3)
	require.NoError(t, err)
	require.False(t, radiusEv.Concrete())
	require.ElementsMatch(t, []vecstore.Handle{0, 1}, Materialize(radiusEv, live, fetch).ToSlice())

	bboxEv, err := Eval(GeoBBoxOf("loc", -1, -1, 1, 1), idx, 3)
	require.NoError(t, err)
	require.False(t, bboxEv.Concrete())
	require.ElementsMatch(t, []vecstore.Handle{0, 1}, Materialize(bboxEv, live, fetch).ToSlice())
}

func TestUnindexedTextKinds(t *testing.T) {
	idx := payload.NewIndex(payload.Schema{})
	fetch := unindexedFetch(map[vecstore.Handle]map[string]any{
		0: {"body": "the quick brown fox"},
		1: {"body": "a slow brown dog"},
		2: {"body": "nothing relevant here"},
	})
	live := payload.Universe(3)

	textEv, err := Eval(MatchTextOf("body", []string{"brown", "fox"}), idx, 3)
	require.NoError(t, err)
	require.False(t, textEv.Concrete())
	require.ElementsMatch(t, []vecstore.Handle{0}, Materialize(textEv, live, fetch).ToSlice())

	phraseEv, err := Eval(MatchPhraseOf("body", []string{"brown", "fox"}), idx, 3)
	require.NoError(t, err)
	require.False(t, phraseEv.Concrete())
	require.ElementsMatch(t, []vecstore.Handle{0}, Materialize(phraseEv, live, fetch).ToSlice())

	noPhraseEv, err := Eval(MatchPhraseOf("body", []string{"fox", "brown"}), idx, 3)
	require.NoError(t, err)
	require.Empty(t, Materialize(noPhraseEv, live, fetch).ToSlice())
}

func TestUnindexedInNotIn(t *testing.T) {
	idx := payload.NewIndex(payload.Schema{})
	fetch := unindexedFetch(map[vecstore.Handle]map[string]any{
		0: {"tag": "x"},
		1: {"tag": "y"},
		2: {"tag": "z"},
	})
	live := payload.Universe(3)

	inEv, err := Eval(InOf("tag", []any{"x", "z"}), idx, 3)
	require.NoError(t, err)
	require.ElementsMatch(t, []vecstore.Handle{0, 2}, Materialize(inEv, live, fetch).ToSlice())

	notInEv, err := Eval(NotInOf("tag", []any{"x", "z"}), idx, 3)
	require.NoError(t, err)
	require.ElementsMatch(t, []vecstore.Handle{1}, Materialize(notInEv, live, fetch).ToSlice())
}

func TestRangeInclusivity(t *testing.T) {
	idx := buildIndex()
	ev, err := Eval(RangeOf("score", 2, 4, true, false), idx, 4)
	require.NoError(t, err)
	require.ElementsMatch(t, []vecstore.Handle{1, 2}, ev.Postings.ToSlice())
}
