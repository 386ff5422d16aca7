package filter

import (
	"fmt"
	"math"
	"strings"

	"github.com/dreamware/vectorgraph/internal/payload"
	"github.com/dreamware/vectorgraph/internal/vecstore"
	"github.com/dreamware/vectorgraph/internal/vgerr"
)

// unindexedSelectivity is the default selectivity assigned to a clause
// whose field has no matching sub-index, used only for cost estimation
// (the clause itself always falls back to a predicate scan).
const unindexedSelectivity = 0.5

// Evaluated is the result of evaluating one Filter node: either a
// concrete posting list (fully index-covered) or a Predicate fallback,
// never both, per spec §4.4.
type Evaluated struct {
	Postings   *payload.Postings
	Predicate  Predicate
	selectivity float64
}

// Concrete reports whether this node resolved to an exact posting list.
func (e Evaluated) Concrete() bool { return e.Postings != nil }

// Selectivity estimates the fraction of the live set this node matches,
// used by the query pipeline's planner (spec §4.9).
func (e Evaluated) Selectivity() float64 { return e.selectivity }

// Eval evaluates f against idx. universeSize is the size of the handle
// space [0, universeSize), i.e. the store's high-water mark including
// tombstoned handles; it bounds Ne/NotIn/Not complements and scales
// selectivity estimates.
func Eval(f *Filter, idx *payload.Index, universeSize int) (Evaluated, error) {
	switch f.Kind {
	case Eq, Ne, In, NotIn:
		return evalHash(f, idx, universeSize)
	case Gt, Gte, Lt, Lte, Range:
		return evalOrdered(f, idx, universeSize)
	case GeoRadius, GeoBBox:
		return evalGeo(f, idx, universeSize)
	case MatchText, MatchPhrase:
		return evalText(f, idx, universeSize)
	case And:
		return evalAnd(f, idx, universeSize)
	case Or:
		return evalOr(f, idx, universeSize)
	case Not:
		return evalNot(f, idx, universeSize)
	default:
		return Evaluated{}, vgerr.New(vgerr.InvalidFilter, fmt.Sprintf("unknown filter kind %d", f.Kind))
	}
}

// Materialize forces a concrete posting list, scanning liveHandles with
// the predicate if evaluation fell back. fetch resolves a handle's raw
// payload for the fallback scan.
func Materialize(e Evaluated, liveHandles *payload.Postings, fetch func(vecstore.Handle) map[string]any) *payload.Postings {
	if e.Concrete() {
		return e.Postings
	}
	out := payload.NewPostings()
	it := liveHandles.Iterator()
	for it.HasNext() {
		h := it.Next()
		if e.Predicate(h, fetch(h)) {
			out.Add(h)
		}
	}
	return out
}

func evalHash(f *Filter, idx *payload.Index, universeSize int) (Evaluated, error) {
	hi, err := idx.Hash(f.Field)
	if err != nil {
		return unindexedLeaf(f), nil
	}
	var p *payload.Postings
	switch f.Kind {
	case Eq:
		p = hi.Eq(f.Value)
	case Ne:
		p = payload.Universe(universeSize).Difference(hi.Eq(f.Value))
	case In:
		p = hi.In(f.Values)
	case NotIn:
		p = payload.Universe(universeSize).Difference(hi.In(f.Values))
	}
	return concreteLeaf(p, universeSize), nil
}

func evalOrdered(f *Filter, idx *payload.Index, universeSize int) (Evaluated, error) {
	oi, err := idx.Ordered(f.Field)
	if err != nil {
		return unindexedLeaf(f), nil
	}
	var p *payload.Postings
	switch f.Kind {
	case Gt:
		p = oi.Range(f.Min, maxFloat(), false, false)
	case Gte:
		p = oi.Range(f.Min, maxFloat(), true, false)
	case Lt:
		p = oi.Range(minFloat(), f.Max, false, false)
	case Lte:
		p = oi.Range(minFloat(), f.Max, false, true)
	case Range:
		p = oi.Range(f.Min, f.Max, f.MinIncl, f.MaxIncl)
	}
	return concreteLeaf(p, universeSize), nil
}

func evalGeo(f *Filter, idx *payload.Index, universeSize int) (Evaluated, error) {
	gi, err := idx.Geo(f.Field)
	if err != nil {
		return unindexedLeaf(f), nil
	}
	var p *payload.Postings
	switch f.Kind {
	case GeoRadius:
		p = gi.Radius(payload.GeoPoint{Lat: f.Center.Lat, Lon: f.Center.Lon}, f.RadiusMeters)
	case GeoBBox:
		p = gi.BBox(f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3])
	}
	return concreteLeaf(p, universeSize), nil
}

func evalText(f *Filter, idx *payload.Index, universeSize int) (Evaluated, error) {
	ti, err := idx.Text(f.Field)
	if err != nil {
		return unindexedLeaf(f), nil
	}
	var p *payload.Postings
	switch f.Kind {
	case MatchText:
		p = ti.MatchTerms(f.Terms)
	case MatchPhrase:
		p = ti.MatchPhrase(f.Terms)
	}
	return concreteLeaf(p, universeSize), nil
}

// evalAnd resolves concretely only when every child resolves
// concretely, intersecting the smallest posting list first per the
// cost-based strategy in spec §4.4. If any child falls back to a
// predicate, the whole AND becomes a predicate too: this package has no
// access to raw payloads, so a mixed AND can only be forced concrete by
// the caller via Materialize.
func evalAnd(f *Filter, idx *payload.Index, universeSize int) (Evaluated, error) {
	children := make([]Evaluated, len(f.Children))
	for i, c := range f.Children {
		ev, err := Eval(c, idx, universeSize)
		if err != nil {
			return Evaluated{}, err
		}
		children[i] = ev
	}

	var anchor *payload.Postings
	var predicates []Predicate
	allConcrete := true
	for _, ev := range children {
		if ev.Concrete() {
			if anchor == nil || ev.Postings.Len() < anchor.Len() {
				anchor = ev.Postings
			}
		} else {
			allConcrete = false
		}
	}

	if allConcrete {
		result := anchor.Clone()
		for _, ev := range children {
			if ev.Postings != anchor {
				result = result.Intersect(ev.Postings)
			}
		}
		return concreteLeaf(result, universeSize), nil
	}

	// At least one child fell back to a predicate: the whole AND can no
	// longer be resolved to a concrete posting list without re-reading
	// raw payloads, which this package has no access to (the query
	// pipeline does, via Materialize). Combine every child as a
	// predicate instead, using the smallest concrete child (if any) as a
	// membership pre-filter to keep the scan cheap.
	if anchor != nil {
		predicates = append(predicates, asPredicate(Evaluated{Postings: anchor}))
	}
	for _, ev := range children {
		if anchor == nil || ev.Postings != anchor {
			predicates = append(predicates, asPredicate(ev))
		}
	}
	return Evaluated{Predicate: andPredicates(predicates), selectivity: combinedSelectivity(children, true)}, nil
}

// evalOr unions children when all are concrete; otherwise falls back to
// a predicate (a concrete child's membership test plus the predicate
// child's test), since materializing the non-indexed side would require
// scanning the whole universe.
func evalOr(f *Filter, idx *payload.Index, universeSize int) (Evaluated, error) {
	children := make([]Evaluated, len(f.Children))
	allConcrete := true
	for i, c := range f.Children {
		ev, err := Eval(c, idx, universeSize)
		if err != nil {
			return Evaluated{}, err
		}
		children[i] = ev
		if !ev.Concrete() {
			allConcrete = false
		}
	}

	if allConcrete {
		result := children[0].Postings.Clone()
		for _, ev := range children[1:] {
			result = result.Union(ev.Postings)
		}
		return concreteLeaf(result, universeSize), nil
	}

	predicates := make([]Predicate, len(children))
	for i, ev := range children {
		predicates[i] = asPredicate(ev)
	}
	return Evaluated{Predicate: orPredicates(predicates), selectivity: combinedSelectivity(children, false)}, nil
}

// evalNot applies spec §8's U \ eval(a) identity immediately when the
// child resolved to a concrete posting list; otherwise it negates the
// child's predicate, which the caller can force concrete via Materialize.
func evalNot(f *Filter, idx *payload.Index, universeSize int) (Evaluated, error) {
	child, err := Eval(f.Children[0], idx, universeSize)
	if err != nil {
		return Evaluated{}, err
	}
	if child.Concrete() {
		negated := payload.Universe(universeSize).Difference(child.Postings)
		return concreteLeaf(negated, universeSize), nil
	}
	pred := child.Predicate
	return Evaluated{Predicate: func(h vecstore.Handle, p map[string]any) bool { return !pred(h, p) }, selectivity: 1 - child.selectivity}, nil
}

func asPredicate(e Evaluated) Predicate {
	if e.Concrete() {
		posting := e.Postings
		return func(h vecstore.Handle, _ map[string]any) bool { return posting.Contains(h) }
	}
	return e.Predicate
}

func andPredicates(ps []Predicate) Predicate {
	return func(h vecstore.Handle, p map[string]any) bool {
		for _, pred := range ps {
			if !pred(h, p) {
				return false
			}
		}
		return true
	}
}

func orPredicates(ps []Predicate) Predicate {
	return func(h vecstore.Handle, p map[string]any) bool {
		for _, pred := range ps {
			if pred(h, p) {
				return true
			}
		}
		return false
	}
}

func combinedSelectivity(children []Evaluated, isAnd bool) float64 {
	if len(children) == 0 {
		return unindexedSelectivity
	}
	if isAnd {
		s := 1.0
		for _, c := range children {
			s *= c.selectivity
		}
		return s
	}
	s := 0.0
	for _, c := range children {
		if c.selectivity > s {
			s = c.selectivity
		}
	}
	return s
}

func unindexedLeaf(f *Filter) Evaluated {
	return Evaluated{
		Predicate: func(h vecstore.Handle, p map[string]any) bool {
			return evalRawPredicate(f, p)
		},
		selectivity: unindexedSelectivity,
	}
}

func concreteLeaf(p *payload.Postings, universeSize int) Evaluated {
	sel := unindexedSelectivity
	if universeSize > 0 {
		sel = float64(p.Len()) / float64(universeSize)
	}
	return Evaluated{Postings: p, selectivity: sel}
}

// evalRawPredicate evaluates a leaf clause directly against a raw
// payload map, used when the field has no matching sub-index. Every
// clause kind in spec §4.4's vocabulary is supported here, not just the
// hash-indexable ones, since a field lacking a sub-index can still carry
// any of the thirteen leaf kinds.
func evalRawPredicate(f *Filter, p map[string]any) bool {
	v, ok := p[f.Field]
	if !ok {
		return false
	}
	switch f.Kind {
	case Eq:
		return v == f.Value
	case Ne:
		return v != f.Value
	case In:
		for _, want := range f.Values {
			if v == want {
				return true
			}
		}
		return false
	case NotIn:
		for _, want := range f.Values {
			if v == want {
				return false
			}
		}
		return true
	case Gt, Gte, Lt, Lte, Range:
		return evalRawOrdered(f, v)
	case GeoRadius, GeoBBox:
		return evalRawGeo(f, v)
	case MatchText, MatchPhrase:
		return evalRawText(f, v)
	default:
		return false
	}
}

func evalRawOrdered(f *Filter, v any) bool {
	fv, ok := rawFloat(v)
	if !ok {
		return false
	}
	switch f.Kind {
	case Gt:
		return fv > f.Min
	case Gte:
		return fv >= f.Min
	case Lt:
		return fv < f.Max
	case Lte:
		return fv <= f.Max
	case Range:
		lowOK := fv > f.Min || (f.MinIncl && fv == f.Min)
		highOK := fv < f.Max || (f.MaxIncl && fv == f.Max)
		return lowOK && highOK
	default:
		return false
	}
}

// rawFloat mirrors payload's internal numeric coercion so raw-payload
// comparisons accept the same value shapes the ordered sub-index does.
func rawFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func evalRawGeo(f *Filter, v any) bool {
	gp, ok := v.(payload.GeoPoint)
	if !ok {
		return false
	}
	switch f.Kind {
	case GeoRadius:
		center := payload.GeoPoint{Lat: f.Center.Lat, Lon: f.Center.Lon}
		return rawHaversine(center, gp) <= f.RadiusMeters
	case GeoBBox:
		minLat, minLon, maxLat, maxLon := f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3]
		return gp.Lat >= minLat && gp.Lat <= maxLat && gp.Lon >= minLon && gp.Lon <= maxLon
	default:
		return false
	}
}

const rawEarthRadiusMeters = 6371000.0

// rawHaversine duplicates payload.GeoIndex's great-circle distance since
// that helper is unexported; the raw-payload fallback has no index
// handle to call through.
func rawHaversine(a, b payload.GeoPoint) float64 {
	lat1, lat2 := rawDeg2rad(a.Lat), rawDeg2rad(b.Lat)
	dLat := rawDeg2rad(b.Lat - a.Lat)
	dLon := rawDeg2rad(b.Lon - a.Lon)

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)
	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return rawEarthRadiusMeters * c
}

func rawDeg2rad(d float64) float64 { return d * math.Pi / 180 }

// evalRawText applies the same tokenization MatchText/MatchPhrase use
// against an indexed field, so raw-payload text clauses agree with the
// indexed path.
func evalRawText(f *Filter, v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	tokens := payload.Tokenize(s)
	switch f.Kind {
	case MatchText:
		if len(f.Terms) == 0 {
			return false
		}
		for _, term := range f.Terms {
			if !containsToken(tokens, strings.ToLower(term)) {
				return false
			}
		}
		return true
	case MatchPhrase:
		return containsPhrase(tokens, f.Terms)
	default:
		return false
	}
}

func containsToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	lowered := make([]string, len(phrase))
	for i, term := range phrase {
		lowered[i] = strings.ToLower(term)
	}
	for start := 0; start+len(lowered) <= len(tokens); start++ {
		match := true
		for i, want := range lowered {
			if tokens[start+i] != want {
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

func maxFloat() float64 { return 1e308 }
func minFloat() float64 { return -1e308 }
