// Package filter evaluates the nested boolean predicate tree described in
// spec §4.4: AND/OR/NOT over leaf clauses, producing either a concrete
// posting list (when fully covered by the payload index) or a predicate
// function for the clauses that fall back to scanning the payload.
//
// The tree is a tagged variant (spec §9 design note: "deep inheritance of
// filter clauses is replaced by a tagged variant tree") rather than a
// class hierarchy per clause kind.
package filter

import "github.com/dreamware/vectorgraph/internal/vecstore"

// Kind tags a Filter node as a leaf clause or a boolean combinator.
type Kind int

const (
	Eq Kind = iota
	Ne
	Gt
	Gte
	Lt
	Lte
	Range
	In
	NotIn
	GeoRadius
	GeoBBox
	MatchText
	MatchPhrase
	And
	Or
	Not
)

// Filter is one node of the predicate tree. Only the fields relevant to
// Kind are populated; this mirrors the union-of-leaves shape used by
// filter trees across the retrieved pack rather than one struct per
// clause type.
type Filter struct {
	Kind Kind

	// Leaf fields.
	Field        string
	Value        any
	Values       []any
	Min, Max     float64
	MinIncl      bool
	MaxIncl      bool
	Center       GeoPoint
	RadiusMeters float64
	BBox         [4]float64 // minLat, minLon, maxLat, maxLon
	Terms        []string

	// Boolean combinator fields.
	Children []*Filter
}

// GeoPoint mirrors payload.GeoPoint to avoid the filter package importing
// payload just for this one value type used in leaf construction; the
// evaluator converts between the two.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// Predicate tests a single handle's raw payload, used for clauses or
// subtrees that can't be resolved to a concrete posting list.
type Predicate func(h vecstore.Handle, payload map[string]any) bool

// Helper constructors, matching the leaf/combinator vocabulary of §4.4.

func EqOf(field string, v any) *Filter        { return &Filter{Kind: Eq, Field: field, Value: v} }
func NeOf(field string, v any) *Filter        { return &Filter{Kind: Ne, Field: field, Value: v} }
func GtOf(field string, v float64) *Filter    { return &Filter{Kind: Gt, Field: field, Min: v} }
func GteOf(field string, v float64) *Filter   { return &Filter{Kind: Gte, Field: field, Min: v} }
func LtOf(field string, v float64) *Filter    { return &Filter{Kind: Lt, Field: field, Max: v} }
func LteOf(field string, v float64) *Filter   { return &Filter{Kind: Lte, Field: field, Max: v} }
func RangeOf(field string, min, max float64, minIncl, maxIncl bool) *Filter {
	return &Filter{Kind: Range, Field: field, Min: min, Max: max, MinIncl: minIncl, MaxIncl: maxIncl}
}
func InOf(field string, vs []any) *Filter    { return &Filter{Kind: In, Field: field, Values: vs} }
func NotInOf(field string, vs []any) *Filter { return &Filter{Kind: NotIn, Field: field, Values: vs} }
func GeoRadiusOf(field string, center GeoPoint, radiusMeters float64) *Filter {
	return &Filter{Kind: GeoRadius, Field: field, Center: center, RadiusMeters: radiusMeters}
}
func GeoBBoxOf(field string, minLat, minLon, maxLat, maxLon float64) *Filter {
	return &Filter{Kind: GeoBBox, Field: field, BBox: [4]float64{minLat, minLon, maxLat, maxLon}}
}
func MatchTextOf(field string, terms []string) *Filter {
	return &Filter{Kind: MatchText, Field: field, Terms: terms}
}
func MatchPhraseOf(field string, terms []string) *Filter {
	return &Filter{Kind: MatchPhrase, Field: field, Terms: terms}
}
func AndOf(children ...*Filter) *Filter { return &Filter{Kind: And, Children: children} }
func OrOf(children ...*Filter) *Filter  { return &Filter{Kind: Or, Children: children} }
func NotOf(child *Filter) *Filter       { return &Filter{Kind: Not, Children: []*Filter{child}} }
