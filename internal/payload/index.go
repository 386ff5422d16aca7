package payload

import (
	"fmt"

	"github.com/dreamware/vectorgraph/internal/vecstore"
)

// Index binds the per-field indexes named in Schema into one lookup
// surface, built incrementally on insert/update as spec §4.3 requires.
type Index struct {
	schema Schema
	hash   map[string]*HashIndex
	order  map[string]*OrderedIndex
	geo    map[string]*GeoIndex
	text   map[string]*TextIndex
}

// NewIndex builds an empty per-field index set for schema.
func NewIndex(schema Schema) *Index {
	idx := &Index{
		schema: schema,
		hash:   make(map[string]*HashIndex),
		order:  make(map[string]*OrderedIndex),
		geo:    make(map[string]*GeoIndex),
		text:   make(map[string]*TextIndex),
	}
	for _, f := range schema {
		switch f.Type {
		case FieldKeyword, FieldInteger, FieldBool:
			idx.hash[f.Name] = NewHashIndex()
		case FieldFloat:
			idx.order[f.Name] = NewOrderedIndex()
		case FieldGeo:
			idx.geo[f.Name] = NewGeoIndex()
		case FieldText:
			idx.text[f.Name] = NewTextIndex()
		}
	}
	return idx
}

// IndexPayload adds h's payload fields to every matching per-field index.
func (idx *Index) IndexPayload(h vecstore.Handle, payload map[string]any) {
	for field, value := range payload {
		if hi, ok := idx.hash[field]; ok {
			hi.Add(h, value)
			continue
		}
		if oi, ok := idx.order[field]; ok {
			if f, ok := toFloat(value); ok {
				oi.Add(h, f)
			}
			continue
		}
		if gi, ok := idx.geo[field]; ok {
			if gp, ok := value.(GeoPoint); ok {
				gi.Add(h, gp)
			}
			continue
		}
		if ti, ok := idx.text[field]; ok {
			if s, ok := value.(string); ok {
				ti.Add(h, s)
			}
		}
	}
}

// RemovePayload reverses IndexPayload for h's payload, used on delete and
// on the logical-delete half of upsert.
func (idx *Index) RemovePayload(h vecstore.Handle, payload map[string]any) {
	for field, value := range payload {
		if hi, ok := idx.hash[field]; ok {
			hi.Remove(h, value)
			continue
		}
		if oi, ok := idx.order[field]; ok {
			oi.Remove(h)
			continue
		}
		if gi, ok := idx.geo[field]; ok {
			gi.Remove(h)
			continue
		}
		if ti, ok := idx.text[field]; ok {
			if s, ok := value.(string); ok {
				ti.Remove(h, s)
			}
		}
	}
}

// Hash returns the hash sub-index backing field, or an error if the
// field isn't in the schema — surfaced by the filter engine as
// INVALID_FILTER.
func (idx *Index) Hash(field string) (*HashIndex, error) {
	if hi, ok := idx.hash[field]; ok {
		return hi, nil
	}
	return nil, fmt.Errorf("field %q is not a hash-indexed field", field)
}

func (idx *Index) Ordered(field string) (*OrderedIndex, error) {
	if oi, ok := idx.order[field]; ok {
		return oi, nil
	}
	return nil, fmt.Errorf("field %q is not an ordered field", field)
}

func (idx *Index) Geo(field string) (*GeoIndex, error) {
	if gi, ok := idx.geo[field]; ok {
		return gi, nil
	}
	return nil, fmt.Errorf("field %q is not a geo field", field)
}

func (idx *Index) Text(field string) (*TextIndex, error) {
	if ti, ok := idx.text[field]; ok {
		return ti, nil
	}
	return nil, fmt.Errorf("field %q is not a text field", field)
}

func toFloat(v any) (float64, bool) {
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
