package payload

import (
	"math"
	"sync"

	"github.com/dreamware/vectorgraph/internal/vecstore"
)

const earthRadiusMeters = 6371000.0

// GeoIndex supports circular radius and bounding-box predicates over
// geo-point fields. Coordinates are kept in a flat slice and scanned
// linearly: geo predicates are expected to be a small minority of
// clauses in a filter tree, and the postings produced here feed into the
// same Roaring-backed intersection/union machinery as every other field
// type once computed.
type GeoIndex struct {
	mu     sync.RWMutex
	points map[vecstore.Handle]GeoPoint
}

// NewGeoIndex returns an empty geo index.
func NewGeoIndex() *GeoIndex {
	return &GeoIndex{points: make(map[vecstore.Handle]GeoPoint)}
}

// Add records handle h's coordinate.
func (idx *GeoIndex) Add(h vecstore.Handle, p GeoPoint) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.points[h] = p
}

// Remove drops handle h.
func (idx *GeoIndex) Remove(h vecstore.Handle) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.points, h)
}

// Radius returns handles within radiusMeters of center, using the
// haversine great-circle distance as required by spec §4.3.
func (idx *GeoIndex) Radius(center GeoPoint, radiusMeters float64) *Postings {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := NewPostings()
	for h, p := range idx.points {
		if haversine(center, p) <= radiusMeters {
			out.Add(h)
		}
	}
	return out
}

// BBox returns handles within the rectangle [minLat,maxLat] x
// [minLon,maxLon] using simple coordinate comparisons.
func (idx *GeoIndex) BBox(minLat, minLon, maxLat, maxLon float64) *Postings {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := NewPostings()
	for h, p := range idx.points {
		if p.Lat >= minLat && p.Lat <= maxLat && p.Lon >= minLon && p.Lon <= maxLon {
			out.Add(h)
		}
	}
	return out
}

// Len returns the number of indexed points.
func (idx *GeoIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.points)
}

func haversine(a, b GeoPoint) float64 {
	lat1, lat2 := deg2rad(a.Lat), deg2rad(b.Lat)
	dLat := deg2rad(b.Lat - a.Lat)
	dLon := deg2rad(b.Lon - a.Lon)

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)
	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
