package hnsw

import (
	"math"

	"github.com/dreamware/vectorgraph/internal/metric"
)

// Config holds the tunable HNSW parameters named in spec §3/§4.5.
type Config struct {
	M              int
	EfConstruction int
	EfSearch       int
	Metric         metric.Kind
	Normalized     bool
	// Seed, when non-zero, makes per-insert level sampling reproducible
	// (spec §4.5 determinism note).
	Seed int64
}

// M0 is the level-0 neighbor cap, double the higher-level cap per spec.
func (c Config) M0() int { return 2 * c.M }

// mL is the level-generation factor 1/ln(M).
func (c Config) mL() float64 {
	if c.M <= 1 {
		return 1
	}
	return 1 / math.Log(float64(c.M))
}

// DefaultConfig returns reasonable defaults seen across the retrieved
// pack's HNSW implementations (M=16, efConstruction=200, efSearch=64).
func DefaultConfig(m metric.Kind) Config {
	return Config{
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		Metric:         m,
	}
}
