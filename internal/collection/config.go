// Package collection binds a vector store, payload index, HNSW graph,
// and filter engine into the single-node CRUD and search surface
// described in spec §4.6. It plays the role the teacher's shard package
// plays for a plain key-value store: one state machine per data
// partition, with statistics and a pluggable backend swapped atomically
// under compaction.
package collection

import (
	"github.com/dreamware/vectorgraph/internal/hnsw"
	"github.com/dreamware/vectorgraph/internal/metric"
	"github.com/dreamware/vectorgraph/internal/payload"
	"github.com/dreamware/vectorgraph/internal/sink"
	"github.com/dreamware/vectorgraph/internal/vecstore"
)

// Config is the immutable configuration a collection is created with
// (spec §3 Data Model: "name; fixed vector dimension d; distance metric;
// HNSW parameters; optional quantization mode; payload schema").
type Config struct {
	Name       string
	Dim        int
	Metric     metric.Kind
	Normalized bool
	HNSW       hnsw.Config
	Quant      vecstore.QuantMode
	Schema     payload.Schema

	// Quota caps the vector store's handle space; 0 means unlimited.
	Quota int

	// TombstoneCompactThreshold is the tombstone ratio (spec §4.5, default
	// 0.2) at which Delete compacts the collection: once the ratio reaches
	// it, the compaction runs inline inside that Delete call, not in the
	// background.
	TombstoneCompactThreshold float64

	ReplicationFactor int
	ShardCount        int

	// SelectivityLow/High are the planner thresholds sLO/sHI from spec
	// §4.9 (defaults 0.01 / 0.50).
	SelectivityLow  float64
	SelectivityHigh float64

	// EfSearchGrowthAlpha scales ef_search in the vector-first plan:
	// ef_search * (1 + alpha*(1-s)), per spec §4.9. The spec names the
	// formula but not alpha's value; 0.5 is this repo's choice, recorded
	// as an Open Question decision.
	EfSearchGrowthAlpha float64

	// PayloadSink durably persists payload bytes alongside the in-memory
	// index (spec §1 scope note: payload storage is modeled as an opaque
	// sink). Optional: nil means payloads only live in the in-memory
	// vecstore/payload index and the persisted snapshot format.
	PayloadSink sink.PayloadSink
}

// DefaultConfig returns a Config with the spec's stated defaults applied
// on top of caller-supplied identity/dimension/metric.
func DefaultConfig(name string, dim int, m metric.Kind) Config {
	return Config{
		Name:                      name,
		Dim:                       dim,
		Metric:                    m,
		HNSW:                      hnsw.DefaultConfig(m),
		TombstoneCompactThreshold: 0.2,
		ReplicationFactor:         1,
		ShardCount:                1,
		SelectivityLow:            0.01,
		SelectivityHigh:           0.50,
		EfSearchGrowthAlpha:       0.5,
	}
}
