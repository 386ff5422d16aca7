package query

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/vectorgraph/internal/collection"
	"github.com/dreamware/vectorgraph/internal/vecstore"
)

// Calibrator periodically samples queries against a live collection and
// compares its HNSW (approximate) result set to FlatSearch (exact), per
// spec §4.9: "ef_search may be raised automatically when measured recall
// ... falls below the configured target." This package owns the
// measurement; acting on it (raising ef_search for future queries) is
// left to the caller, since the right ef_search lives with whoever
// issues requests, not with the collection itself.
type Calibrator struct {
	target float64
	logger zerolog.Logger
}

// NewCalibrator returns a calibrator that flags a collection as below
// target when measured recall@k drops under target (e.g. 0.95).
func NewCalibrator(target float64) *Calibrator {
	return &Calibrator{target: target, logger: log.With().Str("component", "calibrator").Logger()}
}

// Report is the outcome of one calibration pass.
type Report struct {
	Samples       int
	MeanRecall    float64
	BelowTarget   bool
	RecommendedEf int
}

// Probe draws up to sampleSize vectors already present in c (each used
// as its own query, so the top hit is always the vector itself and is
// excluded from the recall count), runs both an HNSW search at efSearch
// and a FlatSearch baseline for k neighbors, and reports the fraction of
// the flat baseline's neighbors also found by HNSW.
func (cal *Calibrator) Probe(ctx context.Context, c *collection.Collection, k, efSearch, sampleSize int) (Report, error) {
	ids := cal.sampleIDs(c, sampleSize)
	if len(ids) == 0 {
		return Report{RecommendedEf: efSearch}, nil
	}

	var totalRecall float64
	for _, id := range ids {
		vec, _, ok := c.Get(id)
		if !ok {
			continue
		}
		approx, err := c.Search(ctx, vec, k+1, nil, efSearch)
		if err != nil {
			return Report{}, err
		}
		exact, err := c.FlatSearch(ctx, vec, k+1)
		if err != nil {
			return Report{}, err
		}
		totalRecall += recallAt(exact, approx, id)
	}

	mean := totalRecall / float64(len(ids))
	rep := Report{
		Samples:       len(ids),
		MeanRecall:    mean,
		BelowTarget:   mean < cal.target,
		RecommendedEf: efSearch,
	}
	if rep.BelowTarget {
		rep.RecommendedEf = efSearch * 2
		cal.logger.Warn().Float64("recall", mean).Float64("target", cal.target).
			Int("recommended_ef", rep.RecommendedEf).Msg("recall below target")
	}
	return rep, nil
}

// recallAt computes, over the neighbors of id in exact and approx
// (excluding id itself from both), the fraction of exact's neighbors
// that also appear in approx.
func recallAt(exact, approx []collection.SearchResult, id string) float64 {
	approxSet := make(map[string]bool, len(approx))
	for _, r := range approx {
		if r.ExternalID != id {
			approxSet[r.ExternalID] = true
		}
	}

	var wanted, hit int
	for _, r := range exact {
		if r.ExternalID == id {
			continue
		}
		wanted++
		if approxSet[r.ExternalID] {
			hit++
		}
	}
	if wanted == 0 {
		return 1
	}
	return float64(hit) / float64(wanted)
}

// sampleIDs walks the collection's scroll cursor and takes up to n
// external ids as query seeds.
func (cal *Calibrator) sampleIDs(c *collection.Collection, n int) []string {
	var ids []string
	cursor := vecstore.Cursor{}
	for len(ids) < n {
		res := c.Scroll(cursor, 256)
		ids = append(ids, res.ExternalID...)
		if res.Done {
			break
		}
		cursor = res.Next
	}
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}
