package query

import (
	"context"
	"testing"

	"github.com/dreamware/vectorgraph/internal/collection"
	"github.com/dreamware/vectorgraph/internal/metric"
)

func seededCollection(t *testing.T, n int) *collection.Collection {
	t.Helper()
	c := collection.New(collection.DefaultConfig("probe", 4, metric.Euclidean))
	for i := 0; i < n; i++ {
		id := "v" + string(rune('a'+i))
		v := []float32{float32(i), float32(i) * 2, float32(i) * 3, float32(i) * 4}
		if _, err := c.Insert(id, v, nil); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	return c
}

func TestProbeReportsHighRecallOnSmallCollection(t *testing.T) {
	c := seededCollection(t, 20)
	cal := NewCalibrator(0.9)

	rep, err := cal.Probe(context.Background(), c, 5, 64, 10)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if rep.Samples == 0 {
		t.Fatal("expected at least one sample")
	}
	if rep.MeanRecall < 0.9 {
		t.Errorf("expected near-exhaustive ef_search to recall well on a small graph, got %v", rep.MeanRecall)
	}
	if rep.BelowTarget {
		t.Errorf("did not expect recall to be flagged below target: %+v", rep)
	}
}

func TestProbeEmptyCollectionReturnsZeroSamples(t *testing.T) {
	c := collection.New(collection.DefaultConfig("empty", 4, metric.Euclidean))
	cal := NewCalibrator(0.95)

	rep, err := cal.Probe(context.Background(), c, 5, 32, 10)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if rep.Samples != 0 {
		t.Errorf("expected 0 samples on an empty collection, got %d", rep.Samples)
	}
	if rep.BelowTarget {
		t.Error("an empty collection should not be flagged below target")
	}
}

func TestProbeBelowTargetRecommendsDoubledEf(t *testing.T) {
	c := seededCollection(t, 5)
	cal := NewCalibrator(2) // unreachable target forces BelowTarget

	rep, err := cal.Probe(context.Background(), c, 2, 16, 5)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !rep.BelowTarget {
		t.Fatal("expected an unreachable target to be flagged below target")
	}
	if rep.RecommendedEf != 32 {
		t.Errorf("expected recommended ef_search to double to 32, got %d", rep.RecommendedEf)
	}
}

func TestRecallAtExcludesSelfAndCountsOverlap(t *testing.T) {
	exact := []collection.SearchResult{
		{ExternalID: "self", Score: 0},
		{ExternalID: "a", Score: 1},
		{ExternalID: "b", Score: 2},
	}
	approx := []collection.SearchResult{
		{ExternalID: "self", Score: 0},
		{ExternalID: "a", Score: 1},
		{ExternalID: "c", Score: 5},
	}
	recall := recallAt(exact, approx, "self")
	if recall != 0.5 {
		t.Errorf("expected recall 0.5 (1 of 2 non-self neighbors matched), got %v", recall)
	}
}

func TestRecallAtPerfectMatch(t *testing.T) {
	exact := []collection.SearchResult{{ExternalID: "a", Score: 1}, {ExternalID: "b", Score: 2}}
	approx := []collection.SearchResult{{ExternalID: "b", Score: 2}, {ExternalID: "a", Score: 1}}
	if recall := recallAt(exact, approx, "self"); recall != 1 {
		t.Errorf("expected perfect recall 1, got %v", recall)
	}
}

func TestRecallAtNoNeighborsIsPerfectByConvention(t *testing.T) {
	exact := []collection.SearchResult{{ExternalID: "self", Score: 0}}
	approx := []collection.SearchResult{{ExternalID: "self", Score: 0}}
	if recall := recallAt(exact, approx, "self"); recall != 1 {
		t.Errorf("expected recall 1 when there are no non-self neighbors to recall, got %v", recall)
	}
}
