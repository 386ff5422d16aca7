// Package query implements the scatter-gather query pipeline from spec
// §4.9: given a target vector, k, an optional filter, and an ef_search
// budget, it fans the search out across every shard in scope, each of
// which runs its own local filter/HNSW plan (internal/collection), then
// merges the partial result lists by distance and deduplicates external
// ids before returning the global top-k.
package query

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/vectorgraph/internal/collection"
	"github.com/dreamware/vectorgraph/internal/filter"
	"github.com/dreamware/vectorgraph/internal/ring"
)

// ShardLocator resolves a shard id to the local Collection serving it.
// In a single-node deployment this is a fixed map; in a cluster it would
// route to a remote shard, which is out of scope for this core.
type ShardLocator interface {
	Shard(id ring.ShardID) (*collection.Collection, bool)
}

// MapLocator is the simplest ShardLocator: a static map from shard id to
// collection, suitable for single-node operation and tests.
type MapLocator map[ring.ShardID]*collection.Collection

func (m MapLocator) Shard(id ring.ShardID) (*collection.Collection, bool) {
	c, ok := m[id]
	return c, ok
}

// Request is one query's parameters.
type Request struct {
	Query           []float32
	K               int
	Filter          *filter.Filter
	EfSearch        int
	PartitionShards []ring.ShardID // nil means "all shards in scope"
}

// Pipeline executes Request against a set of shards and merges results.
type Pipeline struct {
	locator ShardLocator
	shards  []ring.ShardID
}

// New returns a pipeline that scatters across every shard in shards
// unless a request narrows the scope via PartitionShards.
func New(locator ShardLocator, shards []ring.ShardID) *Pipeline {
	return &Pipeline{locator: locator, shards: shards}
}

// Execute runs the plan/scatter/gather sequence described in spec §4.9.
func (p *Pipeline) Execute(ctx context.Context, req Request) ([]collection.SearchResult, error) {
	scope := req.PartitionShards
	if scope == nil {
		scope = p.shards
	}

	g, ctx := errgroup.WithContext(ctx)
	partials := make([][]collection.SearchResult, len(scope))

	for i, shardID := range scope {
		i, shardID := i, shardID
		g.Go(func() error {
			c, ok := p.locator.Shard(shardID)
			if !ok {
				return nil // a shard absent from this node's locator contributes nothing
			}
			results, err := c.Search(ctx, req.Query, req.K, req.Filter, req.EfSearch)
			if err != nil {
				return err
			}
			partials[i] = results
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return gather(partials, req.K), nil
}

// gather merges partial per-shard result lists by distance, keeping the
// smallest-distance entry for any external id that appears in more than
// one shard's results (replica overlap), then truncates to k.
func gather(partials [][]collection.SearchResult, k int) []collection.SearchResult {
	best := make(map[string]collection.SearchResult)
	for _, shardResults := range partials {
		for _, r := range shardResults {
			cur, ok := best[r.ExternalID]
			if !ok || r.Score < cur.Score {
				best[r.ExternalID] = r
			}
		}
	}

	merged := make([]collection.SearchResult, 0, len(best))
	for _, r := range best {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score < merged[j].Score
		}
		return merged[i].ExternalID < merged[j].ExternalID
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}
