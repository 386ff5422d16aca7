package ring

import (
	"fmt"
	"testing"
)

func TestOwnersDeterministic(t *testing.T) {
	r := New(2)
	r.AddShard("shard-0", 0)
	r.AddShard("shard-1", 0)
	r.AddShard("shard-2", 0)

	first := r.Owners("vec-123")
	second := r.Owners("vec-123")
	if len(first) != 2 {
		t.Fatalf("expected 2 owners, got %d", len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("owners not deterministic: %v vs %v", first, second)
		}
	}
	if first[0] == first[1] {
		t.Errorf("expected distinct owners, got %v", first)
	}
}

func TestOwnersEmptyRing(t *testing.T) {
	r := New(1)
	if owners := r.Owners("anything"); owners != nil {
		t.Errorf("expected nil owners for empty ring, got %v", owners)
	}
}

func TestAddShardMovesMinimalKeys(t *testing.T) {
	r := New(1)
	r.AddShard("shard-0", 0)
	r.AddShard("shard-1", 0)
	r.AddShard("shard-2", 0)

	const n = 10000
	before := make(map[string]ShardID, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		before[key] = r.Owners(key)[0]
	}

	moves := r.AddShard("shard-3", 0)
	if len(moves) == 0 {
		t.Fatal("expected a non-empty rebalance plan")
	}
	for _, m := range moves {
		if m.ToShard != "shard-3" {
			t.Errorf("expected all moves to target the new shard, got %+v", m)
		}
	}

	moved := 0
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		after := r.Owners(key)[0]
		if after != before[key] {
			moved++
			if after != "shard-3" {
				t.Errorf("key %s moved to %s, not the new shard", key, after)
			}
		}
	}

	// Expectation for 4 shards: ~1/4 of keys move, with generous slack for
	// hash variance at n=10000.
	if moved < n/8 || moved > n/2 {
		t.Errorf("moved %d/%d keys, expected roughly n/4", moved, n)
	}
}

func TestRemoveShardReassignsToRemainingShards(t *testing.T) {
	r := New(1)
	r.AddShard("shard-0", 0)
	r.AddShard("shard-1", 0)
	r.AddShard("shard-2", 0)

	moves := r.RemoveShard("shard-1")
	for _, m := range moves {
		if m.FromShard != "shard-1" {
			t.Errorf("expected all moves to originate from the removed shard, got %+v", m)
		}
		if m.ToShard == "shard-1" {
			t.Errorf("move landed back on the removed shard: %+v", m)
		}
	}

	shards := r.Shards()
	for _, s := range shards {
		if s == "shard-1" {
			t.Error("removed shard still present in ring")
		}
	}
	if len(shards) != 2 {
		t.Errorf("expected 2 remaining shards, got %d", len(shards))
	}
}

func TestRemoveUnknownShardIsNoop(t *testing.T) {
	r := New(1)
	r.AddShard("shard-0", 0)
	if moves := r.RemoveShard("ghost"); moves != nil {
		t.Errorf("expected nil moves removing an unknown shard, got %v", moves)
	}
}

func TestAddDuplicateShardIsNoop(t *testing.T) {
	r := New(1)
	r.AddShard("shard-0", 16)
	before := len(r.Shards())
	if moves := r.AddShard("shard-0", 16); moves != nil {
		t.Errorf("expected nil moves re-adding an existing shard, got %v", moves)
	}
	if len(r.Shards()) != before {
		t.Errorf("shard count changed on duplicate add")
	}
}

func TestReplicationFactorCappedByShardCount(t *testing.T) {
	r := New(5)
	r.AddShard("shard-0", 0)
	r.AddShard("shard-1", 0)

	owners := r.Owners("vec-1")
	if len(owners) != 2 {
		t.Errorf("expected owners capped at shard count 2, got %d: %v", len(owners), owners)
	}
}
