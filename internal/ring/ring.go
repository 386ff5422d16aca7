// Package ring implements the consistent-hash ring that maps vector ids to
// owning shards and shards to nodes. It plays the role the teacher's
// coordinator.ShardRegistry plays for a flat key-value keyspace, but replaces
// modulo sharding with a token ring of virtual nodes so that membership
// changes move a minimal, bounded fraction of keys (spec §4.7).
package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultVirtualNodes is the default number of virtual nodes (V) each
// physical shard owns on the ring.
const DefaultVirtualNodes = 128

// ShardID identifies a physical shard.
type ShardID string

// token is a position on the 64-bit ring.
type token = uint64

type placement struct {
	tok   token
	shard ShardID
}

// Ring is a 64-bit token ring of virtual nodes. A shard owns V virtual
// nodes hashed from "<shard>#<i>"; a key's owning shard is the shard whose
// virtual node is first clockwise from hash(key). Replicas are the next
// R-1 distinct shards clockwise.
//
// Concurrency: read-mostly, guarded by one RWMutex. Reads (Owners) take
// an RLock; membership changes (AddShard/RemoveShard) modify and re-sort
// the placement slice in place under the write lock.
type Ring struct {
	mu           sync.RWMutex
	placements   []placement        // sorted ascending by tok
	vnodesPerKey map[ShardID]int    // V per shard, for rebalance math
	replication  int
}

// New returns an empty ring with the given replication factor R.
func New(replicationFactor int) *Ring {
	if replicationFactor < 1 {
		replicationFactor = 1
	}
	return &Ring{
		vnodesPerKey: make(map[ShardID]int),
		replication:  replicationFactor,
	}
}

func hashToken(s string) token {
	return xxhash.Sum64String(s)
}

func vnodeName(shard ShardID, i int) string {
	return fmt.Sprintf("%s#%d", shard, i)
}

// AddShard places a shard's V virtual nodes on the ring, then returns a
// rebalance plan describing which key ranges move onto the new shard from
// whichever shard previously owned them. V defaults to DefaultVirtualNodes
// when 0.
func (r *Ring) AddShard(shard ShardID, v int) []Move {
	if v <= 0 {
		v = DefaultVirtualNodes
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	before := append([]placement(nil), r.placements...)

	if _, exists := r.vnodesPerKey[shard]; exists {
		return nil
	}
	r.vnodesPerKey[shard] = v
	for i := 0; i < v; i++ {
		r.placements = append(r.placements, placement{tok: hashToken(vnodeName(shard, i)), shard: shard})
	}
	sort.Slice(r.placements, func(i, j int) bool { return r.placements[i].tok < r.placements[j].tok })

	return diffPlan(before, r.placements)
}

// RemoveShard removes a shard's virtual nodes from the ring and returns the
// rebalance plan moving its key ranges to their new owners.
func (r *Ring) RemoveShard(shard ShardID) []Move {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := append([]placement(nil), r.placements...)

	if _, exists := r.vnodesPerKey[shard]; !exists {
		return nil
	}
	delete(r.vnodesPerKey, shard)

	kept := r.placements[:0:0]
	for _, p := range r.placements {
		if p.shard != shard {
			kept = append(kept, p)
		}
	}
	r.placements = kept

	return diffPlan(before, r.placements)
}

// Move is one entry in a rebalance plan: the key range (token_lo, token_hi]
// moved from one shard to another.
type Move struct {
	TokenLo   token
	TokenHi   token
	FromShard ShardID
	ToShard   ShardID
}

// diffPlan compares the ring's virtual-node arrangement before and after a
// membership change and reports, for each token range whose owning virtual
// node changed shard, the (range, from, to) move. Ranges are defined by
// consecutive tokens in the "after" ring; a range's owner under "before" is
// found by walking clockwise from its upper bound in the old arrangement.
func diffPlan(before, after []placement) []Move {
	if len(after) == 0 {
		return nil
	}
	var moves []Move
	for i, p := range after {
		lo := token(0)
		if i > 0 {
			lo = after[i-1].tok
		}
		hi := p.tok
		oldOwner, ok := ownerAt(before, hi)
		if !ok || oldOwner == p.shard {
			continue
		}
		moves = append(moves, Move{TokenLo: lo, TokenHi: hi, FromShard: oldOwner, ToShard: p.shard})
	}
	return moves
}

// ownerAt returns the shard owning tok in the given (sorted) placement
// list: the first virtual node clockwise from tok, wrapping to index 0.
func ownerAt(placements []placement, tok token) (ShardID, bool) {
	if len(placements) == 0 {
		return "", false
	}
	idx := sort.Search(len(placements), func(i int) bool { return placements[i].tok >= tok })
	if idx == len(placements) {
		idx = 0
	}
	return placements[idx].shard, true
}

// Owners returns the ordered list of up to R distinct shard ids owning id,
// starting from the shard owning the first virtual node clockwise from
// hash(id) and continuing clockwise for distinct shards.
func (r *Ring) Owners(id string) []ShardID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.placements) == 0 {
		return nil
	}
	tok := hashToken(id)
	start := sort.Search(len(r.placements), func(i int) bool { return r.placements[i].tok >= tok })

	owners := make([]ShardID, 0, r.replication)
	seen := make(map[ShardID]bool, r.replication)
	n := len(r.placements)
	for i := 0; i < n && len(owners) < r.replication; i++ {
		p := r.placements[(start+i)%n]
		if seen[p.shard] {
			continue
		}
		seen[p.shard] = true
		owners = append(owners, p.shard)
	}
	return owners
}

// Shards returns every physical shard currently placed on the ring, in no
// particular order.
func (r *Ring) Shards() []ShardID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ShardID, 0, len(r.vnodesPerKey))
	for s := range r.vnodesPerKey {
		out = append(out, s)
	}
	return out
}

// ReplicationFactor returns R.
func (r *Ring) ReplicationFactor() int { return r.replication }
