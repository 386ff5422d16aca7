// Package dagcoord implements the DAG-based write coordinator described in
// spec §4.8: a per-node log of content-addressed vertices, each an
// immutable record of one write, linked to 1-2 parent tips chosen to
// maximize graph connectivity across authors. Vertices finalize once a
// sufficiently deep descendant chain accumulates, at which point their
// causal order becomes the committed global order for the keys they
// touch.
//
// The design mirrors the version-DAG used by the Syncbase sync layer:
// nodes reference parents instead of children, a small in-memory index
// tracks the current frontier (here "tips" instead of "heads"), and
// conflicts are detected per operation key: Conflicts checks every pair
// of vertices that touched the key and reports the pairs where neither
// is an ancestor of the other.
package dagcoord

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/vectorgraph/internal/vgerr"
)

// DefaultFinalizationDepth is F from spec §4.8: a vertex finalizes once a
// descendant chain of this depth exists.
const DefaultFinalizationDepth = 6

// OpKind identifies the kind of write a vertex carries.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpsert
	OpDelete
	OpConfigChange
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	case OpConfigChange:
		return "config_change"
	default:
		return "unknown"
	}
}

// Operation is the opaque write payload a vertex carries, delivered by
// the collection layer. Key identifies what this operation mutates for
// conflict detection: two vertices conflict iff they carry the same Key
// and neither is an ancestor of the other.
type Operation struct {
	Collection string
	ExternalID string
	Kind       OpKind
	Payload    []byte
}

// Key returns the conflict-detection key for this operation.
func (o Operation) Key() string { return o.Collection + "/" + o.ExternalID }

// Vertex is an immutable record of one write.
type Vertex struct {
	ID      string
	Parents []string
	Author  string
	Seq     uint64
	Clock   map[string]uint64
	Op      Operation

	// Level is the vertex's distance from a root, i.e. one more than the
	// max level of its parents. Used to pick the deepest common ancestor
	// during conflict resolution.
	Level uint64
}

func (v *Vertex) clockCopy() map[string]uint64 {
	c := make(map[string]uint64, len(v.Clock))
	for k, val := range v.Clock {
		c[k] = val
	}
	return c
}

// computeID content-addresses a vertex from everything that determines
// its identity: sorted parents, author, sequence, and operation.
func computeID(parents []string, author string, seq uint64, op Operation) string {
	sorted := append([]string(nil), parents...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, p := range sorted {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "%s|%d|%s|%s|%d|", author, seq, op.Collection, op.ExternalID, op.Kind)
	h.Write(op.Payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Coordinator is one node's view of the write DAG. It owns the local
// tip set, the local vector clock, and the vertex log, exposing Submit
// for local writes and Receive for vertices arriving from peers.
//
// Locking follows spec §5's coordination policy: tipMu guards the tip
// set and vector clock together (they advance atomically on submit),
// while the vertex log itself uses a read-mostly RWMutex since reads
// (ancestor walks, conflict checks) vastly outnumber appends.
type Coordinator struct {
	nodeID string
	depthF int

	tipMu sync.Mutex
	tips  map[string]struct{}
	clock map[string]uint64
	seq   uint64

	vtxMu      sync.RWMutex
	vertices   map[string]*Vertex
	childrenOf map[string][]string
	finalized  map[string]bool

	pendingMu sync.Mutex
	pending   map[string][]*Vertex // missing parent id -> vertices waiting on it

	keyIndexMu sync.RWMutex
	keyIndex   map[string][]string // op key -> vertex ids that touch it

	logger zerolog.Logger
}

// NewNodeID generates a random author id for a coordinator that has no
// stable identity of its own to use (tests, ad hoc tooling). Production
// deployments should pass a stable id tied to the node's cluster
// membership instead, since the author id is part of every vertex's
// content hash and of the per-author vector clock.
func NewNodeID() string {
	return uuid.New().String()
}

// New returns an empty coordinator for the given local node id.
func New(nodeID string, finalizationDepth int) *Coordinator {
	if finalizationDepth <= 0 {
		finalizationDepth = DefaultFinalizationDepth
	}
	return &Coordinator{
		nodeID:     nodeID,
		depthF:     finalizationDepth,
		tips:       make(map[string]struct{}),
		clock:      make(map[string]uint64),
		vertices:   make(map[string]*Vertex),
		childrenOf: make(map[string][]string),
		finalized:  make(map[string]bool),
		pending:    make(map[string][]*Vertex),
		keyIndex:   make(map[string][]string),
		logger:     log.With().Str("component", "dagcoord").Str("node", nodeID).Logger(),
	}
}

// NodeID returns the coordinator's local node id.
func (c *Coordinator) NodeID() string { return c.nodeID }

// Tips returns a snapshot of the current tip vertex ids.
func (c *Coordinator) Tips() []string {
	c.tipMu.Lock()
	defer c.tipMu.Unlock()
	out := make([]string, 0, len(c.tips))
	for id := range c.tips {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// pickParents selects 1-2 tips to parent a new local vertex, preferring
// one tip authored locally and one authored remotely to maximize graph
// connectivity (spec §4.8 step 1). Must be called with tipMu held.
func (c *Coordinator) pickParents() []string {
	if len(c.tips) == 0 {
		return nil
	}
	ids := make([]string, 0, len(c.tips))
	for id := range c.tips {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c.vtxMu.RLock()
	defer c.vtxMu.RUnlock()

	var local, remote string
	for _, id := range ids {
		v := c.vertices[id]
		if v == nil {
			continue
		}
		if v.Author == c.nodeID {
			if local == "" {
				local = id
			}
		} else if remote == "" {
			remote = id
		}
	}
	switch {
	case local != "" && remote != "":
		return []string{local, remote}
	case local != "":
		return []string{local}
	case remote != "":
		return []string{remote}
	default:
		return ids[:1]
	}
}

// Submit appends a new locally-authored vertex for op and broadcasts it
// via the returned Vertex (the caller's peer-network layer is
// responsible for actually sending it on).
func (c *Coordinator) Submit(op Operation) (*Vertex, error) {
	c.tipMu.Lock()
	defer c.tipMu.Unlock()

	parents := c.pickParents()
	c.seq++
	c.clock[c.nodeID] = c.seq

	v := &Vertex{
		Parents: parents,
		Author:  c.nodeID,
		Seq:     c.seq,
		Clock:   cloneClock(c.clock),
		Op:      op,
	}
	v.Level = c.levelOf(parents)
	v.ID = computeID(parents, v.Author, v.Seq, v.Op)

	c.insertVertex(v)
	for _, p := range parents {
		delete(c.tips, p)
	}
	c.tips[v.ID] = struct{}{}

	c.logger.Debug().Str("vertex", v.ID).Strs("parents", parents).Msg("submitted vertex")
	return v, nil
}

func cloneClock(clock map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(clock))
	for k, v := range clock {
		out[k] = v
	}
	return out
}

// levelOf computes a new vertex's level from its parents. It takes
// vtxMu for reading itself, so the caller must not hold vtxMu.
func (c *Coordinator) levelOf(parents []string) uint64 {
	c.vtxMu.RLock()
	defer c.vtxMu.RUnlock()
	var level uint64
	for _, p := range parents {
		if pv := c.vertices[p]; pv != nil && pv.Level+1 > level {
			level = pv.Level + 1
		}
	}
	return level
}

// insertVertex records v in the log, wires children-of edges, and
// indexes it by operation key for conflict detection. Both insertion
// paths call it with tipMu held (Submit, and Receive via applyReceived).
func (c *Coordinator) insertVertex(v *Vertex) {
	c.vtxMu.Lock()
	c.vertices[v.ID] = v
	for _, p := range v.Parents {
		c.childrenOf[p] = append(c.childrenOf[p], v.ID)
	}
	c.vtxMu.Unlock()

	c.keyIndexMu.Lock()
	key := v.Op.Key()
	c.keyIndex[key] = append(c.keyIndex[key], v.ID)
	c.keyIndexMu.Unlock()
}

// Receive integrates a vertex arriving from a peer. If any parent is
// unknown, the vertex is queued until that parent arrives (causal
// delivery, spec §4.8 step 3); it returns (false, nil) in that case.
func (c *Coordinator) Receive(v *Vertex) (bool, error) {
	if len(v.Parents) > 2 {
		return false, vgerr.New(vgerr.InvalidParameter, "vertex has more than 2 parents")
	}

	c.vtxMu.RLock()
	_, exists := c.vertices[v.ID]
	var missing string
	for _, p := range v.Parents {
		if _, ok := c.vertices[p]; !ok {
			missing = p
			break
		}
	}
	c.vtxMu.RUnlock()

	if exists {
		return true, nil
	}
	if missing != "" {
		c.pendingMu.Lock()
		c.pending[missing] = append(c.pending[missing], v)
		c.pendingMu.Unlock()
		c.logger.Debug().Str("vertex", v.ID).Str("missing_parent", missing).Msg("queued pending parent")
		return false, nil
	}

	c.applyReceived(v)
	c.flushPending(v.ID)
	return true, nil
}

func (c *Coordinator) applyReceived(v *Vertex) {
	c.tipMu.Lock()
	v.Level = c.levelOf(v.Parents)
	c.insertVertex(v)
	for _, p := range v.Parents {
		delete(c.tips, p)
	}
	c.tips[v.ID] = struct{}{}
	for k, val := range v.Clock {
		if cur := c.clock[k]; val > cur {
			c.clock[k] = val
		}
	}
	c.tipMu.Unlock()
	c.logger.Debug().Str("vertex", v.ID).Msg("received vertex")
}

// flushPending re-attempts delivery of any vertex that was waiting on
// parentID, recursively in case the newly-applied vertex unblocks
// further vertices.
func (c *Coordinator) flushPending(parentID string) {
	c.pendingMu.Lock()
	waiting := c.pending[parentID]
	delete(c.pending, parentID)
	c.pendingMu.Unlock()

	for _, v := range waiting {
		if _, err := c.Receive(v); err != nil {
			c.logger.Warn().Str("vertex", v.ID).Err(err).Msg("dropping pending vertex")
		}
	}
}

// Vertex returns the vertex for id, or nil if unknown.
func (c *Coordinator) Vertex(id string) *Vertex {
	c.vtxMu.RLock()
	defer c.vtxMu.RUnlock()
	return c.vertices[id]
}

// IsAncestor reports whether ancestor is a (non-strict) ancestor of v,
// i.e. v == ancestor or there is a parent chain from v to ancestor.
func (c *Coordinator) IsAncestor(ancestor, v string) bool {
	if ancestor == v {
		return true
	}
	c.vtxMu.RLock()
	defer c.vtxMu.RUnlock()

	visited := map[string]bool{v: true}
	queue := []string{v}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		vtx := c.vertices[cur]
		if vtx == nil {
			continue
		}
		for _, p := range vtx.Parents {
			if p == ancestor {
				return true
			}
			if !visited[p] {
				visited[p] = true
				queue = append(queue, p)
			}
		}
	}
	return false
}

// IsFinalized reports whether id has finalized: some descendant chain
// of depth >= F exists in the current log. Finalization is monotone, so
// once true for a vertex it is cached and never recomputed.
func (c *Coordinator) IsFinalized(id string) bool {
	c.vtxMu.Lock()
	defer c.vtxMu.Unlock()
	if c.finalized[id] {
		return true
	}
	if c.descendantDepth(id) >= c.depthF {
		c.finalized[id] = true
		return true
	}
	return false
}

// descendantDepth returns the longest descendant chain (in hops) rooted
// at id, found via BFS over childrenOf. Caller holds vtxMu.
func (c *Coordinator) descendantDepth(id string) int {
	depth := map[string]int{id: 0}
	queue := []string{id}
	best := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range c.childrenOf[cur] {
			d := depth[cur] + 1
			if prev, ok := depth[child]; !ok || d > prev {
				depth[child] = d
				if d > best {
					best = d
				}
				queue = append(queue, child)
			}
		}
	}
	return best
}

// Conflicts returns every pair of vertices touching key that conflict:
// neither is an ancestor of the other (spec §4.8 conflict detection).
func (c *Coordinator) Conflicts(key string) [][2]*Vertex {
	c.keyIndexMu.RLock()
	ids := append([]string(nil), c.keyIndex[key]...)
	c.keyIndexMu.RUnlock()

	var out [][2]*Vertex
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			if c.IsAncestor(a, b) || c.IsAncestor(b, a) {
				continue
			}
			va, vb := c.Vertex(a), c.Vertex(b)
			if va != nil && vb != nil {
				out = append(out, [2]*Vertex{va, vb})
			}
		}
	}
	return out
}

// ResolveStrategy selects how conflicting vertices on the same key are
// reconciled, configurable per collection (spec §4.8).
type ResolveStrategy int

const (
	// ResolveLWW picks the vertex with the greatest vector-clock entry
	// for its own author, ties broken by lexicographically greater id.
	ResolveLWW ResolveStrategy = iota
	// ResolveNodePriority picks the vertex whose author ranks first in
	// a configured total order on nodes.
	ResolveNodePriority
	// ResolveManual retains both vertices; callers must submit an
	// application-level resolution vertex before reads succeed.
	ResolveManual
)

// Resolve picks a winner between two conflicting vertices per strategy.
// NodePriority requires priority to rank authors (lower index wins);
// an author missing from priority loses to any author present in it.
func Resolve(strategy ResolveStrategy, a, b *Vertex, priority []string) (*Vertex, error) {
	switch strategy {
	case ResolveLWW:
		av, bv := a.Clock[a.Author], b.Clock[b.Author]
		if av != bv {
			if av > bv {
				return a, nil
			}
			return b, nil
		}
		if a.ID > b.ID {
			return a, nil
		}
		return b, nil
	case ResolveNodePriority:
		ai, bi := indexOf(priority, a.Author), indexOf(priority, b.Author)
		if ai < bi {
			return a, nil
		}
		return b, nil
	case ResolveManual:
		return nil, vgerr.New(vgerr.ConflictPending, "manual resolution required for "+a.Op.Key())
	default:
		return nil, vgerr.New(vgerr.InvalidParameter, "unknown resolve strategy")
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return len(list) // unranked authors sort last
}

// Prune discards every ancestor of id (each vertex reachable through its
// parents) and makes id a root by clearing its Parents. It does not check
// whether the discarded vertices are finalized. Retained vertices that
// are not ancestors of id keep their parent ids even when those parents
// were discarded. It returns the number of vertices discarded.
func (c *Coordinator) Prune(id string) (int, error) {
	c.vtxMu.Lock()
	defer c.vtxMu.Unlock()

	root, ok := c.vertices[id]
	if !ok {
		return 0, vgerr.New(vgerr.UnknownParentVertex, "prune target not found: "+id)
	}
	if len(root.Parents) == 0 {
		return 0, nil
	}

	toDelete := map[string]bool{}
	queue := append([]string(nil), root.Parents...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if toDelete[cur] {
			continue
		}
		toDelete[cur] = true
		if v := c.vertices[cur]; v != nil {
			queue = append(queue, v.Parents...)
		}
	}

	root.Parents = nil
	for id := range toDelete {
		delete(c.vertices, id)
		delete(c.childrenOf, id)
		delete(c.finalized, id)
	}

	c.keyIndexMu.Lock()
	for key, ids := range c.keyIndex {
		kept := ids[:0:0]
		for _, vid := range ids {
			if !toDelete[vid] {
				kept = append(kept, vid)
			}
		}
		c.keyIndex[key] = kept
	}
	c.keyIndexMu.Unlock()

	return len(toDelete), nil
}

// Len returns the number of vertices currently retained in the log.
func (c *Coordinator) Len() int {
	c.vtxMu.RLock()
	defer c.vtxMu.RUnlock()
	return len(c.vertices)
}
