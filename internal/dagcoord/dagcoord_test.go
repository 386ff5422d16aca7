package dagcoord

import (
	"testing"

	"github.com/dreamware/vectorgraph/internal/vgerr"
)

func op(id string) Operation {
	return Operation{Collection: "widgets", ExternalID: id, Kind: OpInsert, Payload: []byte(id)}
}

func TestSubmitBuildsChain(t *testing.T) {
	c := New("node-a", 6)

	v1, err := c.Submit(op("sku-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(v1.Parents) != 0 {
		t.Errorf("expected root vertex to have no parents, got %v", v1.Parents)
	}
	if v1.Level != 0 {
		t.Errorf("expected root level 0, got %d", v1.Level)
	}

	v2, err := c.Submit(op("sku-2"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(v2.Parents) != 1 || v2.Parents[0] != v1.ID {
		t.Errorf("expected v2 to parent v1, got %v", v2.Parents)
	}
	if v2.Level != 1 {
		t.Errorf("expected level 1, got %d", v2.Level)
	}

	tips := c.Tips()
	if len(tips) != 1 || tips[0] != v2.ID {
		t.Errorf("expected single tip v2, got %v", tips)
	}
}

func TestSubmitPrefersLocalAndRemoteParent(t *testing.T) {
	c := New("node-a", 6)
	local, _ := c.Submit(op("sku-1"))

	remote := &Vertex{Author: "node-b", Seq: 1, Clock: map[string]uint64{"node-b": 1}, Op: op("sku-2")}
	remote.ID = computeID(nil, remote.Author, remote.Seq, remote.Op)
	if ok, err := c.Receive(remote); !ok || err != nil {
		t.Fatalf("receive remote root: ok=%v err=%v", ok, err)
	}

	v3, err := c.Submit(op("sku-3"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(v3.Parents) != 2 {
		t.Fatalf("expected 2 parents (local + remote), got %v", v3.Parents)
	}
	hasLocal, hasRemote := false, false
	for _, p := range v3.Parents {
		if p == local.ID {
			hasLocal = true
		}
		if p == remote.ID {
			hasRemote = true
		}
	}
	if !hasLocal || !hasRemote {
		t.Errorf("expected one local + one remote parent, got %v", v3.Parents)
	}
}

func TestReceiveQueuesOnMissingParent(t *testing.T) {
	c := New("node-a", 6)

	orphan := &Vertex{Parents: []string{"nonexistent"}, Author: "node-b", Seq: 1,
		Clock: map[string]uint64{"node-b": 1}, Op: op("sku-1")}
	orphan.ID = computeID(orphan.Parents, orphan.Author, orphan.Seq, orphan.Op)

	ok, err := c.Receive(orphan)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if ok {
		t.Fatal("expected orphan vertex to be queued, not applied")
	}
	if c.Vertex(orphan.ID) != nil {
		t.Error("expected orphan vertex not yet in the log")
	}

	parent := &Vertex{Author: "node-b", Seq: 0, Clock: map[string]uint64{"node-b": 0}, Op: op("sku-0")}
	parent.ID = "nonexistent"

	if ok, err := c.Receive(parent); !ok || err != nil {
		t.Fatalf("receive parent: ok=%v err=%v", ok, err)
	}
	if c.Vertex(orphan.ID) == nil {
		t.Error("expected orphan to be applied once its parent arrived")
	}
}

func TestFinalizationAtDepthThreshold(t *testing.T) {
	c := New("node-a", 3)

	var ids []string
	for i := 0; i < 5; i++ {
		v, err := c.Submit(op("sku"))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, v.ID)
	}

	if c.IsFinalized(ids[4]) {
		t.Error("tip vertex should never be finalized")
	}
	if !c.IsFinalized(ids[0]) {
		t.Error("expected ids[0] to be finalized with a descendant chain of depth >= F")
	}
	if c.IsFinalized(ids[2]) {
		t.Error("expected ids[2] (only 2 descendants deep) to not yet be finalized with F=3")
	}
}

func TestConflictDetection(t *testing.T) {
	c := New("node-a", 6)
	root, _ := c.Submit(op("sku-1"))

	// Two concurrent mutations of the same key, both parenting root:
	// neither is an ancestor of the other, so they conflict.
	a := &Vertex{Parents: []string{root.ID}, Author: "node-a", Seq: 10,
		Clock: map[string]uint64{"node-a": 10}, Op: op("sku-1")}
	a.ID = computeID(a.Parents, a.Author, a.Seq, a.Op)
	b := &Vertex{Parents: []string{root.ID}, Author: "node-b", Seq: 5,
		Clock: map[string]uint64{"node-b": 5}, Op: op("sku-1")}
	b.ID = computeID(b.Parents, b.Author, b.Seq, b.Op)

	if ok, err := c.Receive(a); !ok || err != nil {
		t.Fatalf("receive a: ok=%v err=%v", ok, err)
	}
	if ok, err := c.Receive(b); !ok || err != nil {
		t.Fatalf("receive b: ok=%v err=%v", ok, err)
	}

	conflicts := c.Conflicts(op("sku-1").Key())
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflicting pair, got %d", len(conflicts))
	}

	winner, err := Resolve(ResolveLWW, a, b, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if winner.ID != a.ID {
		t.Errorf("expected a (clock 10) to win LWW over b (clock 5), got %s", winner.ID)
	}

	if _, err := Resolve(ResolveManual, a, b, nil); vgerr.KindOf(err) != vgerr.ConflictPending {
		t.Errorf("expected CONFLICT_PENDING from manual strategy, got %v", err)
	}

	priority := []string{"node-b", "node-a"}
	winner, err = Resolve(ResolveNodePriority, a, b, priority)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if winner.ID != b.ID {
		t.Errorf("expected b to win node-priority with node-b ranked first, got %s", winner.ID)
	}
}

func TestIsAncestor(t *testing.T) {
	c := New("node-a", 6)
	v1, _ := c.Submit(op("sku-1"))
	v2, _ := c.Submit(op("sku-2"))
	v3, _ := c.Submit(op("sku-3"))

	if !c.IsAncestor(v1.ID, v3.ID) {
		t.Error("expected v1 to be an ancestor of v3")
	}
	if c.IsAncestor(v3.ID, v1.ID) {
		t.Error("v3 should not be an ancestor of v1")
	}
	if !c.IsAncestor(v2.ID, v2.ID) {
		t.Error("a vertex should be its own (non-strict) ancestor")
	}
}

func TestPruneRemovesCoveredAncestors(t *testing.T) {
	c := New("node-a", 6)
	var ids []string
	for i := 0; i < 4; i++ {
		v, _ := c.Submit(op("sku"))
		ids = append(ids, v.ID)
	}

	removed, err := c.Prune(ids[2])
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 ancestors pruned, got %d", removed)
	}
	if c.Vertex(ids[0]) != nil || c.Vertex(ids[1]) != nil {
		t.Error("expected pruned ancestors to be gone")
	}
	if c.Vertex(ids[2]) == nil || c.Vertex(ids[3]) == nil {
		t.Error("expected prune target and its descendant to survive")
	}
	pruned := c.Vertex(ids[2])
	if len(pruned.Parents) != 0 {
		t.Errorf("expected prune target to become a root, got parents %v", pruned.Parents)
	}
}

func TestPruneUnknownVertex(t *testing.T) {
	c := New("node-a", 6)
	if _, err := c.Prune("ghost"); vgerr.KindOf(err) != vgerr.UnknownParentVertex {
		t.Errorf("expected UNKNOWN_PARENT_VERTEX, got %v", err)
	}
}
