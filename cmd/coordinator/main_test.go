package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreamware/vectorgraph/internal/cluster"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	srv := newServer(2, time.Hour, 0.5)
	t.Cleanup(srv.quorum.Stop)
	return srv
}

func registerNode(t *testing.T, srv *server, id, addr string) {
	t.Helper()
	body, _ := json.Marshal(cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleRegister(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("register %s: expected 204, got %d: %s", id, rec.Code, rec.Body.String())
	}
}

func TestRegisterPlacesShardOnRing(t *testing.T) {
	srv := newTestServer(t)
	registerNode(t, srv, "node-1", "http://127.0.0.1:9001")

	shards := srv.ring.Shards()
	if len(shards) != 1 {
		t.Fatalf("expected 1 shard after first registration, got %d", len(shards))
	}

	srv.mu.RLock()
	nodeID, ok := srv.shardNodes[shards[0]]
	srv.mu.RUnlock()
	if !ok || nodeID != "node-1" {
		t.Errorf("expected shard owned by node-1, got %q (ok=%v)", nodeID, ok)
	}
}

func TestRegisterIsIdempotentForExistingNode(t *testing.T) {
	srv := newTestServer(t)
	registerNode(t, srv, "node-1", "http://127.0.0.1:9001")
	registerNode(t, srv, "node-1", "http://127.0.0.1:9002")

	srv.mu.RLock()
	defer srv.mu.RUnlock()
	if len(srv.nodes) != 1 {
		t.Fatalf("expected exactly one node entry, got %d", len(srv.nodes))
	}
	if srv.nodes[0].Addr != "http://127.0.0.1:9002" {
		t.Errorf("expected address to be updated on re-registration, got %s", srv.nodes[0].Addr)
	}
	if len(srv.ring.Shards()) != 1 {
		t.Errorf("re-registration should not place a second shard")
	}
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	srv := newTestServer(t)
	body, _ := json.Marshal(cluster.RegisterRequest{Node: cluster.NodeInfo{ID: "node-1"}})
	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleRegister(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing addr, got %d", rec.Code)
	}
}

func TestHandleListNodesReturnsRegistered(t *testing.T) {
	srv := newTestServer(t)
	registerNode(t, srv, "node-1", "http://127.0.0.1:9001")
	registerNode(t, srv, "node-2", "http://127.0.0.1:9002")

	req := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	rec := httptest.NewRecorder()
	srv.handleListNodes(rec, req)

	var resp struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(resp.Nodes))
	}
}

func TestHandleRouteResolvesOwners(t *testing.T) {
	srv := newTestServer(t)
	registerNode(t, srv, "node-1", "http://127.0.0.1:9001")
	registerNode(t, srv, "node-2", "http://127.0.0.1:9002")

	req := httptest.NewRequest(http.MethodGet, "/route?id=sku-42", nil)
	rec := httptest.NewRecorder()
	srv.handleRoute(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var owners []struct {
		ShardID string `json:"shard_id"`
		NodeID  string `json:"node_id,omitempty"`
		Addr    string `json:"addr,omitempty"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &owners); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(owners) != 2 {
		t.Fatalf("expected 2 owners at replication factor 2, got %d", len(owners))
	}
	for _, o := range owners {
		if o.NodeID == "" || o.Addr == "" {
			t.Errorf("expected every owner to resolve to a node, got %+v", o)
		}
	}
}

func TestHandleRouteRequiresID(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/route", nil)
	rec := httptest.NewRecorder()
	srv.handleRoute(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without id, got %d", rec.Code)
	}
}

func TestHandleShardAssignOverridesOwner(t *testing.T) {
	srv := newTestServer(t)
	registerNode(t, srv, "node-1", "http://127.0.0.1:9001")
	shards := srv.ring.Shards()
	shardID := string(shards[0])

	body, _ := json.Marshal(struct {
		ShardID string `json:"shard_id"`
		NodeID  string `json:"node_id"`
	}{ShardID: shardID, NodeID: "node-2"})
	req := httptest.NewRequest(http.MethodPost, "/shards/assign", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.handleShardAssign(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	srv.mu.RLock()
	got := srv.shardNodes[shards[0]]
	srv.mu.RUnlock()
	if got != "node-2" {
		t.Errorf("expected shard reassigned to node-2, got %s", got)
	}
}

func TestHandleShardsReportsAssignments(t *testing.T) {
	srv := newTestServer(t)
	registerNode(t, srv, "node-1", "http://127.0.0.1:9001")

	req := httptest.NewRequest(http.MethodGet, "/shards", nil)
	rec := httptest.NewRecorder()
	srv.handleShards(rec, req)

	var resp struct {
		Shards            []cluster.ShardAssignment `json:"shards"`
		ReplicationFactor int                        `json:"replication_factor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ReplicationFactor != 2 {
		t.Errorf("expected replication factor 2, got %d", resp.ReplicationFactor)
	}
	if len(resp.Shards) != 1 || resp.Shards[0].NodeID != "node-1" {
		t.Fatalf("unexpected assignments: %+v", resp.Shards)
	}
}

func TestEnvHelpersFallBackToDefault(t *testing.T) {
	if got := envOr("VECTORGRAPH_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
	if got := envOrInt("VECTORGRAPH_TEST_UNSET", 4); got != 4 {
		t.Errorf("expected 4, got %d", got)
	}
	if got := envOrDuration("VECTORGRAPH_TEST_UNSET", time.Second); got != time.Second {
		t.Errorf("expected 1s, got %v", got)
	}
}
