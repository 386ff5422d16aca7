// Package integration exercises a coordinator and a handful of nodes as
// separate processes, talking to them the way an external client would:
// over HTTP, with no access to internal state. It is skipped unless the
// coordinator and node binaries have already been built into ./bin
// beside this test file.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"
)

// TestSystem launches a coordinator and a set of nodes as child processes
// and gives tests an HTTP-only view of the resulting cluster.
type TestSystem struct {
	t          *testing.T
	coord      *exec.Cmd
	nodes      []*exec.Cmd
	coordAddr  string
	nodeAddrs  []string
	httpClient *http.Client
}

func NewTestSystem(t *testing.T) *TestSystem {
	return &TestSystem{
		t:         t,
		coordAddr: "http://127.0.0.1:18080",
		nodeAddrs: []string{
			"http://127.0.0.1:18081",
			"http://127.0.0.1:18082",
		},
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (ts *TestSystem) Start() error {
	ts.t.Log("starting coordinator")
	ts.coord = exec.Command("./bin/coordinator")
	ts.coord.Env = append(os.Environ(), "COORDINATOR_ADDR=:18080", "REPLICATION_FACTOR=2")
	ts.coord.Stdout = os.Stdout
	ts.coord.Stderr = os.Stderr
	if err := ts.coord.Start(); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	if err := ts.waitForService(ts.coordAddr + "/health"); err != nil {
		return fmt.Errorf("coordinator did not become healthy: %w", err)
	}

	for i, addr := range ts.nodeAddrs {
		ts.t.Logf("starting node %d", i+1)
		node := exec.Command("./bin/node")
		node.Env = append(os.Environ(),
			fmt.Sprintf("NODE_ID=n%d", i+1),
			fmt.Sprintf("NODE_LISTEN=:1808%d", i+1),
			fmt.Sprintf("NODE_ADDR=%s", addr),
			fmt.Sprintf("COORDINATOR_ADDR=%s", ts.coordAddr),
		)
		node.Stdout = os.Stdout
		node.Stderr = os.Stderr
		if err := node.Start(); err != nil {
			return fmt.Errorf("start node %d: %w", i+1, err)
		}
		ts.nodes = append(ts.nodes, node)
		if err := ts.waitForService(addr + "/health"); err != nil {
			return fmt.Errorf("node %d did not become healthy: %w", i+1, err)
		}
	}

	time.Sleep(500 * time.Millisecond) // let registration settle
	return nil
}

func (ts *TestSystem) Stop() {
	for i, node := range ts.nodes {
		if node != nil && node.Process != nil {
			ts.t.Logf("stopping node %d", i+1)
			node.Process.Kill()
			node.Wait()
		}
	}
	if ts.coord != nil && ts.coord.Process != nil {
		ts.t.Log("stopping coordinator")
		ts.coord.Process.Kill()
		ts.coord.Wait()
	}
}

func (ts *TestSystem) waitForService(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s", url)
		default:
			resp, err := ts.httpClient.Get(url)
			if err == nil && resp.StatusCode == http.StatusOK {
				resp.Body.Close()
				return nil
			}
			if resp != nil {
				resp.Body.Close()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Nodes returns the registered node addresses the coordinator knows about.
func (ts *TestSystem) Nodes() ([]map[string]any, error) {
	resp, err := ts.httpClient.Get(ts.coordAddr + "/nodes")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var result struct {
		Nodes []map[string]any `json:"nodes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Nodes, nil
}

// Route asks the coordinator which shards/nodes own a vector id.
func (ts *TestSystem) Route(id string) ([]map[string]any, error) {
	resp, err := ts.httpClient.Get(ts.coordAddr + "/route?id=" + id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var owners []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&owners); err != nil {
		return nil, err
	}
	return owners, nil
}

// CreateCollection creates a collection on a specific node/shard.
func (ts *TestSystem) CreateCollection(nodeAddr, shardID, name string, dim int, metric string) (int, error) {
	body, _ := json.Marshal(map[string]any{"name": name, "dim": dim, "metric": metric})
	url := fmt.Sprintf("%s/shards/%s/collections", nodeAddr, shardID)
	resp, err := ts.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Insert inserts a vector into a collection on a specific node/shard.
func (ts *TestSystem) Insert(nodeAddr, shardID, collection, id string, vector []float32) (int, error) {
	body, _ := json.Marshal(map[string]any{"id": id, "vector": vector})
	url := fmt.Sprintf("%s/shards/%s/collections/%s/vectors", nodeAddr, shardID, collection)
	resp, err := ts.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// Search runs a nearest-neighbor query against a single node/shard's
// collection.
func (ts *TestSystem) Search(nodeAddr, shardID, collection string, query []float32, k int) (int, []map[string]any, error) {
	body, _ := json.Marshal(map[string]any{"query": query, "k": k})
	url := fmt.Sprintf("%s/shards/%s/collections/%s/search", nodeAddr, shardID, collection)
	resp, err := ts.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil, nil
	}
	var results []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, results, nil
}

// TestDistributedCluster exercises registration, shard placement, and
// basic vector CRUD/search against a live coordinator + node cluster.
func TestDistributedCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if _, err := os.Stat("./bin/coordinator"); os.IsNotExist(err) {
		t.Skip("coordinator binary not found at ./bin/coordinator; build cmd/coordinator there first")
	}
	if _, err := os.Stat("./bin/node"); os.IsNotExist(err) {
		t.Skip("node binary not found at ./bin/node; build cmd/node there first")
	}

	ts := NewTestSystem(t)
	if err := ts.Start(); err != nil {
		t.Fatalf("start test system: %v", err)
	}
	defer ts.Stop()

	t.Run("NodesRegister", func(t *testing.T) { testNodesRegister(t, ts) })
	t.Run("RouteResolvesOwners", func(t *testing.T) { testRouteResolvesOwners(t, ts) })
	t.Run("InsertAndSearch", func(t *testing.T) { testInsertAndSearch(t, ts) })
	t.Run("SearchOnUnknownCollectionIs404", func(t *testing.T) { testSearchUnknownCollection(t, ts) })
}

func testNodesRegister(t *testing.T, ts *TestSystem) {
	nodes, err := ts.Nodes()
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes) != len(ts.nodeAddrs) {
		t.Fatalf("expected %d registered nodes, got %d", len(ts.nodeAddrs), len(nodes))
	}
}

func testRouteResolvesOwners(t *testing.T, ts *TestSystem) {
	owners, err := ts.Route("sku-123")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if len(owners) == 0 {
		t.Fatal("expected at least one owner for a routed id")
	}
	for _, o := range owners {
		if o["addr"] == nil || o["addr"] == "" {
			t.Errorf("owner missing resolved address: %+v", o)
		}
	}
}

func testInsertAndSearch(t *testing.T, ts *TestSystem) {
	nodeAddr := ts.nodeAddrs[0]
	shardID := "shard-n1"

	if status, err := ts.CreateCollection(nodeAddr, shardID, "widgets", 4, "euclidean"); err != nil {
		t.Fatalf("create collection: %v", err)
	} else if status != http.StatusCreated {
		t.Fatalf("expected 201 creating collection, got %d", status)
	}

	vec := []float32{1, 2, 3, 4}
	if status, err := ts.Insert(nodeAddr, shardID, "widgets", "sku-1", vec); err != nil {
		t.Fatalf("insert: %v", err)
	} else if status != http.StatusNoContent {
		t.Fatalf("expected 204 inserting vector, got %d", status)
	}

	status, results, err := ts.Search(nodeAddr, shardID, "widgets", vec, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200 searching, got %d", status)
	}
	if len(results) != 1 || results[0]["ExternalID"] != "sku-1" {
		t.Fatalf("expected sku-1 as top hit, got %+v", results)
	}
}

func testSearchUnknownCollection(t *testing.T, ts *TestSystem) {
	nodeAddr := ts.nodeAddrs[1]
	status, _, err := ts.Search(nodeAddr, "shard-n2", "does-not-exist", []float32{1, 2, 3, 4}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if status != http.StatusNotFound {
		t.Errorf("expected 404 for unknown collection, got %d", status)
	}
}
