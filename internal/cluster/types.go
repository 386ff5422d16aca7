// Package cluster provides the core distributed system functionality for vectorgraph.
// See doc.go for complete package documentation.
package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NodeInfo represents a storage node in the vectorgraph cluster, containing the
// essential metadata needed for node identification, communication, and
// cluster membership management.
//
// NodeInfo instances are used throughout the system for:
//   - Node registration with the coordinator
//   - Health check targeting
//   - Request routing decisions
//   - Cluster state broadcasts
//
// Thread Safety:
// NodeInfo is safe for concurrent read access once initialized.
// Modifications should be protected by external synchronization.
//
// Example:
//
//	node := &NodeInfo{
//	    ID:   "node-1",
//	    Addr: "http://192.168.1.10:8081",
//	}
type NodeInfo struct {
	// LastHealthCheck is a slot for the time of the node's last health
	// check. Nothing in this repository sets it: the coordinator stores
	// NodeInfo exactly as the node sent it, so it stays the zero value
	// unless the sender filled it in.
	LastHealthCheck time.Time `json:"last_health_check,omitempty"`

	// ID is the unique identifier for this node within the cluster.
	// It must be unique across all nodes and stable across restarts.
	// Format: typically "node-{number}" or UUID.
	// Example: "node-1", "node-2", "550e8400-e29b-41d4-a716-446655440000"
	ID string `json:"id"`

	// Addr is the base URL where this node can be reached, including the
	// scheme; callers append request paths to it directly.
	// Must be accessible from both coordinator and other nodes.
	// Example: "http://localhost:8081", "http://192.168.1.10:8081"
	Addr string `json:"addr"`

	// Status is a free-form health label, serialized as "health_status".
	// Nothing in this repository sets it: the coordinator stores NodeInfo
	// exactly as the node sent it.
	Status string `json:"health_status"`
}

// RegisterRequest encapsulates the data sent by a node when registering
// with the coordinator to join the cluster.
//
// The registration process:
// 1. Node creates RegisterRequest with its NodeInfo
// 2. Node POSTs request to coordinator's /register endpoint
// 3. Coordinator stores the NodeInfo and, on a node's first
//    registration, adds ring shard "shard-<id>" for it
// 4. Coordinator answers 204 No Content with an empty body
//
// Example request body:
//
//	{
//	  "node": {
//	    "id": "node-1",
//	    "addr": "http://localhost:8081"
//	  }
//	}
type RegisterRequest struct {
	// Node contains the registering node's metadata. The coordinator
	// stores it as sent and neither modifies nor returns it.
	Node NodeInfo `json:"node"`
}

// BroadcastRequest represents a message to be broadcast from the coordinator
// to all nodes in the cluster, typically used for propagating cluster state
// changes, configuration updates, or control commands.
//
// Broadcast mechanism:
// 1. A client POSTs a BroadcastRequest to the coordinator's /broadcast
// 2. The coordinator POSTs Payload to each node's Addr+Path, one node
//    after another, each with a 4-second timeout
// 3. A failed node does not stop the others; each node's error (or
//    success) is reported in the response's "results" list, alongside
//    "sent_to"
//
// The node command serves only /health, /info and /shards/...; a Path
// with no matching node handler gets a 404 from each node.
//
// Example:
//
//	broadcast := &BroadcastRequest{
//	    Path: "/cluster/state",
//	    Payload: json.RawMessage(`{"nodes":["node-1","node-2"]}`),
//	}
type BroadcastRequest struct {
	// Path specifies the target endpoint or message type.
	// Used by nodes to route the payload to appropriate handlers.
	// Format: URL path starting with "/"
	// Example: "/cluster/state", "/shards/reassign", "/config/reload"
	Path string `json:"path"`

	// Payload contains the actual message data in JSON format.
	// Using json.RawMessage allows deferring parsing until needed
	// and preserves the original JSON structure.
	// Content depends on Path and is defined by the handler.
	Payload json.RawMessage `json:"payload"`
}

// RingMove mirrors internal/ring.Move over the wire: one key range
// moving from one shard to another as part of a rebalance plan.
type RingMove struct {
	TokenLo   uint64 `json:"token_lo"`
	TokenHi   uint64 `json:"token_hi"`
	FromShard string `json:"from_shard"`
	ToShard   string `json:"to_shard"`
}

// RingUpdate is posted by the coordinator, asynchronously, to each
// node's /ring/update after a newly registered node's shard is added to
// the ring. The coordinator routes against the new ring at once, without
// waiting for those posts; the node command has no /ring/update handler.
type RingUpdate struct {
	Shards            []string   `json:"shards"`
	ReplicationFactor int        `json:"replication_factor"`
	Moves             []RingMove `json:"moves,omitempty"`
}

// ShardAssignment lists the shard ids placed on one node; the
// coordinator's GET /shards returns one per registered node.
type ShardAssignment struct {
	NodeID string   `json:"node_id"`
	Shards []string `json:"shards"`
}

// httpClient is the shared HTTP client used for all cluster communication.
// It's configured with a 5-second timeout to prevent hanging on unresponsive
// nodes and to enable quick failure detection.
//
// Performance characteristics:
//   - Connection pooling enabled by default
//   - Maximum of 100 idle connections
//   - Idle connection timeout of 90 seconds
//   - Supports HTTP/2 when available
//
// Note: This is a package-level variable to enable connection reuse
// across multiple requests, improving performance.
var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends a JSON-encoded POST request to the specified URL and
// decodes the JSON response into the provided output structure.
//
// This function is the primary mechanism for node-to-node and
// node-to-coordinator communication in the cluster, handling:
//   - Request body JSON encoding
//   - Context-based cancellation
//   - Response status validation
//   - Response body JSON decoding
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control.
//     Should have a deadline set for production use.
//   - url: Complete URL to send the request to.
//     Example: "http://coordinator:8080/register"
//   - body: Go structure to be JSON-encoded as request body.
//     Must be JSON-serializable (exported fields, valid types).
//   - out: Pointer to structure for JSON response decoding.
//     Pass nil if response body should be ignored.
//
// Returns:
//   - nil on success (HTTP 2xx status and successful decode if out != nil)
//   - Error on failure, which may be:
//   - JSON marshaling error (invalid body structure)
//   - Network error (connection failure, timeout)
//   - HTTP error (non-2xx status code)
//   - JSON unmarshaling error (invalid response format)
//
// Thread Safety:
// This function is thread-safe and can be called concurrently.
// The shared httpClient handles connection pooling safely.
//
// Example:
//
//	req := &RegisterRequest{Node: NodeInfo{ID: "node-1", Addr: "http://localhost:8081"}}
//	// /register answers 204 with no body, so no output is decoded.
//	err := PostJSON(ctx, "http://coordinator:8080/register", req, nil)
//	if err != nil {
//	    log.Printf("Registration failed: %v", err)
//	}
func PostJSON(ctx context.Context, url string, body, out any) error {
	// Marshal request body to JSON
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	// Create HTTP request with context for cancellation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// Execute request using shared client
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Check for HTTP errors (status >= 300)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}

	// Skip decoding if caller doesn't want response
	if out == nil {
		return nil
	}

	// Decode JSON response into output structure
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON sends a GET request to the specified URL and decodes the
// JSON response into the provided output structure.
//
// The response body must be JSON: an endpoint that answers 2xx with an
// empty body (such as a node's GET /health) makes GetJSON return a
// decode error.
//
// Parameters:
//   - ctx: Context for request cancellation and timeout control.
//     Should have a deadline set to prevent indefinite waits.
//   - url: Complete URL to send the request to.
//     Example: "http://node1:8081/info"
//   - out: Pointer to structure for JSON response decoding.
//     The structure should match the expected response format.
//
// Returns:
//   - nil on success (HTTP 2xx status and successful decode)
//   - Error on failure, which may be:
//   - Network error (connection failure, DNS resolution, timeout)
//   - HTTP error (non-2xx status code)
//   - JSON unmarshaling error (response doesn't match out structure)
//
// Thread Safety:
// This function is thread-safe and can be called concurrently.
// Multiple goroutines can safely make GET requests simultaneously.
//
// Performance Notes:
//   - Uses connection pooling for efficiency
//   - Streams response body (doesn't buffer entirely in memory)
//   - Suitable for responses up to several MB
//   - For large responses, consider streaming or pagination
//
// Example:
//
//	var info map[string]any
//	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
//	defer cancel()
//	err := GetJSON(ctx, "http://node1:8081/info", &info)
//	if err != nil {
//	    log.Printf("Info query failed: %v", err)
//	}
func GetJSON(ctx context.Context, url string, out any) error {
	// Create HTTP request with context
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	// Execute request using shared client
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Check for HTTP errors
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}

	// Decode JSON response
	return json.NewDecoder(resp.Body).Decode(out)
}
