// Package cluster holds the wire types and JSON-over-HTTP helpers that
// vectorgraph's coordinator and node commands use to talk to each other.
//
// # Overview
//
// The package contains no membership, routing or health-monitoring logic
// of its own: those live in cmd/coordinator, cmd/node, internal/ring and
// internal/dagcoord. The deployment it serves is coordinator-based: a
// central coordinator tracks registered storage nodes.
//
// # Architecture
//
// The package follows a hub-and-spoke model:
//
//	              в”Ңв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”җ
//	              в”Ӯ Coordinator  в”Ӯ
//	              в”Ӯ              в”Ӯ
//	              в”Ӯ - Registry   в”Ӯ
//	              в”Ӯ - Health Mon в”Ӯ
//	              в”Ӯ - Broadcasts в”Ӯ
//	              в””в”Җв”Җв”Җв”Җв”Җв”Җв”¬в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ
//	                     в”Ӯ
//	      в”Ңв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”јв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”җ
//	      в”Ӯ              в”Ӯ              в”Ӯ
//	в”Ңв”Җв”Җв”Җв”Җв”Җв–јв”Җв”Җв”Җв”Җв”Җв”җ в”Ңв”Җв”Җв”Җв”Җв”Җв–јв”Җв”Җв”Җв”Җв”Җв”җ в”Ңв”Җв”Җв”Җв”Җв”Җв–јв”Җв”Җв”Җв”Җв”Җв”җ
//	в”Ӯ  Node 1   в”Ӯ в”Ӯ  Node 2   в”Ӯ в”Ӯ  Node 3   в”Ӯ
//	в”Ӯ           в”Ӯ в”Ӯ           в”Ӯ в”Ӯ           в”Ӯ
//	в”Ӯ Shards:   в”Ӯ в”Ӯ Shards:   в”Ӯ в”Ӯ Shards:   в”Ӯ
//	в”Ӯ [0,1,2]   в”Ӯ в”Ӯ [3,4,5]   в”Ӯ в”Ӯ [6,7,8]   в”Ӯ
//	в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ в””в”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”Җв”ҳ
//
// # Contents
//
// Wire types:
//   - NodeInfo: a node's id, base URL and two optional health fields
//   - RegisterRequest: the body a node POSTs to the coordinator's /register
//   - BroadcastRequest: the body a client POSTs to the coordinator's /broadcast
//   - RingUpdate, RingMove: ring membership as posted to nodes' /ring/update
//   - ShardAssignment: one node's shard ids, as listed by GET /shards
//
// HTTP helpers:
//   - PostJSON and GetJSON share one http.Client with a 5-second timeout
//   - both treat any status of 300 or above as an error
//
// The types carry no locks; callers synchronize access themselves.
//
// # How the commands use it
//
// Registration (POST /register): a node sends its NodeInfo, retrying up
// to 10 times with a fixed 400ms pause. On a node's first registration
// the coordinator adds ring shard "shard-<id>". It answers 204 with an
// empty body.
//
// Broadcast (POST /broadcast): the coordinator forwards the payload to
// every registered node, one after another. Each node's outcome is
// reported in the response.
//
// Health: the coordinator's QuorumWatcher (internal/dagcoord) probes each
// node's GET /health, every 5 seconds by default. A node counts as failed
// after 3 consecutive failed probes. Losing or regaining quorum only
// invokes callbacks, which the coordinator uses for logging. Nodes are
// not removed and shards are not reassigned.
//
// # Limitations
//
//   - The coordinator is a single process with no failover
//   - No encryption for inter-node communication
//
// Run the package's tests with:
//
//	go test ./internal/cluster/...
//
// # See Also
//
// Related packages:
//   - internal/ring: consistent-hash shard placement
//   - internal/dagcoord: DAG-ordered write coordination and quorum detection
//   - internal/collection: per-shard vector storage
package cluster
