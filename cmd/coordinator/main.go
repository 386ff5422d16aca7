// Command coordinator runs the vectorgraph control plane: it tracks node
// membership, places shards on a consistent-hash ring (internal/ring), and
// resolves which nodes own a given vector id so a caller can scatter a
// query or write across the right shards. It does not proxy vector
// operations itself (programmatic scatter/gather lives in internal/query);
// the coordinator's job ends at "here is who owns this".
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"

	"github.com/dreamware/vectorgraph/internal/cluster"
	"github.com/dreamware/vectorgraph/internal/dagcoord"
	"github.com/dreamware/vectorgraph/internal/ring"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("coordinator exited with error")
	}
}

func newRootCmd() *cobra.Command {
	var (
		listen            string
		replicationFactor int
		quorumInterval    time.Duration
		quorumThreshold   float64
	)

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the vectorgraph control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoordinator(cmd.Context(), listen, replicationFactor, quorumInterval, quorumThreshold)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", envOr("COORDINATOR_ADDR", ":8080"), "listen address (env COORDINATOR_ADDR)")
	cmd.Flags().IntVar(&replicationFactor, "replication-factor", envOrInt("REPLICATION_FACTOR", 2), "ring replication factor R (env REPLICATION_FACTOR)")
	cmd.Flags().DurationVar(&quorumInterval, "quorum-interval", envOrDuration("QUORUM_CHECK_INTERVAL", 5*time.Second), "interval between peer health probes (env QUORUM_CHECK_INTERVAL)")
	cmd.Flags().Float64Var(&quorumThreshold, "quorum-threshold", 0.5, "fraction of reachable peers required to hold quorum")

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}

func envOrDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func runCoordinator(ctx context.Context, listen string, replicationFactor int, quorumInterval time.Duration, quorumThreshold float64) error {
	srv := newServer(replicationFactor, quorumInterval, quorumThreshold)

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go srv.quorum.Start(watchCtx, func() []cluster.NodeInfo {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		nodes := make([]cluster.NodeInfo, len(srv.nodes))
		copy(nodes, srv.nodes)
		return nodes
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/register", srv.handleRegister)
	mux.HandleFunc("/nodes", srv.handleListNodes)
	mux.HandleFunc("/broadcast", srv.handleBroadcast)
	mux.HandleFunc("/route", srv.handleRoute)
	mux.HandleFunc("/shards", srv.handleShards)
	mux.HandleFunc("/shards/assign", srv.handleShardAssign)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	httpSrv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		srv.logger.Info().Str("listen", listen).Msg("coordinator listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	srv.logger.Info().Msg("stopping quorum watcher")
	srv.quorum.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// server holds the coordinator's runtime state: cluster membership, the
// shard ring, and a quorum watcher monitoring peer reachability so the
// cluster can be told when it has lost the ability to finalize DAG
// operations (spec §4.8).
type server struct {
	ring   *ring.Ring
	quorum *dagcoord.QuorumWatcher

	mu         sync.RWMutex
	nodes      []cluster.NodeInfo
	shardNodes map[ring.ShardID]string // shard -> owning node id

	logger zerolog.Logger
}

func newServer(replicationFactor int, quorumInterval time.Duration, quorumThreshold float64) *server {
	srv := &server{
		ring:       ring.New(replicationFactor),
		quorum:     dagcoord.NewQuorumWatcher(quorumInterval, quorumThreshold),
		shardNodes: make(map[ring.ShardID]string),
		logger:     log.With().Str("component", "coordinator").Logger(),
	}

	srv.quorum.SetOnQuorumLost(func() {
		srv.logger.Warn().Msg("cluster quorum lost; collections should switch to read-only")
	})
	srv.quorum.SetOnQuorumRestored(func() {
		srv.logger.Info().Msg("cluster quorum restored")
	})

	return srv
}

// handleRegister adds a node to the cluster and, for new nodes, places a
// shard named after it on the ring before broadcasting the resulting
// placement to every node.
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.Node.ID })
	isNew := idx < 0
	if isNew {
		s.nodes = append(s.nodes, req.Node)
	} else {
		s.nodes[idx] = req.Node
	}

	var moves []ring.Move
	if isNew {
		shard := ring.ShardID("shard-" + req.Node.ID)
		moves = s.ring.AddShard(shard, 0)
		s.shardNodes[shard] = req.Node.ID
	}
	update := s.ringUpdateLocked(moves)
	targets := append([]cluster.NodeInfo(nil), s.nodes...)
	s.mu.Unlock()

	if isNew {
		go s.broadcastRingUpdate(targets, update)
	}

	w.WriteHeader(http.StatusNoContent)
}

// ringUpdateLocked builds the wire representation of the current ring.
// Caller must hold s.mu (read or write).
func (s *server) ringUpdateLocked(moves []ring.Move) cluster.RingUpdate {
	shards := s.ring.Shards()
	shardNames := make([]string, len(shards))
	for i, sh := range shards {
		shardNames[i] = string(sh)
	}
	wireMoves := make([]cluster.RingMove, len(moves))
	for i, m := range moves {
		wireMoves[i] = cluster.RingMove{TokenLo: m.TokenLo, TokenHi: m.TokenHi, FromShard: string(m.FromShard), ToShard: string(m.ToShard)}
	}
	return cluster.RingUpdate{Shards: shardNames, ReplicationFactor: s.ring.ReplicationFactor(), Moves: wireMoves}
}

// broadcastRingUpdate posts a ring change to every node's /ring/update.
// Best effort: a failed post is logged and not retried. The node command
// registers no /ring/update handler.
func (s *server) broadcastRingUpdate(targets []cluster.NodeInfo, update cluster.RingUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	for _, n := range targets {
		if err := cluster.PostJSON(ctx, n.Addr+"/ring/update", update, nil); err != nil {
			s.logger.Warn().Err(err).Str("node", n.ID).Msg("ring update broadcast failed")
		}
	}
}

func (s *server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := append([]cluster.NodeInfo(nil), s.nodes...)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}{Nodes: nodes})
}

// handleBroadcast fans a caller-supplied request out to every registered
// node, for cluster-wide operations like config reloads.
func (s *server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req cluster.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Path == "" || req.Path[0] != '/' {
		http.Error(w, "path must start with '/'", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	targets := append([]cluster.NodeInfo(nil), s.nodes...)
	s.mu.RUnlock()

	type result struct {
		NodeID string `json:"node_id"`
		Err    string `json:"err,omitempty"`
	}
	out := make([]result, 0, len(targets))

	ctx, cancel := context.WithTimeout(r.Context(), 4*time.Second)
	defer cancel()

	for _, n := range targets {
		err := cluster.PostJSON(ctx, n.Addr+req.Path, req.Payload, nil)
		res := result{NodeID: n.ID}
		if err != nil {
			res.Err = err.Error()
		}
		out = append(out, res)
	}

	_ = json.NewEncoder(w).Encode(struct {
		Results []result `json:"results"`
		SentTo  int      `json:"sent_to"`
	}{Results: out, SentTo: len(out)})
}

// handleRoute resolves the shards and node addresses that own a vector id,
// so a caller can build a scatter/gather plan (internal/query.Pipeline)
// without the coordinator itself forwarding vector traffic.
//
// Endpoint: GET /route?id={vectorID}
func (s *server) handleRoute(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id query parameter required", http.StatusBadRequest)
		return
	}

	owners := s.ring.Owners(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type ownerInfo struct {
		ShardID string `json:"shard_id"`
		NodeID  string `json:"node_id,omitempty"`
		Addr    string `json:"addr,omitempty"`
	}
	resp := make([]ownerInfo, 0, len(owners))
	for _, shard := range owners {
		nodeID := s.shardNodes[shard]
		info := ownerInfo{ShardID: string(shard), NodeID: nodeID}
		for _, n := range s.nodes {
			if n.ID == nodeID {
				info.Addr = n.Addr
				break
			}
		}
		resp = append(resp, info)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleShards reports the ring's current shard set and node assignments.
func (s *server) handleShards(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assignments := make([]cluster.ShardAssignment, 0, len(s.shardNodes))
	byNode := make(map[string][]string)
	for shard, nodeID := range s.shardNodes {
		byNode[nodeID] = append(byNode[nodeID], string(shard))
	}
	for nodeID, shards := range byNode {
		assignments = append(assignments, cluster.ShardAssignment{NodeID: nodeID, Shards: shards})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Shards            []cluster.ShardAssignment `json:"shards"`
		ReplicationFactor int                        `json:"replication_factor"`
	}{Shards: assignments, ReplicationFactor: s.ring.ReplicationFactor()})
}

// handleShardAssign manually moves a shard onto a different node, for
// recovery after a node is permanently removed from the cluster.
//
// Endpoint: POST /shards/assign {"shard_id": "shard-node-1", "node_id": "node-2"}
func (s *server) handleShardAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ShardID string `json:"shard_id"`
		NodeID  string `json:"node_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.ShardID == "" || req.NodeID == "" {
		http.Error(w, "shard_id and node_id required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.shardNodes[ring.ShardID(req.ShardID)] = req.NodeID
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}
