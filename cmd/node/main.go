// Command node runs a vectorgraph storage node: it hosts whichever shard
// ids clients create collections under, each shard a set of named collections
// (internal/collection), and serves CRUD/search over HTTP. It plays the
// role the teacher's node played for a flat key-value shard, generalized
// from byte blobs to vectors with payloads.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dreamware/vectorgraph/internal/cluster"
	"github.com/dreamware/vectorgraph/internal/collection"
	"github.com/dreamware/vectorgraph/internal/metric"
	"github.com/dreamware/vectorgraph/internal/sink"
	"github.com/dreamware/vectorgraph/internal/vgerr"
)

// Node owns the collections hosted by this process, grouped by shard
// id. A collection exists only after POST /shards/{shardID}/collections
// creates it; requests naming an unknown collection get 404.
type Node struct {
	id      string
	dataDir string

	mu          sync.RWMutex
	collections map[string]map[string]*collection.Collection // shardID -> name -> collection

	logger zerolog.Logger
}

func newNode(id, dataDir string) *Node {
	return &Node{
		id:          id,
		dataDir:     dataDir,
		collections: make(map[string]map[string]*collection.Collection),
		logger:      log.With().Str("component", "node").Str("node", id).Logger(),
	}
}

func (n *Node) collection(shardID, name string) (*collection.Collection, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	shard, ok := n.collections[shardID]
	if !ok {
		return nil, false
	}
	c, ok := shard[name]
	return c, ok
}

func (n *Node) createCollection(shardID string, cfg collection.Config) (*collection.Collection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	shard, ok := n.collections[shardID]
	if !ok {
		shard = make(map[string]*collection.Collection)
		n.collections[shardID] = shard
	}
	if _, exists := shard[cfg.Name]; exists {
		return nil, fmt.Errorf("collection %q already exists on shard %s", cfg.Name, shardID)
	}

	if n.dataDir != "" {
		path := filepath.Join(n.dataDir, shardID, cfg.Name+".bolt")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sink dir: %w", err)
		}
		s, err := sink.OpenBboltSink(path)
		if err != nil {
			return nil, fmt.Errorf("open payload sink: %w", err)
		}
		cfg.PayloadSink = s
	}

	c := collection.New(cfg)
	shard[cfg.Name] = c
	return c, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("node exited with error")
	}
}

func newRootCmd() *cobra.Command {
	var (
		id        string
		listen    string
		addr      string
		coordAddr string
		dataDir   string
	)

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a vectorgraph storage node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd.Context(), id, listen, addr, coordAddr, dataDir)
		},
	}

	cmd.Flags().StringVar(&id, "id", envOr("NODE_ID", ""), "unique node id (env NODE_ID)")
	cmd.Flags().StringVar(&listen, "listen", envOr("NODE_LISTEN", ":8081"), "listen address (env NODE_LISTEN)")
	cmd.Flags().StringVar(&addr, "addr", envOr("NODE_ADDR", "http://127.0.0.1:8081"), "public address advertised to the coordinator (env NODE_ADDR)")
	cmd.Flags().StringVar(&coordAddr, "coordinator", envOr("COORDINATOR_ADDR", ""), "coordinator base URL (env COORDINATOR_ADDR)")
	cmd.Flags().StringVar(&dataDir, "data-dir", envOr("NODE_DATA_DIR", ""), "directory for per-collection bbolt payload sinks; empty disables durable payload storage")

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runNode(ctx context.Context, id, listen, addr, coordAddr, dataDir string) error {
	if id == "" {
		return fmt.Errorf("node id is required (--id or NODE_ID)")
	}
	node := newNode(id, dataDir)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/info", node.handleInfo)
	mux.HandleFunc("/shards/", node.handleShardRoute)

	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		node.logger.Info().Str("listen", listen).Str("addr", addr).Msg("node listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			node.logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	if coordAddr != "" {
		registerWithRetry(ctx, node.logger, coordAddr, id, addr)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func registerWithRetry(ctx context.Context, logger zerolog.Logger, coordAddr, id, addr string) {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}}
	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, coordAddr+"/register", body, nil)
		if lastErr == nil {
			logger.Info().Str("coordinator", coordAddr).Msg("registered with coordinator")
			return
		}
		logger.Warn().Err(lastErr).Int("attempt", i+1).Msg("register retry")
		time.Sleep(400 * time.Millisecond)
	}
	logger.Fatal().Err(lastErr).Msg("failed to register with coordinator")
}

// handleInfo reports every collection hosted on this node, grouped by
// shard.
func (n *Node) handleInfo(w http.ResponseWriter, r *http.Request) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	type shardInfo struct {
		ShardID     string   `json:"shard_id"`
		Collections []string `json:"collections"`
	}
	resp := struct {
		NodeID string      `json:"node_id"`
		Shards []shardInfo `json:"shards"`
	}{NodeID: n.id}

	for shardID, shard := range n.collections {
		names := make([]string, 0, len(shard))
		for name := range shard {
			names = append(names, name)
		}
		resp.Shards = append(resp.Shards, shardInfo{ShardID: shardID, Collections: names})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleShardRoute dispatches requests under /shards/{shardID}/collections/...
func (n *Node) handleShardRoute(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/shards/"), "/")
	if len(parts) < 2 || parts[1] != "collections" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	shardID := parts[0]

	if len(parts) == 2 {
		if r.Method == http.MethodPost {
			n.handleCreateCollection(shardID, w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := parts[2]
	c, ok := n.collection(shardID, name)
	if !ok {
		http.Error(w, "unknown collection", http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 3 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, c.Stats())
	case len(parts) == 4 && parts[3] == "vectors" && r.Method == http.MethodPost:
		n.handleUpsertVector(c, w, r)
	case len(parts) == 5 && parts[3] == "vectors" && r.Method == http.MethodDelete:
		n.handleDeleteVector(c, parts[4], w, r)
	case len(parts) == 4 && parts[3] == "search" && r.Method == http.MethodPost:
		n.handleSearch(c, w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type createCollectionRequest struct {
	Name   string `json:"name"`
	Dim    int    `json:"dim"`
	Metric string `json:"metric"`
}

func (n *Node) handleCreateCollection(shardID string, w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m, ok := metric.ParseKind(req.Metric)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown metric %q", req.Metric), http.StatusBadRequest)
		return
	}
	cfg := collection.DefaultConfig(req.Name, req.Dim, m)
	if _, err := n.createCollection(shardID, cfg); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type upsertVectorRequest struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
	Upsert  bool           `json:"upsert,omitempty"`
}

func (n *Node) handleUpsertVector(c *collection.Collection, w http.ResponseWriter, r *http.Request) {
	var req upsertVectorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	if req.Upsert {
		_, err = c.Upsert(req.ID, req.Vector, req.Payload)
	} else {
		_, err = c.Insert(req.ID, req.Vector, req.Payload)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleDeleteVector(c *collection.Collection, id string, w http.ResponseWriter, _ *http.Request) {
	ok, err := c.Delete(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchRequest struct {
	Query    []float32 `json:"query"`
	K        int       `json:"k"`
	EfSearch int       `json:"ef_search,omitempty"`
}

func (n *Node) handleSearch(c *collection.Collection, w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	results, err := c.Search(r.Context(), req.Query, req.K, nil, req.EfSearch)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps a vgerr.Kind to the HTTP status a caller should expect
// to retry against, per spec §7's propagation policy: input errors are
// client mistakes, state/integrity errors mean "don't retry this node
// the same way", coordination errors are retryable elsewhere.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch vgerr.KindOf(err) {
	case vgerr.DimensionMismatch, vgerr.UnknownID, vgerr.InvalidFilter, vgerr.InvalidParameter, vgerr.DuplicateID:
		status = http.StatusBadRequest
	case vgerr.UnknownCollection:
		status = http.StatusNotFound
	case vgerr.ReadOnly, vgerr.Tombstoned, vgerr.ConflictPending, vgerr.NotFinalized:
		status = http.StatusConflict
	case vgerr.QuotaExceeded, vgerr.MemoryLimit:
		status = http.StatusInsufficientStorage
	case vgerr.QuorumLost, vgerr.Partitioned, vgerr.Timeout, vgerr.Cancelled:
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
