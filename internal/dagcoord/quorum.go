package dagcoord

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dreamware/vectorgraph/internal/cluster"
)

// nodeHealth tracks one peer's health as observed by a QuorumWatcher.
type nodeHealth struct {
	nodeID           string
	healthy          bool
	consecutiveFails int
	lastCheck        time.Time
}

// QuorumWatcher periodically health-checks a node's DAG peers and reports
// when the fraction of reachable peers drops below the quorum threshold.
// Per spec §4.8, a node that observes quorum loss may be instructed by its
// collection to switch to read-only: QuorumWatcher is the collaborator
// that raises that signal, separate from the collection's response to it.
type QuorumWatcher struct {
	mu          sync.RWMutex
	nodes       map[string]*nodeHealth
	haveQuorum  bool
	threshold   float64
	maxFailures int

	httpClient *http.Client
	checkFunc  func(addr string) error

	onQuorumLost     func()
	onQuorumRestored func()

	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	logger zerolog.Logger
}

// NewQuorumWatcher returns a watcher that considers quorum held while at
// least threshold (e.g. 0.5 for majority) of peers are reachable, checked
// every interval.
func NewQuorumWatcher(interval time.Duration, threshold float64) *QuorumWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &QuorumWatcher{
		nodes:       make(map[string]*nodeHealth),
		haveQuorum:  true,
		threshold:   threshold,
		maxFailures: 3,
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		interval:    interval,
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.With().Str("component", "quorum_watcher").Logger(),
	}
}

// SetOnQuorumLost sets the callback invoked the moment the watcher
// transitions from holding quorum to not holding it.
func (q *QuorumWatcher) SetOnQuorumLost(cb func()) { q.onQuorumLost = cb }

// SetOnQuorumRestored sets the callback invoked when quorum is regained.
func (q *QuorumWatcher) SetOnQuorumRestored(cb func()) { q.onQuorumRestored = cb }

// SetCheckFunction overrides the default HTTP /health probe, for testing
// or custom transport.
func (q *QuorumWatcher) SetCheckFunction(checkFunc func(addr string) error) {
	q.checkFunc = checkFunc
}

// Start runs the watch loop until ctx is done or Stop is called.
func (q *QuorumWatcher) Start(ctx context.Context, peerProvider func() []cluster.NodeInfo) {
	q.wg.Add(1)
	defer q.wg.Done()

	if ctx == nil {
		ctx = q.ctx
	}
	if q.checkFunc == nil {
		q.checkFunc = q.defaultCheck
	}

	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	q.evaluate(peerProvider())
	for {
		select {
		case <-ticker.C:
			q.evaluate(peerProvider())
		case <-ctx.Done():
			return
		case <-q.ctx.Done():
			return
		}
	}
}

// Stop cancels the watch loop and waits for it to exit.
func (q *QuorumWatcher) Stop() {
	q.cancel()
	q.wg.Wait()
}

func (q *QuorumWatcher) evaluate(peers []cluster.NodeInfo) {
	seen := make(map[string]bool, len(peers))
	for _, p := range peers {
		seen[p.ID] = true
		q.checkPeer(p)
	}

	q.mu.Lock()
	for id := range q.nodes {
		if !seen[id] {
			delete(q.nodes, id)
		}
	}
	healthy := 0
	for _, h := range q.nodes {
		if h.healthy {
			healthy++
		}
	}
	total := len(q.nodes)
	hadQuorum := q.haveQuorum
	q.haveQuorum = total == 0 || float64(healthy)/float64(total) >= q.threshold
	nowQuorum := q.haveQuorum
	q.mu.Unlock()

	if hadQuorum && !nowQuorum {
		q.logger.Warn().Int("healthy", healthy).Int("total", total).Msg("quorum lost")
		if q.onQuorumLost != nil {
			q.onQuorumLost()
		}
	} else if !hadQuorum && nowQuorum {
		q.logger.Info().Msg("quorum restored")
		if q.onQuorumRestored != nil {
			q.onQuorumRestored()
		}
	}
}

func (q *QuorumWatcher) checkPeer(peer cluster.NodeInfo) {
	q.mu.Lock()
	h, ok := q.nodes[peer.ID]
	if !ok {
		h = &nodeHealth{nodeID: peer.ID}
		q.nodes[peer.ID] = h
	}
	q.mu.Unlock()

	err := q.checkFunc(peer.Addr)

	q.mu.Lock()
	defer q.mu.Unlock()
	h.lastCheck = time.Now()
	if err != nil {
		h.consecutiveFails++
		if h.consecutiveFails >= q.maxFailures {
			h.healthy = false
		}
		return
	}
	h.consecutiveFails = 0
	h.healthy = true
}

func (q *QuorumWatcher) defaultCheck(addr string) error {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}
	resp, err := q.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("quorum check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quorum check returned status %d", resp.StatusCode)
	}
	return nil
}

// HasQuorum reports whether the watcher currently believes quorum held.
func (q *QuorumWatcher) HasQuorum() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.haveQuorum
}
