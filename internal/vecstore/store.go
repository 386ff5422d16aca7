// Package vecstore implements the per-collection vector store: an
// append-only container mapping a dense internal handle to a raw vector
// and a tombstone bit, plus the external-id <-> handle mapping.
//
// Concurrency follows the teacher's storage.Store discipline: a single
// RWMutex guards the map and slice, readers take RLock, writers take
// Lock, and returned slices are copies so callers can't mutate store
// state behind its back.
package vecstore

import (
	"sync"

	"github.com/dreamware/vectorgraph/internal/vgerr"
)

// Handle is a dense 32-bit internal index into the store. Stable for the
// life of a vector; never reused until a compaction remaps the space.
type Handle uint32

// InvalidHandle is returned by lookups that find nothing.
const InvalidHandle Handle = math32Max

const math32Max = ^Handle(0)

// QuantMode selects how the snapshot codec encodes a vector's float
// payload. The store itself always keeps full float32 precision in
// memory; quantization is applied only at snapshot-write time (see
// internal/collection/snapshot.go).
type QuantMode int

const (
	QuantNone QuantMode = iota
	QuantScalarInt8
)

// record is the store's internal representation of one live or
// tombstoned vector.
type record struct {
	vector     []float32
	payload    map[string]any
	externalID string
	tombstoned bool
}

// Store is a per-collection, handle-indexed vector container.
//
// Invariants (spec §3): handles are dense and contiguous in [0, N);
// external ids map 1-to-1 to handles for live ids; tombstoned handles
// keep their slot until Compact.
type Store struct {
	mu         sync.RWMutex
	records    []record
	idToHandle map[string]Handle
	dim        int
	quota      int // 0 means unlimited
	liveCount  int
	tombCount  int
}

// New creates an empty store for vectors of the given dimension. quota,
// when > 0, caps the number of handles ever allocated (before
// compaction reclaims tombstoned slots).
func New(dim int, quota int) *Store {
	return &Store{
		idToHandle: make(map[string]Handle),
		dim:        dim,
		quota:      quota,
	}
}

// Dim returns the fixed vector dimension for this store.
func (s *Store) Dim() int { return s.dim }

// Insert appends a fresh record and returns its handle.
func (s *Store) Insert(externalID string, vector []float32, payload map[string]any) (Handle, error) {
	if len(vector) != s.dim {
		return InvalidHandle, vgerr.New(vgerr.DimensionMismatch, "vector length does not match collection dimension")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.idToHandle[externalID]; exists {
		return InvalidHandle, vgerr.New(vgerr.DuplicateID, "external id already live")
	}
	if s.quota > 0 && len(s.records) >= s.quota {
		return InvalidHandle, vgerr.New(vgerr.QuotaExceeded, "vector store handle space is full")
	}

	h := Handle(len(s.records))
	s.records = append(s.records, record{
		vector:     copyVector(vector),
		payload:    payload,
		externalID: externalID,
	})
	s.idToHandle[externalID] = h
	s.liveCount++
	return h, nil
}

// Upsert logically deletes any prior handle for externalID, then inserts
// the new vector as a fresh handle.
func (s *Store) Upsert(externalID string, vector []float32, payload map[string]any) (Handle, error) {
	if len(vector) != s.dim {
		return InvalidHandle, vgerr.New(vgerr.DimensionMismatch, "vector length does not match collection dimension")
	}

	s.mu.Lock()
	if prev, ok := s.idToHandle[externalID]; ok {
		if !s.records[prev].tombstoned {
			s.records[prev].tombstoned = true
			s.liveCount--
			s.tombCount++
		}
		delete(s.idToHandle, externalID)
	}
	if s.quota > 0 && len(s.records) >= s.quota {
		s.mu.Unlock()
		return InvalidHandle, vgerr.New(vgerr.QuotaExceeded, "vector store handle space is full")
	}
	h := Handle(len(s.records))
	s.records = append(s.records, record{
		vector:     copyVector(vector),
		payload:    payload,
		externalID: externalID,
	})
	s.idToHandle[externalID] = h
	s.liveCount++
	s.mu.Unlock()
	return h, nil
}

// Delete sets the tombstone bit for externalID. Returns false if the id
// was not live.
func (s *Store) Delete(externalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.idToHandle[externalID]
	if !ok {
		return false
	}
	s.records[h].tombstoned = true
	delete(s.idToHandle, externalID)
	s.liveCount--
	s.tombCount++
	return true
}

// Get returns the vector and payload for a handle. ok is false if the
// handle is out of range or tombstoned.
func (s *Store) Get(h Handle) (vector []float32, payload map[string]any, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if int(h) < 0 || int(h) >= len(s.records) {
		return nil, nil, false
	}
	r := s.records[h]
	if r.tombstoned {
		return nil, nil, false
	}
	return copyVector(r.vector), r.payload, true
}

// GetVectorUnsafe returns the underlying vector slice without copying,
// for use on the hot search path where the caller guarantees it will not
// mutate the result. h must be validated by the caller (e.g. via the
// tombstone bitset) before calling this.
func (s *Store) GetVectorUnsafe(h Handle) []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(h) < 0 || int(h) >= len(s.records) {
		return nil
	}
	return s.records[h].vector
}

// PayloadUnsafe returns the payload map for a handle without copying the
// vector, for callers (collection search, filter materialization) that
// only need attribute data. The returned map must not be mutated.
func (s *Store) PayloadUnsafe(h Handle) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(h) < 0 || int(h) >= len(s.records) {
		return nil
	}
	return s.records[h].payload
}

// ByExternalID resolves the live handle for an external id.
func (s *Store) ByExternalID(externalID string) (Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.idToHandle[externalID]
	return h, ok
}

// ExternalID returns the external id recorded at handle h, regardless of
// tombstone state (used by compaction and snapshot code).
func (s *Store) ExternalID(h Handle) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(h) < 0 || int(h) >= len(s.records) {
		return "", false
	}
	return s.records[h].externalID, true
}

// IsTombstoned reports the tombstone bit for h.
func (s *Store) IsTombstoned(h Handle) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(h) < 0 || int(h) >= len(s.records) {
		return true
	}
	return s.records[h].tombstoned
}

// HighWater returns N, the first never-allocated handle.
func (s *Store) HighWater() Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Handle(len(s.records))
}

// Count returns the number of live (non-tombstoned) vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liveCount
}

// TombstoneRatio returns the fraction of allocated handles that are
// tombstoned, used by the collection to decide when to compact.
func (s *Store) TombstoneRatio() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := s.liveCount + s.tombCount
	if total == 0 {
		return 0
	}
	return float64(s.tombCount) / float64(total)
}

// Cursor is an opaque scroll position. Stable only between compactions.
type Cursor struct {
	next Handle
}

// ScrollResult is one page of a Scroll call.
type ScrollResult struct {
	Next       Cursor
	ExternalID []string
	Handle     []Handle
	Done       bool
}

// Scroll returns up to batchSize live records starting after cursor.
func (s *Store) Scroll(cursor Cursor, batchSize int) ScrollResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := ScrollResult{}
	h := cursor.next
	for int(h) < len(s.records) && len(out.Handle) < batchSize {
		r := s.records[h]
		if !r.tombstoned {
			out.Handle = append(out.Handle, h)
			out.ExternalID = append(out.ExternalID, r.externalID)
		}
		h++
	}
	out.Next = Cursor{next: h}
	out.Done = int(h) >= len(s.records)
	return out
}

// RemapEntry records how a live handle's identity changes across a
// compaction, so the collection can rewrite the HNSW graph in lockstep.
type RemapEntry struct {
	Old Handle
	New Handle
}

// Compact produces a new store containing only live vectors, densely
// reindexed from 0, and the remap table describing old -> new handles in
// ascending old-handle order.
func (s *Store) Compact() (*Store, []RemapEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fresh := New(s.dim, s.quota)
	remap := make([]RemapEntry, 0, s.liveCount)
	for old, r := range s.records {
		if r.tombstoned {
			continue
		}
		newHandle := Handle(len(fresh.records))
		fresh.records = append(fresh.records, record{
			vector:     copyVector(r.vector),
			payload:    r.payload,
			externalID: r.externalID,
		})
		fresh.idToHandle[r.externalID] = newHandle
		fresh.liveCount++
		remap = append(remap, RemapEntry{Old: Handle(old), New: newHandle})
	}
	return fresh, remap
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
