// Package sink defines the opaque persistence interfaces the core depends
// on for durable payload storage and write-ahead logging. Spec §1 scopes
// "payload storage and write-ahead logging" as "modeled only as opaque
// sinks" — internal/collection writes payloads through PayloadSink
// without knowing which engine is on the other side (nothing in the
// core uses WALSink), the same way the teacher's internal/storage.Store let
// a shard run against MemoryStore, RocksDBStore, or KuzuStore
// interchangeably.
package sink

import (
	"errors"
	"sync"
)

// ErrRecordNotFound is returned when a requested key has no stored
// record. Callers distinguish it from other sink errors the way the
// teacher's shard code checks storage.ErrKeyNotFound.
var ErrRecordNotFound = errors.New("sink: record not found")

// PayloadSink is the durable side of a collection's payload storage: the
// arbitrary JSON-ish metadata attached to each vector (spec §4.3), kept
// out of the in-memory vecstore.Store so it can be paged to disk or
// replicated independently of the vector/graph segments.
type PayloadSink interface {
	// Put stores the payload bytes for key, replacing any prior value.
	Put(key string, value []byte) error

	// Get retrieves the payload bytes for key, or ErrRecordNotFound.
	Get(key string) ([]byte, error)

	// Delete removes key's payload. Idempotent: deleting an absent key
	// is not an error.
	Delete(key string) error

	// Close releases the sink's underlying resources.
	Close() error
}

// WALRecord is one entry appended to a WALSink: a DAG vertex id paired
// with its serialized operation, written before the vertex is
// considered durable (spec §4.8 finalization only matters once the
// write surviving a crash is assured).
type WALRecord struct {
	VertexID string
	Payload  []byte
}

// WALSink is a durable write-ahead log interface. dagcoord.Coordinator
// does not use it: Submit appends nothing to a WAL, and nothing replays
// a WAL on restart to rebuild DAG state.
type WALSink interface {
	// Append writes rec and returns once it is durable.
	Append(rec WALRecord) error

	// Replay invokes fn once per record in append order, oldest first.
	// Replay stops and returns fn's error if fn returns non-nil.
	Replay(fn func(WALRecord) error) error

	// Truncate drops every record up to and including the first one whose
	// VertexID is upToVertexID; if no record has that id, nothing is
	// dropped.
	Truncate(upToVertexID string) error

	// Close releases the sink's underlying resources.
	Close() error
}

// MemorySink is an in-memory PayloadSink and WALSink, the sink package's
// analogue of the teacher's storage.MemoryStore: no persistence across
// restarts, useful for tests and for collections that opt out of
// durability entirely.
type MemorySink struct {
	mu       sync.RWMutex
	payloads map[string][]byte
	wal      []WALRecord
}

// NewMemorySink returns an empty MemorySink ready for immediate use.
func NewMemorySink() *MemorySink {
	return &MemorySink{payloads: make(map[string][]byte)}
}

func (m *MemorySink) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.payloads[key] = stored
	return nil
}

func (m *MemorySink) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.payloads[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemorySink) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads, key)
	return nil
}

func (m *MemorySink) Close() error { return nil }

func (m *MemorySink) Append(rec WALRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := WALRecord{VertexID: rec.VertexID, Payload: append([]byte(nil), rec.Payload...)}
	m.wal = append(m.wal, cp)
	return nil
}

func (m *MemorySink) Replay(fn func(WALRecord) error) error {
	m.mu.RLock()
	records := append([]WALRecord(nil), m.wal...)
	m.mu.RUnlock()
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemorySink) Truncate(upToVertexID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.wal {
		if rec.VertexID == upToVertexID {
			m.wal = append([]WALRecord(nil), m.wal[i+1:]...)
			return nil
		}
	}
	return nil
}
