package sink

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	payloadBucket = []byte("payloads")
	walBucket     = []byte("wal")
)

// BboltSink is the embedded-KV-backed PayloadSink/WALSink: a single
// bbolt file holds both the payload bucket and the WAL bucket, the way
// the teacher's pkg/storage/boltdb.go keeps shard state in one bolt.DB
// handle. WAL records are keyed by an 8-byte big-endian sequence number
// so Replay can iterate them in append order with a plain bucket scan.
type BboltSink struct {
	db  *bolt.DB
	seq uint64
}

// OpenBboltSink opens (creating if absent) a bbolt file at path and
// ensures both buckets exist.
func OpenBboltSink(path string) (*BboltSink, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("sink: open bbolt at %s: %w", path, err)
	}

	var maxSeq uint64
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(payloadBucket); err != nil {
			return err
		}
		wb, err := tx.CreateBucketIfNotExists(walBucket)
		if err != nil {
			return err
		}
		if k, _ := wb.Cursor().Last(); k != nil {
			maxSeq = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BboltSink{db: db, seq: maxSeq}, nil
}

func (b *BboltSink) Put(key string, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(payloadBucket).Put([]byte(key), value)
	})
}

func (b *BboltSink) Get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(payloadBucket).Get([]byte(key))
		if v == nil {
			return ErrRecordNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BboltSink) Delete(key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(payloadBucket).Delete([]byte(key))
	})
}

// walValue is the on-disk encoding of a WALRecord: a 4-byte length
// prefix for the vertex id followed by the id bytes and the payload.
func encodeWALValue(rec WALRecord) []byte {
	idLen := len(rec.VertexID)
	buf := make([]byte, 4+idLen+len(rec.Payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(idLen))
	copy(buf[4:4+idLen], rec.VertexID)
	copy(buf[4+idLen:], rec.Payload)
	return buf
}

func decodeWALValue(buf []byte) WALRecord {
	idLen := binary.BigEndian.Uint32(buf[:4])
	id := string(buf[4 : 4+idLen])
	payload := append([]byte(nil), buf[4+idLen:]...)
	return WALRecord{VertexID: id, Payload: payload}
}

func (b *BboltSink) Append(rec WALRecord) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		b.seq++
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], b.seq)
		return tx.Bucket(walBucket).Put(key[:], encodeWALValue(rec))
	})
}

func (b *BboltSink) Replay(fn func(WALRecord) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(walBucket).ForEach(func(_, v []byte) error {
			return fn(decodeWALValue(v))
		})
	})
}

// Truncate deletes every WAL record up to and including the first one
// whose VertexID matches upToVertexID, scanning in append order.
func (b *BboltSink) Truncate(upToVertexID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		wb := tx.Bucket(walBucket)
		c := wb.Cursor()
		var toDelete [][]byte
		found := false
		for k, v := c.First(); k != nil; k, v = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
			if decodeWALValue(v).VertexID == upToVertexID {
				found = true
				break
			}
		}
		if !found {
			return nil
		}
		for _, k := range toDelete {
			if err := wb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BboltSink) Close() error {
	return b.db.Close()
}
