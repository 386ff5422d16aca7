package sink

import (
	"errors"
	"testing"
)

func TestMemorySinkPayloadRoundTrip(t *testing.T) {
	s := NewMemorySink()
	if err := s.Put("a", []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := s.Get("a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != "hello" {
		t.Errorf("expected hello, got %s", v)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}

	if err := s.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("a"); !errors.Is(err, ErrRecordNotFound) {
		t.Error("expected a to be gone after delete")
	}
}

func TestMemorySinkWALReplayOrder(t *testing.T) {
	s := NewMemorySink()
	for _, id := range []string{"v1", "v2", "v3"} {
		if err := s.Append(WALRecord{VertexID: id, Payload: []byte(id)}); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	var seen []string
	err := s.Replay(func(rec WALRecord) error {
		seen = append(seen, rec.VertexID)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	want := []string{"v1", "v2", "v3"}
	for i, id := range want {
		if seen[i] != id {
			t.Errorf("expected replay order %v, got %v", want, seen)
			break
		}
	}
}

func TestMemorySinkTruncate(t *testing.T) {
	s := NewMemorySink()
	for _, id := range []string{"v1", "v2", "v3"} {
		_ = s.Append(WALRecord{VertexID: id})
	}
	if err := s.Truncate("v2"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	var seen []string
	_ = s.Replay(func(rec WALRecord) error {
		seen = append(seen, rec.VertexID)
		return nil
	})
	if len(seen) != 1 || seen[0] != "v3" {
		t.Errorf("expected only v3 to remain after truncating through v2, got %v", seen)
	}
}

func TestMemorySinkReplayStopsOnError(t *testing.T) {
	s := NewMemorySink()
	_ = s.Append(WALRecord{VertexID: "v1"})
	_ = s.Append(WALRecord{VertexID: "v2"})

	boom := errors.New("boom")
	var calls int
	err := s.Replay(func(rec WALRecord) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected replay to stop after the first error, got %d calls", calls)
	}
}
