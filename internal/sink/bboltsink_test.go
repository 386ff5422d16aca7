package sink

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestSink(t *testing.T) *BboltSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sink.bolt")
	s, err := OpenBboltSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBboltSinkPayloadRoundTrip(t *testing.T) {
	s := openTestSink(t)
	if err := s.Put("sku-1", []byte(`{"category":"tools"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := s.Get("sku-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(v) != `{"category":"tools"}` {
		t.Errorf("unexpected value: %s", v)
	}
	if err := s.Delete("sku-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("sku-1"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound after delete, got %v", err)
	}
}

func TestBboltSinkWALAppendAndReplay(t *testing.T) {
	s := openTestSink(t)
	for i, id := range []string{"v1", "v2", "v3"} {
		rec := WALRecord{VertexID: id, Payload: []byte{byte(i)}}
		if err := s.Append(rec); err != nil {
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
			t.Fatalf("expected replay order %v, got %v", want, seen)
		}
	}
}

func TestBboltSinkTruncateDropsThroughID(t *testing.T) {
	s := openTestSink(t)
	for _, id := range []string{"v1", "v2", "v3"} {
		if err := s.Append(WALRecord{VertexID: id}); err != nil {
			t.Fatalf("append: %v", err)
		}
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
		t.Errorf("expected only v3 to remain, got %v", seen)
	}
}

func TestBboltSinkReopenPreservesSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.bolt")
	s, err := OpenBboltSink(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Append(WALRecord{VertexID: "v1"})
	_ = s.Append(WALRecord{VertexID: "v2"})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenBboltSink(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if err := reopened.Append(WALRecord{VertexID: "v3"}); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}

	var seen []string
	_ = reopened.Replay(func(rec WALRecord) error {
		seen = append(seen, rec.VertexID)
		return nil
	})
	want := []string{"v1", "v2", "v3"}
	for i, id := range want {
		if seen[i] != id {
			t.Fatalf("expected %v after reopen+append, got %v", want, seen)
		}
	}
}
