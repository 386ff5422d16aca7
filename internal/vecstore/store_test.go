package vecstore

import (
	"testing"

	"github.com/dreamware/vectorgraph/internal/vgerr"
	"github.com/stretchr/testify/require"
)

func TestInsertAndGet(t *testing.T) {
	s := New(3, 0)

	h, err := s.Insert("a", []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	require.Equal(t, Handle(0), h)

	v, _, ok := s.Get(h)
	require.True(t, ok)
	require.Equal(t, []float32{1, 0, 0}, v)
	require.Equal(t, 1, s.Count())
}

func TestInsertDimensionMismatch(t *testing.T) {
	s := New(3, 0)
	_, err := s.Insert("a", []float32{1, 0}, nil)
	require.Error(t, err)
	require.Equal(t, vgerr.DimensionMismatch, vgerr.KindOf(err))
}

func TestInsertDuplicateID(t *testing.T) {
	s := New(3, 0)
	_, err := s.Insert("a", []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	_, err = s.Insert("a", []float32{0, 1, 0}, nil)
	require.Equal(t, vgerr.DuplicateID, vgerr.KindOf(err))
}

func TestQuotaExceeded(t *testing.T) {
	s := New(3, 1)
	_, err := s.Insert("a", []float32{1, 0, 0}, nil)
	require.NoError(t, err)
	_, err = s.Insert("b", []float32{0, 1, 0}, nil)
	require.Equal(t, vgerr.QuotaExceeded, vgerr.KindOf(err))
}

func TestUpsertReplacesPriorHandle(t *testing.T) {
	s := New(3, 0)
	h1, err := s.Insert("a", []float32{1, 0, 0}, nil)
	require.NoError(t, err)

	h2, err := s.Upsert("a", []float32{0, 1, 0}, nil)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
	require.True(t, s.IsTombstoned(h1))

	_, _, ok := s.Get(h1)
	require.False(t, ok)
	v, _, ok := s.Get(h2)
	require.True(t, ok)
	require.Equal(t, []float32{0, 1, 0}, v)
	require.Equal(t, 1, s.Count())
}

func TestDeleteUnknownID(t *testing.T) {
	s := New(3, 0)
	require.False(t, s.Delete("nonexistent"))
}

func TestHandleDensityAfterCompaction(t *testing.T) {
	s := New(2, 0)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		_, err := s.Insert(id, []float32{1, 2}, nil)
		require.NoError(t, err)
	}
	require.True(t, s.Delete("b"))
	require.True(t, s.Delete("d"))

	fresh, remap := s.Compact()
	require.Equal(t, 2, fresh.Count())
	require.Equal(t, Handle(2), fresh.HighWater())
	require.Len(t, remap, 2)

	for _, h := range fresh.Scroll(Cursor{}, 10).Handle {
		require.Less(t, int(h), fresh.Count())
	}
}

func TestScrollSkipsTombstones(t *testing.T) {
	s := New(1, 0)
	_, _ = s.Insert("a", []float32{1}, nil)
	_, _ = s.Insert("b", []float32{2}, nil)
	_, _ = s.Insert("c", []float32{3}, nil)
	require.True(t, s.Delete("b"))

	res := s.Scroll(Cursor{}, 10)
	require.True(t, res.Done)
	require.ElementsMatch(t, []string{"a", "c"}, res.ExternalID)
}

func TestScalarQuantizerRoundTrip(t *testing.T) {
	vectors := [][]float32{{0, 1, 2}, {-1, 0.5, 4}}
	q := FitScalarQuantizer(vectors)

	enc := make([]int8, 3)
	dec := make([]float32, 3)
	q.Encode(vectors[1], enc)
	q.Decode(enc, dec)
	for i := range dec {
		require.InDelta(t, vectors[1][i], dec[i], 0.1)
	}
}
