package index

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/a921198345/studypartner007-sub000/internal/codec"
	"github.com/a921198345/studypartner007-sub000/internal/model"
	appErr "github.com/a921198345/studypartner007-sub000/internal/pkg/errors"
)

func refs(hits []Hit) []string {
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Ref)
	}
	return out
}

func implementations() map[string]func(Metric) Index {
	return map[string]func(Metric) Index{
		"bruteforce":  func(m Metric) Index { return New(false, m) },
		"accelerated": func(m Metric) Index { return New(true, m) },
	}
}

func TestIndexCosineOrdering(t *testing.T) {
	for name, newIndex := range implementations() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(MetricCosine)
			require.NoError(t, idx.Build(
				[]string{"a", "b", "c", "zero"},
				[][]float32{{1, 0, 0}, {0.7, 0.7, 0}, {0, 0, 1}, {0, 0, 0}},
			))
			require.Equal(t, 4, idx.Len())
			require.Equal(t, 3, idx.Dimension())

			hits, err := idx.Query([]float32{1, 0.1, 0}, 2)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, refs(hits))
			require.InDelta(t, 0.995, hits[0].Score, 0.001)
			require.InDelta(t, 1-hits[0].Score, hits[0].Distance, 1e-6)

			// zero-norm rows never show up, k larger than the index is fine
			hits, err = idx.Query([]float32{1, 0.1, 0}, 10)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b", "c"}, refs(hits))

			hits, err = idx.Query([]float32{0, 0, 0}, 3)
			require.NoError(t, err)
			require.Empty(t, hits)
		})
	}
}

func TestIndexL2Ordering(t *testing.T) {
	for name, newIndex := range implementations() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(MetricL2)
			require.NoError(t, idx.Build([]string{"far", "near", "mid"}, [][]float32{{10, 10}, {1, 1}, {3, 3}}))
			hits, err := idx.Query([]float32{0, 0}, 3)
			require.NoError(t, err)
			require.Equal(t, []string{"near", "mid", "far"}, refs(hits))
			require.Less(t, hits[0].Distance, hits[1].Distance)
			require.Greater(t, hits[0].Score, hits[1].Score)
		})
	}
}

func TestIndexEmptyAndMismatch(t *testing.T) {
	for name, newIndex := range implementations() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(MetricCosine)
			hits, err := idx.Query([]float32{1, 2}, 3)
			require.NoError(t, err)
			require.Empty(t, hits)

			require.NoError(t, idx.Build(nil, nil))
			hits, err = idx.Query([]float32{1, 2}, 3)
			require.NoError(t, err)
			require.Empty(t, hits)

			require.NoError(t, idx.Build([]string{"a"}, [][]float32{{1, 2}}))
			_, err = idx.Query([]float32{1, 2, 3}, 1)
			require.ErrorIs(t, err, appErr.ErrDimensionMismatch)

			require.Error(t, idx.Build([]string{"a", "b"}, [][]float32{{1, 2}}))
			require.Error(t, idx.Build([]string{"a", "b"}, [][]float32{{1, 2}, {1}}))
		})
	}
}

func TestAcceleratedMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n, dim = 300, 24
	ids := make([]string, n)
	vecs := make([][]float32, n)
	for i := range vecs {
		ids[i] = model.ChunkRef("doc", i)
		vecs[i] = make([]float32, dim)
		for j := range vecs[i] {
			vecs[i][j] = rng.Float32()*2 - 1
		}
	}
	for _, metric := range []Metric{MetricCosine, MetricL2} {
		brute, fast := New(false, metric), New(true, metric)
		require.NoError(t, brute.Build(ids, vecs))
		require.NoError(t, fast.Build(ids, vecs))
		for q := 0; q < 5; q++ {
			query := vecs[rng.Intn(n)]
			want, err := brute.Query(query, 10)
			require.NoError(t, err)
			got, err := fast.Query(query, 10)
			require.NoError(t, err)
			require.Equal(t, refs(want), refs(got), "metric %s", metric)
			if metric == MetricCosine {
				for i := range want {
					require.InDelta(t, want[i].Score, got[i].Score, 1e-4)
				}
			}
		}
	}
}

type memSource struct {
	rows []model.VectorRow
	err  error
}

func (m *memSource) IterRecentVectors(ctx context.Context, limit int, fn func(row model.VectorRow) error) error {
	if m.err != nil {
		return m.err
	}
	for i, row := range m.rows {
		if limit > 0 && i >= limit {
			break
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func blob(t *testing.T, v ...float32) []byte {
	t.Helper()
	b, err := codec.Encode(v)
	require.NoError(t, err)
	return b
}

func TestLoadSkipsCorruptAndForeignRows(t *testing.T) {
	src := &memSource{rows: []model.VectorRow{
		{ChunkRef: "new_0", Blob: blob(t, 1, 0, 0)},
		{ChunkRef: "bad_0", Blob: []byte{1, 2, 3}},
		{ChunkRef: "old_0", Blob: blob(t, 1, 0)},
		{ChunkRef: "new_1", Blob: blob(t, 0, 1, 0)},
	}}
	snap, err := Load(context.Background(), src, 100, Options{Metric: MetricCosine})
	require.NoError(t, err)
	stats := snap.Stats()
	require.Equal(t, 4, stats.Rows)
	require.Equal(t, 2, stats.Loaded)
	require.Equal(t, 1, stats.CorruptRows)
	require.Equal(t, 1, stats.DimMismatch)
	require.Equal(t, 3, snap.Dimension())

	hits, err := snap.Query([]float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"new_1"}, refs(hits))
	require.False(t, IsEmpty(snap))
}

func TestLoadHonoursLimitAndPinnedDimension(t *testing.T) {
	src := &memSource{rows: []model.VectorRow{
		{ChunkRef: "a", Blob: blob(t, 1, 0)},
		{ChunkRef: "b", Blob: blob(t, 1, 0, 0)},
		{ChunkRef: "c", Blob: blob(t, 0, 1, 0)},
	}}
	snap, err := Load(context.Background(), src, 2, Options{Accelerated: true, Dimension: 3})
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	require.True(t, snap.Stats().Accelerated)
	require.False(t, snap.BuiltAt().IsZero())

	snap, err = Load(context.Background(), &memSource{}, 10, Options{})
	require.NoError(t, err)
	require.True(t, IsEmpty(snap))
	hits, err := snap.Query([]float32{1}, 3)
	require.NoError(t, err)
	require.Empty(t, hits)

	boom := errors.New("boom")
	_, err = Load(context.Background(), &memSource{err: boom}, 10, Options{})
	require.ErrorIs(t, err, boom)

	_, err = Load(context.Background(), nil, 10, Options{})
	require.Error(t, err)
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("")
	require.NoError(t, err)
	require.Equal(t, MetricCosine, m)
	m, err = ParseMetric("L2")
	require.NoError(t, err)
	require.Equal(t, MetricL2, m)
	_, err = ParseMetric("dot")
	require.Error(t, err)
}

func TestBruteForceL2Distance(t *testing.T) {
	idx := New(false, MetricL2)
	require.NoError(t, idx.Build([]string{"a"}, [][]float32{{3, 4}}))
	hits, err := idx.Query([]float32{0, 0}, 1)
	require.NoError(t, err)
	require.InDelta(t, 5.0, hits[0].Distance, 1e-9)
	require.InDelta(t, 1.0/6, hits[0].Score, 1e-9)
}
