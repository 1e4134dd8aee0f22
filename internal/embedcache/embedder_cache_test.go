package embedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/a921198345/studypartner007-sub000/internal/ai"
	"github.com/a921198345/studypartner007-sub000/internal/testutil"
)

type countingEmbedder struct {
	calls    int
	degraded bool
	err      error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) (*ai.Embedding, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &ai.Embedding{Vector: []float32{float32(len(text)), 1}, Degraded: c.degraded}, nil
}

func (c *countingEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string, batchSize int, progress ai.ProgressFunc) (*ai.BatchResult, error) {
	c.calls++
	return &ai.BatchResult{Vectors: make([][]float32, len(texts))}, nil
}

func (c *countingEmbedder) ModelName() string {
	return "counting"
}

func TestLruEmbedderCachesRealVectors(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)

	first, err := e.Embed(context.Background(), "合同")
	require.NoError(t, err)
	first.Vector[0] = 99 // callers may not corrupt the cache
	second, err := e.Embed(context.Background(), "合同")
	require.NoError(t, err)
	require.Equal(t, 1, next.calls)
	require.False(t, second.Degraded)
	require.Equal(t, []float32{6, 1}, second.Vector)

	vec, err := e.EmbedOne(context.Background(), "合同")
	require.NoError(t, err)
	require.Equal(t, []float32{6, 1}, vec)
	require.Equal(t, 1, next.calls)

	_, err = e.EmbedBatch(context.Background(), []string{"a"}, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestLruEmbedderSkipsDegradedAndErrors(t *testing.T) {
	next := &countingEmbedder{degraded: true}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)
	for i := 0; i < 2; i++ {
		res, err := e.Embed(context.Background(), "x")
		require.NoError(t, err)
		require.True(t, res.Degraded)
	}
	require.Equal(t, 2, next.calls)

	failing := &countingEmbedder{err: errors.New("down")}
	e = WrapLruCacheToEmbedder(failing, 10, time.Minute)
	_, err := e.EmbedOne(context.Background(), "x")
	require.Error(t, err)
	_, err = e.EmbedOne(context.Background(), "x")
	require.Error(t, err)
	require.Equal(t, 2, failing.calls)

	require.Same(t, failing, WrapLruCacheToEmbedder(failing, 0, time.Minute))
}

func TestDBEmbedderSurvivesRestart(t *testing.T) {
	cfg := testutil.SQLiteConfig(t, 100)
	store := testutil.OpenStore(t, cfg)

	next := &countingEmbedder{}
	e := WrapDBCacheToEmbedder(next, store.EmbeddingCache())
	res, err := e.Embed(context.Background(), "正当防卫")
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Equal(t, 1, next.calls)

	// a new process sharing the database skips the provider
	reopened := testutil.OpenStore(t, cfg)
	other := &countingEmbedder{}
	e = WrapDBCacheToEmbedder(other, reopened.EmbeddingCache())
	vec, err := e.EmbedOne(context.Background(), "正当防卫")
	require.NoError(t, err)
	require.Equal(t, res.Vector, vec)
	require.Zero(t, other.calls)

	// entries are stamped in unix seconds, the unit the cleanup job compares against
	n, err := reopened.EmbeddingCache().DeleteBefore(context.Background(), time.Now().Add(-time.Hour).Unix())
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = reopened.EmbeddingCache().DeleteBefore(context.Background(), time.Now().Add(time.Minute).Unix())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}
