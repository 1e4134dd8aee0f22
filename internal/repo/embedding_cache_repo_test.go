package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/a921198345/studypartner007-sub000/internal/model"
	"github.com/a921198345/studypartner007-sub000/internal/repo"
)

func TestEmbeddingCacheRepo(t *testing.T) {
	forEachStore(t, 100, func(t *testing.T, store repo.ChunkStore) {
		ctx := context.Background()
		cache := store.EmbeddingCache()

		_, ok, err := cache.Get(ctx, "m", "q", "h1")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{ModelName: "m", TaskType: "q", ContentHash: "h1", Embedding: []float32{1, 2}, Ctime: 100}))
		require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{ModelName: "m", TaskType: "q", ContentHash: "h1", Embedding: []float32{3, 4}, Ctime: 200}))
		require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{ModelName: "m", TaskType: "q", ContentHash: "h2", Embedding: []float32{5}, Ctime: 50}))

		vec, ok, err := cache.Get(ctx, "m", "q", "h1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, []float32{3, 4}, vec)

		deleted, err := cache.DeleteBefore(ctx, 150)
		require.NoError(t, err)
		require.EqualValues(t, 1, deleted)
		_, ok, err = cache.Get(ctx, "m", "q", "h2")
		require.NoError(t, err)
		require.False(t, ok)
	})
}
