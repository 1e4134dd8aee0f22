package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/a921198345/studypartner007-sub000/internal/ai"
)

// WrapLruCacheToEmbedder caches single-text embeddings in memory. Degraded
// vectors are never cached so a recovered provider is picked up on the next call.
func WrapLruCacheToEmbedder(e ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ai.IEmbedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Embed(ctx context.Context, text string) (*ai.Embedding, error) {
	cacheKey, _, _ := buildCacheKey(l.next.ModelName(), ai.TaskTypeQuery, text)
	if cached, ok := l.cache.Get(cacheKey); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.String("model", l.next.ModelName()))
		return &ai.Embedding{Vector: cloneEmbedding(cached)}, nil
	}
	res, err := l.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if !res.Degraded {
		l.cache.Add(cacheKey, cloneEmbedding(res.Vector))
	}
	return res, nil
}

func (l *lruEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	cacheKey, _, _ := buildCacheKey(l.next.ModelName(), ai.TaskTypeQuery, text)
	if cached, ok := l.cache.Get(cacheKey); ok {
		return cloneEmbedding(cached), nil
	}
	res, err := l.next.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	l.cache.Add(cacheKey, cloneEmbedding(res))
	return res, nil
}

func (l *lruEmbedder) EmbedBatch(ctx context.Context, texts []string, batchSize int, progress ai.ProgressFunc) (*ai.BatchResult, error) {
	return l.next.EmbedBatch(ctx, texts, batchSize, progress)
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func (l *lruEmbedder) Len() int {
	return l.cache.Len()
}

func buildCacheKey(modelName, taskType, text string) (string, string, string) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])
	return "embed:" + modelName + ":" + taskType + ":" + contentHash, contentHash, modelName
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
