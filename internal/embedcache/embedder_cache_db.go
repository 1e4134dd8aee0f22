package embedcache

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/a921198345/studypartner007-sub000/internal/ai"
	"github.com/a921198345/studypartner007-sub000/internal/model"
	"github.com/a921198345/studypartner007-sub000/internal/pkg/timeutil"
	"github.com/a921198345/studypartner007-sub000/internal/repo"
)

// WrapDBCacheToEmbedder persists query embeddings next to the chunks so that
// short-lived processes do not pay for the same query twice.
func WrapDBCacheToEmbedder(e ai.IEmbedder, cacheRepo *repo.EmbeddingCacheRepo) ai.IEmbedder {
	if e == nil || cacheRepo == nil {
		return e
	}
	return &dbEmbedder{next: e, repo: cacheRepo}
}

type dbEmbedder struct {
	next ai.IEmbedder
	repo *repo.EmbeddingCacheRepo
}

func (d *dbEmbedder) lookup(ctx context.Context, text string) ([]float32, string, string, bool) {
	_, contentHash, modelName := buildCacheKey(d.next.ModelName(), ai.TaskTypeQuery, text)
	values, ok, err := d.repo.Get(ctx, modelName, ai.TaskTypeQuery, contentHash)
	if err != nil {
		logutil.GetLogger(ctx).Warn("read embedding cache failed", zap.Error(err))
		return nil, contentHash, modelName, false
	}
	if ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)")
	}
	return values, contentHash, modelName, ok
}

func (d *dbEmbedder) store(ctx context.Context, modelName, contentHash string, vec []float32) {
	if err := d.repo.Save(ctx, &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    ai.TaskTypeQuery,
		ContentHash: contentHash,
		Embedding:   vec,
		Ctime:       timeutil.NowUnix(),
	}); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
}

func (d *dbEmbedder) Embed(ctx context.Context, text string) (*ai.Embedding, error) {
	values, contentHash, modelName, ok := d.lookup(ctx, text)
	if ok {
		return &ai.Embedding{Vector: values}, nil
	}
	res, err := d.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if !res.Degraded {
		d.store(ctx, modelName, contentHash, res.Vector)
	}
	return res, nil
}

func (d *dbEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	values, contentHash, modelName, ok := d.lookup(ctx, text)
	if ok {
		return values, nil
	}
	res, err := d.next.EmbedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	d.store(ctx, modelName, contentHash, res)
	return res, nil
}

func (d *dbEmbedder) EmbedBatch(ctx context.Context, texts []string, batchSize int, progress ai.ProgressFunc) (*ai.BatchResult, error) {
	return d.next.EmbedBatch(ctx, texts, batchSize, progress)
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}
