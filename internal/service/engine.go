package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/a921198345/studypartner007-sub000/internal/ai"
	"github.com/a921198345/studypartner007-sub000/internal/config"
	"github.com/a921198345/studypartner007-sub000/internal/embedcache"
	"github.com/a921198345/studypartner007-sub000/internal/index"
	"github.com/a921198345/studypartner007-sub000/internal/model"
	"github.com/a921198345/studypartner007-sub000/internal/repo"
)

// Engine is the programmatic surface: ingest, search and count over one store.
type Engine struct {
	store    repo.ChunkStore
	embedder ai.IEmbedder
	ingest   *IngestService
	search   *SearchService
}

// NewEngine opens the configured store, prepares its schema and wires the
// embedding stack in front of it.
func NewEngine(ctx context.Context, cfg *config.Config) (*Engine, error) {
	store, err := repo.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.InitSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	embedder, err := BuildEmbedder(ctx, cfg.Embedding, store.EmbeddingCache())
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	metric, err := index.ParseMetric(cfg.Index.Metric)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logutil.GetLogger(ctx).Info("engine ready",
		zap.String("storage", store.Name()),
		zap.String("model", embedder.ModelName()),
		zap.Bool("accelerated_index", cfg.Index.Accelerated),
		zap.String("metric", string(metric)),
	)
	return NewEngineWith(store, embedder, EngineOptions{
		EmbedBatchSize: cfg.Embedding.MaxBatchSize,
		WriteBatchSize: cfg.Storage.WriteBatchSize,
		Search: SearchOptions{
			DefaultTopK: cfg.Search.DefaultTopK,
			OverFetch:   cfg.Search.OverFetch,
			MaxKeywords: cfg.Search.MaxKeywords,
			RecentLimit: cfg.Index.RecentLimit,
			Index: index.Options{
				Accelerated: cfg.Index.Accelerated,
				Metric:      metric,
			},
		},
	}), nil
}

type EngineOptions struct {
	EmbedBatchSize int
	WriteBatchSize int
	Search         SearchOptions
}

// NewEngineWith assembles an engine from an already initialised store.
func NewEngineWith(store repo.ChunkStore, embedder ai.IEmbedder, opts EngineOptions) *Engine {
	return &Engine{
		store:    store,
		embedder: embedder,
		ingest:   NewIngestService(embedder, store, opts.EmbedBatchSize, opts.WriteBatchSize),
		search:   NewSearchService(embedder, store, opts.Search),
	}
}

// BuildEmbedder turns the provider list into a failover group behind the
// retrying embedder, then stacks the persistent and in-memory query caches.
// No providers means pseudo-vectors only.
func BuildEmbedder(ctx context.Context, cfg config.EmbeddingConfig, cache *repo.EmbeddingCacheRepo) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedProviderEntry, 0, len(cfg.Providers))
	for i, item := range cfg.Providers {
		provider, err := ai.NewEmbedProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init embedding provider %d (%s): %w", i, item.Provider, err)
		}
		entries = append(entries, ai.EmbedProviderEntry{Name: item.Provider, Model: item.Model, Provider: provider})
	}
	var (
		provider  ai.IEmbedProvider
		modelName string
	)
	switch len(entries) {
	case 0:
		logutil.GetLogger(ctx).Warn("no embedding provider configured, vectors will be pseudo-vectors")
	case 1:
		provider, modelName = entries[0].Provider, entries[0].Model
	default:
		provider, modelName = ai.NewGroupEmbedProvider(entries), entries[0].Model
	}
	var embedder ai.IEmbedder = ai.NewEmbedder(provider, ai.EmbedderConfig{
		Model:             modelName,
		Dimension:         cfg.Dimension,
		FallbackDimension: cfg.FallbackDimension,
		MaxBatchSize:      cfg.MaxBatchSize,
		Timeout:           time.Duration(cfg.Timeout) * time.Second,
		MaxAttempts:       cfg.MaxAttempts,
		Backoff:           time.Duration(cfg.BackoffMs) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Concurrency:       cfg.Concurrency,
	})
	if cfg.PersistCache && cache != nil && provider != nil {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cache)
	}
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second)
	return embedder, nil
}

// Ingest stores one document. A successful write invalidates the similarity
// index so the next search sees the new chunks.
func (e *Engine) Ingest(ctx context.Context, req *model.IngestRequest) (*model.IngestReport, error) {
	report, err := e.ingest.Ingest(ctx, req)
	if report != nil && report.Persisted > 0 {
		e.search.Invalidate()
	}
	return report, err
}

func (e *Engine) Search(ctx context.Context, query string, topK int, filters model.Filters) ([]*model.RankedResult, error) {
	return e.search.Search(ctx, query, topK, filters)
}

func (e *Engine) Count(ctx context.Context) (int64, error) {
	return e.store.Count(ctx)
}

// Refresh rebuilds the similarity index. Running queries keep the old snapshot.
func (e *Engine) Refresh(ctx context.Context) error {
	_, err := e.search.Refresh(ctx)
	return err
}

func (e *Engine) Searcher() *SearchService {
	return e.search
}

func (e *Engine) Store() repo.ChunkStore {
	return e.store
}

func (e *Engine) ModelName() string {
	return e.embedder.ModelName()
}

func (e *Engine) Close() error {
	return e.store.Close()
}
