package repo

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/a921198345/studypartner007-sub000/internal/config"
	"github.com/a921198345/studypartner007-sub000/internal/model"
)

const (
	chunkTable            = "vector_chunks"
	DefaultWriteBatchSize = 100
	DefaultRecentLimit    = 100000
)

// ChunkStore is the durable home of chunks. The embedded and the client/server
// implementations behave identically from the caller's side.
type ChunkStore interface {
	Name() string
	// InitSchema is idempotent and adapts to tables created by older versions.
	InitSchema(ctx context.Context) error
	// InsertChunks writes chunks in sub-batches, one transaction each. The first
	// failing sub-batch is rolled back and aborts the rest; the returned count is
	// what was committed before it. Failures are reported as *SubBatchError.
	InsertChunks(ctx context.Context, chunks []*model.Chunk) (int, error)
	// IterRecentVectors streams up to limit (chunk_ref, blob) rows, newest first.
	IterRecentVectors(ctx context.Context, limit int, fn func(row model.VectorRow) error) error
	// FetchByRefs returns chunks without vectors, in the order of refs.
	FetchByRefs(ctx context.Context, refs []string, filters model.Filters) ([]*model.Chunk, error)
	// SearchText returns chunks whose text contains any of keywords, those
	// containing the most keywords first and newest first among equals.
	SearchText(ctx context.Context, keywords []string, filters model.Filters, limit int) ([]*model.Chunk, error)
	Count(ctx context.Context) (int64, error)
	// EmbeddingCache shares the store's connection for the query embedding cache.
	EmbeddingCache() *EmbeddingCacheRepo
	Close() error
}

type StoreFactory func(ctx context.Context, cfg config.StorageConfig) (ChunkStore, error)

var (
	storeMu       sync.RWMutex
	storeRegistry = map[string]StoreFactory{}
)

func Register(name string, factory StoreFactory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	storeMu.Lock()
	storeRegistry[key] = factory
	storeMu.Unlock()
}

// New builds the store named by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (ChunkStore, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	storeMu.RLock()
	factory := storeRegistry[key]
	storeMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
	return factory(ctx, cfg)
}

// SubBatchError identifies the sub-batch that failed inside InsertChunks.
type SubBatchError struct {
	Index     int
	Committed int
	Err       error
}

func (e *SubBatchError) Error() string {
	return fmt.Sprintf("sub-batch %d failed after %d committed rows: %v", e.Index, e.Committed, e.Err)
}

func (e *SubBatchError) Unwrap() error {
	return e.Err
}
