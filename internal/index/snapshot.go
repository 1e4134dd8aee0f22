package index

import (
	"context"
	"errors"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/a921198345/studypartner007-sub000/internal/codec"
	"github.com/a921198345/studypartner007-sub000/internal/model"
)

var errNoSource = errors.New("no vector source")

// VectorSource streams stored vectors, newest first.
type VectorSource interface {
	IterRecentVectors(ctx context.Context, limit int, fn func(row model.VectorRow) error) error
}

type Options struct {
	Accelerated bool
	Metric      Metric
	// Dimension pins the expected vector length. Zero adopts the newest row's.
	Dimension int
}

type LoadStats struct {
	Rows        int
	Loaded      int
	CorruptRows int
	DimMismatch int
	Dimension   int
	Elapsed     time.Duration
	Accelerated bool
}

// Snapshot is an immutable index built from one pass over storage. It holds
// copies of the vectors and never writes back.
type Snapshot struct {
	idx     Index
	stats   LoadStats
	builtAt time.Time
}

func (s *Snapshot) Query(query []float32, k int) ([]Hit, error) {
	return s.idx.Query(query, k)
}

func (s *Snapshot) Len() int {
	return s.idx.Len()
}

func (s *Snapshot) Dimension() int {
	return s.idx.Dimension()
}

func (s *Snapshot) Stats() LoadStats {
	return s.stats
}

func (s *Snapshot) BuiltAt() time.Time {
	return s.builtAt
}

// Build wraps already-decoded pairs into a snapshot.
func Build(ids []string, vectors [][]float32, opts Options) (*Snapshot, error) {
	idx := New(opts.Accelerated, opts.Metric)
	if err := idx.Build(ids, vectors); err != nil {
		return nil, err
	}
	return &Snapshot{
		idx:     idx,
		stats:   LoadStats{Rows: len(ids), Loaded: len(ids), Dimension: idx.Dimension(), Accelerated: opts.Accelerated},
		builtAt: time.Now(),
	}, nil
}

// Load reads up to limit recent vectors from source. Corrupt blobs and rows
// whose dimension differs from the adopted one are skipped and counted.
func Load(ctx context.Context, source VectorSource, limit int, opts Options) (*Snapshot, error) {
	if source == nil {
		return nil, errNoSource
	}
	start := time.Now()
	logger := logutil.GetLogger(ctx)
	stats := LoadStats{Dimension: opts.Dimension, Accelerated: opts.Accelerated}
	var (
		ids     []string
		vectors [][]float32
	)
	err := source.IterRecentVectors(ctx, limit, func(row model.VectorRow) error {
		stats.Rows++
		vec, err := codec.Decode(row.Blob)
		if err != nil {
			stats.CorruptRows++
			logger.Warn("skip corrupt vector", zap.String("chunk_ref", row.ChunkRef), zap.Error(err))
			return nil
		}
		if stats.Dimension == 0 {
			stats.Dimension = len(vec)
		}
		if len(vec) != stats.Dimension {
			stats.DimMismatch++
			logger.Debug("skip vector of foreign dimension", zap.String("chunk_ref", row.ChunkRef), zap.Int("dim", len(vec)))
			return nil
		}
		ids = append(ids, row.ChunkRef)
		vectors = append(vectors, vec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	idx := New(opts.Accelerated, opts.Metric)
	if err := idx.Build(ids, vectors); err != nil {
		return nil, err
	}
	stats.Loaded = len(ids)
	stats.Elapsed = time.Since(start)
	if stats.DimMismatch > 0 {
		logger.Warn("store holds vectors of mixed dimensions, foreign rows left out of the index",
			zap.Int("dimension", stats.Dimension),
			zap.Int("skipped", stats.DimMismatch),
		)
	}
	logger.Info("similarity index loaded",
		zap.Int("rows", stats.Rows),
		zap.Int("loaded", stats.Loaded),
		zap.Int("corrupt", stats.CorruptRows),
		zap.Int("dimension", stats.Dimension),
		zap.Bool("accelerated", stats.Accelerated),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return &Snapshot{idx: idx, stats: stats, builtAt: time.Now()}, nil
}

// IsEmpty reports whether a snapshot can answer vector queries.
func IsEmpty(s *Snapshot) bool {
	return s == nil || s.Len() == 0
}
