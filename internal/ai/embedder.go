package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	appErr "github.com/a921198345/studypartner007-sub000/internal/pkg/errors"
)

const maxRetryAfter = time.Minute

// Embedding is a single vector plus whether it came from the pseudo-vector fallback.
type Embedding struct {
	Vector   []float32
	Degraded bool
}

type BatchProgress struct {
	Batch    int
	Done     int
	Total    int
	Size     int
	Degraded bool
	Elapsed  time.Duration
}

type ProgressFunc func(p BatchProgress)

type BatchResult struct {
	Vectors         [][]float32
	Degraded        bool
	DegradedBatches int
	Elapsed         time.Duration
}

type IEmbedder interface {
	// Embed never fails for provider reasons: it falls back to a pseudo-vector and says so.
	Embed(ctx context.Context, text string) (*Embedding, error)
	// EmbedOne calls the remote provider and returns ErrEmbeddingUnavailable once retries are exhausted.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, batchSize int, progress ProgressFunc) (*BatchResult, error)
	ModelName() string
}

type EmbedderConfig struct {
	Model             string
	Dimension         int
	FallbackDimension int
	MaxBatchSize      int
	Timeout           time.Duration
	MaxAttempts       int
	Backoff           time.Duration
	MaxBackoff        time.Duration
	RequestsPerSecond float64
	Burst             int
	Concurrency       int
}

type Embedder struct {
	provider IEmbedProvider
	cfg      EmbedderConfig
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewEmbedder wraps provider with retries, rate limiting and the pseudo-vector
// fallback. A nil provider puts the embedder permanently in fallback mode.
func NewEmbedder(provider IEmbedProvider, cfg EmbedderConfig) *Embedder {
	if cfg.FallbackDimension <= 0 {
		cfg.FallbackDimension = cfg.Dimension
	}
	if cfg.FallbackDimension <= 0 {
		cfg.FallbackDimension = 768
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = 16 * cfg.Backoff
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Embedder{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		sleep:    sleepContext,
	}
}

func (e *Embedder) ModelName() string {
	if e.provider == nil {
		return "hash"
	}
	if e.cfg.Model != "" {
		return e.cfg.Model
	}
	return e.provider.Name()
}

// Fallback reports whether no remote provider is configured.
func (e *Embedder) Fallback() bool {
	return e.provider == nil
}

func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if e.provider == nil {
		return HashVector(text, e.cfg.FallbackDimension), nil
	}
	vecs, err := e.callWithRetry(ctx, []string{text}, TaskTypeQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Embedder) Embed(ctx context.Context, text string) (*Embedding, error) {
	if e.provider == nil {
		return &Embedding{Vector: HashVector(text, e.cfg.FallbackDimension), Degraded: true}, nil
	}
	vec, err := e.EmbedOne(ctx, text)
	if err == nil {
		return &Embedding{Vector: vec}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	logutil.GetLogger(ctx).Warn("embedding unavailable, using pseudo-vector", zap.Error(err))
	return &Embedding{Vector: HashVector(text, e.cfg.FallbackDimension), Degraded: true}, nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, batchSize int, progress ProgressFunc) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{Vectors: make([][]float32, len(texts))}
	if len(texts) == 0 {
		return res, nil
	}
	size := e.batchSize(batchSize)
	total := (len(texts) + size - 1) / size
	logger := logutil.GetLogger(ctx).With(zap.Int("texts", len(texts)), zap.Int("batches", total), zap.Int("batch_size", size))

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for b := 0; b < total; b++ {
		if ctx.Err() != nil {
			break
		}
		batch := b
		lo := batch * size
		hi := lo + size
		if hi > len(texts) {
			hi = len(texts)
		}
		g.Go(func() error {
			vecs, degraded, err := e.embedRange(gctx, texts[lo:hi])
			if err != nil {
				return err
			}
			copy(res.Vectors[lo:hi], vecs)

			mu.Lock()
			defer mu.Unlock()
			done++
			if degraded {
				res.DegradedBatches++
				logger.Warn("embedding batch degraded to pseudo-vectors", zap.Int("batch", batch))
			}
			p := BatchProgress{
				Batch:    batch,
				Done:     done,
				Total:    total,
				Size:     hi - lo,
				Degraded: degraded,
				Elapsed:  time.Since(start),
			}
			logger.Debug("embedding batch done", zap.Int("batch", batch), zap.Int("done", done), zap.Duration("elapsed", p.Elapsed))
			if progress != nil {
				progress(p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Degraded = res.DegradedBatches > 0
	res.Elapsed = time.Since(start)
	logger.Info("embedding finished",
		zap.Bool("degraded", res.Degraded),
		zap.Int("degraded_batches", res.DegradedBatches),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (e *Embedder) embedRange(ctx context.Context, texts []string) ([][]float32, bool, error) {
	if e.provider == nil {
		return e.fallbackBatch(texts), true, nil
	}
	vecs, err := e.callWithRetry(ctx, texts, TaskTypeDocument)
	if err == nil {
		return vecs, false, nil
	}
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	logutil.GetLogger(ctx).Warn("embedding batch failed", zap.Int("size", len(texts)), zap.Error(err))
	return e.fallbackBatch(texts), true, nil
}

func (e *Embedder) fallbackBatch(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = HashVector(text, e.cfg.FallbackDimension)
	}
	return out
}

func (e *Embedder) batchSize(requested int) int {
	size := e.cfg.MaxBatchSize
	if requested > 0 && requested < size {
		size = requested
	}
	if e.provider != nil {
		if limit := e.provider.MaxBatchSize(); limit > 0 && limit < size {
			size = limit
		}
	}
	return size
}

func (e *Embedder) callWithRetry(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	logger := logutil.GetLogger(ctx)
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: rate limiter: %v", appErr.ErrEmbeddingUnavailable, err)
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		vecs, err := e.provider.Embed(callCtx, e.cfg.Model, texts, taskType)
		cancel()
		if err == nil {
			if err := e.checkVectors(vecs, len(texts)); err != nil {
				return nil, fmt.Errorf("%w: %w", appErr.ErrEmbeddingUnavailable, err)
			}
			return vecs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
		logger.Warn("embedding attempt failed",
			zap.String("provider", e.provider.Name()),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.cfg.MaxAttempts),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("%w: %w", appErr.ErrEmbeddingUnavailable, lastErr)
}

func (e *Embedder) checkVectors(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), want)
	}
	if e.cfg.Dimension <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != e.cfg.Dimension {
			return fmt.Errorf("%w: input %d has %d dims, configured %d", appErr.ErrDimensionMismatch, i, len(v), e.cfg.Dimension)
		}
	}
	return nil
}

func (e *Embedder) backoff(attempt int, lastErr error) time.Duration {
	d := e.cfg.Backoff << uint(attempt-1)
	if d <= 0 || d > e.cfg.MaxBackoff {
		d = e.cfg.MaxBackoff
	}
	var se *StatusError
	if errors.As(lastErr, &se) && se.RetryAfter > d {
		d = se.RetryAfter
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
	}
	return d
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
