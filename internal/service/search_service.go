package service

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/a921198345/studypartner007-sub000/internal/ai"
	"github.com/a921198345/studypartner007-sub000/internal/index"
	"github.com/a921198345/studypartner007-sub000/internal/keyword"
	"github.com/a921198345/studypartner007-sub000/internal/model"
	appErr "github.com/a921198345/studypartner007-sub000/internal/pkg/errors"
	"github.com/a921198345/studypartner007-sub000/internal/repo"
)

const (
	defaultTopK           = 5
	defaultOverFetch      = 3
	defaultMaxKeywords    = 10
	keywordCandidateFloor = 200
)

type SearchOptions struct {
	DefaultTopK int
	OverFetch   int
	MaxKeywords int
	RecentLimit int
	Index       index.Options
}

// SearchService answers queries from an in-memory similarity snapshot and
// falls back to keyword matching when vectors cannot help.
type SearchService struct {
	embedder  ai.IEmbedder
	store     repo.ChunkStore
	tokenizer *keyword.Tokenizer
	opts      SearchOptions

	snapshot atomic.Pointer[index.Snapshot]
	group    singleflight.Group
	// mu guards gen; a load publishes only if no Invalidate happened since it started.
	mu  sync.Mutex
	gen uint64
}

func NewSearchService(embedder ai.IEmbedder, store repo.ChunkStore, opts SearchOptions) *SearchService {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = defaultTopK
	}
	if opts.OverFetch <= 0 {
		opts.OverFetch = defaultOverFetch
	}
	if opts.MaxKeywords <= 0 {
		opts.MaxKeywords = defaultMaxKeywords
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = repo.DefaultRecentLimit
	}
	if opts.Index.Metric == "" {
		opts.Index.Metric = index.MetricCosine
	}
	return &SearchService{
		embedder:  embedder,
		store:     store,
		tokenizer: keyword.NewTokenizer(),
		opts:      opts,
	}
}

// Snapshot returns the currently published index, or nil.
func (s *SearchService) Snapshot() *index.Snapshot {
	return s.snapshot.Load()
}

// Refresh rebuilds the index from storage and publishes it. Readers keep
// using the previous snapshot until the swap.
func (s *SearchService) Refresh(ctx context.Context) (*index.Snapshot, error) {
	v, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		gen := s.generation()
		snap, err := index.Load(ctx, s.store, s.opts.RecentLimit, s.opts.Index)
		if err != nil {
			return nil, err
		}
		logger := logutil.GetLogger(ctx).With(zap.Int("rows", snap.Len()), zap.Time("built_at", snap.BuiltAt()))
		if !s.publish(gen, snap, false) {
			logger.Debug("index invalidated during refresh, next query rebuilds it")
			return snap, nil
		}
		logger.Debug("index refreshed")
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*index.Snapshot), nil
}

// Invalidate drops the published index; the next query rebuilds it.
func (s *SearchService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.snapshot.Store(nil)
}

func (s *SearchService) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// publish stores snap unless the index was invalidated after gen was read.
// With onlyIfEmpty an already published snapshot is kept.
func (s *SearchService) publish(gen uint64, snap *index.Snapshot, onlyIfEmpty bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	if onlyIfEmpty {
		return s.snapshot.CompareAndSwap(nil, snap)
	}
	s.snapshot.Store(snap)
	return true
}

func (s *SearchService) ensureIndex(ctx context.Context) (*index.Snapshot, error) {
	if snap := s.snapshot.Load(); snap != nil {
		return snap, nil
	}
	gen := s.generation()
	// Callers arriving after an Invalidate never join a load that started before it.
	v, err, _ := s.group.Do("load-"+strconv.FormatUint(gen, 10), func() (interface{}, error) {
		if snap := s.snapshot.Load(); snap != nil {
			return snap, nil
		}
		snap, err := index.Load(ctx, s.store, s.opts.RecentLimit, s.opts.Index)
		if err != nil {
			return nil, err
		}
		if !s.publish(gen, snap, true) {
			if cur := s.snapshot.Load(); cur != nil {
				return cur, nil
			}
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*index.Snapshot), nil
}

// Search ranks stored chunks against query. It returns an error only when ctx
// is done or storage cannot be read on the keyword path; every other failure
// degrades to the next strategy.
func (s *SearchService) Search(ctx context.Context, query string, topK int, filters model.Filters) ([]*model.RankedResult, error) {
	if topK <= 0 {
		topK = s.opts.DefaultTopK
	}
	query = strings.TrimSpace(query)
	results := make([]*model.RankedResult, 0)
	if query == "" {
		return results, nil
	}
	logger := logutil.GetLogger(ctx).With(zap.String("query", query), zap.Int("top_k", topK))

	var (
		snap      *index.Snapshot
		queryVec  *ai.Embedding
		vectorErr error
	)
	snap, vectorErr = s.ensureIndex(ctx)
	if vectorErr == nil && !index.IsEmpty(snap) {
		queryVec, vectorErr = s.embedder.Embed(ctx, query)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case vectorErr != nil:
		logger.Warn("vector search unavailable, using keyword search", zap.Error(vectorErr))
	case index.IsEmpty(snap):
		logger.Debug("similarity index is empty, using keyword search")
	case !queryVec.Degraded:
		hits, err := s.vectorSearch(ctx, snap, queryVec, topK, filters)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("vector search failed, using keyword search", zap.Error(err))
			break
		}
		if len(hits) > 0 {
			return hits, nil
		}
		logger.Debug("vector search matched nothing, using keyword search")
	}

	kwResults, kwErr := s.keywordSearch(ctx, query, topK, filters)
	if kwErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if kwErr == nil && len(kwResults) > 0 {
		return kwResults, nil
	}

	// Pseudo-vectors only rank when nothing better matched.
	if queryVec != nil && queryVec.Degraded && !index.IsEmpty(snap) {
		hits, err := s.vectorSearch(ctx, snap, queryVec, topK, filters)
		if err == nil && len(hits) > 0 {
			logger.Warn("returning results ranked by pseudo-vectors", zap.Int("count", len(hits)))
			return hits, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if kwErr != nil {
		logger.Error("keyword search failed", zap.Error(kwErr))
		return nil, kwErr
	}
	return results, nil
}

func (s *SearchService) vectorSearch(ctx context.Context, snap *index.Snapshot, emb *ai.Embedding, topK int, filters model.Filters) ([]*model.RankedResult, error) {
	if len(emb.Vector) != snap.Dimension() {
		return nil, appErr.ErrDimensionMismatch
	}
	hits, err := snap.Query(emb.Vector, topK*s.opts.OverFetch)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	refs := make([]string, 0, len(hits))
	byRef := make(map[string]index.Hit, len(hits))
	for _, hit := range hits {
		refs = append(refs, hit.Ref)
		byRef[hit.Ref] = hit
	}
	chunks, err := s.store.FetchByRefs(ctx, refs, filters)
	if err != nil {
		return nil, err
	}
	out := make([]*model.RankedResult, 0, topK)
	for _, c := range chunks {
		hit := byRef[c.ChunkRef]
		out = append(out, &model.RankedResult{
			Chunk:    c,
			Score:    hit.Score,
			Distance: hit.Distance,
			Method:   model.MatchVector,
			Degraded: emb.Degraded,
		})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// searchKeywords extracts the content words of query; a query with none
// (a single latin letter, only stop words) is matched as a whole.
func (s *SearchService) searchKeywords(query string) []string {
	kws := s.tokenizer.Keywords(query, s.opts.MaxKeywords)
	if len(kws) == 0 {
		kws = []string{strings.ToLower(query)}
	}
	return kws
}

func (s *SearchService) keywordSearch(ctx context.Context, query string, topK int, filters model.Filters) ([]*model.RankedResult, error) {
	kws := s.searchKeywords(query)
	limit := topK * s.opts.OverFetch
	if limit < keywordCandidateFloor {
		limit = keywordCandidateFloor
	}
	chunks, err := s.store.SearchText(ctx, kws, filters, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*model.RankedResult, 0, len(chunks))
	for _, c := range chunks {
		score := keyword.Score(c.Text, kws)
		if score <= 0 {
			continue
		}
		out = append(out, &model.RankedResult{
			Chunk:    c,
			Score:    score,
			Distance: 1 - score,
			Method:   model.MatchKeyword,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	logutil.GetLogger(ctx).Debug("keyword search done",
		zap.Strings("keywords", kws),
		zap.Int("candidates", len(chunks)),
		zap.Int("matched", len(out)),
	)
	return out, nil
}
