package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/a921198345/studypartner007-sub000/internal/ai"
	"github.com/a921198345/studypartner007-sub000/internal/model"
	appErr "github.com/a921198345/studypartner007-sub000/internal/pkg/errors"
	"github.com/a921198345/studypartner007-sub000/internal/pkg/timeutil"
	"github.com/a921198345/studypartner007-sub000/internal/repo"
)

// Inputs above this size get a progress line per persisted sub-batch.
const progressLogThreshold = 50

type IngestService struct {
	embedder       ai.IEmbedder
	store          repo.ChunkStore
	embedBatchSize int
	writeBatchSize int
}

func NewIngestService(embedder ai.IEmbedder, store repo.ChunkStore, embedBatchSize, writeBatchSize int) *IngestService {
	if writeBatchSize <= 0 {
		writeBatchSize = repo.DefaultWriteBatchSize
	}
	return &IngestService{
		embedder:       embedder,
		store:          store,
		embedBatchSize: embedBatchSize,
		writeBatchSize: writeBatchSize,
	}
}

// Ingest validates, embeds and persists one document's chunks. Only a length
// mismatch and cancellation are returned as errors; a failed sub-batch is
// reported through IngestReport.Success and FailedSubBatch.
func (s *IngestService) Ingest(ctx context.Context, req *model.IngestRequest) (*model.IngestReport, error) {
	start := time.Now()
	if req == nil {
		return nil, fmt.Errorf("nil ingest request: %w", appErr.ErrInvalid)
	}
	if len(req.Texts) != len(req.Metadata) {
		return nil, fmt.Errorf("%w: %d texts, %d metadata entries", appErr.ErrMismatchedInput, len(req.Texts), len(req.Metadata))
	}
	docID := strings.TrimSpace(req.DocumentID)
	if docID == "" {
		docID = uuid.NewString()
	}
	logger := logutil.GetLogger(ctx).With(zap.String("doc_id", docID))
	report := &model.IngestReport{
		DocumentID:     docID,
		Total:          len(req.Texts),
		FailedSubBatch: -1,
	}
	defer func() {
		report.Elapsed = time.Since(start)
	}()

	positions := make([]int, 0, len(req.Texts))
	texts := make([]string, 0, len(req.Texts))
	for i, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			report.Skipped++
			logger.Debug("skip empty chunk", zap.Int("chunk_index", i))
			continue
		}
		positions = append(positions, i)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		report.Success = true
		logger.Info("nothing to ingest", zap.Int("skipped", report.Skipped))
		return report, nil
	}

	batch, err := s.embedder.EmbedBatch(ctx, texts, s.embedBatchSize, func(p ai.BatchProgress) {
		logger.Info("embedding batch done",
			zap.Int("batch", p.Batch),
			zap.Int("done", p.Done),
			zap.Int("total", p.Total),
			zap.Bool("degraded", p.Degraded),
			zap.Duration("elapsed", p.Elapsed),
		)
	})
	if err != nil {
		return report, err
	}
	report.Embedded = len(batch.Vectors)
	report.Degraded = batch.Degraded
	report.DegradedBatches = batch.DegradedBatches
	report.EmbedElapsed = batch.Elapsed
	if batch.Degraded {
		logger.Warn("ingesting pseudo-vectors for part of the document", zap.Int("degraded_batches", batch.DegradedBatches))
	}

	chunks := s.buildChunks(docID, req, positions, batch.Vectors)
	persisted, failed, err := s.persist(ctx, logger, chunks)
	report.Persisted = persisted
	if err != nil {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.FailedSubBatch = failed
		logger.Warn("ingest completed with errors",
			zap.Int("sub_batch", failed),
			zap.Int("persisted", persisted),
			zap.Int("total", len(chunks)),
			zap.Error(err),
		)
		return report, nil
	}
	report.Success = true
	logger.Info("ingest finished",
		zap.Int("persisted", report.Persisted),
		zap.Int("skipped", report.Skipped),
		zap.Bool("degraded", report.Degraded),
		zap.Duration("embed_elapsed", report.EmbedElapsed),
	)
	return report, nil
}

func (s *IngestService) buildChunks(docID string, req *model.IngestRequest, positions []int, vectors [][]float32) []*model.Chunk {
	now := timeutil.NowUnixMilli()
	chunks := make([]*model.Chunk, 0, len(positions))
	for i, pos := range positions {
		meta := req.Metadata[pos]
		text := req.Texts[pos]
		tokens := meta.TokenCount
		if tokens <= 0 {
			tokens = len([]rune(text))
		}
		chunks = append(chunks, &model.Chunk{
			DocumentID:         docID,
			ChunkIndex:         pos,
			ChunkRef:           model.ChunkRef(docID, pos),
			Text:               text,
			Vector:             vectors[i],
			SourceDocumentName: req.SourceDocumentName,
			LawName:            req.SubjectArea,
			SubjectArea:        req.SubjectArea,
			Book:               meta.Book,
			Chapter:            meta.Chapter,
			Section:            meta.Section,
			Article:            meta.Article,
			TokenCount:         tokens,
			CreatedAt:          now,
		})
	}
	return chunks
}

// persist writes contiguous sub-batches in order and stops at the first
// failure. It returns the committed row count and the failing sub-batch index.
func (s *IngestService) persist(ctx context.Context, logger *zap.Logger, chunks []*model.Chunk) (int, int, error) {
	total := len(chunks)
	persisted := 0
	for idx, start := 0, 0; start < total; idx, start = idx+1, start+s.writeBatchSize {
		if err := ctx.Err(); err != nil {
			return persisted, idx, err
		}
		end := start + s.writeBatchSize
		if end > total {
			end = total
		}
		n, err := s.store.InsertChunks(ctx, chunks[start:end])
		persisted += n
		if err != nil {
			return persisted, idx, err
		}
		if total > progressLogThreshold {
			logger.Info("persisted sub-batch",
				zap.Int("sub_batch", idx),
				zap.Int("done", persisted),
				zap.Int("total", total),
			)
		}
	}
	return persisted, -1, nil
}
