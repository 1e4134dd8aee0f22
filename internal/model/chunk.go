package model

import (
	"fmt"
	"time"
)

// ChunkMeta is the per-chunk legal structure produced by the segmenter.
type ChunkMeta struct {
	Book       string `json:"book,omitempty"`
	Chapter    string `json:"chapter,omitempty"`
	Section    string `json:"section,omitempty"`
	Article    string `json:"article,omitempty"`
	TokenCount int    `json:"token_count"`
}

type Chunk struct {
	ID                 int64     `json:"id"`
	DocumentID         string    `json:"doc_id"`
	ChunkIndex         int       `json:"chunk_index"`
	Text               string    `json:"original_text"`
	Vector             []float32 `json:"-"`
	SourceDocumentName string    `json:"source_document_name"`
	ChunkRef           string    `json:"chunk_id_in_document"`
	LawName            string    `json:"law_name,omitempty"`
	Book               string    `json:"book,omitempty"`
	Chapter            string    `json:"chapter,omitempty"`
	Section            string    `json:"section,omitempty"`
	Article            string    `json:"article,omitempty"`
	TokenCount         int       `json:"token_count"`
	SubjectArea        string    `json:"subject_area,omitempty"`
	CreatedAt          int64     `json:"created_at"`
}

// ChunkRef builds the stable join key between the similarity index and the chunk table.
func ChunkRef(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}

// VectorRow is a (chunk_ref, encoded vector) pair streamed out of storage.
type VectorRow struct {
	ChunkRef string
	Blob     []byte
}

type MatchMethod string

const (
	MatchVector  MatchMethod = "vector"
	MatchKeyword MatchMethod = "keyword"
)

type RankedResult struct {
	Chunk    *Chunk      `json:"chunk"`
	Score    float64     `json:"score"`
	Distance float64     `json:"distance"`
	Method   MatchMethod `json:"method"`
	Degraded bool        `json:"degraded"`
}

type IngestRequest struct {
	DocumentID         string      `json:"document_id"`
	Texts              []string    `json:"texts"`
	Metadata           []ChunkMeta `json:"metadata"`
	SourceDocumentName string      `json:"source_document_name"`
	SubjectArea        string      `json:"subject_area"`
}

type IngestReport struct {
	DocumentID      string        `json:"document_id"`
	Total           int           `json:"total"`
	Embedded        int           `json:"embedded"`
	Persisted       int           `json:"persisted"`
	Skipped         int           `json:"skipped"`
	Degraded        bool          `json:"is_degraded"`
	DegradedBatches int           `json:"degraded_batches"`
	FailedSubBatch  int           `json:"failed_sub_batch"`
	Success         bool          `json:"success"`
	EmbedElapsed    time.Duration `json:"embed_elapsed"`
	Elapsed         time.Duration `json:"elapsed"`
}
