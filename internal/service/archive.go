package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/a921198345/studypartner007-sub000/internal/filestore"
	"github.com/a921198345/studypartner007-sub000/internal/model"
)

// IngestArchive is what gets written per ingested document.
type IngestArchive struct {
	Request *model.IngestRequest `json:"request"`
	Report  *model.IngestReport  `json:"report"`
}

// Archiver keeps a copy of every ingested request next to its report, so a
// store can be rebuilt with a different embedding model.
type Archiver struct {
	store filestore.Store
}

func NewArchiver(store filestore.Store) *Archiver {
	return &Archiver{store: store}
}

func archiveKey(docID string) string {
	return docID + ".json"
}

// Archive is a no-op without a configured store.
func (a *Archiver) Archive(ctx context.Context, req *model.IngestRequest, report *model.IngestReport) error {
	if a == nil || a.store == nil || report == nil {
		return nil
	}
	stored := *req
	stored.DocumentID = report.DocumentID
	data, err := json.Marshal(&IngestArchive{Request: &stored, Report: report})
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}
	key := archiveKey(report.DocumentID)
	if err := a.store.Save(ctx, key, nopCloser{bytes.NewReader(data)}, int64(len(data))); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Debug("ingest archived",
		zap.String("doc_id", report.DocumentID),
		zap.String("store", a.store.Type()),
		zap.Int("bytes", len(data)),
	)
	return nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error {
	return nil
}
