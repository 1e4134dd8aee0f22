package repo

import (
	"context"

	"github.com/a921198345/studypartner007-sub000/internal/config"
	"github.com/a921198345/studypartner007-sub000/internal/db"
)

func init() {
	Register("sqlite", createSQLiteStore)
}

func createSQLiteStore(ctx context.Context, cfg config.StorageConfig) (ChunkStore, error) {
	conn, err := db.OpenSQLite(ctx, cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	return newSQLChunkStore(conn, sqliteDialect, cfg.WriteBatchSize), nil
}
