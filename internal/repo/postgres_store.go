package repo

import (
	"context"

	"github.com/a921198345/studypartner007-sub000/internal/config"
	"github.com/a921198345/studypartner007-sub000/internal/db"
)

func init() {
	Register("postgres", createPostgresStore)
}

func createPostgresStore(ctx context.Context, cfg config.StorageConfig) (ChunkStore, error) {
	conn, err := db.OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	return newSQLChunkStore(conn, postgresDialect, cfg.WriteBatchSize), nil
}
