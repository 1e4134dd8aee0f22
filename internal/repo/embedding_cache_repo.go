package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/a921198345/studypartner007-sub000/internal/codec"
	"github.com/a921198345/studypartner007-sub000/internal/model"
)

type EmbeddingCacheRepo struct {
	db *sql.DB
	d  *dialect
}

func newEmbeddingCacheRepo(db *sql.DB, d *dialect) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db, d: d}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	query, args := r.d.rebind(`
		SELECT embedding
		FROM embedding_cache
		WHERE model_name = ? AND task_type = ? AND content_hash = ?
	`, []interface{}{modelName, taskType, contentHash})
	var blob []byte
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	vec, err := codec.Decode(blob)
	if err != nil {
		return nil, false, fmt.Errorf("cached embedding %s: %w", contentHash, err)
	}
	return vec, true, nil
}

func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	blob, err := codec.Encode(item.Embedding)
	if err != nil {
		return err
	}
	query, args := r.d.rebind(r.d.upsertCache, []interface{}{
		item.ModelName,
		item.TaskType,
		item.ContentHash,
		blob,
		item.Ctime,
	})
	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	query, args := r.d.rebind(`DELETE FROM embedding_cache WHERE ctime < ?`, []interface{}{cutoff})
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
