package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/didi/gendry/builder"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/a921198345/studypartner007-sub000/internal/codec"
	"github.com/a921198345/studypartner007-sub000/internal/model"
	"github.com/a921198345/studypartner007-sub000/internal/pkg/dbutil"
	appErr "github.com/a921198345/studypartner007-sub000/internal/pkg/errors"
	"github.com/a921198345/studypartner007-sub000/internal/pkg/timeutil"
)

type optionalColumn struct {
	name         string
	typ          string
	defaultValue string
}

var requiredColumns = []string{"id", "doc_id", "chunk_index", "original_text", "vector_embedding", "chunk_id_in_document"}

// optionalColumns may be missing on tables created by older versions.
var optionalColumns = []optionalColumn{
	{name: "source_document_name", typ: "TEXT", defaultValue: "''"},
	{name: "law_name", typ: "TEXT", defaultValue: "''"},
	{name: "book", typ: "TEXT", defaultValue: "''"},
	{name: "chapter", typ: "TEXT", defaultValue: "''"},
	{name: "section", typ: "TEXT", defaultValue: "''"},
	{name: "article", typ: "TEXT", defaultValue: "''"},
	{name: "token_count", typ: "INTEGER", defaultValue: "0"},
	{name: "subject_area", typ: "TEXT", defaultValue: "''"},
	{name: "created_at", typ: "BIGINT", defaultValue: "0"},
}

type tableIndex struct {
	name    string
	unique  bool
	columns []string
}

var chunkIndexes = []tableIndex{
	{name: "uk_vector_chunks_doc_chunk", unique: true, columns: []string{"doc_id", "chunk_index"}},
	{name: "uk_vector_chunks_ref", unique: true, columns: []string{"chunk_id_in_document"}},
	{name: "idx_vector_chunks_source", columns: []string{"source_document_name"}},
	{name: "idx_vector_chunks_law_name", columns: []string{"law_name"}},
	{name: "idx_vector_chunks_article", columns: []string{"article"}},
}

type sqlChunkStore struct {
	db        *sql.DB
	d         *dialect
	batchSize int
	cache     *EmbeddingCacheRepo

	mu   sync.RWMutex
	cols map[string]bool
}

func newSQLChunkStore(db *sql.DB, d *dialect, batchSize int) *sqlChunkStore {
	if batchSize <= 0 {
		batchSize = DefaultWriteBatchSize
	}
	return &sqlChunkStore{
		db:        db,
		d:         d,
		batchSize: batchSize,
		cache:     newEmbeddingCacheRepo(db, d),
	}
}

func (s *sqlChunkStore) Name() string {
	return s.d.name
}

func (s *sqlChunkStore) EmbeddingCache() *EmbeddingCacheRepo {
	return s.cache
}

func (s *sqlChunkStore) Close() error {
	return s.db.Close()
}

func (s *sqlChunkStore) InitSchema(ctx context.Context) error {
	logger := logutil.GetLogger(ctx).With(zap.String("store", s.d.name), zap.String("table", chunkTable))
	if _, err := s.db.ExecContext(ctx, s.d.createChunkTable()); err != nil {
		return fmt.Errorf("create table %s: %w", chunkTable, err)
	}
	cols, err := s.d.columns(ctx, s.db, chunkTable)
	if err != nil {
		return err
	}
	for _, name := range requiredColumns {
		if !cols[name] {
			return fmt.Errorf("%w: table %s has no column %s", appErr.ErrSchemaDrift, chunkTable, name)
		}
	}
	for _, col := range optionalColumns {
		if cols[col.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, s.d.columnDDL(col)); err != nil && !dbutil.IsDuplicateColumn(err) {
			logger.Warn("optional column unavailable, statements will skip it",
				zap.String("column", col.name),
				zap.Error(fmt.Errorf("%w: %v", appErr.ErrSchemaDrift, err)),
			)
			continue
		}
		cols[col.name] = true
		logger.Info("added missing column", zap.String("column", col.name))
	}
	for _, idx := range chunkIndexes {
		if !hasColumns(cols, idx.columns) {
			logger.Warn("skip index on missing column", zap.String("index", idx.name))
			continue
		}
		if _, err := s.db.ExecContext(ctx, createIndexSQL(idx)); err != nil {
			// legacy tables may already hold duplicates; keep serving them
			logger.Warn("create index failed", zap.String("index", idx.name), zap.Error(err))
		}
	}
	if _, err := s.db.ExecContext(ctx, s.d.createCacheTable()); err != nil {
		return fmt.Errorf("create table embedding_cache: %w", err)
	}
	s.mu.Lock()
	s.cols = cols
	s.mu.Unlock()
	return nil
}

func createIndexSQL(idx tableIndex) string {
	kind := "INDEX"
	if idx.unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kind, idx.name, chunkTable, strings.Join(idx.columns, ", "))
}

func hasColumns(cols map[string]bool, names []string) bool {
	for _, name := range names {
		if !cols[name] {
			return false
		}
	}
	return true
}

// columnSet returns the probed column set, probing lazily when InitSchema was
// run by another process.
func (s *sqlChunkStore) columnSet(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	cols := s.cols
	s.mu.RUnlock()
	if cols != nil {
		return cols, nil
	}
	cols, err := s.d.columns(ctx, s.db, chunkTable)
	if err != nil {
		return nil, err
	}
	for _, name := range requiredColumns {
		if !cols[name] {
			return nil, fmt.Errorf("%w: table %s has no column %s, run init first", appErr.ErrSchemaDrift, chunkTable, name)
		}
	}
	s.mu.Lock()
	s.cols = cols
	s.mu.Unlock()
	return cols, nil
}

func (s *sqlChunkStore) InsertChunks(ctx context.Context, chunks []*model.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	cols, err := s.columnSet(ctx)
	if err != nil {
		return 0, &SubBatchError{Index: 0, Err: fmt.Errorf("%w: %w", appErr.ErrStorageWrite, err)}
	}
	logger := logutil.GetLogger(ctx).With(zap.String("store", s.d.name))
	committed := 0
	for i, lo := 0, 0; lo < len(chunks); i, lo = i+1, lo+s.batchSize {
		if err := ctx.Err(); err != nil {
			return committed, err
		}
		hi := lo + s.batchSize
		if hi > len(chunks) {
			hi = len(chunks)
		}
		if err := s.insertSubBatch(ctx, cols, chunks[lo:hi]); err != nil {
			logger.Warn("sub-batch write failed, remaining sub-batches aborted",
				zap.Int("sub_batch", i),
				zap.Int("committed", committed),
				zap.Error(err),
			)
			return committed, &SubBatchError{Index: i, Committed: committed, Err: err}
		}
		committed += hi - lo
		logger.Debug("sub-batch committed", zap.Int("sub_batch", i), zap.Int("rows", hi-lo))
	}
	return committed, nil
}

func (s *sqlChunkStore) insertSubBatch(ctx context.Context, cols map[string]bool, batch []*model.Chunk) error {
	now := timeutil.NowUnixMilli()
	data := make([]map[string]interface{}, 0, len(batch))
	for _, c := range batch {
		blob, err := codec.Encode(c.Vector)
		if err != nil {
			return fmt.Errorf("%w: encode %s: %w", appErr.ErrStorageWrite, c.ChunkRef, err)
		}
		if c.ChunkRef == "" {
			c.ChunkRef = model.ChunkRef(c.DocumentID, c.ChunkIndex)
		}
		if c.CreatedAt == 0 {
			c.CreatedAt = now
		}
		row := map[string]interface{}{
			"doc_id":               c.DocumentID,
			"chunk_index":          c.ChunkIndex,
			"original_text":        c.Text,
			"vector_embedding":     blob,
			"chunk_id_in_document": c.ChunkRef,
		}
		for _, col := range optionalColumns {
			if cols[col.name] {
				row[col.name] = columnValue(c, col.name)
			}
		}
		data = append(data, row)
	}
	sqlStr, args, err := builder.BuildInsert(chunkTable, data)
	if err != nil {
		return fmt.Errorf("%w: build insert: %v", appErr.ErrStorageWrite, err)
	}
	sqlStr, args = s.d.rebind(sqlStr, args)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", appErr.ErrStorageWrite, err)
	}
	if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
		_ = tx.Rollback()
		if dbutil.IsConflict(err) {
			return fmt.Errorf("%w: %w: %v", appErr.ErrStorageWrite, appErr.ErrDuplicateChunk, err)
		}
		return fmt.Errorf("%w: %v", appErr.ErrStorageWrite, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", appErr.ErrStorageWrite, err)
	}
	return nil
}

func columnValue(c *model.Chunk, name string) interface{} {
	switch name {
	case "token_count":
		return c.TokenCount
	case "created_at":
		return c.CreatedAt
	}
	return c.Field(name)
}

func (s *sqlChunkStore) IterRecentVectors(ctx context.Context, limit int, fn func(row model.VectorRow) error) error {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	where := map[string]interface{}{
		"_custom_blob": builder.Custom("vector_embedding IS NOT NULL"),
		"_orderby":     "id desc",
		"_limit":       []uint{0, uint(limit)},
	}
	sqlStr, args, err := builder.BuildSelect(chunkTable, where, []string{"chunk_id_in_document", "vector_embedding"})
	if err != nil {
		return err
	}
	sqlStr, args = s.d.rebind(sqlStr, args)
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var row model.VectorRow
		if err := rows.Scan(&row.ChunkRef, &row.Blob); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqlChunkStore) FetchByRefs(ctx context.Context, refs []string, filters model.Filters) ([]*model.Chunk, error) {
	if len(refs) == 0 {
		return []*model.Chunk{}, nil
	}
	cols, err := s.columnSet(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]interface{}, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref)
	}
	where := map[string]interface{}{
		"_custom_refs": builder.In{"chunk_id_in_document": ids},
	}
	if !s.applyFilters(ctx, cols, where, filters) {
		return []*model.Chunk{}, nil
	}
	chunks, err := s.selectChunks(ctx, cols, where)
	if err != nil {
		return nil, err
	}
	byRef := make(map[string]*model.Chunk, len(chunks))
	for _, c := range chunks {
		byRef[c.ChunkRef] = c
	}
	out := make([]*model.Chunk, 0, len(chunks))
	for _, ref := range refs {
		if c, ok := byRef[ref]; ok {
			out = append(out, c)
			delete(byRef, ref)
		}
	}
	return out, nil
}

// SearchText ranks rows by how many keywords they contain before the limit
// applies, so a row matching every keyword is never cut by newer partial matches.
func (s *sqlChunkStore) SearchText(ctx context.Context, keywords []string, filters model.Filters, limit int) ([]*model.Chunk, error) {
	if len(keywords) == 0 {
		return []*model.Chunk{}, nil
	}
	cols, err := s.columnSet(ctx)
	if err != nil {
		return nil, err
	}
	conds := make([]string, 0, len(keywords))
	hits := make([]string, 0, len(keywords))
	patterns := make([]interface{}, 0, len(keywords))
	for _, kw := range keywords {
		cond := "original_text " + s.d.like + " ?"
		conds = append(conds, cond)
		hits = append(hits, "CASE WHEN "+cond+" THEN 1 ELSE 0 END")
		patterns = append(patterns, "%"+kw+"%")
	}
	where := map[string]interface{}{
		"_custom_keywords": builder.Custom("("+strings.Join(conds, " OR ")+")", patterns...),
	}
	if !s.applyFilters(ctx, cols, where, filters) {
		return []*model.Chunk{}, nil
	}
	fields := s.chunkFields(cols)
	sqlStr, args, err := builder.BuildSelect(chunkTable, where, fields)
	if err != nil {
		return nil, err
	}
	sqlStr += " ORDER BY (" + strings.Join(hits, " + ") + ") DESC, id DESC"
	args = append(args, patterns...)
	if limit > 0 {
		sqlStr += " LIMIT ?"
		args = append(args, limit)
	}
	return s.queryChunks(ctx, fields, sqlStr, args)
}

func (s *sqlChunkStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+chunkTable).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// applyFilters adds equality filters to where. It returns false when a filter
// names a column the table does not have, which no row can satisfy.
func (s *sqlChunkStore) applyFilters(ctx context.Context, cols map[string]bool, where map[string]interface{}, filters model.Filters) bool {
	valid, unknown := filters.Split()
	if len(unknown) > 0 {
		logutil.GetLogger(ctx).Warn("ignore unknown filter keys", zap.Strings("keys", unknown))
	}
	for k, v := range valid {
		if !cols[k] {
			logutil.GetLogger(ctx).Warn("filter on missing column", zap.String("column", k))
			return false
		}
		where[k] = v
	}
	return true
}

func (s *sqlChunkStore) chunkFields(cols map[string]bool) []string {
	fields := []string{"id", "doc_id", "chunk_index", "original_text", "chunk_id_in_document"}
	for _, col := range optionalColumns {
		if cols[col.name] {
			fields = append(fields, col.name)
		}
	}
	return fields
}

func (s *sqlChunkStore) selectChunks(ctx context.Context, cols map[string]bool, where map[string]interface{}) ([]*model.Chunk, error) {
	fields := s.chunkFields(cols)
	sqlStr, args, err := builder.BuildSelect(chunkTable, where, fields)
	if err != nil {
		return nil, err
	}
	return s.queryChunks(ctx, fields, sqlStr, args)
}

func (s *sqlChunkStore) queryChunks(ctx context.Context, fields []string, sqlStr string, args []interface{}) ([]*model.Chunk, error) {
	sqlStr, args = s.d.rebind(sqlStr, args)
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	chunks := make([]*model.Chunk, 0)
	for rows.Next() {
		c, err := scanChunk(rows, fields)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunk(rows *sql.Rows, fields []string) (*model.Chunk, error) {
	c := &model.Chunk{}
	var (
		strs  = make(map[string]*sql.NullString)
		ints  = make(map[string]*sql.NullInt64)
		dests = make([]interface{}, 0, len(fields))
	)
	for _, f := range fields {
		switch f {
		case "id":
			dests = append(dests, &c.ID)
		case "doc_id":
			dests = append(dests, &c.DocumentID)
		case "chunk_index":
			dests = append(dests, &c.ChunkIndex)
		case "original_text":
			dests = append(dests, &c.Text)
		case "chunk_id_in_document":
			dests = append(dests, &c.ChunkRef)
		case "token_count", "created_at":
			v := &sql.NullInt64{}
			ints[f] = v
			dests = append(dests, v)
		default:
			v := &sql.NullString{}
			strs[f] = v
			dests = append(dests, v)
		}
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, err
	}
	c.TokenCount = int(nullInt(ints["token_count"]))
	c.CreatedAt = nullInt(ints["created_at"])
	c.SourceDocumentName = nullString(strs["source_document_name"])
	c.LawName = nullString(strs["law_name"])
	c.Book = nullString(strs["book"])
	c.Chapter = nullString(strs["chapter"])
	c.Section = nullString(strs["section"])
	c.Article = nullString(strs["article"])
	c.SubjectArea = nullString(strs["subject_area"])
	return c, nil
}

func nullString(v *sql.NullString) string {
	if v == nil || !v.Valid {
		return ""
	}
	return v.String
}

func nullInt(v *sql.NullInt64) int64 {
	if v == nil || !v.Valid {
		return 0
	}
	return v.Int64
}
