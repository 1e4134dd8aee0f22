package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/a921198345/studypartner007-sub000/internal/pkg/dbutil"
)

// dialect captures everything that differs between the embedded and the
// client/server store. The SQL logic in sqlChunkStore never looks at the
// backend name.
type dialect struct {
	name        string
	idColumn    string
	blobType    string
	bigintType  string
	probeQuery  string
	like        string
	rebind      func(query string, args []interface{}) (string, []interface{})
	upsertCache string
}

var sqliteDialect = &dialect{
	name:       "sqlite",
	idColumn:   "id INTEGER PRIMARY KEY AUTOINCREMENT",
	blobType:   "BLOB",
	bigintType: "INTEGER",
	like:       "LIKE",
	probeQuery: "SELECT name FROM pragma_table_info(?)",
	rebind: func(query string, args []interface{}) (string, []interface{}) {
		return query, args
	},
	upsertCache: `INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
			embedding = excluded.embedding,
			ctime = excluded.ctime`,
}

var postgresDialect = &dialect{
	name:       "postgres",
	idColumn:   "id BIGSERIAL PRIMARY KEY",
	blobType:   "BYTEA",
	bigintType: "BIGINT",
	like:       "ILIKE",
	probeQuery: "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = ?",
	rebind:     dbutil.Finalize,
	upsertCache: `INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			ctime = EXCLUDED.ctime`,
}

func (d *dialect) columns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	query, args := d.rebind(d.probeQuery, []interface{}{table})
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("probe columns of %s: %w", table, err)
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func (d *dialect) createChunkTable() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s,
	doc_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	original_text TEXT NOT NULL,
	vector_embedding %s,
	chunk_id_in_document TEXT NOT NULL,
	source_document_name TEXT NOT NULL DEFAULT '',
	law_name TEXT NOT NULL DEFAULT '',
	book TEXT NOT NULL DEFAULT '',
	chapter TEXT NOT NULL DEFAULT '',
	section TEXT NOT NULL DEFAULT '',
	article TEXT NOT NULL DEFAULT '',
	token_count INTEGER NOT NULL DEFAULT 0,
	subject_area TEXT NOT NULL DEFAULT '',
	created_at %s NOT NULL DEFAULT 0
)`, chunkTable, d.idColumn, d.blobType, d.bigintType)
}

func (d *dialect) columnDDL(col optionalColumn) string {
	typ := col.typ
	if typ == "BIGINT" {
		typ = d.bigintType
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s NOT NULL DEFAULT %s", chunkTable, col.name, typ, col.defaultValue)
}

func (d *dialect) createCacheTable() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embedding_cache (
	model_name TEXT NOT NULL,
	task_type TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	embedding %s NOT NULL,
	ctime %s NOT NULL,
	PRIMARY KEY (model_name, task_type, content_hash)
)`, d.blobType, d.bigintType)
}
