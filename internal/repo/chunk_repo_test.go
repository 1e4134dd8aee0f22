package repo_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/a921198345/studypartner007-sub000/internal/codec"
	"github.com/a921198345/studypartner007-sub000/internal/db"
	"github.com/a921198345/studypartner007-sub000/internal/model"
	appErr "github.com/a921198345/studypartner007-sub000/internal/pkg/errors"
	"github.com/a921198345/studypartner007-sub000/internal/repo"
	"github.com/a921198345/studypartner007-sub000/internal/testutil"
)

func newChunk(docID string, idx int, text, lawName, chapter string) *model.Chunk {
	return &model.Chunk{
		DocumentID:         docID,
		ChunkIndex:         idx,
		ChunkRef:           model.ChunkRef(docID, idx),
		Text:               text,
		Vector:             []float32{float32(idx), 1, -1},
		SourceDocumentName: docID + ".docx",
		LawName:            lawName,
		SubjectArea:        lawName,
		Chapter:            chapter,
		Article:            fmt.Sprintf("第%d条", idx+1),
		TokenCount:         len([]rune(text)),
	}
}

func forEachStore(t *testing.T, batchSize int, fn func(t *testing.T, store repo.ChunkStore)) {
	for name, cfgFn := range testutil.StoreConfigs(t, batchSize) {
		cfgFn := cfgFn
		t.Run(name, func(t *testing.T) {
			fn(t, testutil.OpenStore(t, cfgFn(t)))
		})
	}
}

func TestChunkStoreInitSchemaIdempotent(t *testing.T) {
	forEachStore(t, 100, func(t *testing.T, store repo.ChunkStore) {
		ctx := context.Background()
		require.NoError(t, store.InitSchema(ctx))
		require.NoError(t, store.InitSchema(ctx))

		n, err := store.InsertChunks(ctx, []*model.Chunk{newChunk("doc", 0, "文本", "民法", "总则")})
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}

func TestSQLiteInitSchemaDoesNotDuplicateIndexes(t *testing.T) {
	cfg := testutil.SQLiteConfig(t, 100)
	store := testutil.OpenStore(t, cfg)
	require.NoError(t, store.InitSchema(context.Background()))

	conn, err := db.OpenSQLite(context.Background(), cfg.SQLite.Path)
	require.NoError(t, err)
	defer conn.Close()
	var indexes, columns int
	require.NoError(t, conn.QueryRow("SELECT COUNT(1) FROM sqlite_master WHERE type = 'index' AND tbl_name = 'vector_chunks' AND name NOT LIKE 'sqlite_%'").Scan(&indexes))
	require.Equal(t, 5, indexes)
	require.NoError(t, conn.QueryRow("SELECT COUNT(1) FROM pragma_table_info('vector_chunks')").Scan(&columns))
	require.Equal(t, 15, columns)
}

func TestChunkStoreInsertFetchAndCount(t *testing.T) {
	forEachStore(t, 2, func(t *testing.T, store repo.ChunkStore) {
		ctx := context.Background()
		before, err := store.Count(ctx)
		require.NoError(t, err)

		chunks := []*model.Chunk{
			newChunk("doc1", 0, "甲乙签订买卖合同", "民法", "买卖合同"),
			newChunk("doc1", 1, "正当防卫的构成要件", "刑法", "犯罪"),
			newChunk("doc1", 2, "合同的解除", "民法", "合同"),
		}
		n, err := store.InsertChunks(ctx, chunks)
		require.NoError(t, err)
		require.Equal(t, 3, n)

		after, err := store.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, before+3, after)

		got, err := store.FetchByRefs(ctx, []string{"doc1_2", "missing", "doc1_0"}, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "doc1_2", got[0].ChunkRef)
		require.Equal(t, "doc1_0", got[1].ChunkRef)
		first := got[1]
		require.Equal(t, "doc1", first.DocumentID)
		require.Equal(t, 0, first.ChunkIndex)
		require.Equal(t, "甲乙签订买卖合同", first.Text)
		require.Equal(t, "民法", first.LawName)
		require.Equal(t, "买卖合同", first.Chapter)
		require.Equal(t, "第1条", first.Article)
		require.Equal(t, "doc1.docx", first.SourceDocumentName)
		require.Equal(t, 8, first.TokenCount)
		require.Nil(t, first.Vector)
		require.Positive(t, first.CreatedAt)
		require.Positive(t, first.ID)
	})
}

func TestChunkStoreRejectsDuplicateChunk(t *testing.T) {
	forEachStore(t, 100, func(t *testing.T, store repo.ChunkStore) {
		ctx := context.Background()
		_, err := store.InsertChunks(ctx, []*model.Chunk{newChunk("doc1", 0, "原文", "民法", "")})
		require.NoError(t, err)

		n, err := store.InsertChunks(ctx, []*model.Chunk{newChunk("doc1", 0, "改写", "民法", "")})
		require.Zero(t, n)
		require.ErrorIs(t, err, appErr.ErrStorageWrite)
		require.ErrorIs(t, err, appErr.ErrDuplicateChunk)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, count)

		got, err := store.FetchByRefs(ctx, []string{"doc1_0"}, nil)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "原文", got[0].Text)
	})
}

func TestChunkStoreAbortsAfterFailedSubBatch(t *testing.T) {
	forEachStore(t, 2, func(t *testing.T, store repo.ChunkStore) {
		ctx := context.Background()
		_, err := store.InsertChunks(ctx, []*model.Chunk{newChunk("x", 0, "existing", "", "")})
		require.NoError(t, err)

		batch := []*model.Chunk{
			newChunk("a", 0, "a0", "", ""),
			newChunk("a", 1, "a1", "", ""),
			newChunk("a", 2, "a2", "", ""),
			newChunk("x", 0, "dup", "", ""),
			newChunk("a", 4, "a4", "", ""),
		}
		n, err := store.InsertChunks(ctx, batch)
		require.Equal(t, 2, n)
		var sbErr *repo.SubBatchError
		require.True(t, errors.As(err, &sbErr))
		require.Equal(t, 1, sbErr.Index)
		require.Equal(t, 2, sbErr.Committed)
		require.ErrorIs(t, err, appErr.ErrDuplicateChunk)

		count, err := store.Count(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 3, count)

		got, err := store.FetchByRefs(ctx, []string{"a_0", "a_1", "a_2", "a_4"}, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
	})
}

func TestChunkStoreIterRecentVectors(t *testing.T) {
	forEachStore(t, 100, func(t *testing.T, store repo.ChunkStore) {
		ctx := context.Background()
		var chunks []*model.Chunk
		for i := 0; i < 5; i++ {
			chunks = append(chunks, newChunk("doc", i, fmt.Sprintf("text %d", i), "", ""))
		}
		_, err := store.InsertChunks(ctx, chunks)
		require.NoError(t, err)

		var refs []string
		err = store.IterRecentVectors(ctx, 3, func(row model.VectorRow) error {
			vec, err := codec.Decode(row.Blob)
			require.NoError(t, err)
			require.Len(t, vec, 3)
			refs = append(refs, row.ChunkRef)
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []string{"doc_4", "doc_3", "doc_2"}, refs)

		stop := errors.New("stop")
		calls := 0
		err = store.IterRecentVectors(ctx, 0, func(row model.VectorRow) error {
			calls++
			return stop
		})
		require.ErrorIs(t, err, stop)
		require.Equal(t, 1, calls)
	})
}

func TestChunkStoreFilters(t *testing.T) {
	forEachStore(t, 100, func(t *testing.T, store repo.ChunkStore) {
		ctx := context.Background()
		_, err := store.InsertChunks(ctx, []*model.Chunk{
			newChunk("doc1", 0, "买卖合同的成立", "民法", "买卖合同"),
			newChunk("doc2", 0, "合同诈骗罪", "刑法", "犯罪"),
			newChunk("doc1", 1, "合同的效力", "民法", "合同"),
		})
		require.NoError(t, err)
		refs := []string{"doc1_0", "doc2_0", "doc1_1"}

		got, err := store.FetchByRefs(ctx, refs, model.Filters{"law_name": "民法"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, c := range got {
			require.Equal(t, "民法", c.LawName)
		}

		got, err = store.FetchByRefs(ctx, refs, model.Filters{"law_name": "民法", "chapter": "合同"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "doc1_1", got[0].ChunkRef)

		// unknown keys are ignored
		got, err = store.FetchByRefs(ctx, refs, model.Filters{"nope": "x"})
		require.NoError(t, err)
		require.Len(t, got, 3)

		got, err = store.SearchText(ctx, []string{"合同"}, model.Filters{"law_name": "刑法"}, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "doc2_0", got[0].ChunkRef)

		got, err = store.SearchText(ctx, []string{"成立", "效力"}, nil, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)

		got, err = store.SearchText(ctx, []string{"合同"}, nil, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = store.SearchText(ctx, nil, nil, 10)
		require.NoError(t, err)
		require.Empty(t, got)
	})
}

func TestSearchTextRanksBeforeLimit(t *testing.T) {
	forEachStore(t, 100, func(t *testing.T, store repo.ChunkStore) {
		ctx := context.Background()
		chunks := []*model.Chunk{newChunk("old", 0, "甲乙签订买卖合同", "民法", "合同")}
		for i := 0; i < 20; i++ {
			chunks = append(chunks, newChunk(fmt.Sprintf("new%d", i), 0, fmt.Sprintf("劳动合同第%d条", i), "民法", "合同"))
		}
		_, err := store.InsertChunks(ctx, chunks)
		require.NoError(t, err)

		got, err := store.SearchText(ctx, []string{"买卖", "卖合", "合同"}, nil, 5)
		require.NoError(t, err)
		require.Len(t, got, 5)
		require.Equal(t, "old_0", got[0].ChunkRef)
		// newest first among rows with the same number of hits
		require.Equal(t, "new19_0", got[1].ChunkRef)
	})
}

func TestSQLiteAdaptsLegacyTable(t *testing.T) {
	ctx := context.Background()
	cfg := testutil.SQLiteConfig(t, 100)
	conn, err := db.OpenSQLite(ctx, cfg.SQLite.Path)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE TABLE vector_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		original_text TEXT NOT NULL,
		vector_embedding BLOB,
		source_document_name TEXT,
		chunk_id_in_document TEXT NOT NULL
	)`)
	require.NoError(t, err)
	blob, err := codec.Encode([]float32{1, 2, 3})
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO vector_chunks (doc_id, chunk_index, original_text, vector_embedding, source_document_name, chunk_id_in_document)
		VALUES ('old', 0, '旧数据', ?, NULL, 'old_0')`, blob)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	store := testutil.OpenStore(t, cfg)
	require.NoError(t, store.InitSchema(ctx))

	_, err = store.InsertChunks(ctx, []*model.Chunk{newChunk("new", 0, "新数据", "民法", "总则")})
	require.NoError(t, err)

	got, err := store.FetchByRefs(ctx, []string{"old_0", "new_0"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "", got[0].SourceDocumentName)
	require.Equal(t, "", got[0].LawName)
	require.Equal(t, "民法", got[1].LawName)

	got, err = store.FetchByRefs(ctx, []string{"old_0", "new_0"}, model.Filters{"law_name": "民法"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestNewRejectsUnknownStorage(t *testing.T) {
	cfg := testutil.SQLiteConfig(t, 1)
	cfg.Type = "mysql"
	_, err := repo.New(context.Background(), cfg)
	require.Error(t, err)
}
