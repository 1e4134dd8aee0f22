package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/a921198345/studypartner007-sub000/internal/config"
	"github.com/a921198345/studypartner007-sub000/internal/db"
	"github.com/a921198345/studypartner007-sub000/internal/repo"
)

// SQLiteConfig points at a fresh database file under t.TempDir().
func SQLiteConfig(t testing.TB, writeBatchSize int) config.StorageConfig {
	t.Helper()
	return config.StorageConfig{
		Type:           "sqlite",
		SQLite:         config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "chunks.db")},
		WriteBatchSize: writeBatchSize,
	}
}

// PostgresConfig skips the test unless TEST_DB_HOST names a reachable server.
// Tables left by previous runs are dropped.
func PostgresConfig(t testing.TB, writeBatchSize int) config.StorageConfig {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	cfg := config.StorageConfig{
		Type: "postgres",
		Postgres: config.DatabaseConfig{
			Host:     host,
			Port:     5432,
			User:     "lawvec",
			Password: "lawvec_pass",
			DBName:   "lawvec_test",
			SSLMode:  "disable",
		},
		WriteBatchSize: writeBatchSize,
	}
	conn, err := db.OpenPostgres(context.Background(), cfg.Postgres)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Exec("DROP TABLE IF EXISTS vector_chunks, embedding_cache"); err != nil {
		t.Fatalf("reset db: %v", err)
	}
	return cfg
}

// OpenStore builds a store from cfg, initialises the schema and closes it on cleanup.
func OpenStore(t testing.TB, cfg config.StorageConfig) repo.ChunkStore {
	t.Helper()
	store, err := repo.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return store
}

// StoreConfigs lists the backends a test should cover. Postgres is only
// included when TEST_DB_HOST is set.
func StoreConfigs(t testing.TB, writeBatchSize int) map[string]func(t testing.TB) config.StorageConfig {
	t.Helper()
	out := map[string]func(t testing.TB) config.StorageConfig{
		"sqlite": func(t testing.TB) config.StorageConfig { return SQLiteConfig(t, writeBatchSize) },
	}
	if os.Getenv("TEST_DB_HOST") != "" {
		out["postgres"] = func(t testing.TB) config.StorageConfig { return PostgresConfig(t, writeBatchSize) }
	}
	return out
}
