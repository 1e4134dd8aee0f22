package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	LogConfig logger.LogConfig `json:"log_config"`
	Storage   StorageConfig    `json:"storage"`
	Embedding EmbeddingConfig  `json:"embedding"`
	Index     IndexConfig      `json:"index"`
	Search    SearchConfig     `json:"search"`
	Archive   ArchiveConfig    `json:"archive"`
}

type StorageConfig struct {
	Type           string         `json:"type"`
	SQLite         SQLiteConfig   `json:"sqlite"`
	Postgres       DatabaseConfig `json:"postgres"`
	WriteBatchSize int            `json:"write_batch_size"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type EmbeddingProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type EmbeddingConfig struct {
	Providers         []EmbeddingProviderConfig `json:"providers"`
	Dimension         int                       `json:"dimension"`
	FallbackDimension int                       `json:"fallback_dimension"`
	MaxBatchSize      int                       `json:"max_batch_size"`
	Timeout           int                       `json:"timeout"`
	MaxAttempts       int                       `json:"max_attempts"`
	BackoffMs         int                       `json:"backoff_ms"`
	MaxBackoffMs      int                       `json:"max_backoff_ms"`
	RequestsPerSecond float64                   `json:"requests_per_second"`
	Burst             int                       `json:"burst"`
	Concurrency       int                       `json:"concurrency"`
	CacheSize         int                       `json:"cache_size"`
	CacheTTL          int                       `json:"cache_ttl"`
	PersistCache      bool                      `json:"persist_cache"`
	CacheMaxAgeDays   int                       `json:"cache_max_age_days"`
	CacheCleanupCron  string                    `json:"cache_cleanup_cron"`
}

type IndexConfig struct {
	Accelerated bool   `json:"accelerated"`
	Metric      string `json:"metric"`
	RecentLimit int    `json:"recent_limit"`
	RefreshCron string `json:"refresh_cron"`
}

// ArchiveConfig selects where ingested requests are kept: "local", "s3" or
// empty for no archive. Data holds the store specific settings.
type ArchiveConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type SearchConfig struct {
	DefaultTopK int `json:"default_top_k"`
	OverFetch   int `json:"over_fetch"`
	MaxKeywords int `json:"max_keywords"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config for an embedded store at dbPath with no remote embedding provider.
func Default(dbPath string) *Config {
	cfg := &Config{Storage: StorageConfig{Type: "sqlite", SQLite: SQLiteConfig{Path: dbPath}}}
	_ = cfg.normalize()
	return cfg
}

func (cfg *Config) normalize() error {
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "sqlite"
	}
	cfg.Storage.Type = strings.ToLower(strings.TrimSpace(cfg.Storage.Type))
	switch cfg.Storage.Type {
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for sqlite storage")
		}
	case "postgres":
		pg := &cfg.Storage.Postgres
		if pg.DSN == "" && (pg.Host == "" || pg.DBName == "") {
			return fmt.Errorf("storage.postgres dsn or host/dbname are required for postgres storage")
		}
		if pg.Port == 0 {
			pg.Port = 5432
		}
	default:
		return fmt.Errorf("storage.type must be sqlite or postgres")
	}
	if cfg.Storage.WriteBatchSize <= 0 {
		cfg.Storage.WriteBatchSize = 100
	}

	emb := &cfg.Embedding
	for i, p := range emb.Providers {
		if strings.TrimSpace(p.Provider) == "" {
			return fmt.Errorf("embedding.providers[%d].provider is required", i)
		}
	}
	if emb.Dimension <= 0 {
		emb.Dimension = 1536
	}
	if emb.FallbackDimension <= 0 {
		emb.FallbackDimension = emb.Dimension
	}
	if emb.MaxBatchSize <= 0 {
		emb.MaxBatchSize = 64
	}
	if emb.Timeout <= 0 {
		emb.Timeout = 30
	}
	if emb.MaxAttempts <= 0 {
		emb.MaxAttempts = 3
	}
	if emb.BackoffMs <= 0 {
		emb.BackoffMs = 500
	}
	if emb.MaxBackoffMs <= 0 {
		emb.MaxBackoffMs = 8000
	}
	if emb.RequestsPerSecond <= 0 {
		emb.RequestsPerSecond = 5
	}
	if emb.Burst <= 0 {
		emb.Burst = 5
	}
	if emb.Concurrency <= 0 {
		emb.Concurrency = 4
	}
	if emb.Concurrency > 8 {
		emb.Concurrency = 8
	}
	if emb.CacheSize <= 0 {
		emb.CacheSize = 1024
	}
	if emb.CacheTTL <= 0 {
		emb.CacheTTL = 3600
	}
	if emb.CacheMaxAgeDays <= 0 {
		emb.CacheMaxAgeDays = 30
	}

	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "cosine"
	}
	if cfg.Index.Metric != "cosine" && cfg.Index.Metric != "l2" {
		return fmt.Errorf("index.metric must be cosine or l2")
	}
	if cfg.Index.RecentLimit <= 0 {
		cfg.Index.RecentLimit = 100000
	}

	if cfg.Search.DefaultTopK <= 0 {
		cfg.Search.DefaultTopK = 5
	}
	if cfg.Search.OverFetch <= 0 {
		cfg.Search.OverFetch = 3
	}
	if cfg.Search.MaxKeywords <= 0 {
		cfg.Search.MaxKeywords = 10
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("LAWVEC_STORAGE_TYPE"); ok && v != "" {
		cfg.Storage.Type = v
	}
	if v, ok := lookup("LAWVEC_SQLITE_PATH"); ok && v != "" {
		cfg.Storage.SQLite.Path = v
	}
	if v, ok := lookup("LAWVEC_DB_DSN"); ok && v != "" {
		cfg.Storage.Postgres.DSN = v
	}
	if v, ok := lookup("LAWVEC_INDEX_ACCELERATED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse LAWVEC_INDEX_ACCELERATED: %w", err)
		}
		cfg.Index.Accelerated = b
	}
	apiKey, hasKey := lookup("LAWVEC_EMBEDDING_API_KEY")
	baseURL, hasURL := lookup("LAWVEC_EMBEDDING_BASE_URL")
	if (!hasKey || apiKey == "") && (!hasURL || baseURL == "") {
		return nil
	}
	if len(cfg.Embedding.Providers) == 0 {
		cfg.Embedding.Providers = []EmbeddingProviderConfig{{Provider: "openai", Model: "text-embedding-3-small"}}
	}
	primary := &cfg.Embedding.Providers[0]
	data, _ := primary.Data.(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
	}
	if apiKey != "" {
		data["api_key"] = apiKey
	}
	if baseURL != "" {
		data["base_url"] = baseURL
	}
	primary.Data = data
	return nil
}
