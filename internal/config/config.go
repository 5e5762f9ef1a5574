// Package config loads and validates MnemoLite configuration.
//
// Precedence, lowest to highest: built-in defaults, YAML config file,
// MNEMOLITE_* environment variables.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Embedding modes.
const (
	EmbeddingModeReal = "real"
	EmbeddingModeMock = "mock"
)

// Lexical backends.
const (
	LexicalBackendTrigram = "trigram"
	LexicalBackendBleve   = "bleve"
)

// Config is the complete MnemoLite configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Search     SearchConfig     `yaml:"search"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Cache      CacheConfig      `yaml:"cache"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StoreConfig configures the relational store gateway.
type StoreConfig struct {
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string `yaml:"database_url"`

	// MaxConns bounds the connection pool.
	MaxConns int `yaml:"max_conns"`

	// AcquireTimeout bounds a single pool acquisition.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// PartitioningEnabled creates monthly range partitions on events.
	PartitioningEnabled bool `yaml:"partitioning_enabled"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Mode selects the provider: "real" (Ollama) or "mock" (hash-based).
	Mode string `yaml:"mode"`

	// Dim is the process-wide embedding dimension. Changing it requires
	// a full re-index.
	Dim int `yaml:"dim"`

	// OllamaHost is the Ollama API endpoint for real mode.
	OllamaHost string `yaml:"ollama_host"`

	// TextModel embeds natural language (memories, docstrings).
	TextModel string `yaml:"text_model"`

	// CodeModel embeds source bodies.
	CodeModel string `yaml:"code_model"`

	// MaxInputChars truncates longer inputs deterministically (prefix).
	MaxInputChars int `yaml:"max_input_chars"`

	// BatchSize bounds one embedding request.
	BatchSize int `yaml:"batch_size"`

	// BatchWindow flushes a partial batch after this delay.
	BatchWindow time.Duration `yaml:"batch_window"`
}

// IndexingConfig configures the code-indexing pipeline.
type IndexingConfig struct {
	// Concurrency is the worker-pool degree for per-file processing.
	Concurrency int `yaml:"concurrency"`

	// MaxFileSize skips larger files, in bytes.
	MaxFileSize int64 `yaml:"max_file_size"`
}

// SearchConfig configures hybrid retrieval.
type SearchConfig struct {
	// RRFK0 is the reciprocal-rank-fusion smoothing constant.
	RRFK0 int `yaml:"rrf_k0"`

	// LexicalTopK is the candidate count from the lexical channel.
	LexicalTopK int `yaml:"lexical_top_k"`

	// VectorTopK is the candidate count from the vector channel.
	VectorTopK int `yaml:"vector_top_k"`

	// Deadline is the per-request latency budget.
	Deadline time.Duration `yaml:"deadline"`

	// LexicalBackend selects "trigram" (pg_trgm, default) or "bleve" (BM25).
	LexicalBackend string `yaml:"lexical_backend"`

	// BlevePath is the on-disk location of the bleve index when enabled.
	BlevePath string `yaml:"bleve_path"`
}

// BreakerConfig configures the per-dependency circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening.
	FailureThreshold int `yaml:"failure_threshold"`

	// CoolOff is the open-state window before a probe.
	CoolOff time.Duration `yaml:"cool_off"`
}

// CacheConfig configures the request-scoped response cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// IngestConfig configures the optional transcript stream consumer.
type IngestConfig struct {
	// RedisURL enables stream ingest when non-empty.
	RedisURL string `yaml:"redis_url"`

	// Stream is the Redis stream key holding transcript messages.
	Stream string `yaml:"stream"`

	// Group is the consumer group name.
	Group string `yaml:"group"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			DatabaseURL:    "postgres://localhost:5432/mnemolite",
			MaxConns:       10,
			AcquireTimeout: 5 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Mode:          EmbeddingModeReal,
			Dim:           768,
			OllamaHost:    "http://localhost:11434",
			TextModel:     "nomic-embed-text",
			CodeModel:     "nomic-embed-text",
			MaxInputChars: 8192,
			BatchSize:     32,
			BatchWindow:   200 * time.Millisecond,
		},
		Indexing: IndexingConfig{
			Concurrency: runtime.NumCPU(),
			MaxFileSize: 10 * 1024 * 1024,
		},
		Search: SearchConfig{
			RRFK0:          60,
			LexicalTopK:    50,
			VectorTopK:     50,
			Deadline:       2 * time.Second,
			LexicalBackend: LexicalBackendTrigram,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CoolOff:          30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:        60 * time.Second,
			MaxEntries: 1024,
		},
		Ingest: IngestConfig{
			Stream: "mnemolite:transcripts",
			Group:  "mnemolite",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path (optional) and the environment.
// An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config values from MNEMOLITE_* environment variables.
func (c *Config) applyEnv() {
	setString(&c.Store.DatabaseURL, "MNEMOLITE_DATABASE_URL")
	setString(&c.Ingest.RedisURL, "MNEMOLITE_REDIS_URL")
	setString(&c.Embeddings.Mode, "MNEMOLITE_EMBEDDING_MODE")
	setInt(&c.Embeddings.Dim, "MNEMOLITE_EMBEDDING_DIM")
	setString(&c.Embeddings.OllamaHost, "MNEMOLITE_OLLAMA_HOST")
	setInt(&c.Indexing.Concurrency, "MNEMOLITE_INDEXING_CONCURRENCY")
	setInt(&c.Breaker.FailureThreshold, "MNEMOLITE_BREAKER_FAILURE_THRESHOLD")
	setMillis(&c.Breaker.CoolOff, "MNEMOLITE_BREAKER_COOLOFF_MS")
	setMillis(&c.Cache.TTL, "MNEMOLITE_CACHE_TTL_MS")
	setInt(&c.Cache.MaxEntries, "MNEMOLITE_CACHE_MAX_ENTRIES")
	setInt(&c.Search.RRFK0, "MNEMOLITE_RRF_K0")
	setInt(&c.Search.LexicalTopK, "MNEMOLITE_LEXICAL_TOP_K")
	setInt(&c.Search.VectorTopK, "MNEMOLITE_VECTOR_TOP_K")
	setMillis(&c.Search.Deadline, "MNEMOLITE_DEADLINE_MS")
	setString(&c.Search.LexicalBackend, "MNEMOLITE_LEXICAL_BACKEND")
	setBool(&c.Store.PartitioningEnabled, "MNEMOLITE_PARTITIONING_ENABLED")
	setString(&c.Logging.Level, "MNEMOLITE_LOG_LEVEL")
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Store.DatabaseURL == "" {
		return fmt.Errorf("store.database_url is required")
	}
	if c.Store.MaxConns <= 0 {
		return fmt.Errorf("store.max_conns must be positive, got %d", c.Store.MaxConns)
	}
	switch c.Embeddings.Mode {
	case EmbeddingModeReal, EmbeddingModeMock:
	default:
		return fmt.Errorf("embeddings.mode must be %q or %q, got %q",
			EmbeddingModeReal, EmbeddingModeMock, c.Embeddings.Mode)
	}
	if c.Embeddings.Dim <= 0 {
		return fmt.Errorf("embeddings.dim must be positive, got %d", c.Embeddings.Dim)
	}
	if c.Indexing.Concurrency <= 0 {
		return fmt.Errorf("indexing.concurrency must be positive, got %d", c.Indexing.Concurrency)
	}
	switch c.Search.LexicalBackend {
	case LexicalBackendTrigram, LexicalBackendBleve:
	default:
		return fmt.Errorf("search.lexical_backend must be %q or %q, got %q",
			LexicalBackendTrigram, LexicalBackendBleve, c.Search.LexicalBackend)
	}
	if c.Search.RRFK0 <= 0 {
		return fmt.Errorf("search.rrf_k0 must be positive, got %d", c.Search.RRFK0)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}
}

func setMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
