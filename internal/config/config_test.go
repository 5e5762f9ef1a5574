package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 768, cfg.Embeddings.Dim)
	assert.Equal(t, 60, cfg.Search.RRFK0)
	assert.Equal(t, LexicalBackendTrigram, cfg.Search.LexicalBackend)
	assert.False(t, cfg.Store.PartitioningEnabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
store:
  database_url: postgres://db:5432/test
  partitioning_enabled: true
embeddings:
  mode: mock
  dim: 256
search:
  rrf_k0: 30
  lexical_backend: bleve
  deadline: 500ms
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://db:5432/test", cfg.Store.DatabaseURL)
	assert.True(t, cfg.Store.PartitioningEnabled)
	assert.Equal(t, EmbeddingModeMock, cfg.Embeddings.Mode)
	assert.Equal(t, 256, cfg.Embeddings.Dim)
	assert.Equal(t, 30, cfg.Search.RRFK0)
	assert.Equal(t, LexicalBackendBleve, cfg.Search.LexicalBackend)
	assert.Equal(t, 500*time.Millisecond, cfg.Search.Deadline)
	// Untouched fields keep defaults.
	assert.Equal(t, 50, cfg.Search.LexicalTopK)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MNEMOLITE_DATABASE_URL", "postgres://env:5432/envdb")
	t.Setenv("MNEMOLITE_EMBEDDING_MODE", "mock")
	t.Setenv("MNEMOLITE_EMBEDDING_DIM", "384")
	t.Setenv("MNEMOLITE_CACHE_TTL_MS", "1500")
	t.Setenv("MNEMOLITE_DEADLINE_MS", "250")
	t.Setenv("MNEMOLITE_PARTITIONING_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env:5432/envdb", cfg.Store.DatabaseURL)
	assert.Equal(t, EmbeddingModeMock, cfg.Embeddings.Mode)
	assert.Equal(t, 384, cfg.Embeddings.Dim)
	assert.Equal(t, 1500*time.Millisecond, cfg.Cache.TTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Search.Deadline)
	assert.True(t, cfg.Store.PartitioningEnabled)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database url", func(c *Config) { c.Store.DatabaseURL = "" }},
		{"zero max conns", func(c *Config) { c.Store.MaxConns = 0 }},
		{"bad embedding mode", func(c *Config) { c.Embeddings.Mode = "gpu" }},
		{"zero dim", func(c *Config) { c.Embeddings.Dim = 0 }},
		{"zero concurrency", func(c *Config) { c.Indexing.Concurrency = 0 }},
		{"bad lexical backend", func(c *Config) { c.Search.LexicalBackend = "elastic" }},
		{"zero rrf k0", func(c *Config) { c.Search.RRFK0 = 0 }},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
