package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemolite/mnemolite/internal/config"
)

func testEmbeddingsConfig() config.EmbeddingsConfig {
	return config.EmbeddingsConfig{
		Mode:          config.EmbeddingModeMock,
		Dim:           128,
		MaxInputChars: 4096,
	}
}

func TestNewChannelsRealMode(t *testing.T) {
	cfg := testEmbeddingsConfig()
	cfg.Mode = config.EmbeddingModeReal
	cfg.OllamaHost = "http://localhost:11434"
	cfg.TextModel = "nomic-embed-text"
	cfg.CodeModel = "qwen3-embedding:0.6b"

	ch, err := NewChannels(cfg)
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, "nomic-embed-text", ch.Text.ModelName())
	assert.Equal(t, "qwen3-embedding:0.6b", ch.Code.ModelName())
	assert.Equal(t, 128, ch.Text.Dimensions())
}

func TestNewChannelsUnknownMode(t *testing.T) {
	cfg := testEmbeddingsConfig()
	cfg.Mode = "quantum"
	_, err := NewChannels(cfg)
	assert.Error(t, err)
}
