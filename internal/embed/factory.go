package embed

import (
	"fmt"

	"github.com/mnemolite/mnemolite/internal/config"
)

// Channels bundles the two process-wide embedding providers.
// Text embeds natural language (memories, docstrings, queries);
// Code embeds source bodies.
type Channels struct {
	Text Embedder
	Code Embedder
}

// NewChannels builds both embedding channels from configuration.
// Mock mode shares a single deterministic hash embedder across channels;
// real mode creates one Ollama client per channel, LRU-cached.
func NewChannels(cfg config.EmbeddingsConfig) (*Channels, error) {
	switch cfg.Mode {
	case config.EmbeddingModeMock:
		static := NewStaticEmbedder(cfg.Dim, cfg.MaxInputChars)
		return &Channels{Text: static, Code: static}, nil

	case config.EmbeddingModeReal:
		text := NewOllamaEmbedder(OllamaConfig{
			Host:          cfg.OllamaHost,
			Model:         cfg.TextModel,
			Dimensions:    cfg.Dim,
			MaxInputChars: cfg.MaxInputChars,
		})
		code := NewOllamaEmbedder(OllamaConfig{
			Host:          cfg.OllamaHost,
			Model:         cfg.CodeModel,
			Dimensions:    cfg.Dim,
			MaxInputChars: cfg.MaxInputChars,
		})
		return &Channels{
			Text: NewCachedEmbedder(text, DefaultEmbeddingCacheSize),
			Code: NewCachedEmbedder(code, DefaultEmbeddingCacheSize),
		}, nil

	default:
		return nil, fmt.Errorf("unknown embedding mode: %q", cfg.Mode)
	}
}

// Close releases both channels. Safe when both channels share one provider.
func (c *Channels) Close() error {
	var firstErr error
	if c.Text != nil {
		if err := c.Text.Close(); err != nil {
			firstErr = err
		}
	}
	if c.Code != nil && c.Code != c.Text {
		if err := c.Code.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
