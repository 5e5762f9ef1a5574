// Package embed provides embedding providers for MnemoLite.
//
// Two logical channels exist: text (natural language) and code (source
// bodies). Each channel holds a single process-wide provider instance,
// created once by the composition root. All providers return unit-normalized
// vectors of the configured dimension; longer inputs are truncated to a
// deterministic prefix before embedding.
package embed

import (
	"context"
	"math"
	"time"
)

// Channel names.
const (
	ChannelText = "text"
	ChannelCode = "code"
)

// Batch defaults.
const (
	DefaultBatchSize  = 32
	MaxBatchSize      = 256
	DefaultMaxRetries = 3
	DefaultTimeout    = 60 * time.Second
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// truncate cuts text to a deterministic prefix of at most maxChars bytes,
// never splitting a UTF-8 rune.
func truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// normalizeVector normalizes a vector to unit length.
// A zero vector is returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
