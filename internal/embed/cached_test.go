package embed

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts inner calls.
type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedAvoidsRecompute(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64, 0)}
	c := NewCachedEmbedder(inner, 10)

	a, err := c.Embed(context.Background(), "query one")
	require.NoError(t, err)
	b, err := c.Embed(context.Background(), "query one")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedEmbedBatchPartialHits(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(64, 0)}
	c := NewCachedEmbedder(inner, 10)

	_, err := c.Embed(context.Background(), "warm")
	require.NoError(t, err)
	inner.calls.Store(0)

	vecs, err := c.EmbedBatch(context.Background(), []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, int32(1), inner.calls.Load(), "only the miss goes to the inner embedder")

	direct, err := NewStaticEmbedder(64, 0).Embed(context.Background(), "cold")
	require.NoError(t, err)
	assert.Equal(t, direct, vecs[1])
}

func TestCachedEmbedBatchEmpty(t *testing.T) {
	c := NewCachedEmbedder(NewStaticEmbedder(64, 0), 10)
	vecs, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestChannelsMockMode(t *testing.T) {
	cfg := testEmbeddingsConfig()
	ch, err := NewChannels(cfg)
	require.NoError(t, err)
	defer ch.Close()

	assert.Same(t, ch.Text, ch.Code, "mock mode shares one provider")
	vec, err := ch.Text.Embed(context.Background(), "note")
	require.NoError(t, err)
	assert.Len(t, vec, cfg.Dim)
}
