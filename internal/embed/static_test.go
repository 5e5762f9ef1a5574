package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedDeterministic(t *testing.T) {
	e := NewStaticEmbedder(256, 0)
	defer e.Close()

	a, err := e.Embed(context.Background(), "func ParseConfig(path string) error")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "func ParseConfig(path string) error")
	require.NoError(t, err)
	assert.Equal(t, a, b, "same input must produce the same vector")
}

func TestStaticEmbedDimension(t *testing.T) {
	for _, dims := range []int{64, 256, 768} {
		e := NewStaticEmbedder(dims, 0)
		vec, err := e.Embed(context.Background(), "hashmap lookup")
		require.NoError(t, err)
		assert.Len(t, vec, dims)
		_ = e.Close()
	}
}

func TestStaticEmbedUnitNorm(t *testing.T) {
	e := NewStaticEmbedder(128, 0)
	vec, err := e.Embed(context.Background(), "binary search tree insertion")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedEmptyInput(t *testing.T) {
	e := NewStaticEmbedder(32, 0)
	vec, err := e.Embed(context.Background(), "   \n\t ")
	require.NoError(t, err)
	assert.Len(t, vec, 32)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedTruncationDeterministic(t *testing.T) {
	e := NewStaticEmbedder(64, 10)
	long := "abcdefghij-this-tail-should-be-ignored"
	short := "abcdefghij"

	a, err := e.Embed(context.Background(), long)
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), short)
	require.NoError(t, err)
	assert.Equal(t, b, a, "truncation keeps a deterministic prefix")
}

func TestStaticEmbedClosed(t *testing.T) {
	e := NewStaticEmbedder(32, 0)
	require.NoError(t, e.Close())
	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestStaticEmbedBatch(t *testing.T) {
	e := NewStaticEmbedder(64, 0)
	vecs, err := e.EmbedBatch(context.Background(), []string{"alpha", "beta", "alpha"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[2])
	assert.NotEqual(t, vecs[0], vecs[1])
}

func TestTokenizeSplitsIdentifiers(t *testing.T) {
	tokens := tokenize("parseHTTPResponse snake_case_name")
	assert.Contains(t, tokens, "parse")
	assert.Contains(t, tokens, "http")
	assert.Contains(t, tokens, "response")
	assert.Contains(t, tokens, "snake")
	assert.Contains(t, tokens, "case")
	assert.Contains(t, tokens, "name")
}

func TestTruncateRespectsRuneBoundaries(t *testing.T) {
	s := "héllo wörld"
	cut := truncate(s, 3)
	assert.LessOrEqual(t, len(cut), 3)
	for _, r := range cut {
		assert.NotEqual(t, '�', r)
	}
}
