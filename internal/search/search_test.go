package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemolite/mnemolite/internal/breaker"
	"github.com/mnemolite/mnemolite/internal/cache"
	"github.com/mnemolite/mnemolite/internal/embed"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/store"
)

func TestFuseRRFSpecOrdering(t *testing.T) {
	lexical := []store.LexicalHit{
		{ID: "A", Score: 0.9},
		{ID: "B", Score: 0.8},
		{ID: "C", Score: 0.7},
	}
	vector := []store.VectorHit{
		{ID: "B", Distance: 0.1},
		{ID: "C", Distance: 0.2},
		{ID: "D", Distance: 0.3},
	}

	fused := FuseRRF(lexical, vector, 60)
	require.Len(t, fused, 4)

	var order []string
	for _, c := range fused {
		order = append(order, c.ID)
	}
	assert.Equal(t, []string{"B", "C", "A", "D"}, order)

	// Provenance: B was ranked by both channels.
	assert.Equal(t, 2, fused[0].LexicalRank)
	assert.Equal(t, 1, fused[0].VectorRank)
	// A only lexical, D only vector; missing ranks stay zero.
	assert.Equal(t, 0, fused[2].VectorRank)
	assert.Equal(t, 0, fused[3].LexicalRank)
	assert.InDelta(t, 1.0/61.0, fused[2].Score, 1e-12)
}

func TestFuseRRFTieBreak(t *testing.T) {
	// Two candidates with identical ranks on opposite channels score the
	// same; the one with the higher lexical score wins, then id ascending.
	lexical := []store.LexicalHit{{ID: "x", Score: 0.5}}
	vector := []store.VectorHit{{ID: "y", Distance: 0.5}}

	fused := FuseRRF(lexical, vector, 60)
	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].ID) // lexical score 0.5 beats y's 0

	lexical = []store.LexicalHit{{ID: "b"}}
	vector = []store.VectorHit{{ID: "a"}}
	fused = FuseRRF(lexical, vector, 60)
	assert.Equal(t, "a", fused[0].ID) // equal scores, id ascending
}

func TestFuseRRFEmptyChannels(t *testing.T) {
	assert.Empty(t, FuseRRF(nil, nil, 60))

	fused := FuseRRF([]store.LexicalHit{{ID: "a", Score: 1}}, nil, 60)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/61.0, fused[0].Score, 1e-12)
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	breakers := breaker.NewRegistry(breaker.WithMaxFailures(2), breaker.WithCoolOff(time.Hour))
	responses := cache.New[*Response](16, time.Minute)
	return NewEngine(embed.NewStaticEmbedder(32, 0), breakers, responses, opts)
}

func staticLex(hits []store.LexicalHit) LexicalFunc {
	return func(ctx context.Context, text string, limit int) ([]store.LexicalHit, error) {
		return hits, nil
	}
}

func staticVec(hits []store.VectorHit) VectorFunc {
	return func(ctx context.Context, embedding []float32, limit int) ([]store.VectorHit, error) {
		return hits, nil
	}
}

func TestEngineHappyPath(t *testing.T) {
	e := newTestEngine(t, Options{})

	resp, err := e.Search(context.Background(),
		Request{Query: "rank fusion", Limit: 10, K0: 60},
		staticLex([]store.LexicalHit{{ID: "a", Score: 1}}),
		staticVec([]store.VectorHit{{ID: "b", Distance: 0.2}}))
	require.NoError(t, err)

	assert.False(t, resp.Degraded)
	assert.False(t, resp.Partial)
	assert.Equal(t, ChannelOK, resp.Lexical.State)
	assert.Equal(t, ChannelOK, resp.Vector.State)
	assert.Len(t, resp.Candidates, 2)
}

func TestEngineEmptyQuery(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, err := e.Search(context.Background(), Request{Query: "  "}, staticLex(nil), staticVec(nil))
	assert.True(t, mnerr.IsKind(err, mnerr.KindBadRequest))
}

func TestEngineExpiredDeadlineNoIO(t *testing.T) {
	e := newTestEngine(t, Options{})

	called := false
	lex := func(ctx context.Context, text string, limit int) ([]store.LexicalHit, error) {
		called = true
		return nil, nil
	}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := e.Search(ctx, Request{Query: "q", Limit: 5}, lex, staticVec(nil))
	assert.True(t, mnerr.IsKind(err, mnerr.KindDeadlineExceeded))
	assert.False(t, called)
}

func TestEngineDegradedWhenVectorFails(t *testing.T) {
	e := newTestEngine(t, Options{})

	vec := func(ctx context.Context, embedding []float32, limit int) ([]store.VectorHit, error) {
		return nil, mnerr.New(mnerr.KindEmbedUnavailable, "model offline")
	}

	resp, err := e.Search(context.Background(),
		Request{Query: "q", Limit: 5, K0: 60},
		staticLex([]store.LexicalHit{{ID: "a", Score: 1}}), vec)
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Equal(t, ChannelFailed, resp.Vector.State)
	assert.Equal(t, ChannelOK, resp.Lexical.State)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "a", resp.Candidates[0].ID)
}

func TestEngineBothChannelsFail(t *testing.T) {
	e := newTestEngine(t, Options{})

	lex := func(ctx context.Context, text string, limit int) ([]store.LexicalHit, error) {
		return nil, errors.New("lexical down")
	}
	vec := func(ctx context.Context, embedding []float32, limit int) ([]store.VectorHit, error) {
		return nil, errors.New("vector down")
	}

	_, err := e.Search(context.Background(), Request{Query: "q", Limit: 5}, lex, vec)
	assert.True(t, mnerr.IsKind(err, mnerr.KindRetrievalUnavailable))
}

func TestEnginePartialOnSlowChannel(t *testing.T) {
	e := newTestEngine(t, Options{Deadline: 50 * time.Millisecond})

	slowVec := func(ctx context.Context, embedding []float32, limit int) ([]store.VectorHit, error) {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	}

	resp, err := e.Search(context.Background(),
		Request{Query: "q", Limit: 5, K0: 60},
		staticLex([]store.LexicalHit{{ID: "a", Score: 1}}), slowVec)
	require.NoError(t, err)

	assert.True(t, resp.Partial)
	assert.Equal(t, ChannelOK, resp.Lexical.State)
	assert.Equal(t, ChannelSkipped, resp.Vector.State)
	require.Len(t, resp.Candidates, 1)
}

func TestEngineBreakerSkipsChannel(t *testing.T) {
	breakers := breaker.NewRegistry(breaker.WithMaxFailures(1), breaker.WithCoolOff(time.Hour))
	breakers.ForceOpen(breaker.DepVector)
	e := NewEngine(embed.NewStaticEmbedder(32, 0), breakers, nil, Options{})

	resp, err := e.Search(context.Background(),
		Request{Query: "q", Limit: 5, K0: 60},
		staticLex([]store.LexicalHit{{ID: "a", Score: 1}}), staticVec(nil))
	require.NoError(t, err)

	assert.True(t, resp.Degraded)
	assert.Equal(t, ChannelSkipped, resp.Vector.State)
}

func TestEngineCachesResponses(t *testing.T) {
	e := newTestEngine(t, Options{})

	calls := 0
	lex := func(ctx context.Context, text string, limit int) ([]store.LexicalHit, error) {
		calls++
		return []store.LexicalHit{{ID: "a", Score: 1}}, nil
	}

	req := Request{Query: "cached", FilterKey: "repo=demo", Limit: 5, K0: 60}
	for i := 0; i < 3; i++ {
		_, err := e.Search(context.Background(), req, lex, staticVec(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	// A different filter key is a different request.
	other := req
	other.FilterKey = "repo=other"
	_, err := e.Search(context.Background(), other, lex, staticVec(nil))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
