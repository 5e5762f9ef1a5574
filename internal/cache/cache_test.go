package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPut(t *testing.T) {
	c := New[string](10, time.Minute)

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Put("k", "v")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestTTLExpiry(t *testing.T) {
	c := New[int](10, 20*time.Millisecond)
	c.Put("k", 42)

	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry must be ignored on read")
}

func TestLRUEviction(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry evicted at capacity")
}

func TestGetOrBuildCachesResult(t *testing.T) {
	c := New[int](10, time.Minute)
	var builds atomic.Int32

	build := func(context.Context) (int, error) {
		builds.Add(1)
		return 7, nil
	}

	v, err := c.GetOrBuild(context.Background(), "k", build)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = c.GetOrBuild(context.Background(), "k", build)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(1), builds.Load())
}

func TestGetOrBuildSingleflight(t *testing.T) {
	c := New[int](10, time.Minute)
	var builds atomic.Int32
	release := make(chan struct{})

	build := func(context.Context) (int, error) {
		builds.Add(1)
		<-release
		return 9, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrBuild(context.Background(), "shared", build)
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load(), "exactly one build per fingerprint")
	for _, v := range results {
		assert.Equal(t, 9, v)
	}
}

func TestGetOrBuildWaiterCancellation(t *testing.T) {
	c := New[int](10, time.Minute)
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = c.GetOrBuild(context.Background(), "slow", func(context.Context) (int, error) {
			<-release
			return 1, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetOrBuild(ctx, "slow", func(context.Context) (int, error) { return 2, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetOrBuildError(t *testing.T) {
	c := New[int](10, time.Minute)
	wantErr := errors.New("backend down")

	_, err := c.GetOrBuild(context.Background(), "k", func(context.Context) (int, error) {
		return 0, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	_, ok := c.Get("k")
	assert.False(t, ok, "errors are not cached")
}

func TestFingerprintCanonical(t *testing.T) {
	a := Fingerprint("query=hashmap", "repo=core", "limit=10")
	b := Fingerprint("limit=10", "query=hashmap", "repo=core")
	assert.Equal(t, a, b, "fingerprint is order-insensitive")

	c := Fingerprint("query=hashmap", "repo=core", "limit=20")
	assert.NotEqual(t, a, c)
}
