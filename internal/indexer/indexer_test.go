package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemolite/mnemolite/internal/config"
	"github.com/mnemolite/mnemolite/internal/embed"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/scanner"
	"github.com/mnemolite/mnemolite/internal/store"
)

type fakeChunkStore struct {
	mu         sync.Mutex
	chunks     map[string]*store.CodeChunk // by chunk ID
	byFile     map[string]map[string]struct{}
	graphs     map[string]int // file -> node count
	errs       []*store.IndexingError
	purged     []string
	persistErr error // injected PersistFileIndex failure
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{
		chunks: map[string]*store.CodeChunk{},
		byFile: map[string]map[string]struct{}{},
		graphs: map[string]int{},
	}
}

func fileKey(repo, path string) string { return repo + "\x00" + path }

func (f *fakeChunkStore) FileFingerprints(_ context.Context, repo, path string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]struct{}{}
	for id := range f.byFile[fileKey(repo, path)] {
		out[id] = struct{}{}
	}
	return out, nil
}

// PersistFileIndex mirrors the store's all-or-nothing transaction: an
// injected failure leaves chunks, fingerprints, and graph untouched.
func (f *fakeChunkStore) PersistFileIndex(_ context.Context, repo, path string, fresh []*store.CodeChunk, staleIDs []string, nodes []*store.GraphNode, _ []*store.GraphEdge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return f.persistErr
	}
	for _, c := range fresh {
		f.chunks[c.ID] = c
		key := fileKey(c.Repository, c.FilePath)
		if f.byFile[key] == nil {
			f.byFile[key] = map[string]struct{}{}
		}
		f.byFile[key][c.ID] = struct{}{}
	}
	for _, id := range staleIDs {
		if c, ok := f.chunks[id]; ok {
			delete(f.chunks, id)
			delete(f.byFile[fileKey(c.Repository, c.FilePath)], id)
		}
	}
	f.graphs[fileKey(repo, path)] = len(nodes)
	return nil
}

func (f *fakeChunkStore) RecordIndexingError(_ context.Context, ie *store.IndexingError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, ie)
	return nil
}

func (f *fakeChunkStore) PurgeRepository(_ context.Context, repo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, repo)
	return nil
}

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const goFixture = `package demo

// Greet says hello.
func Greet(name string) string {
	return "hello " + name
}

func helper() int { return 1 }
`

func newTestIndexer(t *testing.T, st ChunkStore) *Indexer {
	t.Helper()
	sc, err := scanner.New()
	require.NoError(t, err)
	channels := &embed.Channels{
		Text: embed.NewStaticEmbedder(32, 0),
		Code: embed.NewStaticEmbedder(32, 0),
	}
	return New(st, channels, sc,
		config.IndexingConfig{Concurrency: 2},
		config.EmbeddingsConfig{BatchSize: 4, BatchWindow: 10 * time.Millisecond},
		nil)
}

func TestRunIndexesRepository(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "greet.go", goFixture)
	writeFixture(t, root, "greet_test.go", "package demo\n\nfunc TestGreet() {}\n")
	writeFixture(t, root, "notes.txt", "not source code\n")

	st := newFakeChunkStore()
	ix := newTestIndexer(t, st)

	summary, err := ix.Run(context.Background(), Request{Repository: "demo", Root: root})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 2, summary.Chunks)
	assert.Equal(t, 1, summary.Skipped["test_file"])
	assert.Equal(t, 1, summary.Skipped["unsupported_language"])
	assert.False(t, summary.Cancelled)
	assert.Empty(t, summary.Errors)

	// Every persisted chunk carries both embeddings.
	for _, c := range st.chunks {
		assert.Len(t, c.EmbeddingText, 32)
		assert.Len(t, c.EmbeddingCode, 32)
	}
	assert.Positive(t, st.graphs[fileKey("demo", "greet.go")])
}

func TestRunUnchangedOnReindex(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "greet.go", goFixture)

	st := newFakeChunkStore()
	ix := newTestIndexer(t, st)

	_, err := ix.Run(context.Background(), Request{Repository: "demo", Root: root})
	require.NoError(t, err)

	summary, err := ix.Run(context.Background(), Request{Repository: "demo", Root: root})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unchanged)
	assert.Equal(t, 1, summary.Indexed)
}

func TestRunDropsStaleChunks(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "greet.go", goFixture)

	st := newFakeChunkStore()
	ix := newTestIndexer(t, st)

	_, err := ix.Run(context.Background(), Request{Repository: "demo", Root: root})
	require.NoError(t, err)
	require.Len(t, st.chunks, 2)

	// Drop the helper; its chunk must disappear on the next run.
	writeFixture(t, root, "greet.go", `package demo

func Greet(name string) string {
	return "hi " + name
}
`)
	_, err = ix.Run(context.Background(), Request{Repository: "demo", Root: root})
	require.NoError(t, err)

	assert.Len(t, st.chunks, 1)
	for _, c := range st.chunks {
		assert.Equal(t, []string{"Greet"}, c.NamePath)
	}
}

func TestRunRecordsEncodingError(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.go"),
		[]byte("package demo\nvar x = \"\xff\xfe\"\n"), 0o644))

	st := newFakeChunkStore()
	ix := newTestIndexer(t, st)

	summary, err := ix.Run(context.Background(), Request{Repository: "demo", Root: root})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errors[store.ErrorKindEncoding])
	require.Len(t, st.errs, 1)
	assert.Equal(t, store.ErrorKindEncoding, st.errs[0].Kind)
	assert.Equal(t, "broken.go", st.errs[0].FilePath)
}

func TestRunPersistFailureLeavesNothingBehind(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "greet.go", goFixture)

	st := newFakeChunkStore()
	st.persistErr = mnerr.New(mnerr.KindStoreUnavailable, "connection reset")
	ix := newTestIndexer(t, st)

	summary, err := ix.Run(context.Background(), Request{Repository: "demo", Root: root})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errors[store.ErrorKindPersistence])
	assert.Zero(t, summary.Indexed)

	// The failed file's transaction rolled back: no chunks, no graph rows.
	assert.Empty(t, st.chunks)
	assert.Empty(t, st.graphs)
	require.Len(t, st.errs, 1)
	assert.Equal(t, store.ErrorKindPersistence, st.errs[0].Kind)
}

func TestRunCancelledBeforeWork(t *testing.T) {
	root := t.TempDir()
	writeFixture(t, root, "greet.go", goFixture)

	st := newFakeChunkStore()
	ix := newTestIndexer(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := ix.Run(ctx, Request{Repository: "demo", Root: root})
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Empty(t, st.chunks)
}

func TestRunRequiresRepository(t *testing.T) {
	ix := newTestIndexer(t, newFakeChunkStore())
	_, err := ix.Run(context.Background(), Request{Root: t.TempDir()})
	assert.Error(t, err)
}

func TestPurge(t *testing.T) {
	st := newFakeChunkStore()
	ix := newTestIndexer(t, st)

	require.NoError(t, ix.Purge(context.Background(), "demo"))
	assert.Equal(t, []string{"demo"}, st.purged)

	assert.Error(t, ix.Purge(context.Background(), ""))
}

func TestBatcherFlushesOnSize(t *testing.T) {
	b := NewBatcher(embed.NewStaticEmbedder(16, 0), 2, time.Hour)
	defer b.Close()

	var wg sync.WaitGroup
	vecs := make([][]float32, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := b.Embed(context.Background(), "text")
			require.NoError(t, err)
			vecs[i] = v
		}(i)
	}
	wg.Wait()

	assert.Len(t, vecs[0], 16)
	assert.Equal(t, vecs[0], vecs[1]) // deterministic embedder, same input
}

func TestBatcherFlushesOnWindow(t *testing.T) {
	b := NewBatcher(embed.NewStaticEmbedder(16, 0), 100, 20*time.Millisecond)
	defer b.Close()

	start := time.Now()
	v, err := b.Embed(context.Background(), "lone request")
	require.NoError(t, err)
	assert.Len(t, v, 16)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBatcherClosedRejects(t *testing.T) {
	b := NewBatcher(embed.NewStaticEmbedder(16, 0), 2, time.Minute)
	b.Close()
	time.Sleep(10 * time.Millisecond)

	_, err := b.Embed(context.Background(), "late")
	assert.Error(t, err)
}
