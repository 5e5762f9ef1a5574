// Package indexer orchestrates repository indexing: enumerate, classify,
// chunk, extract, embed, persist, and graph-build, with a bounded worker
// pool and per-file failure isolation. One file failing never aborts the
// run; its error is recorded and the run continues.
package indexer

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemolite/mnemolite/internal/chunk"
	"github.com/mnemolite/mnemolite/internal/config"
	"github.com/mnemolite/mnemolite/internal/embed"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/graph"
	"github.com/mnemolite/mnemolite/internal/lexical"
	"github.com/mnemolite/mnemolite/internal/scanner"
	"github.com/mnemolite/mnemolite/internal/store"
)

// FileState tracks one file through the pipeline.
type FileState string

const (
	StateEnqueued   FileState = "enqueued"
	StateChunking   FileState = "chunking"
	StateEmbedding  FileState = "embedding"
	StatePersisting FileState = "persisting"
	StateDone       FileState = "done"
	StateSkipped    FileState = "skipped"
	StateFailed     FileState = "failed"
	StateCancelled  FileState = "cancelled"
)

// ChunkStore is the persistence slice the indexer needs.
type ChunkStore interface {
	FileFingerprints(ctx context.Context, repository, filePath string) (map[string]struct{}, error)
	PersistFileIndex(ctx context.Context, repository, filePath string, fresh []*store.CodeChunk, staleIDs []string, nodes []*store.GraphNode, edges []*store.GraphEdge) error
	RecordIndexingError(ctx context.Context, ie *store.IndexingError) error
	PurgeRepository(ctx context.Context, repository string) error
}

// Request describes one indexing run.
type Request struct {
	Repository string // logical repository name
	Root       string // filesystem root to scan
	Excludes   []string
}

// Summary is the result of a run.
type Summary struct {
	Repository string
	Files      int // files that entered the pipeline
	Indexed    int // files fully persisted
	Unchanged  int // files whose chunks all matched existing fingerprints
	Chunks     int
	Nodes      int
	Edges      int
	Skipped    map[string]int // by skip reason
	Errors     map[store.ErrorKind]int
	Cancelled  bool
	Duration   time.Duration
}

// Indexer drives indexing runs. Safe for one run at a time per instance;
// each worker owns its own chunker because tree-sitter parsers are not
// concurrent-safe.
type Indexer struct {
	store    ChunkStore
	channels *embed.Channels
	scanner  *scanner.Scanner
	lexical  lexical.Index // optional BM25 sidecar
	cfg      config.IndexingConfig
	embedCfg config.EmbeddingsConfig
	logger   *slog.Logger
}

// WithLexicalIndex mirrors chunk content into a BM25 index alongside the
// store, for deployments using the bleve lexical backend.
func (ix *Indexer) WithLexicalIndex(idx lexical.Index) *Indexer {
	ix.lexical = idx
	return ix
}

func New(st ChunkStore, channels *embed.Channels, sc *scanner.Scanner, cfg config.IndexingConfig, embedCfg config.EmbeddingsConfig, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    st,
		channels: channels,
		scanner:  sc,
		cfg:      cfg,
		embedCfg: embedCfg,
		logger:   logger,
	}
}

// Run indexes a repository. Cancellation stops scheduling and in-flight
// files before their persistence step, so no file is half-written.
func (ix *Indexer) Run(ctx context.Context, req Request) (*Summary, error) {
	if req.Repository == "" {
		return nil, mnerr.New(mnerr.KindBadRequest, "repository name is required")
	}
	start := time.Now()

	summary := &Summary{
		Repository: req.Repository,
		Skipped:    map[string]int{},
		Errors:     map[store.ErrorKind]int{},
	}
	var mu sync.Mutex

	textBatcher := NewBatcher(ix.channels.Text, ix.embedCfg.BatchSize, ix.embedCfg.BatchWindow)
	codeBatcher := NewBatcher(ix.channels.Code, ix.embedCfg.BatchSize, ix.embedCfg.BatchWindow)
	defer textBatcher.Close()
	defer codeBatcher.Close()

	results, err := ix.scanner.Scan(ctx, scanner.Options{
		Root:             req.Root,
		ExcludePatterns:  req.Excludes,
		MaxFileSize:      ix.cfg.MaxFileSize,
		RespectGitignore: true,
	})
	if err != nil {
		return nil, err
	}

	concurrency := ix.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	chunkers := make(chan *chunk.Chunker, concurrency)
	for i := 0; i < concurrency; i++ {
		chunkers <- chunk.NewChunker()
	}
	defer func() {
		close(chunkers)
		for c := range chunkers {
			c.Close()
		}
	}()

	for r := range results {
		if r.Err != nil {
			ix.logger.Warn("scan_error", slog.String("error", r.Err.Error()))
			continue
		}
		if gctx.Err() != nil {
			break
		}
		file := r.File
		g.Go(func() error {
			ck := <-chunkers
			defer func() { chunkers <- ck }()

			outcome := ix.processFile(gctx, ck, req.Repository, file, textBatcher, codeBatcher)

			mu.Lock()
			defer mu.Unlock()
			summary.Files++
			switch outcome.state {
			case StateDone:
				summary.Indexed++
				summary.Chunks += outcome.chunks
				summary.Nodes += outcome.nodes
				summary.Edges += outcome.edges
				if outcome.unchanged {
					summary.Unchanged++
				}
			case StateSkipped:
				summary.Skipped[outcome.skipReason]++
			case StateFailed:
				summary.Errors[outcome.errorKind]++
			case StateCancelled:
				summary.Cancelled = true
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return nil, err
	}
	if ctx.Err() != nil {
		summary.Cancelled = true
	}
	summary.Duration = time.Since(start)

	ix.logger.Info("index_run_complete",
		slog.String("repository", req.Repository),
		slog.Int("files", summary.Files),
		slog.Int("indexed", summary.Indexed),
		slog.Int("chunks", summary.Chunks),
		slog.Bool("cancelled", summary.Cancelled),
		slog.Duration("duration", summary.Duration))
	return summary, nil
}

type fileOutcome struct {
	state      FileState
	skipReason string
	errorKind  store.ErrorKind
	chunks     int
	nodes      int
	edges      int
	unchanged  bool
}

func (ix *Indexer) processFile(ctx context.Context, ck *chunk.Chunker, repository string, file *scanner.FileEntry, textBatcher, codeBatcher *Batcher) fileOutcome {
	if ctx.Err() != nil {
		return fileOutcome{state: StateCancelled}
	}

	content, err := os.ReadFile(file.AbsPath)
	if err != nil {
		ix.recordError(ctx, repository, file.Path, store.ErrorKindEncoding, "", err)
		return fileOutcome{state: StateFailed, errorKind: store.ErrorKindEncoding}
	}

	result, err := ck.ChunkFile(ctx, &chunk.FileInput{
		Repository: repository,
		Path:       file.Path,
		Content:    content,
	})
	if err != nil {
		kind := classifyChunkError(err)
		ix.recordError(ctx, repository, file.Path, kind, "", err)
		return fileOutcome{state: StateFailed, errorKind: kind}
	}
	if reason, skip := chunk.SkipReasons[result.Class]; skip {
		return fileOutcome{state: StateSkipped, skipReason: reason}
	}
	if len(result.Chunks) == 0 {
		return fileOutcome{state: StateSkipped, skipReason: chunk.SkipReasons[chunk.ClassEmpty]}
	}

	// Fingerprint diff: unchanged chunks keep their stored embeddings.
	existing, err := ix.store.FileFingerprints(ctx, repository, file.Path)
	if err != nil {
		ix.recordError(ctx, repository, file.Path, store.ErrorKindPersistence, "", err)
		return fileOutcome{state: StateFailed, errorKind: store.ErrorKindPersistence}
	}

	var fresh []*store.CodeChunk
	current := make(map[string]struct{}, len(result.Chunks))
	for _, c := range result.Chunks {
		current[c.ID] = struct{}{}
		if _, ok := existing[c.ID]; !ok {
			fresh = append(fresh, c)
		}
	}
	var stale []string
	for id := range existing {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}

	for _, c := range fresh {
		if ctx.Err() != nil {
			return fileOutcome{state: StateCancelled}
		}
		textVec, err := textBatcher.Embed(ctx, chunk.TextForEmbedding(c))
		if err != nil {
			ix.recordError(ctx, repository, file.Path, store.ErrorKindEmbedding, string(c.ChunkType), err)
			return fileOutcome{state: StateFailed, errorKind: store.ErrorKindEmbedding}
		}
		codeVec, err := codeBatcher.Embed(ctx, chunk.CodeForEmbedding(c))
		if err != nil {
			ix.recordError(ctx, repository, file.Path, store.ErrorKindEmbedding, string(c.ChunkType), err)
			return fileOutcome{state: StateFailed, errorKind: store.ErrorKindEmbedding}
		}
		c.EmbeddingText = textVec
		c.EmbeddingCode = codeVec
	}

	if ctx.Err() != nil {
		return fileOutcome{state: StateCancelled}
	}

	// The graph delta always covers the full current chunk set, so an
	// unchanged chunk keeps its node and edges after a partial file edit.
	// Chunk upsert, stale delete, and graph swap commit as one transaction;
	// a failure or cancellation mid-file persists nothing.
	delta := graph.Build(repository, file.Path, result.Chunks)
	if err := ix.store.PersistFileIndex(ctx, repository, file.Path, fresh, stale, delta.Nodes, delta.Edges); err != nil {
		ix.recordError(ctx, repository, file.Path, store.ErrorKindPersistence, "", err)
		return fileOutcome{state: StateFailed, errorKind: store.ErrorKindPersistence}
	}

	// The BM25 sidecar is updated only after the store commit; a sidecar
	// failure is recorded but the committed chunks stand.
	if ix.lexical != nil {
		docs := make([]lexical.Document, 0, len(fresh))
		for _, c := range fresh {
			docs = append(docs, lexical.Document{ID: c.ID, Content: c.Content})
		}
		if len(docs) > 0 {
			if err := ix.lexical.Index(ctx, docs); err != nil {
				ix.recordError(ctx, repository, file.Path, store.ErrorKindPersistence, "", err)
				return fileOutcome{state: StateFailed, errorKind: store.ErrorKindPersistence}
			}
		}
		if len(stale) > 0 {
			if err := ix.lexical.Delete(ctx, stale); err != nil {
				ix.recordError(ctx, repository, file.Path, store.ErrorKindPersistence, "", err)
				return fileOutcome{state: StateFailed, errorKind: store.ErrorKindPersistence}
			}
		}
	}

	return fileOutcome{
		state:     StateDone,
		chunks:    len(result.Chunks),
		nodes:     len(delta.Nodes),
		edges:     len(delta.Edges),
		unchanged: len(fresh) == 0 && len(stale) == 0,
	}
}

// Purge removes every trace of a repository: chunks, nodes, edges, and
// recorded indexing errors.
func (ix *Indexer) Purge(ctx context.Context, repository string) error {
	if repository == "" {
		return mnerr.New(mnerr.KindBadRequest, "repository name is required")
	}
	return ix.store.PurgeRepository(ctx, repository)
}

func (ix *Indexer) recordError(ctx context.Context, repository, filePath string, kind store.ErrorKind, chunkType string, cause error) {
	if ctx.Err() != nil {
		return
	}
	ie := &store.IndexingError{
		Repository: repository,
		FilePath:   filePath,
		Kind:       kind,
		Message:    cause.Error(),
		ChunkType:  chunkType,
	}
	if err := ix.store.RecordIndexingError(ctx, ie); err != nil {
		ix.logger.Warn("indexing_error_record_failed",
			slog.String("file", filePath),
			slog.String("error", err.Error()))
	}
	ix.logger.Warn("file_index_failed",
		slog.String("repository", repository),
		slog.String("file", filePath),
		slog.String("kind", string(kind)),
		slog.String("error", cause.Error()))
}

func classifyChunkError(err error) store.ErrorKind {
	switch mnerr.KindOf(err) {
	case mnerr.KindParse:
		return store.ErrorKindParse
	case mnerr.KindEncoding:
		return store.ErrorKindEncoding
	default:
		return store.ErrorKindChunking
	}
}
