// Package service is the composition root. It builds the store, embedding
// channels, breakers, cache, search engine, memory core, and indexer once at
// startup and exposes the operation surface the CLI and protocol layers call.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mnemolite/mnemolite/internal/breaker"
	"github.com/mnemolite/mnemolite/internal/cache"
	"github.com/mnemolite/mnemolite/internal/config"
	"github.com/mnemolite/mnemolite/internal/embed"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/graph"
	"github.com/mnemolite/mnemolite/internal/indexer"
	"github.com/mnemolite/mnemolite/internal/ingest"
	"github.com/mnemolite/mnemolite/internal/lexical"
	"github.com/mnemolite/mnemolite/internal/memory"
	"github.com/mnemolite/mnemolite/internal/scanner"
	"github.com/mnemolite/mnemolite/internal/search"
	"github.com/mnemolite/mnemolite/internal/store"
)

// Service owns every long-lived component. Build one per process.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *store.Store
	channels  *embed.Channels
	breakers  *breaker.Registry
	engine    *search.Engine
	memories  *memory.Service
	indexer   *indexer.Indexer
	traverser *graph.Traverser
	lexidx    lexical.Index // non-nil only with the bleve backend
}

// New builds and connects every component. The store schema is migrated
// before the service is returned.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.New(ctx, cfg.Store, cfg.Embeddings.Dim)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	channels, err := embed.NewChannels(cfg.Embeddings)
	if err != nil {
		st.Close()
		return nil, err
	}

	breakers := breaker.NewRegistry(
		breaker.WithMaxFailures(cfg.Breaker.FailureThreshold),
		breaker.WithCoolOff(cfg.Breaker.CoolOff),
		breaker.WithLogger(logger),
	)
	responses := cache.New[*search.Response](cfg.Cache.MaxEntries, cfg.Cache.TTL)

	engine := search.NewEngine(channels.Text, breakers, responses, search.Options{
		LexicalTopK: cfg.Search.LexicalTopK,
		VectorTopK:  cfg.Search.VectorTopK,
		Deadline:    cfg.Search.Deadline,
		Logger:      logger,
	})

	sc, err := scanner.New()
	if err != nil {
		st.Close()
		return nil, err
	}

	svc := &Service{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		channels:  channels,
		breakers:  breakers,
		engine:    engine,
		memories:  memory.NewService(st, channels.Text, engine, logger),
		indexer:   indexer.New(st, channels, sc, cfg.Indexing, cfg.Embeddings, logger),
		traverser: graph.NewTraverser(st),
	}

	if cfg.Search.LexicalBackend == config.LexicalBackendBleve {
		idx, err := lexical.NewBleveIndex(cfg.Search.BlevePath)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.lexidx = idx
		svc.indexer.WithLexicalIndex(idx)
	}
	return svc, nil
}

// Close releases every component.
func (s *Service) Close() {
	if s.lexidx != nil {
		if err := s.lexidx.Close(); err != nil {
			s.logger.Warn("lexical_close_failed", slog.String("error", err.Error()))
		}
	}
	if s.channels != nil {
		if err := s.channels.Close(); err != nil {
			s.logger.Warn("embedder_close_failed", slog.String("error", err.Error()))
		}
	}
	if s.store != nil {
		s.store.Close()
	}
}

// Memories exposes the memory core.
func (s *Service) Memories() *memory.Service { return s.memories }

// IndexRepository runs a full indexing pass.
func (s *Service) IndexRepository(ctx context.Context, req indexer.Request) (*indexer.Summary, error) {
	return s.indexer.Run(ctx, req)
}

// PurgeRepository removes every indexed artifact for a repository and
// invalidates cached search responses.
func (s *Service) PurgeRepository(ctx context.Context, repository string) error {
	if err := s.indexer.Purge(ctx, repository); err != nil {
		return err
	}
	s.engine.InvalidateCache()
	return nil
}

// CodeHit is one scored chunk from code search.
type CodeHit struct {
	Chunk *store.CodeChunk
	Score float64
}

// SearchCode runs hybrid retrieval over the chunk corpus. With the bleve
// backend the lexical channel comes from the BM25 index; filters then apply
// only to the vector channel.
func (s *Service) SearchCode(ctx context.Context, query string, filter store.ChunkFilter, limit int) ([]CodeHit, *search.Response, error) {
	req := search.Request{
		Query:     query,
		FilterKey: chunkFilterKey(filter),
		Limit:     limit,
		K0:        s.cfg.Search.RRFK0,
	}

	lex := func(ctx context.Context, text string, topK int) ([]store.LexicalHit, error) {
		if s.lexidx != nil {
			hits, err := s.lexidx.Search(ctx, text, topK)
			if err != nil {
				return nil, err
			}
			out := make([]store.LexicalHit, len(hits))
			for i, h := range hits {
				out[i] = store.LexicalHit{ID: h.ID, Score: h.Score}
			}
			return out, nil
		}
		return s.store.SearchChunksLexical(ctx, text, filter, topK)
	}
	vec := func(ctx context.Context, embedding []float32, topK int) ([]store.VectorHit, error) {
		return s.store.SearchChunksVector(ctx, embedding, embed.ChannelText, filter, topK)
	}

	resp, err := s.engine.Search(ctx, req, lex, vec)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		ids = append(ids, c.ID)
	}
	chunks, err := s.store.GetChunksByID(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	hits := make([]CodeHit, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		ck, ok := chunks[c.ID]
		if !ok {
			continue
		}
		hits = append(hits, CodeHit{Chunk: ck, Score: c.Score})
	}
	return hits, resp, nil
}

// Neighbors traverses outward from a graph node.
func (s *Service) Neighbors(ctx context.Context, start string, depth int, dir store.Direction, edgeTypes []store.EdgeType) (*graph.Traversal, error) {
	return s.traverser.Neighbors(ctx, start, depth, dir, edgeTypes)
}

// ShortestPath finds a path between two nodes.
func (s *Service) ShortestPath(ctx context.Context, a, b string, edgeTypes []store.EdgeType) (*graph.Path, error) {
	return s.traverser.ShortestPath(ctx, a, b, edgeTypes)
}

// GraphStats summarizes a repository's indexed graph.
func (s *Service) GraphStats(ctx context.Context, repository string) (*store.GraphStats, error) {
	if repository == "" {
		return nil, mnerr.New(mnerr.KindBadRequest, "repository name is required")
	}
	stats, err := s.store.RepositoryStats(ctx, repository)
	if err != nil {
		return nil, err
	}
	kinds, err := s.store.EdgeKindCounts(ctx, repository)
	if err != nil {
		return nil, err
	}
	stats.EdgeKinds = kinds
	return stats, nil
}

// IndexingErrors lists recorded per-file failures, newest first.
func (s *Service) IndexingErrors(ctx context.Context, repository string, kind store.ErrorKind, limit int) ([]*store.IndexingError, error) {
	return s.store.ListIndexingErrors(ctx, repository, kind, limit)
}

// NewConsumer builds the transcript stream consumer when configured.
func (s *Service) NewConsumer() (*ingest.Consumer, error) {
	ing := ingest.NewIngestor(s.memories, s.logger)
	return ingest.NewConsumer(s.cfg.Ingest, ing, s.logger)
}

// Readiness reports component health for the ready probe.
type Readiness struct {
	Store    bool             `json:"store"`
	Embedder bool             `json:"embedder"`
	Breakers []breaker.Status `json:"breakers"`
}

// Live reports process liveness.
func (s *Service) Live() bool { return true }

// Ready probes the store and embedder and snapshots breaker states.
func (s *Service) Ready(ctx context.Context) Readiness {
	return Readiness{
		Store:    s.store.Ping(ctx) == nil,
		Embedder: s.channels.Text.Available(ctx),
		Breakers: s.breakers.Snapshot(),
	}
}

// GetEvent returns a raw event by identifier string.
func (s *Service) GetEvent(ctx context.Context, id string, includeDeleted bool) (*store.Event, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, mnerr.Wrapf(mnerr.KindBadRequest, err, "invalid event id")
	}
	return s.store.GetEvent(ctx, parsed, includeDeleted)
}

func chunkFilterKey(f store.ChunkFilter) string {
	parts := []string{
		"repo=" + f.Repository,
		"lang=" + f.Language,
		"type=" + string(f.ChunkType),
	}
	return strings.Join(parts, "|")
}
