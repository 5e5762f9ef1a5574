package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mnemolite/mnemolite/internal/embed"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/search"
	"github.com/mnemolite/mnemolite/internal/store"
)

// Service wires the memory operations: writes go straight to the store,
// reads go through the hybrid engine so they share breakers, cache, and
// degradation semantics with code search.
type Service struct {
	store    EventStore
	embedder embed.Embedder // text channel
	engine   *search.Engine
	logger   *slog.Logger
}

func NewService(st EventStore, embedder embed.Embedder, engine *search.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, embedder: embedder, engine: engine, logger: logger}
}

// WriteRequest is one insert_event call.
type WriteRequest struct {
	Content     map[string]any
	Metadata    map[string]any
	Embedding   []float32 // optional precomputed vector
	Fingerprint string    // optional client dedup key
}

// InsertEvent persists an event. Tags are normalized before the write. When
// no embedding is supplied and the payload carries text, one is computed on
// the text channel; an embedding failure downgrades to a lexical-only record
// rather than failing the write.
func (s *Service) InsertEvent(ctx context.Context, req WriteRequest) (uuid.UUID, error) {
	if len(req.Content) == 0 {
		return uuid.Nil, mnerr.New(mnerr.KindBadRequest, "event content is required")
	}

	meta := make(map[string]any, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if tags := NormalizeTags(metaStrings(meta, store.MetaTags)); tags != nil {
		meta[store.MetaTags] = tags
	} else {
		delete(meta, store.MetaTags)
	}

	ev := &store.Event{
		Content:   req.Content,
		Embedding: req.Embedding,
		Metadata:  meta,
	}
	if ev.Embedding == nil && s.embedder != nil && s.embedder.Available(ctx) {
		if text := contentText(req.Content); text != "" {
			vec, err := s.embedder.Embed(ctx, text)
			if err != nil {
				s.logger.Warn("event_embed_failed", slog.String("error", err.Error()))
			} else {
				ev.Embedding = vec
			}
		}
	}
	return s.store.InsertEvent(ctx, ev, req.Fingerprint)
}

// GetByID returns the memory view for one event.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Memory, error) {
	ev, err := s.store.GetEvent(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return FromEvent(ev), nil
}

// SoftDelete tombstones the backing event; its memory view disappears from
// default queries with it.
func (s *Service) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return s.store.SoftDeleteEvent(ctx, id)
}

// ListRecent pages memories newest first. The returned cursor is opaque;
// pass it back verbatim to continue, empty means the listing is exhausted.
func (s *Service) ListRecent(ctx context.Context, filter store.EventFilter, limit int, cursor string) ([]*Memory, string, error) {
	events, next, err := s.store.ListRecent(ctx, filter, limit, cursor)
	if err != nil {
		return nil, "", err
	}
	memories := make([]*Memory, 0, len(events))
	for _, ev := range events {
		memories = append(memories, FromEvent(ev))
	}
	return memories, next, nil
}

// SearchMemories runs hybrid retrieval over the event corpus and returns
// scored memory views. Channel degradation follows the engine: an open
// embedding breaker leaves lexical results flowing.
func (s *Service) SearchMemories(ctx context.Context, query string, filter store.EventFilter, limit int) ([]*Memory, *search.Response, error) {
	req := search.Request{
		Query:     query,
		FilterKey: filterKey(filter),
		Limit:     limit,
		K0:        search.DefaultK0,
	}
	lex := func(ctx context.Context, text string, topK int) ([]store.LexicalHit, error) {
		return s.store.SearchEventsLexical(ctx, text, filter, topK)
	}
	vec := func(ctx context.Context, embedding []float32, topK int) ([]store.VectorHit, error) {
		return s.store.SearchEventsVector(ctx, embedding, filter, topK)
	}

	resp, err := s.engine.Search(ctx, req, lex, vec)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]uuid.UUID, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		id, err := uuid.Parse(c.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	events, err := s.store.GetEvents(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	memories := make([]*Memory, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		id, err := uuid.Parse(c.ID)
		if err != nil {
			continue
		}
		ev, ok := events[id]
		if !ok || ev.Deleted() {
			continue
		}
		m := FromEvent(ev)
		m.Score = c.Score
		memories = append(memories, m)
	}
	return memories, resp, nil
}

// ResolveProject derives the project slug for an origin path and records
// the mapping.
func (s *Service) ResolveProject(ctx context.Context, originPath string) (string, error) {
	slug, err := DeriveSlug(originPath)
	if err != nil {
		return "", err
	}
	if err := s.store.UpsertProject(ctx, slug, originPath); err != nil {
		return "", err
	}
	return slug, nil
}

// filterKey canonicalizes a filter for the engine's response cache. Field
// order is fixed and tags are sorted so equivalent filters share an entry.
func filterKey(f store.EventFilter) string {
	tags := append([]string(nil), f.Tags...)
	sort.Strings(tags)
	parts := []string{
		"mt=" + f.MemoryType,
		"p=" + f.Project,
		"s=" + f.SessionID,
		"t=" + strings.Join(tags, ","),
	}
	if !f.Since.IsZero() {
		parts = append(parts, fmt.Sprintf("since=%d", f.Since.UnixNano()))
	}
	if !f.Until.IsZero() {
		parts = append(parts, fmt.Sprintf("until=%d", f.Until.UnixNano()))
	}
	return strings.Join(parts, "|")
}
