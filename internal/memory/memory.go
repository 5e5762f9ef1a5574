// Package memory is the event/memory core: typed writes into the event
// store, tombstone deletes, cursor pagination, and a derived "memory" view
// that projects events into higher-level records for retrieval.
package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolite/mnemolite/internal/store"
)

const (
	titleMaxLen   = 80
	previewMaxLen = 200
)

// Memory is the derived view over a backing event. Identity is 1-to-1 with
// the event identifier.
type Memory struct {
	ID         uuid.UUID      `json:"id"`
	Title      string         `json:"title"`
	Preview    string         `json:"preview"`
	MemoryType string         `json:"memory_type,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Author     string         `json:"author,omitempty"`
	Project    string         `json:"project,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Score      float64        `json:"score,omitempty"`
	Content    map[string]any `json:"content,omitempty"`
}

// FromEvent projects an event into its memory view. Deleting the backing
// event tombstones the memory, so callers never see a memory without one.
func FromEvent(ev *store.Event) *Memory {
	m := &Memory{
		ID:        ev.ID,
		CreatedAt: ev.TS,
		Content:   ev.Content,
	}
	m.MemoryType = metaString(ev.Metadata, store.MetaMemoryType)
	m.Author = metaString(ev.Metadata, store.MetaAuthor)
	m.Project = metaString(ev.Metadata, store.MetaProject)
	m.SessionID = metaString(ev.Metadata, store.MetaSessionID)
	m.Tags = metaStrings(ev.Metadata, store.MetaTags)

	text := contentText(ev.Content)
	if title := metaString(ev.Metadata, store.MetaTitle); title != "" {
		m.Title = truncate(title, titleMaxLen)
	} else {
		m.Title = truncate(firstLine(text), titleMaxLen)
	}
	m.Preview = truncate(text, previewMaxLen)
	return m
}

// NormalizeTags lower-cases, trims, and deduplicates tags while keeping
// first-occurrence order. Empty entries are dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// contentText pulls the free-text portion of a payload. Payloads are
// unconstrained objects; by convention the text lives under "text".
func contentText(content map[string]any) string {
	if content == nil {
		return ""
	}
	if s, ok := content["text"].(string); ok {
		return s
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

func metaStrings(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

// EventStore is the slice of the store the memory core depends on.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *store.Event, fingerprint string) (uuid.UUID, error)
	GetEvent(ctx context.Context, id uuid.UUID, includeDeleted bool) (*store.Event, error)
	SoftDeleteEvent(ctx context.Context, id uuid.UUID) error
	ListRecent(ctx context.Context, filter store.EventFilter, limit int, cursor string) ([]*store.Event, string, error)
	SearchEventsLexical(ctx context.Context, query string, filter store.EventFilter, limit int) ([]store.LexicalHit, error)
	SearchEventsVector(ctx context.Context, vec []float32, filter store.EventFilter, limit int) ([]store.VectorHit, error)
	GetEvents(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.Event, error)
	UpsertProject(ctx context.Context, slug, originPath string) error
}
