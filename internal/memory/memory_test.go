package memory

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemolite/mnemolite/internal/breaker"
	"github.com/mnemolite/mnemolite/internal/cache"
	"github.com/mnemolite/mnemolite/internal/embed"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/search"
	"github.com/mnemolite/mnemolite/internal/store"
)

type fakeEventStore struct {
	events      map[uuid.UUID]*store.Event
	byTS        []*store.Event
	claims      map[string]uuid.UUID
	projects    map[string]string
	lexicalHits []store.LexicalHit
	vectorHits  []store.VectorHit
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{
		events:   map[uuid.UUID]*store.Event{},
		claims:   map[string]uuid.UUID{},
		projects: map[string]string{},
	}
}

func (f *fakeEventStore) InsertEvent(_ context.Context, ev *store.Event, fingerprint string) (uuid.UUID, error) {
	if fingerprint != "" {
		if id, ok := f.claims[fingerprint]; ok {
			return id, nil
		}
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	f.events[ev.ID] = ev
	f.byTS = append(f.byTS, ev)
	sort.Slice(f.byTS, func(i, j int) bool { return f.byTS[i].TS.After(f.byTS[j].TS) })
	if fingerprint != "" {
		f.claims[fingerprint] = ev.ID
	}
	return ev.ID, nil
}

func (f *fakeEventStore) GetEvent(_ context.Context, id uuid.UUID, includeDeleted bool) (*store.Event, error) {
	ev, ok := f.events[id]
	if !ok || (ev.Deleted() && !includeDeleted) {
		return nil, mnerr.Newf(mnerr.KindNotFound, "event %s not found", id)
	}
	return ev, nil
}

func (f *fakeEventStore) SoftDeleteEvent(_ context.Context, id uuid.UUID) error {
	ev, ok := f.events[id]
	if !ok {
		return mnerr.Newf(mnerr.KindNotFound, "event %s not found", id)
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}
	ev.Metadata[store.MetaDeleted] = true
	return nil
}

func (f *fakeEventStore) ListRecent(_ context.Context, filter store.EventFilter, limit int, cursor string) ([]*store.Event, string, error) {
	var out []*store.Event
	past := cursor == ""
	for _, ev := range f.byTS {
		if !past {
			if ev.ID.String() == cursor {
				past = true
			}
			continue
		}
		if ev.Deleted() && !filter.IncludeDeleted {
			continue
		}
		out = append(out, ev)
		if len(out) == limit+1 {
			break
		}
	}
	next := ""
	if limit > 0 && len(out) > limit {
		out = out[:limit]
		next = out[len(out)-1].ID.String()
	}
	return out, next, nil
}

func (f *fakeEventStore) SearchEventsLexical(_ context.Context, _ string, _ store.EventFilter, _ int) ([]store.LexicalHit, error) {
	return f.lexicalHits, nil
}

func (f *fakeEventStore) SearchEventsVector(_ context.Context, _ []float32, _ store.EventFilter, _ int) ([]store.VectorHit, error) {
	return f.vectorHits, nil
}

func (f *fakeEventStore) GetEvents(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*store.Event, error) {
	out := map[uuid.UUID]*store.Event{}
	for _, id := range ids {
		if ev, ok := f.events[id]; ok {
			out[id] = ev
		}
	}
	return out, nil
}

func (f *fakeEventStore) UpsertProject(_ context.Context, slug, originPath string) error {
	f.projects[slug] = originPath
	return nil
}

func newTestService(st EventStore) *Service {
	breakers := breaker.NewRegistry(breaker.WithMaxFailures(3), breaker.WithCoolOff(time.Hour))
	engine := search.NewEngine(embed.NewStaticEmbedder(32, 0), breakers,
		cache.New[*search.Response](16, time.Minute), search.Options{})
	return NewService(st, embed.NewStaticEmbedder(32, 0), engine, nil)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"go", "search", "db"},
		NormalizeTags([]string{" Go ", "search", "GO", "db", "Search"}))
	assert.Nil(t, NormalizeTags([]string{"", "   "}))
	assert.Nil(t, NormalizeTags(nil))
}

func TestInsertEventNormalizesAndEmbeds(t *testing.T) {
	fake := newFakeEventStore()
	svc := newTestService(fake)

	id, err := svc.InsertEvent(context.Background(), WriteRequest{
		Content:  map[string]any{"text": "decided to partition events monthly"},
		Metadata: map[string]any{store.MetaTags: []string{"Infra", "infra", " DB "}},
	})
	require.NoError(t, err)

	ev := fake.events[id]
	require.NotNil(t, ev)
	assert.Equal(t, []string{"infra", "db"}, ev.Metadata[store.MetaTags])
	assert.Len(t, ev.Embedding, 32)
}

func TestInsertEventRequiresContent(t *testing.T) {
	svc := newTestService(newFakeEventStore())
	_, err := svc.InsertEvent(context.Background(), WriteRequest{})
	assert.True(t, mnerr.IsKind(err, mnerr.KindBadRequest))
}

func TestInsertEventDedupByFingerprint(t *testing.T) {
	fake := newFakeEventStore()
	svc := newTestService(fake)

	req := WriteRequest{
		Content:     map[string]any{"text": "same note twice"},
		Fingerprint: "fp-1",
	}
	first, err := svc.InsertEvent(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.InsertEvent(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, fake.events, 1)
}

func TestSoftDeleteHidesMemory(t *testing.T) {
	fake := newFakeEventStore()
	svc := newTestService(fake)

	id, err := svc.InsertEvent(context.Background(), WriteRequest{
		Content: map[string]any{"text": "ephemeral"},
	})
	require.NoError(t, err)

	require.NoError(t, svc.SoftDelete(context.Background(), id))
	_, err = svc.GetByID(context.Background(), id)
	assert.True(t, mnerr.IsKind(err, mnerr.KindNotFound))

	memories, _, err := svc.ListRecent(context.Background(), store.EventFilter{}, 10, "")
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestListRecentPaginates(t *testing.T) {
	fake := newFakeEventStore()
	svc := newTestService(fake)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := fake.InsertEvent(context.Background(), &store.Event{
			TS:      base.Add(time.Duration(i) * time.Minute),
			Content: map[string]any{"text": "note"},
		}, "")
		require.NoError(t, err)
	}

	page1, cursor, err := svc.ListRecent(context.Background(), store.EventFilter{}, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)

	page2, cursor2, err := svc.ListRecent(context.Background(), store.EventFilter{}, 2, cursor)
	require.NoError(t, err)
	require.Len(t, page2, 2)

	// Newest first, no overlap between pages.
	assert.True(t, page1[0].CreatedAt.After(page1[1].CreatedAt))
	assert.NotEqual(t, page1[1].ID, page2[0].ID)
	require.NotEmpty(t, cursor2)
}

func TestSearchMemoriesScoresViews(t *testing.T) {
	fake := newFakeEventStore()
	svc := newTestService(fake)

	a, err := fake.InsertEvent(context.Background(), &store.Event{
		Content:  map[string]any{"text": "retrieval design review\nfull notes below"},
		Metadata: map[string]any{store.MetaMemoryType: "note"},
	}, "")
	require.NoError(t, err)
	b, err := fake.InsertEvent(context.Background(), &store.Event{
		Content: map[string]any{"text": "unrelated grocery list"},
	}, "")
	require.NoError(t, err)

	fake.lexicalHits = []store.LexicalHit{{ID: a.String(), Score: 0.9}, {ID: b.String(), Score: 0.2}}
	fake.vectorHits = []store.VectorHit{{ID: a.String(), Distance: 0.1}}

	memories, resp, err := svc.SearchMemories(context.Background(), "retrieval design", store.EventFilter{}, 10)
	require.NoError(t, err)
	require.Len(t, memories, 2)

	assert.Equal(t, a, memories[0].ID)
	assert.Equal(t, "retrieval design review", memories[0].Title)
	assert.Greater(t, memories[0].Score, memories[1].Score)
	assert.False(t, resp.Degraded)
}

func TestSearchMemoriesDropsTombstones(t *testing.T) {
	fake := newFakeEventStore()
	svc := newTestService(fake)

	id, err := fake.InsertEvent(context.Background(), &store.Event{
		Content: map[string]any{"text": "soon deleted"},
	}, "")
	require.NoError(t, err)
	require.NoError(t, fake.SoftDeleteEvent(context.Background(), id))
	fake.lexicalHits = []store.LexicalHit{{ID: id.String(), Score: 0.9}}

	memories, _, err := svc.SearchMemories(context.Background(), "deleted", store.EventFilter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestFromEventProjection(t *testing.T) {
	ev := &store.Event{
		ID:      uuid.New(),
		TS:      time.Now(),
		Content: map[string]any{"text": "first line here\nsecond line"},
		Metadata: map[string]any{
			store.MetaMemoryType: "decision",
			store.MetaTags:       []any{"go", "infra"},
			store.MetaProject:    "mnemolite",
			store.MetaAuthor:     "dev",
		},
	}
	m := FromEvent(ev)
	assert.Equal(t, "first line here", m.Title)
	assert.Equal(t, "decision", m.MemoryType)
	assert.Equal(t, []string{"go", "infra"}, m.Tags)
	assert.Equal(t, "mnemolite", m.Project)
	assert.Contains(t, m.Preview, "second line")
}

func TestDeriveSlug(t *testing.T) {
	tmp := t.TempDir()
	repo := filepath.Join(tmp, "MyProject")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0o755))
	nested := filepath.Join(repo, "src", "deep")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	slug, err := DeriveSlug(nested)
	require.NoError(t, err)
	assert.Equal(t, "myproject", slug)

	// Sentinel directories walk up to the parent.
	claudeDir := filepath.Join(tmp, "Workspace", ".claude")
	require.NoError(t, os.MkdirAll(claudeDir, 0o755))
	slug, err = DeriveSlug(claudeDir)
	require.NoError(t, err)
	assert.Equal(t, "workspace", slug)

	// No repository: plain basename, lower-cased.
	plain := filepath.Join(tmp, "Notes")
	require.NoError(t, os.MkdirAll(plain, 0o755))
	slug, err = DeriveSlug(plain)
	require.NoError(t, err)
	assert.Equal(t, "notes", slug)

	_, err = DeriveSlug("")
	assert.True(t, mnerr.IsKind(err, mnerr.KindBadRequest))
}

func TestResolveProjectUpserts(t *testing.T) {
	fake := newFakeEventStore()
	svc := newTestService(fake)

	tmp := t.TempDir()
	dir := filepath.Join(tmp, "Demo")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	slug, err := svc.ResolveProject(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "demo", slug)
	assert.Equal(t, dir, fake.projects["demo"])
}
