package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

// IdempotencyWindow is how long a client fingerprint suppresses duplicate
// event inserts.
const IdempotencyWindow = 24 * time.Hour

// vectorArg converts an optional embedding to a driver argument.
func vectorArg(vec []float32) any {
	if vec == nil {
		return (*pgvector.Vector)(nil)
	}
	v := pgvector.NewVector(vec)
	return &v
}

// InsertEvent persists an event. When fingerprint is non-empty, a repeat
// insert with the same fingerprint inside the idempotency window is a no-op
// and the existing identifier is returned.
func (s *Store) InsertEvent(ctx context.Context, ev *Event, fingerprint string) (uuid.UUID, error) {
	if err := s.checkDim(ev.Embedding); err != nil {
		return uuid.Nil, err
	}
	if ev.Content == nil {
		return uuid.Nil, mnerr.New(mnerr.KindBadRequest, "event payload is required")
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if ev.Metadata == nil {
		ev.Metadata = map[string]any{}
	}

	if err := s.EnsurePartition(ctx, ev.TS); err != nil {
		return uuid.Nil, err
	}

	id := ev.ID
	err := s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if fingerprint != "" {
			existing, ok, err := claimFingerprint(ctx, tx, fingerprint, ev.ID)
			if err != nil {
				return err
			}
			if ok {
				id = existing
				return nil
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO events (id, ts, content, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5)`,
			ev.ID, ev.TS, ev.Content, vectorArg(ev.Embedding), ev.Metadata)
		if err != nil {
			return mapError(err)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// claimFingerprint records the fingerprint or returns the already-claimed
// event id when a live claim exists. Expired claims are replaced.
func claimFingerprint(ctx context.Context, tx pgx.Tx, fingerprint string, id uuid.UUID) (uuid.UUID, bool, error) {
	var existingID uuid.UUID
	var createdAt time.Time
	err := tx.QueryRow(ctx,
		`SELECT event_id, created_at FROM event_fingerprints WHERE fingerprint = $1 FOR UPDATE`,
		fingerprint).Scan(&existingID, &createdAt)
	switch {
	case err == nil:
		if time.Since(createdAt) < IdempotencyWindow {
			return existingID, true, nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE event_fingerprints SET event_id = $2, created_at = now() WHERE fingerprint = $1`,
			fingerprint, id)
		return uuid.Nil, false, mapError(err)
	case err == pgx.ErrNoRows:
		_, err = tx.Exec(ctx,
			`INSERT INTO event_fingerprints (fingerprint, event_id) VALUES ($1, $2)`,
			fingerprint, id)
		return uuid.Nil, false, mapError(err)
	default:
		return uuid.Nil, false, mapError(err)
	}
}

// GetEvent fetches an event by identifier. Tombstoned events return
// KindNotFound unless includeDeleted is set.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID, includeDeleted bool) (*Event, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	var ev Event
	var emb *pgvector.Vector
	err = conn.QueryRow(ctx,
		`SELECT id, ts, content, embedding, metadata FROM events WHERE id = $1`,
		id).Scan(&ev.ID, &ev.TS, &ev.Content, &emb, &ev.Metadata)
	if err != nil {
		return nil, mapError(err)
	}
	if emb != nil {
		ev.Embedding = emb.Slice()
	}
	if ev.Deleted() && !includeDeleted {
		return nil, mnerr.Newf(mnerr.KindNotFound, "event %s is deleted", id)
	}
	return &ev, nil
}

// SoftDeleteEvent sets the tombstone flag in metadata. The record remains
// for audit but is excluded from default queries.
func (s *Store) SoftDeleteEvent(ctx context.Context, id uuid.UUID) error {
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE events SET metadata = metadata || jsonb_build_object($2::text, true) WHERE id = $1`,
			id, MetaDeleted)
		if err != nil {
			return mapError(err)
		}
		if tag.RowsAffected() == 0 {
			return mnerr.Newf(mnerr.KindNotFound, "event %s does not exist", id)
		}
		return nil
	})
}

// Cursor encodes a pagination position in the timestamp-descending listing.
type Cursor struct {
	TS time.Time
	ID uuid.UUID
}

// Encode produces the opaque wire form.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%d:%s", c.TS.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, mnerr.Wrapf(mnerr.KindBadRequest, err, "malformed cursor")
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return Cursor{}, mnerr.New(mnerr.KindBadRequest, "malformed cursor")
	}
	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return Cursor{}, mnerr.Wrapf(mnerr.KindBadRequest, err, "malformed cursor timestamp")
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return Cursor{}, mnerr.Wrapf(mnerr.KindBadRequest, err, "malformed cursor id")
	}
	return Cursor{TS: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ListRecent returns events ordered by timestamp descending, paginated by
// an opaque cursor. The returned cursor is empty when no more rows exist.
func (s *Store) ListRecent(ctx context.Context, filter EventFilter, limit int, cursor string) ([]*Event, string, error) {
	if limit <= 0 {
		limit = 20
	}

	where, args := eventWhere(filter)
	if cursor != "" {
		c, err := DecodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		where = append(where, fmt.Sprintf("(ts, id) < (%s, %s)",
			placeholder(len(args)+1), placeholder(len(args)+2)))
		args = append(args, c.TS, c.ID)
	}

	query := `SELECT id, ts, content, embedding, metadata FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY ts DESC, id DESC LIMIT %d", limit+1)

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, "", err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, "", mapError(err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var emb *pgvector.Vector
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Content, &emb, &ev.Metadata); err != nil {
			return nil, "", mapError(err)
		}
		if emb != nil {
			ev.Embedding = emb.Slice()
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, "", mapError(err)
	}

	next := ""
	if len(events) > limit {
		events = events[:limit]
		last := events[len(events)-1]
		next = Cursor{TS: last.TS, ID: last.ID}.Encode()
	}
	return events, next, nil
}

// eventWhere builds filter predicates shared by listing and search.
func eventWhere(filter EventFilter) ([]string, []any) {
	var where []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, placeholder(len(args))))
	}

	if !filter.IncludeDeleted {
		where = append(where, `NOT COALESCE((metadata->>'deleted')::bool, false)`)
	}
	if filter.MemoryType != "" {
		add(`metadata->>'memory_type' = %s`, filter.MemoryType)
	}
	if filter.Project != "" {
		add(`metadata->>'project' = %s`, filter.Project)
	}
	if filter.SessionID != "" {
		add(`metadata->>'session_id' = %s`, filter.SessionID)
	}
	if len(filter.Tags) > 0 {
		add(`metadata->'tags' @> to_jsonb(%s::text[])`, filter.Tags)
	}
	if !filter.Since.IsZero() {
		add(`ts >= %s`, filter.Since)
	}
	if !filter.Until.IsZero() {
		add(`ts < %s`, filter.Until)
	}
	return where, args
}

// SearchEventsLexical returns trigram-similarity candidates over event text.
// The searchable text is the payload's "text" field falling back to the
// whole payload rendering.
func (s *Store) SearchEventsLexical(ctx context.Context, query string, filter EventFilter, limit int) ([]LexicalHit, error) {
	where, args := eventWhere(filter)
	args = append(args, query)
	qp := placeholder(len(args))
	where = append(where, fmt.Sprintf(`similarity(COALESCE(content->>'text', content::text), %s) > 0.05`, qp))

	sql := fmt.Sprintf(
		`SELECT id::text, similarity(COALESCE(content->>'text', content::text), %s) AS score
		 FROM events WHERE %s ORDER BY score DESC, id ASC LIMIT %d`,
		qp, strings.Join(where, " AND "), limit)

	return s.lexicalQuery(ctx, sql, args)
}

// SearchEventsVector returns cosine k-NN candidates over event embeddings.
func (s *Store) SearchEventsVector(ctx context.Context, vec []float32, filter EventFilter, limit int) ([]VectorHit, error) {
	if err := s.checkDim(vec); err != nil {
		return nil, err
	}
	where, args := eventWhere(filter)
	where = append(where, "embedding IS NOT NULL")
	args = append(args, vectorArg(vec))
	qp := placeholder(len(args))

	sql := fmt.Sprintf(
		`SELECT id::text, embedding <=> %s AS distance
		 FROM events WHERE %s ORDER BY distance ASC, id ASC LIMIT %d`,
		qp, strings.Join(where, " AND "), limit)

	return s.vectorQuery(ctx, sql, args)
}

func (s *Store) lexicalQuery(ctx context.Context, sql string, args []any) ([]LexicalHit, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, mapError(err)
		}
		hits = append(hits, h)
	}
	return hits, mapError(rows.Err())
}

func (s *Store) vectorQuery(ctx context.Context, sql string, args []any) ([]VectorHit, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		if err := rows.Scan(&h.ID, &h.Distance); err != nil {
			return nil, mapError(err)
		}
		hits = append(hits, h)
	}
	return hits, mapError(rows.Err())
}

// GetEvents fetches multiple events by identifier, skipping missing ones.
func (s *Store) GetEvents(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Event, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*Event{}, nil
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT id, ts, content, embedding, metadata FROM events WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]*Event, len(ids))
	for rows.Next() {
		var ev Event
		var emb *pgvector.Vector
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Content, &emb, &ev.Metadata); err != nil {
			return nil, mapError(err)
		}
		if emb != nil {
			ev.Embedding = emb.Slice()
		}
		out[ev.ID] = &ev
	}
	return out, mapError(rows.Err())
}

// UpsertProject records a project slug to origin-path mapping.
func (s *Store) UpsertProject(ctx context.Context, slug, originPath string) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO projects (slug, origin_path) VALUES ($1, $2)
		 ON CONFLICT (slug) DO UPDATE SET origin_path = EXCLUDED.origin_path`,
		slug, originPath)
	return mapError(err)
}
