package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// schemaTemplate creates everything except the events table, which depends
// on the partitioning choice. No physical foreign keys between nodes and
// edges; integrity is application-enforced and checked by Reconcile.
const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS nodes (
  node_id    TEXT PRIMARY KEY,
  node_type  TEXT NOT NULL,
  label      TEXT NOT NULL DEFAULT '',
  properties JSONB NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS nodes_type_idx ON nodes (node_type);

CREATE TABLE IF NOT EXISTS edges (
  edge_id        TEXT PRIMARY KEY,
  source_node_id TEXT NOT NULL,
  target_node_id TEXT NOT NULL,
  relation_type  TEXT NOT NULL,
  properties     JSONB NOT NULL DEFAULT '{}',
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS edges_src_tgt_type_uidx
  ON edges (source_node_id, target_node_id, relation_type);
CREATE INDEX IF NOT EXISTS edges_source_idx ON edges (source_node_id);
CREATE INDEX IF NOT EXISTS edges_target_idx ON edges (target_node_id);
CREATE INDEX IF NOT EXISTS edges_relation_idx ON edges (relation_type);

CREATE TABLE IF NOT EXISTS code_chunks (
  id             TEXT PRIMARY KEY,
  repository     TEXT NOT NULL,
  file_path      TEXT NOT NULL,
  language       TEXT NOT NULL DEFAULT '',
  chunk_type     TEXT NOT NULL,
  content        TEXT NOT NULL,
  content_hash   TEXT NOT NULL,
  embedding_text vector(%[1]d),
  embedding_code vector(%[1]d),
  name_path      TEXT[] NOT NULL DEFAULT '{}',
  line_start     INT NOT NULL DEFAULT 0,
  line_end       INT NOT NULL DEFAULT 0,
  metadata       JSONB NOT NULL DEFAULT '{}',
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS code_chunks_repo_idx ON code_chunks (repository);
CREATE INDEX IF NOT EXISTS code_chunks_repo_path_idx ON code_chunks (repository, file_path);
CREATE INDEX IF NOT EXISTS code_chunks_content_trgm_idx
  ON code_chunks USING GIN (content gin_trgm_ops);
CREATE INDEX IF NOT EXISTS code_chunks_emb_text_idx
  ON code_chunks USING hnsw (embedding_text vector_cosine_ops);
CREATE INDEX IF NOT EXISTS code_chunks_emb_code_idx
  ON code_chunks USING hnsw (embedding_code vector_cosine_ops);

CREATE TABLE IF NOT EXISTS indexing_errors (
  error_id        BIGSERIAL PRIMARY KEY,
  repository      TEXT NOT NULL,
  file_path       TEXT NOT NULL,
  error_type      TEXT NOT NULL CHECK (error_type IN
    ('parse','encoding','chunking','embedding','persistence')),
  error_message   TEXT NOT NULL,
  error_traceback TEXT NOT NULL DEFAULT '',
  chunk_type      TEXT NOT NULL DEFAULT '',
  language        TEXT NOT NULL DEFAULT '',
  occurred_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS indexing_errors_repo_idx ON indexing_errors (repository);

CREATE TABLE IF NOT EXISTS projects (
  slug        TEXT PRIMARY KEY,
  origin_path TEXT NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS event_fingerprints (
  fingerprint TEXT PRIMARY KEY,
  event_id    UUID NOT NULL,
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const eventsPlain = `
CREATE TABLE IF NOT EXISTS events (
  id        UUID PRIMARY KEY,
  ts        TIMESTAMPTZ NOT NULL,
  content   JSONB NOT NULL,
  embedding vector(%d),
  metadata  JSONB NOT NULL DEFAULT '{}'
);
`

const eventsPartitioned = `
CREATE TABLE IF NOT EXISTS events (
  id        UUID NOT NULL,
  ts        TIMESTAMPTZ NOT NULL,
  content   JSONB NOT NULL,
  embedding vector(%d),
  metadata  JSONB NOT NULL DEFAULT '{}',
  PRIMARY KEY (id, ts)
) PARTITION BY RANGE (ts);
`

const eventsIndexes = `
CREATE INDEX IF NOT EXISTS events_ts_idx ON events (ts DESC);
CREATE INDEX IF NOT EXISTS events_metadata_gin ON events USING GIN (metadata);
`

// The HNSW index cannot be created on a partitioned parent; per-partition
// indexes inherit from the partitioned index in recent Postgres versions,
// so plain and partitioned layouts share the same statement.
const eventsVectorIndex = `
CREATE INDEX IF NOT EXISTS events_embedding_hnsw
  ON events USING hnsw (embedding vector_cosine_ops);
`

// Migrate applies schema setup. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	eventsDDL := eventsPlain
	if s.cfg.PartitioningEnabled {
		eventsDDL = eventsPartitioned
	}

	stmts := fmt.Sprintf(schemaTemplate, s.dim) +
		fmt.Sprintf(eventsDDL, s.dim) +
		eventsIndexes

	if _, err := conn.Exec(ctx, stmts); err != nil {
		return mapError(err)
	}

	if s.cfg.PartitioningEnabled {
		// Current and next month so inserts near a boundary never race
		// partition creation.
		now := time.Now().UTC()
		if err := s.ensurePartition(ctx, conn, now); err != nil {
			return err
		}
		if err := s.ensurePartition(ctx, conn, now.AddDate(0, 1, 0)); err != nil {
			return err
		}
	}

	if _, err := conn.Exec(ctx, eventsVectorIndex); err != nil {
		return mapError(err)
	}
	return nil
}

// EnsurePartition creates the monthly partition covering ts when
// partitioning is enabled. No-op otherwise.
func (s *Store) EnsurePartition(ctx context.Context, ts time.Time) error {
	if !s.cfg.PartitioningEnabled {
		return nil
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return s.ensurePartition(ctx, conn, ts)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) ensurePartition(ctx context.Context, q execer, ts time.Time) error {
	name, from, to := partitionBounds(ts)
	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF events
		 FOR VALUES FROM ('%s') TO ('%s')`, name, from, to)
	if _, err := q.Exec(ctx, ddl); err != nil {
		return mapError(err)
	}
	return nil
}

// partitionBounds names the monthly partition covering ts and its
// half-open date range.
func partitionBounds(ts time.Time) (name, from, to string) {
	start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return "events_" + start.Format("2006_01"), start.Format("2006-01-02"), end.Format("2006-01-02")
}
