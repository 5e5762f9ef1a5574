package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

// UpsertChunks writes chunks in a single transaction. The chunk id is the
// stable fingerprint, so re-indexing an unchanged chunk overwrites in place.
func (s *Store) UpsertChunks(ctx context.Context, chunks []*CodeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := s.validateChunks(chunks); err != nil {
		return err
	}
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return upsertChunksTx(ctx, tx, chunks)
	})
}

func (s *Store) validateChunks(chunks []*CodeChunk) error {
	for _, c := range chunks {
		if c.ID == "" {
			return mnerr.New(mnerr.KindBadRequest, "chunk fingerprint is required")
		}
		if err := s.checkDim(c.EmbeddingText); err != nil {
			return err
		}
		if err := s.checkDim(c.EmbeddingCode); err != nil {
			return err
		}
	}
	return nil
}

func upsertChunksTx(ctx context.Context, tx pgx.Tx, chunks []*CodeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta := c.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO code_chunks
			   (id, repository, file_path, language, chunk_type, content, content_hash,
			    embedding_text, embedding_code, name_path, line_start, line_end, metadata)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			 ON CONFLICT (id) DO UPDATE SET
			   content        = EXCLUDED.content,
			   content_hash   = EXCLUDED.content_hash,
			   embedding_text = EXCLUDED.embedding_text,
			   embedding_code = EXCLUDED.embedding_code,
			   name_path      = EXCLUDED.name_path,
			   line_start     = EXCLUDED.line_start,
			   line_end       = EXCLUDED.line_end,
			   metadata       = EXCLUDED.metadata`,
			c.ID, c.Repository, c.FilePath, c.Language, string(c.ChunkType),
			c.Content, c.ContentHash,
			vectorArg(c.EmbeddingText), vectorArg(c.EmbeddingCode),
			c.NamePath, c.LineStart, c.LineEnd, meta)
	}
	br := tx.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return mapError(err)
		}
	}
	return nil
}

// PersistFileIndex applies one file's complete indexing result in a single
// transaction: fresh chunks upserted, stale chunks deleted, and the file's
// graph contribution replaced. A failure anywhere rolls everything back, so
// a file is never left with chunks from one run and graph rows from another.
func (s *Store) PersistFileIndex(ctx context.Context, repository, filePath string, fresh []*CodeChunk, staleIDs []string, nodes []*GraphNode, edges []*GraphEdge) error {
	if err := s.validateChunks(fresh); err != nil {
		return err
	}
	for _, e := range edges {
		if !KnownEdgeTypes[e.EdgeType] {
			return mnerr.Newf(mnerr.KindBadRequest, "unknown edge type %q", e.EdgeType)
		}
	}
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := upsertChunksTx(ctx, tx, fresh); err != nil {
			return err
		}
		if len(staleIDs) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM code_chunks WHERE id = ANY($1)`, staleIDs); err != nil {
				return mapError(err)
			}
		}
		return replaceFileGraphTx(ctx, tx, repository, filePath, nodes, edges)
	})
}

// FileFingerprints returns the set of chunk ids currently stored for a file.
// Used to diff against freshly chunked content during re-indexing.
func (s *Store) FileFingerprints(ctx context.Context, repository, filePath string) (map[string]struct{}, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx,
		`SELECT id FROM code_chunks WHERE repository = $1 AND file_path = $2`,
		repository, filePath)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		out[id] = struct{}{}
	}
	return out, mapError(rows.Err())
}

// DeleteChunks removes chunks by fingerprint.
func (s *Store) DeleteChunks(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM code_chunks WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteFileChunks removes every chunk of a file, for deleted source files.
func (s *Store) DeleteFileChunks(ctx context.Context, repository, filePath string) (int64, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx,
		`DELETE FROM code_chunks WHERE repository = $1 AND file_path = $2`,
		repository, filePath)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}

// PurgeRepository removes all chunks, graph rows, and indexing errors for a
// repository in one transaction.
func (s *Store) PurgeRepository(ctx context.Context, repository string) error {
	if repository == "" {
		return mnerr.New(mnerr.KindBadRequest, "repository is required")
	}
	return s.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM edges WHERE properties->>'repository' = $1`,
			`DELETE FROM nodes WHERE properties->>'repository' = $1`,
			`DELETE FROM code_chunks WHERE repository = $1`,
			`DELETE FROM indexing_errors WHERE repository = $1`,
		} {
			if _, err := tx.Exec(ctx, q, repository); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// GetChunk fetches a chunk by fingerprint.
func (s *Store) GetChunk(ctx context.Context, id string) (*CodeChunk, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, chunkSelect+` WHERE id = $1`, id)
	return scanChunk(row)
}

const chunkSelect = `SELECT id, repository, file_path, language, chunk_type, content,
  content_hash, name_path, line_start, line_end, metadata FROM code_chunks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*CodeChunk, error) {
	var c CodeChunk
	var chunkType string
	err := row.Scan(&c.ID, &c.Repository, &c.FilePath, &c.Language, &chunkType,
		&c.Content, &c.ContentHash, &c.NamePath, &c.LineStart, &c.LineEnd, &c.Metadata)
	if err != nil {
		return nil, mapError(err)
	}
	c.ChunkType = ChunkType(chunkType)
	return &c, nil
}

// GetChunksByID fetches multiple chunks, preserving no particular order.
func (s *Store) GetChunksByID(ctx context.Context, ids []string) (map[string]*CodeChunk, error) {
	if len(ids) == 0 {
		return map[string]*CodeChunk{}, nil
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, chunkSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make(map[string]*CodeChunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, mapError(rows.Err())
}

// chunkWhere builds filter predicates for chunk queries.
func chunkWhere(filter ChunkFilter) ([]string, []any) {
	var where []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, placeholder(len(args))))
	}

	if filter.Repository != "" {
		add(`repository = %s`, filter.Repository)
	}
	if filter.Language != "" {
		add(`language = %s`, filter.Language)
	}
	if filter.ChunkType != "" {
		add(`chunk_type = %s`, string(filter.ChunkType))
	}
	return where, args
}

// SearchChunksLexical returns trigram-similarity candidates over chunk text.
func (s *Store) SearchChunksLexical(ctx context.Context, query string, filter ChunkFilter, limit int) ([]LexicalHit, error) {
	where, args := chunkWhere(filter)
	args = append(args, query)
	qp := placeholder(len(args))
	where = append(where, fmt.Sprintf(`similarity(content, %s) > 0.05`, qp))

	sql := fmt.Sprintf(
		`SELECT id, similarity(content, %s) AS score
		 FROM code_chunks WHERE %s ORDER BY score DESC, id ASC LIMIT %d`,
		qp, strings.Join(where, " AND "), limit)

	return s.lexicalQuery(ctx, sql, args)
}

// SearchChunksVector returns cosine k-NN candidates for one embedding channel.
func (s *Store) SearchChunksVector(ctx context.Context, vec []float32, channel string, filter ChunkFilter, limit int) ([]VectorHit, error) {
	if err := s.checkDim(vec); err != nil {
		return nil, err
	}
	column := "embedding_text"
	if channel == "code" {
		column = "embedding_code"
	}

	where, args := chunkWhere(filter)
	where = append(where, column+" IS NOT NULL")
	args = append(args, vectorArg(vec))
	qp := placeholder(len(args))

	sql := fmt.Sprintf(
		`SELECT id, %s <=> %s AS distance
		 FROM code_chunks WHERE %s ORDER BY distance ASC, id ASC LIMIT %d`,
		column, qp, strings.Join(where, " AND "), limit)

	return s.vectorQuery(ctx, sql, args)
}

// RepositoryStats reports chunk, node, edge, and error counts.
func (s *Store) RepositoryStats(ctx context.Context, repository string) (*GraphStats, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	st := &GraphStats{Repository: repository}
	err = conn.QueryRow(ctx, `
		SELECT
		  (SELECT count(*) FROM code_chunks WHERE repository = $1),
		  (SELECT count(*) FROM nodes WHERE properties->>'repository' = $1),
		  (SELECT count(*) FROM edges WHERE properties->>'repository' = $1),
		  (SELECT count(*) FROM indexing_errors WHERE repository = $1)`,
		repository).Scan(&st.Chunks, &st.Nodes, &st.Edges, &st.Errors)
	if err != nil {
		return nil, mapError(err)
	}
	return st, nil
}
