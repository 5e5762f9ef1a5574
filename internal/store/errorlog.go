package store

import (
	"context"
	"fmt"
	"strings"
)

// RecordIndexingError appends a per-file failure. The log is append-only and
// never blocks the indexing run that produced it.
func (s *Store) RecordIndexingError(ctx context.Context, ie *IndexingError) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`INSERT INTO indexing_errors
		   (repository, file_path, error_type, error_message, error_traceback, chunk_type, language)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ie.Repository, ie.FilePath, string(ie.Kind), ie.Message, ie.Context, ie.ChunkType, ie.Language)
	return mapError(err)
}

// ListIndexingErrors returns recent failures for a repository, newest first,
// optionally constrained to one error kind.
func (s *Store) ListIndexingErrors(ctx context.Context, repository string, kind ErrorKind, limit int) ([]*IndexingError, error) {
	if limit <= 0 {
		limit = 100
	}

	where := []string{`repository = $1`}
	args := []any{repository}
	if kind != "" {
		args = append(args, string(kind))
		where = append(where, fmt.Sprintf(`error_type = %s`, placeholder(len(args))))
	}

	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, fmt.Sprintf(
		`SELECT error_id, repository, file_path, error_type, error_message,
		        error_traceback, chunk_type, language, occurred_at
		 FROM indexing_errors WHERE %s ORDER BY occurred_at DESC, error_id DESC LIMIT %d`,
		strings.Join(where, " AND "), limit), args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*IndexingError
	for rows.Next() {
		var ie IndexingError
		var errType string
		if err := rows.Scan(&ie.ID, &ie.Repository, &ie.FilePath, &errType, &ie.Message,
			&ie.Context, &ie.ChunkType, &ie.Language, &ie.OccurredAt); err != nil {
			return nil, mapError(err)
		}
		ie.Kind = ErrorKind(errType)
		out = append(out, &ie)
	}
	return out, mapError(rows.Err())
}
