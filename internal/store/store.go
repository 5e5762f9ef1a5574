package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mnemolite/mnemolite/internal/config"
	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

// Store is the gateway to Postgres. All durable reads and writes go through
// it; every write is framed in a transaction at read-committed or stronger.
type Store struct {
	pool *pgxpool.Pool
	cfg  config.StoreConfig

	// dim is the process-wide embedding dimension. Vector writes with a
	// different dimension are rejected before they reach the wire.
	dim int
}

// New connects to the database and configures the bounded pool.
// Call Migrate before first use.
func New(ctx context.Context, cfg config.StoreConfig, dim int) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, mnerr.Wrapf(mnerr.KindBadRequest, err, "invalid database url")
	}
	pc.MaxConns = int32(cfg.MaxConns)
	pc.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.KindStoreUnavailable, err)
	}

	return &Store{pool: pool, cfg: cfg, dim: dim}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Dim returns the configured embedding dimension.
func (s *Store) Dim() int { return s.dim }

// Ping checks store reachability.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return mnerr.Wrap(mnerr.KindStoreUnavailable, err)
	}
	return nil
}

// acquire checks out a connection, bounding the wait so one slow caller
// cannot exhaust the pool for everyone else.
func (s *Store) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	timeout := s.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	acqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := s.pool.Acquire(acqCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, mnerr.Wrap(mnerr.KindDeadlineExceeded, ctx.Err())
		}
		return nil, mnerr.Wrapf(mnerr.KindStoreUnavailable, err, "pool acquisition timed out")
	}
	return conn, nil
}

// WithTx runs fn inside a transaction on a dedicated connection.
// The transaction is rolled back on error or context cancellation.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// checkDim rejects vectors whose dimension differs from the configured one.
// A nil vector is allowed (embeddings are optional).
func (s *Store) checkDim(vec []float32) error {
	if vec != nil && len(vec) != s.dim {
		return mnerr.Newf(mnerr.KindBadRequest,
			"embedding dimension %d does not match configured dimension %d", len(vec), s.dim)
	}
	return nil
}

// mapError classifies a driver error into the stable taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return mnerr.Wrap(mnerr.KindDeadlineExceeded, err)
	}
	if stderrors.Is(err, pgx.ErrNoRows) {
		return mnerr.Wrap(mnerr.KindNotFound, err)
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return mnerr.Wrapf(mnerr.KindIntegrityConflict, err, "unique constraint %s violated", pgErr.ConstraintName)
		case pgErr.Code[:2] == "22":
			// Data exceptions, including vector dimension mismatches.
			return mnerr.Wrap(mnerr.KindBadRequest, err)
		case pgErr.Code[:2] == "08" || pgErr.Code[:2] == "57":
			return mnerr.Wrap(mnerr.KindStoreUnavailable, err)
		}
		return mnerr.Wrap(mnerr.KindInternal, err)
	}

	// Everything else at this layer is a transport-level failure.
	return mnerr.Wrap(mnerr.KindStoreUnavailable, err)
}

// placeholder formats $n for dynamically built WHERE clauses.
func placeholder(n int) string { return fmt.Sprintf("$%d", n) }
