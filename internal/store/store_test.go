package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

func TestCursorRoundTrip(t *testing.T) {
	orig := Cursor{
		TS: time.Date(2025, 3, 14, 9, 26, 53, 589793238, time.UTC),
		ID: uuid.New(),
	}

	encoded := orig.Encode()
	decoded, err := DecodeCursor(encoded)
	require.NoError(t, err)

	assert.True(t, orig.TS.Equal(decoded.TS))
	assert.Equal(t, orig.ID, decoded.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, input := range []string{
		"not base64 !!!",
		"aGVsbG8",          // valid base64, no separator
		"bm90YW51bWJlcjp4", // "notanumber:x"
	} {
		_, err := DecodeCursor(input)
		assert.True(t, mnerr.IsKind(err, mnerr.KindBadRequest), "input %q", input)
	}
}

func TestEventWhereBuildsPredicates(t *testing.T) {
	where, args := eventWhere(EventFilter{
		MemoryType: "insight",
		Project:    "mnemolite",
		Tags:       []string{"go", "search"},
	})

	require.Len(t, where, 4) // tombstone guard + three filters
	assert.Contains(t, where[0], "deleted")
	assert.Len(t, args, 3)
}

func TestEventWhereIncludeDeleted(t *testing.T) {
	where, _ := eventWhere(EventFilter{IncludeDeleted: true})
	assert.Empty(t, where)
}

func TestChunkWhere(t *testing.T) {
	where, args := chunkWhere(ChunkFilter{Repository: "repo", ChunkType: ChunkTypeBarrel})
	assert.Equal(t, []string{"repository = $1", "chunk_type = $2"}, where)
	assert.Equal(t, []any{"repo", "barrel"}, args)
}

func TestEventDeleted(t *testing.T) {
	ev := &Event{Metadata: map[string]any{MetaDeleted: true}}
	assert.True(t, ev.Deleted())

	ev = &Event{Metadata: map[string]any{MetaDeleted: "yes"}}
	assert.False(t, ev.Deleted())

	ev = &Event{Metadata: map[string]any{}}
	assert.False(t, ev.Deleted())
}

func TestCheckDim(t *testing.T) {
	s := &Store{dim: 4}

	assert.NoError(t, s.checkDim(nil))
	assert.NoError(t, s.checkDim([]float32{1, 2, 3, 4}))

	err := s.checkDim([]float32{1, 2})
	assert.True(t, mnerr.IsKind(err, mnerr.KindBadRequest))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want mnerr.Kind
	}{
		{"nil stays nil", nil, ""},
		{"deadline", context.DeadlineExceeded, mnerr.KindDeadlineExceeded},
		{"canceled", context.Canceled, mnerr.KindDeadlineExceeded},
		{"no rows", pgx.ErrNoRows, mnerr.KindNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, mnerr.KindIntegrityConflict},
		{"data exception", &pgconn.PgError{Code: "22000"}, mnerr.KindBadRequest},
		{"connection failure", &pgconn.PgError{Code: "08006"}, mnerr.KindStoreUnavailable},
		{"shutdown", &pgconn.PgError{Code: "57P01"}, mnerr.KindStoreUnavailable},
		{"other pg error", &pgconn.PgError{Code: "42601"}, mnerr.KindInternal},
		{"transport error", errors.New("broken pipe"), mnerr.KindStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.in)
			if tt.in == nil {
				assert.NoError(t, got)
				return
			}
			assert.True(t, mnerr.IsKind(got, tt.want), "got %v", got)
		})
	}
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "$1", placeholder(1))
	assert.Equal(t, "$13", placeholder(13))
}

func TestSchemaTemplateDimension(t *testing.T) {
	rendered := fmt.Sprintf(schemaTemplate, 768)
	assert.Contains(t, rendered, "vector(768)")
	assert.NotContains(t, rendered, "%[1]d")
}

func TestMonthlyPartitionBounds(t *testing.T) {
	name, from, to := partitionBounds(time.Date(2025, 12, 31, 23, 59, 0, 0, time.UTC))
	assert.Equal(t, "events_2025_12", name)
	assert.Equal(t, "2025-12-01", from)
	assert.Equal(t, "2026-01-01", to)
}
