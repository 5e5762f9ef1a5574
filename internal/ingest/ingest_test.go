package ingest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/memory"
	"github.com/mnemolite/mnemolite/internal/store"
)

type fakeWriter struct {
	inserts []memory.WriteRequest
	claims  map[string]uuid.UUID
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{claims: map[string]uuid.UUID{}}
}

func (f *fakeWriter) InsertEvent(_ context.Context, req memory.WriteRequest) (uuid.UUID, error) {
	if req.Fingerprint != "" {
		if id, ok := f.claims[req.Fingerprint]; ok {
			return id, nil
		}
	}
	f.inserts = append(f.inserts, req)
	id := uuid.New()
	if req.Fingerprint != "" {
		f.claims[req.Fingerprint] = id
	}
	return id, nil
}

func (f *fakeWriter) ResolveProject(_ context.Context, originPath string) (string, error) {
	return "demo", nil
}

func TestDecodeContentText(t *testing.T) {
	c, err := DecodeContent(json.RawMessage(`"hello world"`))
	require.NoError(t, err)
	assert.Equal(t, ContentText, c.Variant)
	assert.Equal(t, "hello world", c.Text)
}

func TestDecodeContentStructured(t *testing.T) {
	raw := json.RawMessage(`[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]`)
	c, err := DecodeContent(raw)
	require.NoError(t, err)
	assert.Equal(t, ContentStructured, c.Variant)
	assert.Equal(t, "part one\npart two", c.Text)
}

func TestDecodeContentToolResult(t *testing.T) {
	raw := json.RawMessage(`[{"type":"tool_result","content":"ls output"}]`)
	c, err := DecodeContent(raw)
	require.NoError(t, err)
	assert.Equal(t, ContentToolResult, c.Variant)
}

func TestDecodeContentRejectsScalars(t *testing.T) {
	for _, raw := range []string{`42`, `{"k":"v"}`, `null`, ``} {
		_, err := DecodeContent(json.RawMessage(raw))
		assert.True(t, mnerr.IsKind(err, mnerr.KindBadRequest), "input %q", raw)
	}
}

func TestAcceptFiltersUserToolResults(t *testing.T) {
	tool := &Content{Variant: ContentToolResult, Text: "output"}
	assert.False(t, Accept(KindUser, tool))
	assert.True(t, Accept(KindAssistant, tool))

	text := &Content{Variant: ContentText, Text: "hi"}
	assert.True(t, Accept(KindUser, text))
	assert.False(t, Accept(KindUser, &Content{Variant: ContentText}))
}

func TestHandleStoresConversation(t *testing.T) {
	writer := newFakeWriter()
	in := NewIngestor(writer, nil)

	msg := &Message{
		TranscriptPath: "/sessions/abc.jsonl",
		SessionID:      "abc",
		ProjectOrigin:  "/home/dev/demo",
		Kind:           KindUser,
		Content:        json.RawMessage(`"how do I paginate events?"`),
	}
	id, accepted, err := in.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.NotEqual(t, uuid.Nil, id)

	require.Len(t, writer.inserts, 1)
	req := writer.inserts[0]
	assert.Equal(t, "how do I paginate events?", req.Content["text"])
	assert.Equal(t, "conversation", req.Metadata[store.MetaMemoryType])
	assert.Equal(t, "abc", req.Metadata[store.MetaSessionID])
	assert.Equal(t, "demo", req.Metadata[store.MetaProject])
	assert.Equal(t, "user", req.Metadata[store.MetaAuthor])
	assert.NotEmpty(t, req.Fingerprint)
}

func TestHandleFiltersUserToolResult(t *testing.T) {
	writer := newFakeWriter()
	in := NewIngestor(writer, nil)

	msg := &Message{
		SessionID: "abc",
		Kind:      KindUser,
		Content:   json.RawMessage(`[{"type":"tool_result","content":"raw tool output"}]`),
	}
	_, accepted, err := in.Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Empty(t, writer.inserts)
}

func TestHandleRedeliveryIsNoOp(t *testing.T) {
	writer := newFakeWriter()
	in := NewIngestor(writer, nil)

	msg := &Message{
		TranscriptPath: "/sessions/abc.jsonl",
		SessionID:      "abc",
		Kind:           KindAssistant,
		Content:        json.RawMessage(`"the cursor encodes ts and id"`),
	}
	first, _, err := in.Handle(context.Background(), msg)
	require.NoError(t, err)
	second, _, err := in.Handle(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, writer.inserts, 1)
}

func TestHandleRejectsUnknownKind(t *testing.T) {
	in := NewIngestor(newFakeWriter(), nil)
	_, _, err := in.Handle(context.Background(), &Message{
		Kind:    MessageKind("system"),
		Content: json.RawMessage(`"x"`),
	})
	assert.True(t, mnerr.IsKind(err, mnerr.KindBadRequest))
}
