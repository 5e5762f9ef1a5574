package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/google/uuid"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/memory"
	"github.com/mnemolite/mnemolite/internal/store"
)

// MemoryWriter is the slice of the memory core the ingestor needs.
type MemoryWriter interface {
	InsertEvent(ctx context.Context, req memory.WriteRequest) (uuid.UUID, error)
	ResolveProject(ctx context.Context, originPath string) (string, error)
}

// Ingestor converts transcript messages into memory events.
type Ingestor struct {
	memories MemoryWriter
	logger   *slog.Logger
}

func NewIngestor(memories MemoryWriter, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{memories: memories, logger: logger}
}

// Handle processes one message. Filtered messages return accepted=false
// with a nil error; re-delivery of an already-stored message is a no-op
// through the fingerprint window.
func (in *Ingestor) Handle(ctx context.Context, msg *Message) (uuid.UUID, bool, error) {
	if msg.Kind != KindUser && msg.Kind != KindAssistant {
		return uuid.Nil, false, mnerr.Newf(mnerr.KindBadRequest, "unknown message kind %q", msg.Kind)
	}
	content, err := DecodeContent(msg.Content)
	if err != nil {
		return uuid.Nil, false, err
	}
	if !Accept(msg.Kind, content) {
		in.logger.Debug("message_filtered",
			slog.String("kind", string(msg.Kind)),
			slog.String("variant", string(content.Variant)))
		return uuid.Nil, false, nil
	}

	meta := map[string]any{
		store.MetaSource:     "auto_save",
		store.MetaMemoryType: "conversation",
		store.MetaAuthor:     string(msg.Kind),
	}
	if msg.SessionID != "" {
		meta[store.MetaSessionID] = msg.SessionID
	}
	if msg.ProjectOrigin != "" {
		slug, err := in.memories.ResolveProject(ctx, msg.ProjectOrigin)
		if err != nil {
			in.logger.Warn("project_resolve_failed",
				slog.String("origin", msg.ProjectOrigin),
				slog.String("error", err.Error()))
		} else {
			meta[store.MetaProject] = slug
		}
	}

	payload := map[string]any{"text": content.Text}
	if len(content.Blocks) > 0 {
		payload["blocks"] = content.Blocks
	}

	id, err := in.memories.InsertEvent(ctx, memory.WriteRequest{
		Content:     payload,
		Metadata:    meta,
		Fingerprint: messageFingerprint(msg),
	})
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// messageFingerprint keys redelivery dedup on the transcript identity plus
// the exact raw content.
func messageFingerprint(msg *Message) string {
	h := sha256.New()
	h.Write([]byte(msg.TranscriptPath))
	h.Write([]byte{0x1f})
	h.Write([]byte(msg.SessionID))
	h.Write([]byte{0x1f})
	h.Write([]byte(msg.Kind))
	h.Write([]byte{0x1f})
	h.Write(msg.Content)
	return hex.EncodeToString(h.Sum(nil))[:32]
}
