// Package ingest accepts conversation transcripts from the auto-save
// collaborator and turns them into memory events. Messages arrive either
// over the service API or, when configured, from a Redis stream.
package ingest

import (
	"encoding/json"
	"strings"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

// MessageKind is the transcript role.
type MessageKind string

const (
	KindUser      MessageKind = "user"
	KindAssistant MessageKind = "assistant"
)

// Message is one transcript entry from the auto-save hook.
type Message struct {
	TranscriptPath string          `json:"transcript_path"`
	SessionID      string          `json:"session_id"`
	ProjectOrigin  string          `json:"project_origin"`
	Kind           MessageKind     `json:"message_kind"`
	Content        json.RawMessage `json:"content"`
}

// ContentVariant tags what a message body holds.
type ContentVariant string

const (
	ContentText       ContentVariant = "text"
	ContentStructured ContentVariant = "structured"
	ContentToolResult ContentVariant = "tool_result"
)

// Content is the decoded message body.
type Content struct {
	Variant ContentVariant
	Text    string
	Blocks  []map[string]any // structured and tool-result payloads
}

// DecodeContent classifies a raw content value. A plain JSON string is
// text; an array is structured, or tool_result when any entry carries a
// tool_result type tag; anything else is rejected.
func DecodeContent(raw json.RawMessage) (*Content, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, mnerr.New(mnerr.KindBadRequest, "message content is empty")
	}

	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, mnerr.Wrap(mnerr.KindBadRequest, err)
		}
		return &Content{Variant: ContentText, Text: text}, nil
	}

	if trimmed[0] == '[' {
		var blocks []map[string]any
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, mnerr.Wrap(mnerr.KindBadRequest, err)
		}
		c := &Content{Variant: ContentStructured, Blocks: blocks}
		for _, block := range blocks {
			if t, _ := block["type"].(string); t == "tool_result" {
				c.Variant = ContentToolResult
				break
			}
		}
		c.Text = blocksText(blocks)
		return c, nil
	}

	return nil, mnerr.New(mnerr.KindBadRequest, "message content must be a string or block array")
}

// blocksText concatenates the text blocks of a structured body.
func blocksText(blocks []map[string]any) string {
	var parts []string
	for _, block := range blocks {
		if t, _ := block["type"].(string); t != "text" {
			continue
		}
		if s, ok := block["text"].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Accept reports whether a message should be persisted. Tool results
// forwarded under the user role are machine output, not conversation.
func Accept(kind MessageKind, c *Content) bool {
	if kind == KindUser && c.Variant == ContentToolResult {
		return false
	}
	return strings.TrimSpace(c.Text) != "" || c.Variant == ContentStructured
}
