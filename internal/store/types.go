// Package store is the sole path to durable storage. It provides typed
// commands and queries against Postgres (with the pgvector and pg_trgm
// extensions), a bounded connection pool with per-call acquisition timeouts,
// and schema plus partition setup at startup.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Metadata keys with fixed meaning across the event store.
const (
	MetaTags        = "tags"
	MetaSource      = "source"
	MetaType        = "type"
	MetaSessionID   = "session_id"
	MetaMemoryType  = "memory_type"
	MetaProject     = "project"
	MetaAuthor      = "author"
	MetaTitle       = "title"
	MetaDeleted     = "deleted"
	MetaFingerprint = "fingerprint"
)

// Event is an atomic, time-ordered record with a JSONB payload and an
// optional dense embedding. Immutable after insert except for metadata.
type Event struct {
	ID        uuid.UUID
	TS        time.Time
	Content   map[string]any
	Embedding []float32
	Metadata  map[string]any
}

// Deleted reports whether the event carries a tombstone.
func (e *Event) Deleted() bool {
	v, ok := e.Metadata[MetaDeleted].(bool)
	return ok && v
}

// ChunkType classifies a code chunk.
type ChunkType string

const (
	ChunkTypeFunction     ChunkType = "function"
	ChunkTypeMethod       ChunkType = "method"
	ChunkTypeClass        ChunkType = "class"
	ChunkTypeType         ChunkType = "type"
	ChunkTypeConfigModule ChunkType = "config_module"
	ChunkTypeBarrel       ChunkType = "barrel"
)

// CodeChunk is an indexed fragment of source with stable fingerprint identity.
type CodeChunk struct {
	ID            string // fingerprint of (repo, path, lang, type, name_path, content_hash)
	Repository    string
	FilePath      string
	Language      string
	ChunkType     ChunkType
	Content       string
	ContentHash   string
	EmbeddingText []float32 // optional
	EmbeddingCode []float32 // optional
	NamePath      []string  // ordered ancestor names
	LineStart     int
	LineEnd       int
	Metadata      map[string]any
}

// NodeType classifies a graph node.
type NodeType string

const (
	NodeTypeSymbol  NodeType = "symbol"
	NodeTypeModule  NodeType = "module"
	NodeTypeFile    NodeType = "file"
	NodeTypeConcept NodeType = "concept"
)

// GraphNode is a symbol-level node derived from a chunk, or a synthetic
// module node for barrels and configs. Non-synthetic node IDs equal their
// originating chunk ID.
type GraphNode struct {
	ID         string
	NodeType   NodeType
	Label      string
	Properties map[string]any
	CreatedAt  time.Time
}

// EdgeType is the closed vocabulary of graph relations.
type EdgeType string

const (
	EdgeTypeCalls     EdgeType = "calls"
	EdgeTypeImports   EdgeType = "imports"
	EdgeTypeInherits  EdgeType = "inherits"
	EdgeTypeReExports EdgeType = "re_exports"
	EdgeTypeContains  EdgeType = "contains"
)

// KnownEdgeTypes lists every valid edge type.
var KnownEdgeTypes = map[EdgeType]bool{
	EdgeTypeCalls:     true,
	EdgeTypeImports:   true,
	EdgeTypeInherits:  true,
	EdgeTypeReExports: true,
	EdgeTypeContains:  true,
}

// GraphEdge is a directed relation between two nodes.
// (Source, Target, EdgeType) is unique; duplicates coalesce on upsert.
type GraphEdge struct {
	ID         string
	Source     string
	Target     string
	EdgeType   EdgeType
	Properties map[string]any
	CreatedAt  time.Time
}

// ErrorKind classifies a per-file indexing failure.
type ErrorKind string

const (
	ErrorKindParse       ErrorKind = "parse"
	ErrorKindEncoding    ErrorKind = "encoding"
	ErrorKindChunking    ErrorKind = "chunking"
	ErrorKindEmbedding   ErrorKind = "embedding"
	ErrorKindPersistence ErrorKind = "persistence"
)

// IndexingError is an append-only per-file failure record.
type IndexingError struct {
	ID         int64
	Repository string
	FilePath   string
	Kind       ErrorKind
	Message    string
	Context    string
	ChunkType  string
	Language   string
	OccurredAt time.Time
}

// LexicalHit is one candidate from the lexical channel.
type LexicalHit struct {
	ID    string
	Score float64
}

// VectorHit is one candidate from the vector channel.
type VectorHit struct {
	ID       string
	Distance float64
}

// ChunkFilter narrows code-chunk queries. Zero values mean no constraint.
type ChunkFilter struct {
	Repository string
	Language   string
	ChunkType  ChunkType
}

// EventFilter narrows event queries. Zero values mean no constraint.
type EventFilter struct {
	MemoryType     string
	Project        string
	SessionID      string
	Tags           []string
	Since          time.Time
	Until          time.Time
	IncludeDeleted bool
}

// GraphStats summarizes a repository's graph.
type GraphStats struct {
	Repository string
	Chunks     int64
	Nodes      int64
	Edges      int64
	Errors     int64
	EdgeKinds  map[string]int64
}
