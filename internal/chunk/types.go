// Package chunk parses source files into language-typed chunks with stable
// fingerprint identity, and extracts per-language symbol metadata used as
// graph edge seeds.
package chunk

import (
	"github.com/mnemolite/mnemolite/internal/store"
)

// FileInput is one source file handed to the chunker.
type FileInput struct {
	Repository string
	Path       string
	Language   string // empty means detect from extension and content
	Content    []byte
}

// FileClass is the outcome of file classification.
type FileClass string

const (
	ClassStructural FileClass = "structural"
	ClassBarrel     FileClass = "barrel"
	ClassConfig     FileClass = "config"
	ClassTest       FileClass = "test"
	ClassEmpty      FileClass = "empty"
	ClassBinary     FileClass = "binary"
	ClassUnknown    FileClass = "unknown"
)

// SkipReasons maps non-chunkable classes to summary buckets.
var SkipReasons = map[FileClass]string{
	ClassTest:    "test_file",
	ClassEmpty:   "empty_file",
	ClassBinary:  "binary_file",
	ClassUnknown: "unsupported_language",
}

// Result is the chunker output for one file. Skipped files carry no chunks
// and a class explaining why.
type Result struct {
	Class    FileClass
	Language string
	Chunks   []*store.CodeChunk
}

// ReExport is one re-exported symbol from a barrel or config module.
type ReExport struct {
	Name     string `json:"name"`
	Source   string `json:"source,omitempty"` // module the symbol comes from
	TypeOnly bool   `json:"type_only,omitempty"`
}

// Metadata is the language-specific attribute set attached to a chunk and
// mirrored into its metadata map. Reference fields seed graph edges.
type Metadata struct {
	Signature  string     `json:"signature,omitempty"`
	Params     []string   `json:"params,omitempty"`
	ReturnHint string     `json:"return_hint,omitempty"`
	Visibility string     `json:"visibility,omitempty"` // public | private
	Async      bool       `json:"async,omitempty"`
	Decorators []string   `json:"decorators,omitempty"`
	Generics   bool       `json:"generics,omitempty"`
	ReExports  []ReExport `json:"re_exports,omitempty"`
	Calls      []string   `json:"calls,omitempty"`
	Bases      []string   `json:"bases,omitempty"`
	Imports    []string   `json:"imports,omitempty"`
}

// Point is a zero-based row/column position.
type Point struct {
	Row    uint32
	Column uint32
}

// Node is a language-neutral parse tree node.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	HasError   bool
	Children   []*Node
}

// Tree is a parsed file.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}
