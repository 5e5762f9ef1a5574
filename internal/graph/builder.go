// Package graph derives symbol graphs from chunk metadata and answers
// bounded traversal queries over the stored adjacency.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mnemolite/mnemolite/internal/store"
)

// Delta is one file's graph contribution, staged atomically.
type Delta struct {
	Nodes []*store.GraphNode
	Edges []*store.GraphEdge
}

// Builder turns a file's chunks into a node/edge delta and persists it
// through the store in a single transaction.
type Builder struct {
	store *store.Store
}

func NewBuilder(st *store.Store) *Builder {
	return &Builder{store: st}
}

// Build derives the delta for one file: one node per chunk, a module node
// for barrels and configs, and one edge per extracted relation. Reference
// targets are name-keyed symbol nodes shared across files, so cross-file
// relations connect regardless of indexing order.
func Build(repository, filePath string, chunks []*store.CodeChunk) *Delta {
	d := &Delta{}
	named := map[string]bool{}

	addNameNode := func(name string) string {
		id := nameNodeID(repository, name)
		if !named[id] {
			named[id] = true
			d.Nodes = append(d.Nodes, &store.GraphNode{
				ID:       id,
				NodeType: store.NodeTypeSymbol,
				Label:    name,
				Properties: map[string]any{
					"repository": repository,
					"name":       name,
				},
			})
		}
		return id
	}

	addEdge := func(src, tgt string, et store.EdgeType, props map[string]any) {
		if props == nil {
			props = map[string]any{}
		}
		props["repository"] = repository
		props["file_path"] = filePath
		if _, ok := props["weight"]; !ok {
			props["weight"] = 1.0
		}
		d.Edges = append(d.Edges, &store.GraphEdge{
			ID:         edgeID(src, tgt, et),
			Source:     src,
			Target:     tgt,
			EdgeType:   et,
			Properties: props,
		})
	}

	byNamePath := map[string]string{} // joined name path -> chunk node id

	for _, ck := range chunks {
		nodeType := store.NodeTypeSymbol
		isModule := ck.ChunkType == store.ChunkTypeBarrel || ck.ChunkType == store.ChunkTypeConfigModule
		if isModule {
			nodeType = store.NodeTypeModule
		}

		qualified := strings.Join(ck.NamePath, ".")
		props := map[string]any{
			"repository":     repository,
			"file_path":      ck.FilePath,
			"name":           lastName(ck.NamePath),
			"qualified_name": qualified,
			"chunk_type":     string(ck.ChunkType),
			"language":       ck.Language,
		}
		if ck.ChunkType == store.ChunkTypeBarrel {
			props["is_barrel"] = true
		}
		d.Nodes = append(d.Nodes, &store.GraphNode{
			ID:         ck.ID,
			NodeType:   nodeType,
			Label:      qualified,
			Properties: props,
		})
		byNamePath[qualified] = ck.ID

		// Definitions claim their name node so references resolve to it.
		if !isModule && len(ck.NamePath) == 1 {
			nameID := addNameNode(ck.NamePath[0])
			addEdge(nameID, ck.ID, store.EdgeTypeContains, nil)
		}

		for _, call := range metaStrings(ck.Metadata, "calls") {
			addEdge(ck.ID, addNameNode(call), store.EdgeTypeCalls, nil)
		}
		for _, base := range metaStrings(ck.Metadata, "bases") {
			addEdge(ck.ID, addNameNode(base), store.EdgeTypeInherits, nil)
		}
		for _, imp := range metaStrings(ck.Metadata, "imports") {
			addEdge(ck.ID, addNameNode(imp), store.EdgeTypeImports, nil)
		}
		for _, re := range metaReExports(ck.Metadata) {
			props := map[string]any{}
			if re.source != "" {
				props["source"] = re.source
			}
			if re.typeOnly {
				props["type_only"] = true
			}
			addEdge(ck.ID, addNameNode(re.name), store.EdgeTypeReExports, props)
		}
	}

	// Containment edges between nested chunks of the same file.
	for _, ck := range chunks {
		if len(ck.NamePath) < 2 {
			continue
		}
		parent := strings.Join(ck.NamePath[:len(ck.NamePath)-1], ".")
		if parentID, ok := byNamePath[parent]; ok {
			addEdge(parentID, ck.ID, store.EdgeTypeContains, nil)
		}
	}

	return d
}

// Apply persists a file's delta atomically.
func (b *Builder) Apply(ctx context.Context, repository, filePath string, d *Delta) error {
	return b.store.ReplaceFileGraph(ctx, repository, filePath, d.Nodes, d.Edges)
}

// Reconcile removes edges left dangling by interrupted rebuilds.
func (b *Builder) Reconcile(ctx context.Context) (int64, error) {
	return b.store.Reconcile(ctx)
}

func nameNodeID(repository, name string) string {
	sum := sha256.Sum256([]byte(repository + "\x1f" + name))
	return "sym_" + hex.EncodeToString(sum[:])[:24]
}

func edgeID(src, tgt string, et store.EdgeType) string {
	sum := sha256.Sum256([]byte(src + "\x1f" + tgt + "\x1f" + string(et)))
	return hex.EncodeToString(sum[:])[:24]
}

func lastName(namePath []string) string {
	if len(namePath) == 0 {
		return ""
	}
	return namePath[len(namePath)-1]
}

// metaStrings reads a string list out of chunk metadata, tolerating both
// []string (fresh chunks) and []any (JSON round-tripped).
func metaStrings(meta map[string]any, key string) []string {
	if meta == nil {
		return nil
	}
	switch v := meta[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type reExportSeed struct {
	name     string
	source   string
	typeOnly bool
}

func metaReExports(meta map[string]any) []reExportSeed {
	if meta == nil {
		return nil
	}
	raw, ok := meta["re_exports"].([]any)
	if !ok {
		return nil
	}
	out := make([]reExportSeed, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		seed := reExportSeed{}
		seed.name, _ = m["name"].(string)
		seed.source, _ = m["source"].(string)
		seed.typeOnly, _ = m["type_only"].(bool)
		if seed.name != "" {
			out = append(out, seed)
		}
	}
	return out
}

// Stats aggregates graph shape for one repository.
func (b *Builder) Stats(ctx context.Context, repository string) (*store.GraphStats, error) {
	st, err := b.store.RepositoryStats(ctx, repository)
	if err != nil {
		return nil, err
	}
	kinds, err := b.store.EdgeKindCounts(ctx, repository)
	if err != nil {
		return nil, err
	}
	st.EdgeKinds = kinds
	return st, nil
}
