package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/store"
)

// Chunker turns one source file into language-typed chunks. Not safe for
// concurrent use; create one per worker.
type Chunker struct {
	parser     *Parser
	registry   *LanguageRegistry
	extractors *ExtractorRegistry
}

func NewChunker() *Chunker {
	registry := DefaultRegistry()
	return &Chunker{
		parser:     NewParserWithRegistry(registry),
		registry:   registry,
		extractors: DefaultExtractors(),
	}
}

func (c *Chunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns the extensions this chunker parses.
func (c *Chunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// ChunkFile classifies and chunks one file.
//
// Skipped files (tests, empty, binary, unsupported language) return a Result
// with no chunks and no error. Parse and encoding failures return errors of
// the matching kind for the caller to record as indexing errors.
func (c *Chunker) ChunkFile(ctx context.Context, file *FileInput) (*Result, error) {
	if len(strings.TrimSpace(string(file.Content))) == 0 {
		return &Result{Class: ClassEmpty}, nil
	}
	if !validText(file.Content) {
		return nil, mnerr.Newf(mnerr.KindEncoding, "%s is not valid UTF-8 text", file.Path)
	}

	language := file.Language
	if language == "" {
		language = DetectLanguage(c.registry, file.Path, file.Content)
	}
	if language == "" {
		return &Result{Class: ClassUnknown}, nil
	}
	if IsTestFile(file.Path) {
		return &Result{Class: ClassTest, Language: language}, nil
	}

	config, ok := c.registry.GetByName(language)
	if !ok {
		return &Result{Class: ClassUnknown}, nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, language)
	if err != nil {
		return nil, err
	}

	extractor := c.extractors.For(language)

	if IsConfigFile(file.Path) {
		ck := c.moduleChunk(file, tree, config, extractor, store.ChunkTypeConfigModule)
		return &Result{Class: ClassConfig, Language: language, Chunks: []*store.CodeChunk{ck}}, nil
	}
	if IsBarrel(file.Path, tree, config) {
		ck := c.moduleChunk(file, tree, config, extractor, store.ChunkTypeBarrel)
		return &Result{Class: ClassBarrel, Language: language, Chunks: []*store.CodeChunk{ck}}, nil
	}

	chunks := c.structuralChunks(file, tree, config, extractor)
	if len(chunks) == 0 && tree.Root.HasError {
		return nil, mnerr.Newf(mnerr.KindParse, "%s has syntax errors and no extractable symbols", file.Path)
	}
	return &Result{Class: ClassStructural, Language: language, Chunks: chunks}, nil
}

// moduleChunk builds the single synthetic chunk for a barrel or config file.
// Only imports and re-exports are extracted.
func (c *Chunker) moduleChunk(file *FileInput, tree *Tree, config *LanguageConfig, ex Extractor, chunkType store.ChunkType) *store.CodeChunk {
	content := string(tree.Source)
	meta := Metadata{
		Imports:   ex.Imports(tree, config),
		ReExports: ex.ReExports(tree, config),
	}

	name := moduleName(file.Path)
	return c.buildChunk(file, tree.Language, chunkType, []string{name}, content,
		1, int(tree.Root.EndPoint.Row)+1, meta)
}

// structuralChunks walks the tree emitting one chunk per symbol node,
// threading ancestor names into each chunk's name path.
func (c *Chunker) structuralChunks(file *FileInput, tree *Tree, config *LanguageConfig, ex Extractor) []*store.CodeChunk {
	symbolKinds := symbolKindSet(config)

	var chunks []*store.CodeChunk
	var walk func(n *Node, ancestors []string)
	walk = func(n *Node, ancestors []string) {
		kind, isSymbol := symbolKinds[n.Type]
		name := ""
		if isSymbol {
			name = extractName(n, tree.Source, tree.Language)
		}
		if isSymbol && name != "" {
			// Python has no distinct method node; nesting decides.
			if tree.Language == "python" && kind == store.ChunkTypeFunction && len(ancestors) > 0 {
				kind = store.ChunkTypeMethod
			}

			namePath := append(append([]string{}, ancestors...), name)
			meta := ex.Symbol(n, tree, kind)
			chunks = append(chunks, c.buildChunk(file, tree.Language, kind,
				namePath, n.Content(tree.Source),
				int(n.StartPoint.Row)+1, int(n.EndPoint.Row)+1, meta))

			ancestors = namePath
		}
		for _, child := range n.Children {
			walk(child, ancestors)
		}
	}
	walk(tree.Root, nil)
	return chunks
}

func symbolKindSet(config *LanguageConfig) map[string]store.ChunkType {
	kinds := make(map[string]store.ChunkType)
	for _, t := range config.FunctionTypes {
		kinds[t] = store.ChunkTypeFunction
	}
	for _, t := range config.MethodTypes {
		kinds[t] = store.ChunkTypeMethod
	}
	for _, t := range config.ClassTypes {
		kinds[t] = store.ChunkTypeClass
	}
	for _, t := range config.TypeTypes {
		kinds[t] = store.ChunkTypeType
	}
	return kinds
}

func (c *Chunker) buildChunk(file *FileInput, language string, chunkType store.ChunkType, namePath []string, content string, lineStart, lineEnd int, meta Metadata) *store.CodeChunk {
	contentHash := hashContent(content)
	return &store.CodeChunk{
		ID:          Fingerprint(file.Repository, file.Path, language, chunkType, namePath, contentHash),
		Repository:  file.Repository,
		FilePath:    file.Path,
		Language:    language,
		ChunkType:   chunkType,
		Content:     content,
		ContentHash: contentHash,
		NamePath:    namePath,
		LineStart:   lineStart,
		LineEnd:     lineEnd,
		Metadata:    metadataMap(meta),
	}
}

// hashContent is the content identity half of the fingerprint.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// Fingerprint derives the stable chunk identifier. Any change to the
// content hash, location, or name path yields a new identifier.
func Fingerprint(repository, filePath, language string, chunkType store.ChunkType, namePath []string, contentHash string) string {
	input := strings.Join([]string{
		repository, filePath, language, string(chunkType),
		strings.Join(namePath, "."), contentHash,
	}, "\x1f")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:32]
}

// metadataMap flattens Metadata into the chunk's JSON metadata object.
func metadataMap(meta Metadata) map[string]any {
	raw, err := json.Marshal(meta)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// moduleName derives a label for synthetic module chunks from the file path.
func moduleName(path string) string {
	name := strings.TrimSuffix(path, "/")
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// TextForEmbedding renders a chunk for the natural-language channel:
// location, name path, and signature ahead of the body.
func TextForEmbedding(ck *store.CodeChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s in %s", ck.ChunkType, strings.Join(ck.NamePath, "."), ck.FilePath)
	if sig, ok := ck.Metadata["signature"].(string); ok && sig != "" {
		b.WriteString("\n")
		b.WriteString(sig)
	}
	b.WriteString("\n")
	b.WriteString(ck.Content)
	return b.String()
}

// CodeForEmbedding renders a chunk for the code channel with a file marker,
// which improves retrieval for path-qualified queries.
func CodeForEmbedding(ck *store.CodeChunk) string {
	marker := "// File: " + ck.FilePath
	if ck.Language == "python" {
		marker = "# File: " + ck.FilePath
	}
	return marker + "\n" + ck.Content
}
