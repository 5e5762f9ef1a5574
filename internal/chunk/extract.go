package chunk

import (
	"strings"
	"unicode"

	"github.com/mnemolite/mnemolite/internal/store"
)

// Extractor computes language-specific chunk metadata: signatures, flags,
// and the reference seeds the graph builder turns into edges.
type Extractor interface {
	// Symbol extracts metadata for a structural chunk.
	Symbol(n *Node, tree *Tree, kind store.ChunkType) Metadata
	// Imports lists the modules a file imports.
	Imports(tree *Tree, config *LanguageConfig) []string
	// ReExports lists re-exported symbols, for barrels and configs.
	ReExports(tree *Tree, config *LanguageConfig) []ReExport
}

// ExtractorRegistry dispatches by language tag. Languages without a
// registered extractor get the universal one, which yields only the fields
// derivable from any grammar.
type ExtractorRegistry struct {
	byLanguage map[string]Extractor
	fallback   Extractor
}

func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{
		byLanguage: make(map[string]Extractor),
		fallback:   universalExtractor{},
	}
}

func (r *ExtractorRegistry) Register(language string, ex Extractor) {
	r.byLanguage[language] = ex
}

func (r *ExtractorRegistry) For(language string) Extractor {
	if ex, ok := r.byLanguage[language]; ok {
		return ex
	}
	return r.fallback
}

var defaultExtractors = buildDefaultExtractors()

func buildDefaultExtractors() *ExtractorRegistry {
	r := NewExtractorRegistry()
	r.Register("go", goExtractor{})
	js := jsExtractor{}
	for _, lang := range []string{"javascript", "jsx", "typescript", "tsx"} {
		r.Register(lang, js)
	}
	r.Register("python", pythonExtractor{})
	return r
}

// DefaultExtractors returns the shared per-language extractor registry.
func DefaultExtractors() *ExtractorRegistry {
	return defaultExtractors
}

// universalExtractor yields only grammar-independent fields.
type universalExtractor struct{}

func (universalExtractor) Symbol(n *Node, tree *Tree, kind store.ChunkType) Metadata {
	return Metadata{Signature: firstLine(n.Content(tree.Source))}
}

func (universalExtractor) Imports(tree *Tree, config *LanguageConfig) []string {
	var out []string
	for _, t := range config.ImportTypes {
		for _, n := range tree.Root.FindAllByType(t) {
			out = append(out, firstLine(n.Content(tree.Source)))
		}
	}
	return out
}

func (universalExtractor) ReExports(tree *Tree, config *LanguageConfig) []ReExport {
	return nil
}

// --- Go ---

type goExtractor struct{}

func (goExtractor) Symbol(n *Node, tree *Tree, kind store.ChunkType) Metadata {
	content := n.Content(tree.Source)
	sig := signatureLine(content)
	name := extractName(n, tree.Source, "go")

	meta := Metadata{
		Signature:  sig,
		Params:     paramList(sig),
		ReturnHint: goReturnHint(sig),
		Visibility: goVisibility(name),
		Generics:   strings.Contains(sig, name+"["),
		Calls:      callNames(n, tree.Source, "call_expression"),
	}
	return meta
}

func (goExtractor) Imports(tree *Tree, config *LanguageConfig) []string {
	var out []string
	for _, decl := range tree.Root.FindAllByType("import_declaration") {
		for _, spec := range decl.FindAllByType("import_spec") {
			if path := spec.FindChildByType("interpreted_string_literal"); path != nil {
				out = append(out, strings.Trim(path.Content(tree.Source), `"`))
			}
		}
	}
	return out
}

func (goExtractor) ReExports(tree *Tree, config *LanguageConfig) []ReExport {
	return nil // Go has no re-export construct
}

func goVisibility(name string) string {
	if name == "" {
		return ""
	}
	if unicode.IsUpper(rune(name[0])) {
		return "public"
	}
	return "private"
}

// goReturnHint is the text between the closing parameter paren and the
// opening brace.
func goReturnHint(sig string) string {
	depth := 0
	for i, r := range sig {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return strings.TrimSpace(sig[i+1:])
			}
		}
	}
	return ""
}

// --- JavaScript / TypeScript ---

type jsExtractor struct{}

func (jsExtractor) Symbol(n *Node, tree *Tree, kind store.ChunkType) Metadata {
	content := n.Content(tree.Source)
	sig := signatureLine(content)
	name := extractName(n, tree.Source, tree.Language)

	meta := Metadata{
		Signature:  sig,
		Params:     paramList(sig),
		ReturnHint: tsReturnHint(sig),
		Visibility: jsVisibility(name, sig),
		Async:      strings.Contains(sig, "async "),
		Generics:   strings.Contains(sig, name+"<"),
		Decorators: precedingDecorators(n, tree.Source),
		Calls:      callNames(n, tree.Source, "call_expression"),
		Bases:      jsBases(n, tree.Source),
	}
	return meta
}

func (jsExtractor) Imports(tree *Tree, config *LanguageConfig) []string {
	var out []string
	for _, n := range tree.Root.FindAllByType("import_statement") {
		if src := n.FindChildByType("string"); src != nil {
			out = append(out, trimQuotes(src.Content(tree.Source)))
		}
	}
	return out
}

func (jsExtractor) ReExports(tree *Tree, config *LanguageConfig) []ReExport {
	var out []ReExport
	for _, n := range tree.Root.FindAllByType("export_statement") {
		src := n.FindChildByType("string")
		if src == nil {
			continue
		}
		source := trimQuotes(src.Content(tree.Source))
		typeOnly := strings.HasPrefix(strings.TrimSpace(n.Content(tree.Source)), "export type")

		clause := n.FindChildByType("export_clause")
		if clause == nil {
			// export * from './x'
			out = append(out, ReExport{Name: "*", Source: source, TypeOnly: typeOnly})
			continue
		}
		for _, spec := range clause.FindAllByType("export_specifier") {
			name := spec.Content(tree.Source)
			specTypeOnly := typeOnly
			if strings.HasPrefix(name, "type ") {
				specTypeOnly = true
				name = strings.TrimPrefix(name, "type ")
			}
			// "X as Y" exposes Y
			if idx := strings.Index(name, " as "); idx >= 0 {
				name = name[idx+4:]
			}
			out = append(out, ReExport{Name: strings.TrimSpace(name), Source: source, TypeOnly: specTypeOnly})
		}
	}
	return out
}

func jsVisibility(name, sig string) string {
	if strings.HasPrefix(name, "#") || strings.Contains(sig, "private ") {
		return "private"
	}
	return "public"
}

func jsBases(n *Node, source []byte) []string {
	var out []string
	for _, heritage := range n.FindAllByType("class_heritage") {
		for _, id := range heritage.FindAllByType("identifier") {
			out = append(out, id.Content(source))
		}
	}
	// TypeScript wraps extends in extends_clause under class_heritage.
	for _, clause := range n.FindAllByType("extends_clause") {
		for _, id := range clause.FindAllByType("identifier") {
			out = append(out, id.Content(source))
		}
	}
	return dedupe(out)
}

// tsReturnHint is the annotation after the parameter list's "): ".
func tsReturnHint(sig string) string {
	depth := 0
	for i, r := range sig {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				rest := strings.TrimSpace(sig[i+1:])
				if strings.HasPrefix(rest, ":") {
					rest = strings.TrimSpace(rest[1:])
					return strings.TrimSuffix(strings.TrimSpace(strings.TrimSuffix(rest, "{")), "=>")
				}
				return ""
			}
		}
	}
	return ""
}

// --- Python ---

type pythonExtractor struct{}

func (pythonExtractor) Symbol(n *Node, tree *Tree, kind store.ChunkType) Metadata {
	content := n.Content(tree.Source)
	sig := firstLine(content)
	name := extractName(n, tree.Source, "python")

	meta := Metadata{
		Signature:  sig,
		Params:     paramList(sig),
		ReturnHint: pyReturnHint(sig),
		Visibility: pyVisibility(name),
		Async:      strings.HasPrefix(strings.TrimSpace(sig), "async "),
		Decorators: precedingDecorators(n, tree.Source),
		Calls:      callNames(n, tree.Source, "call"),
		Bases:      pyBases(n, tree.Source),
	}
	return meta
}

func (pythonExtractor) Imports(tree *Tree, config *LanguageConfig) []string {
	var out []string
	for _, t := range []string{"import_statement", "import_from_statement"} {
		for _, n := range tree.Root.FindAllByType(t) {
			if mod := n.FindChildByType("dotted_name"); mod != nil {
				out = append(out, mod.Content(tree.Source))
			}
		}
	}
	return dedupe(out)
}

func (pythonExtractor) ReExports(tree *Tree, config *LanguageConfig) []ReExport {
	var out []ReExport
	for _, n := range tree.Root.FindAllByType("import_from_statement") {
		var source string
		var names []string
		for i, child := range n.Children {
			if child.Type == "dotted_name" || child.Type == "relative_import" {
				if i <= 1 && source == "" {
					source = child.Content(tree.Source)
					continue
				}
				names = append(names, child.Content(tree.Source))
			}
			if child.Type == "wildcard_import" {
				names = append(names, "*")
			}
			if child.Type == "aliased_import" {
				if alias := child.FindChildByType("identifier"); alias != nil {
					names = append(names, alias.Content(tree.Source))
				}
			}
		}
		for _, name := range names {
			out = append(out, ReExport{Name: name, Source: source})
		}
	}
	return out
}

func pyVisibility(name string) string {
	if strings.HasPrefix(name, "_") {
		return "private"
	}
	return "public"
}

func pyReturnHint(sig string) string {
	if idx := strings.Index(sig, "->"); idx >= 0 {
		return strings.TrimSuffix(strings.TrimSpace(sig[idx+2:]), ":")
	}
	return ""
}

func pyBases(n *Node, source []byte) []string {
	if n.Type != "class_definition" {
		return nil
	}
	args := n.FindChildByType("argument_list")
	if args == nil {
		return nil
	}
	var out []string
	for _, child := range args.Children {
		if child.Type == "identifier" || child.Type == "attribute" {
			out = append(out, child.Content(source))
		}
	}
	return out
}

// --- shared helpers ---

// extractName pulls the declared name out of a symbol node, per grammar.
func extractName(n *Node, source []byte, language string) string {
	switch language {
	case "go":
		switch n.Type {
		case "function_declaration":
			if id := n.FindChildByType("identifier"); id != nil {
				return id.Content(source)
			}
		case "method_declaration":
			if id := n.FindChildByType("field_identifier"); id != nil {
				return id.Content(source)
			}
		case "type_declaration":
			if spec := n.FindChildByType("type_spec"); spec != nil {
				if id := spec.FindChildByType("type_identifier"); id != nil {
					return id.Content(source)
				}
			}
		}
	case "typescript", "tsx", "javascript", "jsx":
		for _, t := range []string{"identifier", "type_identifier", "property_identifier"} {
			if id := n.FindChildByType(t); id != nil {
				return id.Content(source)
			}
		}
	case "python":
		if id := n.FindChildByType("identifier"); id != nil {
			return id.Content(source)
		}
	}
	return ""
}

// signatureLine is the first line trimmed at the opening brace.
func signatureLine(content string) string {
	line := firstLine(content)
	if idx := strings.Index(line, "{"); idx != -1 {
		return strings.TrimSpace(line[:idx])
	}
	return line
}

func firstLine(content string) string {
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[:idx]
	}
	return strings.TrimSpace(content)
}

// paramList splits the first parenthesized group on top-level commas.
func paramList(sig string) []string {
	open := strings.IndexByte(sig, '(')
	if open < 0 {
		return nil
	}
	depth := 0
	end := -1
	for i := open; i < len(sig); i++ {
		switch sig[i] {
		case '(', '[', '<':
			depth++
		case ')', ']', '>':
			depth--
			if depth == 0 && sig[i] == ')' {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		return nil
	}
	inner := sig[open+1 : end]
	if strings.TrimSpace(inner) == "" {
		return nil
	}

	var params []string
	depth = 0
	start := 0
	for i := 0; i <= len(inner); i++ {
		if i == len(inner) || (inner[i] == ',' && depth == 0) {
			if p := strings.TrimSpace(inner[start:i]); p != "" {
				params = append(params, p)
			}
			start = i + 1
			continue
		}
		switch inner[i] {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			depth--
		}
	}
	return params
}

// callNames collects callee identifiers inside a symbol body, deduplicated
// and capped to keep metadata bounded.
const maxCallSeeds = 32

func callNames(n *Node, source []byte, callNodeType string) []string {
	var out []string
	seen := map[string]bool{}
	for _, call := range n.FindAllByType(callNodeType) {
		if len(call.Children) == 0 {
			continue
		}
		callee := call.Children[0]
		name := ""
		switch callee.Type {
		case "identifier":
			name = callee.Content(source)
		case "selector_expression", "member_expression", "attribute":
			// keep the trailing member as the seed: pkg.Func -> Func
			full := callee.Content(source)
			if idx := strings.LastIndexByte(full, '.'); idx >= 0 && idx+1 < len(full) {
				name = full[idx+1:]
			} else {
				name = full
			}
		}
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
			if len(out) >= maxCallSeeds {
				break
			}
		}
	}
	return out
}

// precedingDecorators scans the source lines directly above the node for
// @decorator lines, nearest last.
func precedingDecorators(n *Node, source []byte) []string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	var decorators []string
	pos := lineStart - 1
	for pos > 0 {
		prevEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevStart := pos
		if pos > 0 {
			prevStart++
		}
		line := strings.TrimSpace(string(source[prevStart:prevEnd]))
		if !strings.HasPrefix(line, "@") {
			break
		}
		name := strings.TrimPrefix(line, "@")
		if idx := strings.IndexByte(name, '('); idx >= 0 {
			name = name[:idx]
		}
		decorators = append([]string{name}, decorators...)
	}
	return decorators
}

func trimQuotes(s string) string {
	return strings.Trim(s, `"'`)
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
