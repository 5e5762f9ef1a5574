package chunk

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// configFileNames are build and tool configs that become a single
// config_module chunk with only imports and exports extracted.
var configFileNames = map[string]bool{
	"webpack.config.js":    true,
	"webpack.config.ts":    true,
	"rollup.config.js":     true,
	"rollup.config.mjs":    true,
	"vite.config.js":       true,
	"vite.config.ts":       true,
	"jest.config.js":       true,
	"jest.config.ts":       true,
	"babel.config.js":      true,
	"eslint.config.js":     true,
	"eslint.config.mjs":    true,
	"playwright.config.ts": true,
	"vitest.config.ts":     true,
	"tailwind.config.js":   true,
	"tailwind.config.ts":   true,
	"gulpfile.js":          true,
	"setup.py":             true,
	"conftest.py":          true,
}

// DetectLanguage resolves a language tag from the file extension, falling
// back to a shebang sniff for extensionless scripts. Empty means unsupported.
func DetectLanguage(registry *LanguageRegistry, path string, content []byte) string {
	if cfg, ok := registry.GetByExtension(filepath.Ext(path)); ok {
		return cfg.Name
	}
	if lang := sniffShebang(content); lang != "" {
		if _, ok := registry.GetByName(lang); ok {
			return lang
		}
	}
	return ""
}

func sniffShebang(content []byte) string {
	if !bytes.HasPrefix(content, []byte("#!")) {
		return ""
	}
	line := content
	if idx := bytes.IndexByte(content, '\n'); idx >= 0 {
		line = content[:idx]
	}
	switch {
	case bytes.Contains(line, []byte("python")):
		return "python"
	case bytes.Contains(line, []byte("node")):
		return "javascript"
	}
	return ""
}

// IsTestFile applies per-language path and name heuristics.
func IsTestFile(path string) bool {
	base := filepath.Base(path)
	slashed := filepath.ToSlash(path)

	if strings.HasSuffix(base, "_test.go") {
		return true
	}
	if strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py") {
		return true
	}
	if strings.HasSuffix(base, "_test.py") {
		return true
	}
	for _, marker := range []string{".test.", ".spec."} {
		if strings.Contains(base, marker) {
			return true
		}
	}
	for _, dir := range []string{"/__tests__/", "/tests/", "/test/"} {
		if strings.Contains(slashed, dir) {
			return true
		}
	}
	return false
}

// IsConfigFile recognizes build and test tool configs by exact base name.
func IsConfigFile(path string) bool {
	return configFileNames[strings.ToLower(filepath.Base(path))]
}

// validText reports whether content is indexable text: valid UTF-8 and free
// of NUL bytes.
func validText(content []byte) bool {
	return utf8.Valid(content) && !bytes.ContainsRune(content, 0)
}

// barrelRatio is the minimum share of top-level statements that must be
// re-exports for a file to classify as a barrel.
const barrelRatio = 0.8

// IsBarrel reports whether the parsed file is a barrel: at least 80% of its
// top-level statements re-export symbols from other modules. Python has no
// export statement, so only __init__.py files qualify; an ordinary module
// that opens with a run of imports keeps its structural chunks.
func IsBarrel(path string, tree *Tree, config *LanguageConfig) bool {
	if len(config.ExportTypes) == 0 {
		return false
	}
	if tree.Language == "python" && filepath.Base(path) != "__init__.py" {
		return false
	}

	exportTypes := make(map[string]bool, len(config.ExportTypes))
	for _, t := range config.ExportTypes {
		exportTypes[t] = true
	}

	total := 0
	reexports := 0
	for _, n := range tree.Root.Children {
		if n.Type == "comment" {
			continue
		}
		total++
		if exportTypes[n.Type] && isReExportStatement(n, tree.Source, tree.Language) {
			reexports++
		}
	}
	if total == 0 {
		return false
	}
	return float64(reexports)/float64(total) >= barrelRatio
}

// isReExportStatement checks the statement re-exports from another module
// rather than exporting a local declaration.
func isReExportStatement(n *Node, source []byte, language string) bool {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
		// export { X } from './x'  or  export * from './x'
		return n.FindChildByType("string") != nil
	case "python":
		// Barrel __init__.py files are sequences of from-import statements.
		return n.Type == "import_from_statement"
	}
	return false
}
