package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes the node vocabulary of one grammar.
type LanguageConfig struct {
	Name          string
	Extensions    []string
	FunctionTypes []string
	MethodTypes   []string
	ClassTypes    []string
	TypeTypes     []string // type aliases and interfaces
	ImportTypes   []string
	ExportTypes   []string // statements that can re-export from another module
}

// LanguageRegistry maps file extensions and language tags to grammars.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}
	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()
	return r
}

func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[langName]
	return config, ok
}

func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions returns every extension the registry can parse.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	config := &LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		TypeTypes:     []string{"type_declaration"},
		ImportTypes:   []string{"import_declaration"},
	}
	r.registerLanguage(config, golang.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	tsConfig := &LanguageConfig{
		Name:          "typescript",
		Extensions:    []string{".ts"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		TypeTypes:     []string{"interface_declaration", "type_alias_declaration"},
		ImportTypes:   []string{"import_statement"},
		ExportTypes:   []string{"export_statement"},
	}
	r.registerLanguage(tsConfig, typescript.GetLanguage())

	tsxConfig := *tsConfig
	tsxConfig.Name = "tsx"
	tsxConfig.Extensions = []string{".tsx"}
	r.registerLanguage(&tsxConfig, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	jsConfig := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ImportTypes:   []string{"import_statement"},
		ExportTypes:   []string{"export_statement"},
	}
	r.registerLanguage(jsConfig, javascript.GetLanguage())

	// JSX shares the JavaScript grammar.
	jsxConfig := *jsConfig
	jsxConfig.Name = "jsx"
	jsxConfig.Extensions = []string{".jsx"}
	r.registerLanguage(&jsxConfig, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	config := &LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition"},
		// Python methods are function_definition nodes inside class bodies;
		// the chunker promotes them by name-path depth.
		ClassTypes:  []string{"class_definition"},
		ImportTypes: []string{"import_statement", "import_from_statement"},
		ExportTypes: []string{"import_from_statement"},
	}
	r.registerLanguage(config, python.GetLanguage())
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
