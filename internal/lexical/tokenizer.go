// Package lexical provides the pluggable lexical retrieval backend. The
// default backend runs trigram similarity inside Postgres; this package adds
// a BM25 alternative with code-aware tokenization for corpora where trigram
// quality is not enough.
package lexical

import (
	"regexp"
	"strings"
	"unicode"
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// DefaultStopWords are keywords so common in source code that they carry no
// ranking signal.
var DefaultStopWords = []string{
	"func", "var", "const", "type", "return", "if", "else", "for", "range",
	"import", "package", "def", "class", "self", "function", "let", "export",
	"new", "nil", "null", "true", "false", "this", "int", "string", "bool",
	"err", "error",
}

// Tokenize splits text with code-aware rules: camelCase, PascalCase, and
// snake_case identifiers break into their parts, everything is lowercased,
// and tokens shorter than two characters are dropped.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range SplitIdentifier(word) {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// SplitIdentifier splits snake_case then camelCase.
func SplitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamel(part)...)
			}
		}
		return result
	}
	return splitCamel(token)
}

// splitCamel breaks camelCase and PascalCase, keeping acronym runs intact:
// "parseHTTPRequest" yields ["parse", "HTTP", "Request"].
func splitCamel(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// buildStopWordSet lowercases a word list into a lookup set.
func buildStopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
