// Package scanner enumerates candidate source files for indexing. It walks
// a repository root, applying gitignore rules, default and custom exclusion
// patterns, sensitive-file filtering, and a size cap, and streams survivors
// to the indexing pipeline.
package scanner

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
	"github.com/mnemolite/mnemolite/internal/gitignore"
)

// DefaultMaxFileSize caps file reads at 2 MiB; larger files are almost
// never hand-written source.
const DefaultMaxFileSize = 2 * 1024 * 1024

const matcherCacheSize = 512

// FileEntry is one discovered file.
type FileEntry struct {
	Path    string // relative to the repository root, slash-separated
	AbsPath string
	Size    int64
	ModTime time.Time
}

// Result is one item on the scan stream.
type Result struct {
	File *FileEntry
	Err  error
}

// Options configures a scan.
type Options struct {
	Root             string
	ExcludePatterns  []string
	MaxFileSize      int64
	RespectGitignore bool
	FollowSymlinks   bool
}

// Scanner walks repository trees. Parsed gitignore matchers are cached per
// directory with LRU eviction so repeated scans stay cheap.
type Scanner struct {
	matchers *lru.Cache[string, *gitignore.Matcher]
}

func New() (*Scanner, error) {
	cache, err := lru.New[string, *gitignore.Matcher](matcherCacheSize)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.KindInternal, err)
	}
	return &Scanner{matchers: cache}, nil
}

// Scan streams discovered files. The channel closes when the walk finishes
// or the context is cancelled; a walk error arrives as the final item.
func (s *Scanner) Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.KindBadRequest, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, mnerr.Wrapf(mnerr.KindBadRequest, err, "stat scan root")
	}
	if !info.IsDir() {
		return nil, mnerr.Newf(mnerr.KindBadRequest, "scan root is not a directory: %s", absRoot)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	results := make(chan Result, 64)
	go func() {
		defer close(results)
		s.walk(ctx, absRoot, opts, results)
	}()
	return results, nil
}

func (s *Scanner) walk(ctx context.Context, absRoot string, opts Options, results chan<- Result) {
	err := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.excludeDir(rel, absRoot, opts) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 && !opts.FollowSymlinks {
			return nil
		}
		if s.excludeFile(rel, absRoot, opts) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > opts.MaxFileSize {
			return nil
		}
		if isBinary(path) {
			return nil
		}

		entry := &FileEntry{
			Path:    rel,
			AbsPath: path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		select {
		case results <- Result{File: entry}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	if err != nil && err != context.Canceled && ctx.Err() == nil {
		select {
		case results <- Result{Err: err}:
		case <-ctx.Done():
		}
	}
}

func (s *Scanner) excludeDir(rel, absRoot string, opts Options) bool {
	for _, pattern := range defaultExcludeDirs {
		if matchSegment(rel, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchSegment(rel, pattern) {
			return true
		}
	}
	if opts.RespectGitignore && s.gitignored(rel, absRoot, true) {
		return true
	}
	return false
}

func (s *Scanner) excludeFile(rel, absRoot string, opts Options) bool {
	base := filepath.Base(rel)
	for _, pattern := range sensitivePatterns {
		if matchBase(base, pattern) {
			return true
		}
	}
	for _, pattern := range defaultExcludeFiles {
		if matchBase(base, pattern) {
			return true
		}
	}
	for _, pattern := range opts.ExcludePatterns {
		if matchBase(base, pattern) || matchSegment(rel, pattern) {
			return true
		}
	}
	if opts.RespectGitignore && s.gitignored(rel, absRoot, false) {
		return true
	}
	return false
}

// matchSegment matches directory-style patterns: "**/name/**" hits any path
// containing the segment, "name/**" is root-anchored, plain names match the
// segment or anything under it.
func matchSegment(rel, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(rel, "/") {
			if part == name {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return rel == prefix || strings.HasPrefix(rel, prefix+"/")
	}
	return rel == pattern || strings.HasPrefix(rel, pattern+"/")
}

// matchBase matches filename-style glob patterns against a basename.
func matchBase(base, pattern string) bool {
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 2 {
		middle := pattern[1 : len(pattern)-1]
		return strings.Contains(strings.ToLower(base), strings.ToLower(middle))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(base, pattern[1:])
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(base, pattern[:len(pattern)-1])
	}
	return base == pattern
}

// isBinary sniffs the first 512 bytes for NUL.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// gitignored checks the root .gitignore plus every nested one on the path.
func (s *Scanner) gitignored(rel, absRoot string, isDir bool) bool {
	if m := s.matcherFor(absRoot, ""); m != nil && m.Match(rel, isDir) {
		return true
	}
	dir := filepath.Dir(rel)
	if dir == "." {
		return false
	}
	current := absRoot
	base := ""
	for _, part := range strings.Split(dir, "/") {
		current = filepath.Join(current, part)
		base = filepath.ToSlash(filepath.Join(base, part))
		if m := s.matcherFor(current, base); m != nil && m.Match(rel, isDir) {
			return true
		}
	}
	return false
}

func (s *Scanner) matcherFor(dir, base string) *gitignore.Matcher {
	if m, ok := s.matchers.Get(dir); ok {
		return m
	}
	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	m := gitignore.New()
	if err := m.AddFromFile(path, base); err != nil {
		return nil
	}
	s.matchers.Add(dir, m)
	return m
}

// InvalidateCache drops cached gitignore matchers, forcing a re-parse on
// the next scan.
func (s *Scanner) InvalidateCache() {
	s.matchers.Purge()
}

var defaultExcludeDirs = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/.ssh/**",
}

var defaultExcludeFiles = []string{
	"*.min.js",
	"*.min.css",
	"package-lock.json",
	"yarn.lock",
	"pnpm-lock.yaml",
	"go.sum",
}

// sensitivePatterns are never indexed regardless of configuration.
var sensitivePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	"id_rsa",
	"id_ed25519",
}
