package gitignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchBasicPatterns(t *testing.T) {
	m := New()
	m.AddPattern("*.log")
	m.AddPattern("build/")
	m.AddPattern("/dist")

	assert.True(t, m.Match("error.log", false))
	assert.True(t, m.Match("sub/deep/error.log", false))
	assert.False(t, m.Match("error.log.txt", false))

	assert.True(t, m.Match("build", true))
	assert.True(t, m.Match("build/out.o", false))
	assert.False(t, m.Match("build", false)) // dir-only pattern, plain file

	assert.True(t, m.Match("dist", false))
	assert.False(t, m.Match("sub/dist", false)) // anchored to root
}

func TestMatchNegation(t *testing.T) {
	m := New()
	m.AddPattern("*.log")
	m.AddPattern("!important.log")

	assert.True(t, m.Match("debug.log", false))
	assert.False(t, m.Match("important.log", false))
}

func TestMatchDoubleStar(t *testing.T) {
	m := New()
	m.AddPattern("**/node_modules/**")
	m.AddPattern("docs/**")

	assert.True(t, m.Match("a/b/node_modules/pkg/index.js", false))
	assert.True(t, m.Match("docs/guide/intro.md", false))
	assert.False(t, m.Match("src/docs.go", false))
}

func TestMatchAnchoredSubpath(t *testing.T) {
	m := New()
	m.AddPattern("doc/frotz")

	assert.True(t, m.Match("doc/frotz", false))
	assert.False(t, m.Match("sub/doc/frotz", false))
}

func TestMatchNestedBase(t *testing.T) {
	m := New()
	m.AddPatternWithBase("*.tmp", "src")

	assert.True(t, m.Match("src/scratch.tmp", false))
	assert.False(t, m.Match("scratch.tmp", false))
	assert.False(t, m.Match("other/scratch.tmp", false))
}

func TestMatchQuestionMarkAndClass(t *testing.T) {
	m := New()
	m.AddPattern("file?.txt")
	m.AddPattern("[ab].go")

	assert.True(t, m.Match("file1.txt", false))
	assert.False(t, m.Match("file10.txt", false))
	assert.True(t, m.Match("a.go", false))
	assert.False(t, m.Match("c.go", false))
}

func TestAddFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".gitignore")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\n*.bak\nvendor/\n"), 0o644))

	m := New()
	require.NoError(t, m.AddFromFile(path, ""))

	assert.True(t, m.Match("old.bak", false))
	assert.True(t, m.Match("vendor/dep/mod.go", false))
	assert.False(t, m.Match("main.go", false))
}
