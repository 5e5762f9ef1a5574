package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusPrintsIconAndMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("🔍", "checking store")

	assert.Equal(t, "🔍 checking store\n", buf.String())
}

func TestStatusEmptyIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "3 files unchanged")

	assert.Equal(t, "   3 files unchanged\n", buf.String())
}

func TestStatusfFormats(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("📂", "indexed %d chunks from %s", 12, "api")

	assert.Contains(t, buf.String(), "indexed 12 chunks from api")
}

func TestSeverityIcons(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Success("index complete")
	w.Warning("embedder unavailable")
	w.Error("store unreachable")

	out := buf.String()
	assert.Contains(t, out, "✅ index complete")
	assert.Contains(t, out, "⚠️  embedder unavailable")
	assert.Contains(t, out, "❌ store unreachable")
}

func TestCodeIndentsEveryLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Code("func Greet() {\n\treturn\n}")

	assert.Equal(t, "\n  func Greet() {\n  \treturn\n  }\n\n", buf.String())
}

func TestNewlinePrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Newline()

	assert.Equal(t, "\n", buf.String())
}
