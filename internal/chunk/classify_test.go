package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTestFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"internal/store/store_test.go", true},
		{"src/widget.test.ts", true},
		{"src/widget.spec.tsx", true},
		{"tests/fixtures/widget.py", true},
		{"pkg/__tests__/util.js", true},
		{"test_models.py", true},
		{"models_test.py", true},
		{"internal/store/store.go", false},
		{"src/contest.py", false},
		{"src/attestation.go", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTestFile(tt.path), "path %q", tt.path)
	}
}

func TestIsConfigFile(t *testing.T) {
	assert.True(t, IsConfigFile("frontend/webpack.config.js"))
	assert.True(t, IsConfigFile("Jest.Config.Ts"))
	assert.True(t, IsConfigFile("conftest.py"))
	assert.False(t, IsConfigFile("src/config.go"))
}

func TestDetectLanguage(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, "go", DetectLanguage(r, "main.go", nil))
	assert.Equal(t, "typescript", DetectLanguage(r, "app.ts", nil))
	assert.Equal(t, "tsx", DetectLanguage(r, "app.tsx", nil))
	assert.Equal(t, "javascript", DetectLanguage(r, "app.mjs", nil))
	assert.Equal(t, "python", DetectLanguage(r, "script", []byte("#!/usr/bin/env python3\nprint()\n")))
	assert.Equal(t, "javascript", DetectLanguage(r, "cli", []byte("#!/usr/bin/env node\n")))
	assert.Equal(t, "", DetectLanguage(r, "notes.txt", []byte("plain text")))
}

func TestParamList(t *testing.T) {
	assert.Equal(t, []string{"name string"}, paramList("func NewGreeter(name string) *Greeter"))
	assert.Equal(t, []string{"a int", "b map[string]int"}, paramList("func f(a int, b map[string]int) error"))
	assert.Nil(t, paramList("func f()"))
	assert.Nil(t, paramList("no parens here"))
}

func TestReturnHints(t *testing.T) {
	assert.Equal(t, "*Greeter", goReturnHint("func NewGreeter(name string) *Greeter"))
	assert.Equal(t, "(int, error)", goReturnHint("func f(a func(int) bool) (int, error)"))
	assert.Equal(t, "int", pyReturnHint("def f(x) -> int:"))
	assert.Equal(t, "", pyReturnHint("def f(x):"))
	assert.Equal(t, "Promise<void>", tsReturnHint("async function go(): Promise<void>"))
}

func TestVisibility(t *testing.T) {
	assert.Equal(t, "public", goVisibility("Exported"))
	assert.Equal(t, "private", goVisibility("internal"))
	assert.Equal(t, "private", pyVisibility("_hidden"))
	assert.Equal(t, "public", pyVisibility("visible"))
	assert.Equal(t, "private", jsVisibility("#secret", ""))
}
