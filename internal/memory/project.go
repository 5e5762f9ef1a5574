package memory

import (
	"os"
	"path/filepath"
	"strings"

	mnerr "github.com/mnemolite/mnemolite/internal/errors"
)

// configSentinels are directory names that never name a project. A slug
// resolving to one walks up a level and retries.
var configSentinels = map[string]bool{
	".claude":      true,
	".config":      true,
	".vscode":      true,
	".idea":        true,
	"node_modules": true,
}

// DeriveSlug maps an origin path to a stable project slug. If the path is
// inside a version-controlled tree, the repository root's basename wins;
// otherwise the path's own basename. Sentinel directory names walk up.
func DeriveSlug(originPath string) (string, error) {
	originPath = strings.TrimSpace(originPath)
	if originPath == "" {
		return "", mnerr.New(mnerr.KindBadRequest, "origin path is required")
	}
	abs, err := filepath.Abs(originPath)
	if err != nil {
		return "", mnerr.Wrap(mnerr.KindBadRequest, err)
	}

	dir := abs
	if root, ok := findRepoRoot(dir); ok {
		dir = root
	}
	for {
		base := strings.ToLower(filepath.Base(dir))
		if !configSentinels[base] {
			if base == "/" || base == "." || base == string(filepath.Separator) {
				return "", mnerr.Newf(mnerr.KindBadRequest, "no project name derivable from %q", originPath)
			}
			return base, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", mnerr.Newf(mnerr.KindBadRequest, "no project name derivable from %q", originPath)
		}
		dir = parent
	}
}

// findRepoRoot walks up from dir looking for a .git entry.
func findRepoRoot(dir string) (string, bool) {
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && (info.IsDir() || info.Mode().IsRegular()) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
