// Package paths resolves the directories hotswap loads and watches.
package paths

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ProjectDir is the per-project directory holding config.yaml.
const ProjectDir = ".hotswap"

// ProjectConfigPath returns <dir>/.hotswap/config.yaml.
func ProjectConfigPath(dir string) string {
	return filepath.Join(dir, ProjectDir, "config.yaml")
}

// ResolveScriptDirs turns configured script directories into a minimal set
// of absolute paths:
//
//   - relative entries resolve against base
//   - symlinks are followed when the target exists
//   - duplicates are dropped
//   - entries nested inside another entry are dropped, since loading and
//     watching are recursive
//
// Order follows the first occurrence of each surviving entry.
func ResolveScriptDirs(dirs []string, base string) []string {
	resolved := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(base, dir)
		}
		dir = filepath.Clean(dir)
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			dir = real
		}
		if !slices.Contains(resolved, dir) {
			resolved = append(resolved, dir)
		}
	}

	out := resolved[:0:0]
	for _, dir := range resolved {
		nested := false
		for _, other := range resolved {
			if other != dir && Within(dir, other) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, dir)
		}
	}
	return out
}

// Within reports whether path is root or lies below it.
func Within(path, root string) bool {
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// WorkingDir returns the current directory, or "." if it cannot be determined.
func WorkingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
