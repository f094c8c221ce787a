// Package templates holds the starter scripts written by `hotswap init`.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

//go:embed scripts
var starterScripts embed.FS

// ScriptsFS returns the embedded starter scripts, rooted at the script files.
func ScriptsFS() fs.FS {
	sub, err := fs.Sub(starterScripts, "scripts")
	if err != nil {
		// The embed directive guarantees the directory exists.
		panic(err)
	}
	return sub
}

// Names lists the starter script file names, sorted.
func Names() []string {
	entries, _ := fs.ReadDir(ScriptsFS(), ".")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// WriteStarterScripts copies the starter scripts into dir, creating it if
// needed. Existing files are kept. Returns the paths that were written.
func WriteStarterScripts(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	var written []string
	for _, name := range Names() {
		dst := filepath.Join(dir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return written, err
		}
		data, err := fs.ReadFile(ScriptsFS(), name)
		if err != nil {
			return written, err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil { //nolint:gosec // scripts are meant to be readable
			return written, fmt.Errorf("writing %s: %w", dst, err)
		}
		written = append(written, dst)
	}
	return written, nil
}
