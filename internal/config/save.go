package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/hotswap/internal/script"
)

// SaveScriptDirs replaces script_dirs in the config file.
// Comments and formatting elsewhere are preserved by editing a yaml.Node.
func SaveScriptDirs(configPath string, dirs []string) error {
	node := &yaml.Node{Kind: yaml.SequenceNode, Content: make([]*yaml.Node, 0, len(dirs))}
	for _, dir := range dirs {
		node.Content = append(node.Content, scalar(dir))
	}
	return saveKey(configPath, node, "script_dirs")
}

// AddScriptDir appends dir to script_dirs unless already present.
// Returns false when nothing changed.
func AddScriptDir(configPath string, current []string, dir string) (bool, error) {
	if slices.Contains(current, dir) {
		return false, nil
	}
	dirs := append(slices.Clone(current), dir)
	if err := SaveScriptDirs(configPath, dirs); err != nil {
		return false, err
	}
	return true, nil
}

// SaveExtensions replaces extensions in the config file.
func SaveExtensions(configPath string, exts []script.Extension) error {
	if err := ValidateExtensions(exts); err != nil {
		return err
	}
	node := &yaml.Node{Kind: yaml.SequenceNode, Content: make([]*yaml.Node, 0, len(exts))}
	for _, ext := range exts {
		node.Content = append(node.Content, &yaml.Node{
			Kind: yaml.MappingNode,
			Content: []*yaml.Node{
				scalar("name"), scalar(ext.Name),
				scalar("path"), scalar(ext.Path),
			},
		})
	}
	return saveKey(configPath, node, "extensions")
}

// SaveFlag sets flags.<name> in the config file.
func SaveFlag(configPath, name string, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return saveKey(configPath, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: value}, "flags", name)
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

// saveKey sets the value at keys (a path of nested mapping keys) and writes
// the file atomically.
func saveKey(configPath string, value *yaml.Node, keys ...string) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	// An empty file, or one holding only comments, has no mapping yet.
	if doc.Kind == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode}
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("parsing config: top level is not a mapping")
	}

	setPath(root, value, keys)

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	return writeAtomic(configPath, buf.Bytes())
}

// setPath walks or creates nested mappings along keys and sets the last one.
func setPath(mapping, value *yaml.Node, keys []string) {
	key := keys[0]
	for i := 0; i < len(mapping.Content)-1; i += 2 {
		if mapping.Content[i].Value != key {
			continue
		}
		if len(keys) == 1 {
			mapping.Content[i+1] = value
			return
		}
		child := mapping.Content[i+1]
		if child.Kind != yaml.MappingNode {
			child = &yaml.Node{Kind: yaml.MappingNode}
			mapping.Content[i+1] = child
		}
		setPath(child, value, keys[1:])
		return
	}

	if len(keys) == 1 {
		mapping.Content = append(mapping.Content, scalar(key), value)
		return
	}
	child := &yaml.Node{Kind: yaml.MappingNode}
	mapping.Content = append(mapping.Content, scalar(key), child)
	setPath(child, value, keys[1:])
}

// writeAtomic writes data to a temp file next to path, then renames it.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".hotswap.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
