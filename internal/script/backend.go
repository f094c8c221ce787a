package script

import "context"

// Backend turns script files or inline source into instances.
// Implementations may be slow; the registry never calls them while holding its lock.
type Backend interface {
	// Name identifies the backend ("lua", "hcl", ...).
	Name() string

	// Extensions lists the file extensions (with leading dot) this backend loads.
	Extensions() []string

	// Initialize prepares the backend. exts widens what scripts can resolve.
	Initialize(exts []Extension) error

	// LoadFile runs the file and returns the instance it registered.
	// A nil instance with a nil error is a contract violation.
	LoadFile(ctx context.Context, path string) (Instance, error)

	// LoadSource runs inline source text.
	LoadSource(ctx context.Context, src string) (Instance, error)

	// Close releases backend-wide resources.
	Close() error
}

// Extension widens the set of symbols/libraries a backend resolves against.
type Extension struct {
	Name string `mapstructure:"name" yaml:"name"`
	Path string `mapstructure:"path" yaml:"path"`
}

// ExtensionSet is an append-only list of extensions; duplicate names are ignored.
type ExtensionSet struct {
	list []Extension
	seen map[string]struct{}
}

// Add appends ext unless an extension with the same name is already present.
// Returns false for duplicates.
func (s *ExtensionSet) Add(ext Extension) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	key := ext.Name
	if key == "" {
		key = ext.Path
	}
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	s.list = append(s.list, ext)
	return true
}

// List returns a copy of the extensions in insertion order.
func (s *ExtensionSet) List() []Extension {
	out := make([]Extension, len(s.list))
	copy(out, s.list)
	return out
}

// Len returns the number of extensions.
func (s *ExtensionSet) Len() int {
	return len(s.list)
}
