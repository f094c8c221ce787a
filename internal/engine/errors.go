package engine

import (
	"errors"
	"fmt"
)

// ErrDisposed is returned by operations on a disposed engine.
var ErrDisposed = errors.New("engine disposed")

// LoadError is a failure to turn one file (or inline source) into a registered script.
type LoadError struct {
	Path    string // empty for inline source
	Backend string // empty when no backend claimed the file
	Err     error
}

func (e *LoadError) Error() string {
	path := e.Path
	if path == "" {
		path = "<inline>"
	}
	if e.Backend == "" {
		return fmt.Sprintf("load %s: %v", path, e.Err)
	}
	return fmt.Sprintf("load %s (%s): %v", path, e.Backend, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
