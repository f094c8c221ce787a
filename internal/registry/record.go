package registry

import (
	"sync"
	"time"

	"github.com/zjrosen/hotswap/internal/script"
)

// Record is the registry's view of one registered script instance.
// Records handed out by the registry are copies; mutating one has no effect.
type Record struct {
	// ID is a generation id, new on every registration of a name.
	ID           string
	Name         string
	TypeTag      string
	SourcePath   string // empty for inline/direct registrations
	Backend      string // backend that produced the instance, empty for direct registrations
	Caps         script.Capability
	Instance     script.Instance
	RegisteredAt time.Time
}

// FromFile reports whether the record is backed by a file.
func (r Record) FromFile() bool {
	return r.SourcePath != ""
}

// entry is the mutable slot behind a Record.
type entry struct {
	rec Record

	// exec is held shared by in-flight invocations and exclusively while the
	// instance is torn down, so teardown never overlaps execution.
	exec sync.RWMutex
}
