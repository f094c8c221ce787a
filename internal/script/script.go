// Package script defines the contracts shared by the registry and the script backends.
//
// A backend turns a file or inline source text into an Instance. The registry
// only relies on the Instance's identity (Name, TypeTag) and on the optional
// capability interfaces it implements:
//
//   - Executable: Invoke dispatches to Execute.
//   - DataProducer: Fetch returns the value from Data.
//   - Unregisterable: OnUnregistered runs when the record is removed.
//
// Capabilities are probed once, at registration, and stored on the record as a
// Capability bitset.
package script

import (
	"context"
	"errors"
	"strings"
)

// Errors returned by backends and the load path.
var (
	// ErrNotRegistered means a backend ran the source but the source never
	// registered an instance with it.
	ErrNotRegistered = errors.New("script does not register an instance")

	// ErrMultipleRegistrations means a single source registered more than one instance.
	ErrMultipleRegistrations = errors.New("script registers more than one instance")

	// ErrInvalidInstance means the instance is unusable (nil, empty name).
	ErrInvalidInstance = errors.New("invalid script instance")

	// ErrNoBackend means no backend handles the file's extension or language.
	ErrNoBackend = errors.New("no backend for script")

	// ErrUnsupported means the backend cannot perform the requested operation.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Instance is the minimal shape of a backend-produced script object.
type Instance interface {
	// Name is the unique registry key.
	Name() string
	// TypeTag is a free-form classification label.
	TypeTag() string
	// OnRegistered is called as the instance is installed, before any record it
	// replaces is evicted. A panic rejects the instance.
	// It runs inside the registry's critical section and must not call back
	// into the registry synchronously.
	OnRegistered(host Host)
}

// Executable is implemented by instances that can be invoked with a data context.
type Executable interface {
	Execute(ctx context.Context, dataContext any) error
}

// DataProducer is implemented by instances that produce a value on request.
type DataProducer interface {
	Data(ctx context.Context) (any, error)
}

// Unregisterable is implemented by instances that hold resources to release
// when they leave the registry.
type Unregisterable interface {
	OnUnregistered()
}

// Host is the handle an instance may capture in OnRegistered to reach other scripts.
type Host interface {
	Invoke(ctx context.Context, name string, dataContext any) error
	Fetch(ctx context.Context, name string) (any, bool)
	NamesOfType(typeTag string) []string
}

// Capability is the set of optional interfaces an instance implements.
type Capability uint8

const (
	CapExecutable Capability = 1 << iota
	CapDataProducing
)

// CapabilitiesOf probes inst for the optional capability interfaces.
func CapabilitiesOf(inst Instance) Capability {
	var caps Capability
	if _, ok := inst.(Executable); ok {
		caps |= CapExecutable
	}
	if _, ok := inst.(DataProducer); ok {
		caps |= CapDataProducing
	}
	return caps
}

// Has reports whether c includes all of want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

func (c Capability) String() string {
	var parts []string
	if c.Has(CapExecutable) {
		parts = append(parts, "executable")
	}
	if c.Has(CapDataProducing) {
		parts = append(parts, "data")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
