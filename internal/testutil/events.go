package testutil

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/hotswap/internal/pubsub"
	"github.com/zjrosen/hotswap/internal/registry"
)

// Recorder captures everything published on a registry's event channels.
type Recorder struct {
	mu           sync.Mutex
	registered   []registry.Record
	unregistered []string
	errs         []error
	warnings     []string
	seq          []seqEntry
}

type seqEntry struct {
	seq   uint64
	label string
}

// NewRecorder subscribes to all four channels until the test ends.
func NewRecorder(t *testing.T, events *registry.Events) *Recorder {
	t.Helper()
	r := &Recorder{}

	unsubs := []func(){
		events.Registered.SubscribeFunc(func(e pubsub.Event[registry.Record]) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.registered = append(r.registered, e.Payload)
			r.seq = append(r.seq, seqEntry{e.Seq, "registered:" + e.Payload.Name})
		}),
		events.Unregistered.SubscribeFunc(func(e pubsub.Event[string]) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.unregistered = append(r.unregistered, e.Payload)
			r.seq = append(r.seq, seqEntry{e.Seq, "unregistered:" + e.Payload})
		}),
		events.Errors.SubscribeFunc(func(e pubsub.Event[error]) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, e.Payload)
			r.seq = append(r.seq, seqEntry{e.Seq, "error"})
		}),
		events.Warnings.SubscribeFunc(func(e pubsub.Event[string]) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.warnings = append(r.warnings, e.Payload)
			r.seq = append(r.seq, seqEntry{e.Seq, "warning"})
		}),
	}
	t.Cleanup(func() {
		for _, u := range unsubs {
			u()
		}
	})
	return r
}

// Registered returns the recorded Registered payloads.
func (r *Recorder) Registered() []registry.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]registry.Record(nil), r.registered...)
}

// Unregistered returns the recorded Unregistered names.
func (r *Recorder) Unregistered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.unregistered...)
}

// Errors returns the recorded errors.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Warnings returns the recorded warnings.
func (r *Recorder) Warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.warnings...)
}

// Sequence returns every recorded event in emission order, labelled
// "registered:<name>", "unregistered:<name>", "error" or "warning".
func (r *Recorder) Sequence() []string {
	r.mu.Lock()
	entries := append([]seqEntry(nil), r.seq...)
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.label
	}
	return out
}

// Counts returns the number of Registered, Unregistered, Error and Warning events.
func (r *Recorder) Counts() (registered, unregistered, errs, warnings int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered), len(r.unregistered), len(r.errs), len(r.warnings)
}

// WaitFor blocks until the recorder holds at least the given counts.
func (r *Recorder) WaitFor(t *testing.T, registered, unregistered, errs, warnings int) {
	t.Helper()
	require.Eventually(t, func() bool {
		reg, unreg, e, w := r.Counts()
		return reg >= registered && unreg >= unregistered && e >= errs && w >= warnings
	}, 2*time.Second, 5*time.Millisecond, "waiting for events: %s", r)
}

// Settle waits until no new event has arrived for quiet.
func (r *Recorder) Settle(quiet time.Duration) {
	last := r.total()
	for {
		time.Sleep(quiet)
		now := r.total()
		if now == last {
			return
		}
		last = now
	}
}

func (r *Recorder) total() int {
	reg, unreg, e, w := r.Counts()
	return reg + unreg + e + w
}

func (r *Recorder) String() string {
	reg, unreg, e, w := r.Counts()
	return fmt.Sprintf("registered=%d unregistered=%d errors=%d warnings=%d seq=%v", reg, unreg, e, w, r.Sequence())
}
