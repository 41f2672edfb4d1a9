// Package activeartifact implements the Active-Artifact Manager: a
// process-wide, explicitly-constructed holder of the currently active
// artifact reference per artifact class, with hot-swap that never
// interrupts an in-flight consumer.
//
// Source systems often rely on garbage collection to release an old
// artifact once the last reference drops. Go has no such guarantee for
// non-memory resources (open file handles, loaded model weights), so
// this manager uses an explicit reference count instead: a reference
// is released exactly once by its holder, and the underlying value is
// freed (via its optional Close) only once both the artifact has been
// retired by a later Swap AND its last reference has been released.
package activeartifact

import "sync/atomic"

// Releasable is implemented by artifact payloads that hold a resource
// needing explicit cleanup (e.g. a loaded model). Manager calls Close
// exactly once, when the last reference to a retired generation is
// released.
type Releasable interface {
	Close() error
}

type generation struct {
	value    interface{}
	refCount int64 // starts at 1: the Ref returned by the Swap that created it
	retired  int32 // set to 1 once a later Swap supersedes this generation
	closed   int32 // CAS guard so Close fires exactly once
}

func (g *generation) maybeClose() {
	if atomic.LoadInt64(&g.refCount) != 0 {
		return
	}
	if atomic.LoadInt32(&g.retired) == 0 {
		return
	}
	if !atomic.CompareAndSwapInt32(&g.closed, 0, 1) {
		return
	}
	if r, ok := g.value.(Releasable); ok {
		_ = r.Close()
	}
}

// Ref is a held reference to one generation of the active artifact.
// Callers MUST call Release exactly once when done.
type Ref struct {
	gen   *generation
	freed int32
}

// Value returns the referenced artifact payload.
func (r *Ref) Value() interface{} { return r.gen.value }

// Release drops this reference.
func (r *Ref) Release() {
	if !atomic.CompareAndSwapInt32(&r.freed, 0, 1) {
		return
	}
	atomic.AddInt64(&r.gen.refCount, -1)
	r.gen.maybeClose()
}

// Manager holds at most one live artifact reference per class. Swap and
// Current never block each other for longer than a single pointer
// exchange.
type Manager struct {
	current atomic.Pointer[generation]
}

// New creates an empty Manager; Current returns nil until the first Swap.
func New() *Manager {
	return &Manager{}
}

// Current acquires a reference to the active artifact. Returns nil if
// no artifact has ever been swapped in. Callers must Release the
// returned Ref.
func (m *Manager) Current() *Ref {
	gen := m.current.Load()
	if gen == nil {
		return nil
	}
	atomic.AddInt64(&gen.refCount, 1)
	return &Ref{gen: gen}
}

// Swap installs value as the new active artifact and returns a Ref to
// it. The previous generation is retired: it remains valid for any
// holder that already obtained a Ref to it, and is closed once both it
// is retired and its last reference is released. Swap(nil) clears the
// active artifact (an explicit null swap).
func (m *Manager) Swap(value interface{}) *Ref {
	newGen := &generation{value: value, refCount: 1}
	old := m.current.Swap(newGen)

	if old != nil {
		atomic.StoreInt32(&old.retired, 1)
		old.maybeClose()
	}

	return &Ref{gen: newGen}
}
