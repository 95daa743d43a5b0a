// Package nmutex implements a named-mutex namespace: a mutex identified by
// an arbitrary string, materialized on first lock and destroyed on last
// release. Grounded on original_source/lib/infra/named_mutex.c.
package nmutex

import "sync"

type entry struct {
	mu   sync.Mutex
	nref int
}

// Namespace is a mapping name -> {mutex, refcount}. The zero value is not
// usable; use New.
type Namespace struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty namespace.
func New() *Namespace {
	return &Namespace{entries: make(map[string]*entry)}
}

// Lock ensures exclusive access to name across any number of callers. It
// creates the entry if absent, bumps its refcount under the namespace
// lock, then blocks on the per-name mutex — the namespace lock is never
// held while blocking, so a concurrent Unlock cannot free the entry out
// from under a waiter that has already bumped its refcount.
func (ns *Namespace) Lock(name string) {
	fresh := &entry{}

	ns.mu.Lock()
	e, ok := ns.entries[name]
	if !ok {
		e = fresh
		ns.entries[name] = e
	}
	e.nref++
	ns.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the per-name mutex and decrements its refcount,
// removing the entry once the last holder has released it. Unlocking a
// name with no outstanding lock is a caller error and panics, matching
// the assertion discipline of the original.
func (ns *Namespace) Unlock(name string) {
	ns.mu.Lock()
	e, ok := ns.entries[name]
	ns.mu.Unlock()
	if !ok {
		panic("nmutex: unlock of unknown name " + name)
	}

	e.mu.Unlock()

	ns.mu.Lock()
	e.nref--
	if e.nref == 0 {
		delete(ns.entries, name)
	}
	ns.mu.Unlock()
}

// Len reports the number of names currently held (for tests/diagnostics).
func (ns *Namespace) Len() int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return len(ns.entries)
}

// Close requires the namespace be empty — no outstanding locks — and
// releases internal state. It panics otherwise, matching the original's
// assert-on-teardown discipline (spec §4.2: "an implementation may wait or
// may assert").
func (ns *Namespace) Close() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if len(ns.entries) != 0 {
		panic("nmutex: namespace destroyed with outstanding locks")
	}
}
