// Package route implements propd's prefix route table: an ordered list of
// {storage, prefixes, refcount} items behind a readers-writer lock, with
// head-first insertion and a refcounted match guard. Grounded on
// original_source/lib/route.c and route.h.
package route

import (
	"sync"

	"propd/internal/perr"
	"propd/internal/storage"

	"go.uber.org/atomic"
)

// Item is one route table entry. It owns its Storage and destroys it
// (via Close) when removed from the table.
type Item struct {
	Storage  storage.Backend
	Prefixes []string

	nref atomic.Int32
}

// Ref is a guard returned by Match; it decrements the owning item's
// refcount exactly once. Never expose the raw item to callers outside
// this package — the spec requires refcounting to be impossible to
// bypass.
type Ref struct {
	item     *Item
	released bool
}

// Storage returns the matched backend.
func (r *Ref) Storage() storage.Backend { return r.item.Storage }

// Release decrements the item's refcount. Idempotent; a second Release
// is a no-op so defer-Release call sites can't double-decrement on an
// early return that already released explicitly.
func (r *Ref) Release() {
	if r.released {
		return
	}
	r.released = true
	r.item.nref.Dec()
}

// matchPrefix implements spec §4.5's literal compare with a trailing '*'
// meaning "match the rest", verbatim from original_source/lib/misc.c's
// prefix_match.
func matchPrefix(prefix, key string) bool {
	i := 0
	for i < len(prefix) && i < len(key) {
		if prefix[i] == '*' {
			return true
		}
		if prefix[i] != key[i] {
			return false
		}
		i++
	}
	if i < len(prefix) && prefix[i] == '*' {
		return true
	}
	return i == len(prefix) && i == len(key)
}

// Table is the route table: a head-insert ordered list plus an RW lock.
type Table struct {
	mu    sync.RWMutex
	items []*Item
}

// New creates an empty route table.
func New() *Table { return &Table{} }

// Register inserts a new item at the head, failing with ErrExists if any
// existing item shares the storage's name.
func (t *Table) Register(backend storage.Backend, prefixes []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, it := range t.items {
		if it.Storage.Name() == backend.Name() {
			return perr.ErrExists
		}
	}
	cp := make([]string, len(prefixes))
	copy(cp, prefixes)
	t.items = append([]*Item{{Storage: backend, Prefixes: cp}}, t.items...)
	return nil
}

// Unregister removes the item named name (or the first item when name is
// "*"), closing its storage. Fails with ErrBusy if the item is still
// referenced, or ErrNotFound if no such item exists.
func (t *Table) Unregister(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i, it := range t.items {
		if name == "*" || it.Storage.Name() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return perr.ErrNotFound
	}
	it := t.items[idx]
	if it.nref.Load() > 0 {
		return perr.ErrBusy
	}
	t.items = append(t.items[:idx], t.items[idx+1:]...)
	_ = it.Storage.Close()
	return nil
}

// UnregisterAll removes every unreferenced item, closing its storage
// (used on shutdown). Items still referenced are skipped and left for
// the caller to retry; it returns the number removed.
func (t *Table) UnregisterAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var kept []*Item
	removed := 0
	for _, it := range t.items {
		if it.nref.Load() > 0 {
			kept = append(kept, it)
			continue
		}
		_ = it.Storage.Close()
		removed++
	}
	t.items = kept
	return removed
}

// Match scans in list order and returns the first item whose prefix
// matches key, bumping its refcount and returning a guard that must be
// Released by the caller. Returns ErrNotFound if nothing matches.
func (t *Table) Match(key string) (*Ref, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, it := range t.items {
		for _, p := range it.Prefixes {
			if matchPrefix(p, key) {
				it.nref.Inc()
				return &Ref{item: it}, nil
			}
		}
	}
	return nil, perr.ErrNotFound
}

// Snapshot describes one route item for dump_db_route.
type Snapshot struct {
	Name     string   `yaml:"name"`
	Prefixes []string `yaml:"prefixes"`
	RefCount int32    `yaml:"refcount"`
}

func (t *Table) Snapshot() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Snapshot, 0, len(t.items))
	for _, it := range t.items {
		out = append(out, Snapshot{Name: it.Storage.Name(), Prefixes: it.Prefixes, RefCount: it.nref.Load()})
	}
	return out
}
