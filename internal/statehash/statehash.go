// Package statehash implements the rendezvous problem: give every distinct
// key (a collection id, an object-store path) a single shared, reference
// counted state object so concurrent callers holding the "same" key always
// observe the same in-memory state rather than racing to create their own.
//
// This is a direct port of the teacher's locking discipline — a single
// mutex guarding a map, as in valuelocmap's sharded valuesLocStore buckets
// (valuelocmap/valuelocmap.go) — applied to the rendezvous shape described
// in the original Rust source's state_hash_table.rs: Table.Release
// removes the entry only when it is both unreferenced and Finished().
package statehash

import "sync"

// Value is held behind a Handle. Finished reports whether the value is at a
// quiescent state and may be evicted once its last handle is released; it
// must be safe to call while the table's lock is held, so it should be a
// fast, non-blocking check.
type Value interface {
	Finished() bool
}

type entry[V Value] struct {
	value    V
	refCount int
}

// Table is a StateHashTable: a map from key to a shared, reference counted
// Value, with at most one Value alive per key at a time.
type Table[K comparable, V Value] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
	newFunc func(K) V
}

// New creates a Table whose values are produced by newFunc on first access
// for a given key.
func New[K comparable, V Value](newFunc func(K) V) *Table[K, V] {
	return &Table[K, V]{
		entries: make(map[K]*entry[V]),
		newFunc: newFunc,
	}
}

// Handle is a live reference to a key's shared state. Exactly one handle
// must be released (via Release) for each handle obtained.
type Handle[K comparable, V Value] struct {
	table *Table[K, V]
	key   K
	value V
}

// Value returns the shared state this handle refers to.
func (h Handle[K, V]) Value() V { return h.value }

// Key returns the key this handle was obtained for.
func (h Handle[K, V]) Key() K { return h.key }

// GetOrCreate returns a handle to the shared state for key, creating it via
// the Table's newFunc if no state currently exists for that key.
func (t *Table[K, V]) GetOrCreate(key K) Handle[K, V] {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry[V]{value: t.newFunc(key)}
		t.entries[key] = e
	}
	e.refCount++
	return Handle[K, V]{table: t, key: key, value: e.value}
}

// Get returns a handle to existing state for key, or ok == false if no
// state currently exists (no state is created).
func (t *Table[K, V]) Get(key K) (h Handle[K, V], ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, exists := t.entries[key]
	if !exists {
		return Handle[K, V]{}, false
	}
	e.refCount++
	return Handle[K, V]{table: t, key: key, value: e.value}, true
}

// Release gives up this handle. If this was the last outstanding handle for
// the key and the value reports Finished(), the entry is removed from the
// table; otherwise the value persists so a future GetOrCreate observes the
// same state.
func (t *Table[K, V]) Release(h Handle[K, V]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h.key]
	if !ok {
		return
	}
	e.refCount--
	if e.refCount <= 0 && e.value.Finished() {
		delete(t.entries, h.key)
	}
}

// Len reports the number of distinct keys currently tracked; intended for
// stats/debugging, not for control flow.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// MutexValue is a ready-made Value for the common case where the shared
// state is just "a mutex to serialize work for this key" with no other
// payload, as used by the caching object store to dedupe concurrent reads
// of the same path (spec.md §4.1).
type MutexValue struct {
	sync.Mutex
}

// Finished always reports true: a
// MutexValue is always safe to evict once unreferenced because it carries
// no state beyond the lock itself.
func (m *MutexValue) Finished() bool { return true }
