package worldlog

type mapEntry[K comparable, V any] struct {
	key K
	old V
	had bool
}

// RollbackableMap is a map that journals every insert so it can be rewound to an earlier length.
type RollbackableMap[K comparable, V any] struct {
	m          map[K]V
	oldEntries []mapEntry[K, V]
}

func NewRollbackableMap[K comparable, V any]() *RollbackableMap[K, V] {
	return &RollbackableMap[K, V]{m: make(map[K]V)}
}

// Insert sets key to value and returns the previous value, if any.
func (r *RollbackableMap[K, V]) Insert(key K, value V) (V, bool) {
	old, had := r.m[key]
	r.m[key] = value
	r.oldEntries = append(r.oldEntries, mapEntry[K, V]{key: key, old: old, had: had})
	return old, had
}

func (r *RollbackableMap[K, V]) Get(key K) (V, bool) {
	v, ok := r.m[key]
	return v, ok
}

func (r *RollbackableMap[K, V]) Len() int {
	return len(r.m)
}

// Map exposes the current contents. Callers must not modify it.
func (r *RollbackableMap[K, V]) Map() map[K]V {
	return r.m
}

func (r *RollbackableMap[K, V]) Snapshot() int {
	return len(r.oldEntries)
}

// Rollback undoes every insert made after snapshot, newest first.
func (r *RollbackableMap[K, V]) Rollback(snapshot int) {
	if snapshot > len(r.oldEntries) {
		return
	}
	for i := len(r.oldEntries) - 1; i >= snapshot; i-- {
		e := r.oldEntries[i]
		if e.had {
			r.m[e.key] = e.old
		} else {
			delete(r.m, e.key)
		}
	}
	r.oldEntries = r.oldEntries[:snapshot]
}

func (r *RollbackableMap[K, V]) DeleteHistory() {
	r.oldEntries = r.oldEntries[:0]
}

// Change is the net effect on one key since a snapshot. HadBefore is false when the key was absent.
type Change[V any] struct {
	Before    V
	HadBefore bool
	After     V
}

// ChangesAfter folds the journal after snapshot into one change per touched key.
func (r *RollbackableMap[K, V]) ChangesAfter(snapshot int) map[K]Change[V] {
	changes := make(map[K]Change[V])
	if snapshot > len(r.oldEntries) {
		return changes
	}
	for i := len(r.oldEntries) - 1; i >= snapshot; i-- {
		e := r.oldEntries[i]
		c, seen := changes[e.key]
		if !seen {
			c.After = r.m[e.key]
		}
		c.Before, c.HadBefore = e.old, e.had
		changes[e.key] = c
	}
	return changes
}

// RollbackableSet is a set whose additions can be undone.
type RollbackableSet[K comparable] struct {
	m     map[K]struct{}
	added []K
}

func NewRollbackableSet[K comparable]() *RollbackableSet[K] {
	return &RollbackableSet[K]{m: make(map[K]struct{})}
}

// Add inserts key and reports whether it was absent.
func (r *RollbackableSet[K]) Add(key K) bool {
	if _, ok := r.m[key]; ok {
		return false
	}
	r.m[key] = struct{}{}
	r.added = append(r.added, key)
	return true
}

func (r *RollbackableSet[K]) Contains(key K) bool {
	_, ok := r.m[key]
	return ok
}

func (r *RollbackableSet[K]) Len() int {
	return len(r.m)
}

func (r *RollbackableSet[K]) Snapshot() int {
	return len(r.added)
}

func (r *RollbackableSet[K]) Rollback(snapshot int) {
	if snapshot > len(r.added) {
		return
	}
	for _, k := range r.added[snapshot:] {
		delete(r.m, k)
	}
	r.added = r.added[:snapshot]
}

func (r *RollbackableSet[K]) DeleteHistory() {
	r.added = r.added[:0]
}

// RollbackableLog is an append-only list truncated on rollback.
type RollbackableLog[T any] struct {
	entries []T
}

func (r *RollbackableLog[T]) Push(entry T) {
	r.entries = append(r.entries, entry)
}

func (r *RollbackableLog[T]) Entries() []T {
	return r.entries
}

func (r *RollbackableLog[T]) Snapshot() int {
	return len(r.entries)
}

func (r *RollbackableLog[T]) Rollback(snapshot int) {
	if snapshot < len(r.entries) {
		r.entries = r.entries[:snapshot]
	}
}

// LogsAfter returns the entries appended after snapshot.
func (r *RollbackableLog[T]) LogsAfter(snapshot int) []T {
	if snapshot >= len(r.entries) {
		return nil
	}
	return r.entries[snapshot:]
}

// RollbackablePod snapshots a plain value by copying it.
type RollbackablePod[T any] struct {
	Value T
}

func (r *RollbackablePod[T]) Snapshot() T {
	return r.Value
}

func (r *RollbackablePod[T]) Rollback(snapshot T) {
	r.Value = snapshot
}
