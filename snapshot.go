package vigil

import "sort"

// Entry is one record in a Snapshot: the value (raw or decoded, depending on
// whether value decoding is enabled) plus the full metadata bag the
// coordination service attached to the record, index fields and raw value
// included.
type Entry struct {
	Value any
	Meta  map[string]any
}

// Snapshot is an immutable point-in-time view of the watched namespace,
// keyed by record key. The zero value is the empty snapshot. Every update
// produces a new Snapshot; an existing one is never mutated.
type Snapshot struct {
	entries map[string]Entry
}

func newSnapshot(entries map[string]Entry) Snapshot {
	return Snapshot{entries: entries}
}

// Len returns the number of records in the snapshot.
func (s Snapshot) Len() int { return len(s.entries) }

// Has reports whether key is present.
func (s Snapshot) Has(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// Get returns the entry for key.
func (s Snapshot) Get(key string) (Entry, bool) {
	e, ok := s.entries[key]
	return e, ok
}

// Value returns the value for key.
func (s Snapshot) Value(key string) (any, bool) {
	e, ok := s.entries[key]
	return e.Value, ok
}

// Keys returns the record keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
