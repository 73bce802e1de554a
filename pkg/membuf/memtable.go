package membuf

import (
	"cmp"
	"sort"
	"time"
)

// memtable is one generation of buffered writes plus its secondary
// indexes. It is mutated only while it is the active table; rotation
// freezes it for good, after which it is read without locks until the
// flush coordinator drops it.
type memtable[K cmp.Ordered, V any] struct {
	generation uint64
	createdAt  time.Time
	entries    map[K]Entry[K, V]
	indexes    *indexSet[K, V]

	// approxSize only ever grows: updates and tombstones add their own
	// weight instead of reclaiming the superseded entry's.
	approxSize int64

	// flushed closes once the store has durably accepted this
	// generation. ForceFlush waiters block on it.
	flushed chan struct{}
}

func newMemtable[K cmp.Ordered, V any](generation uint64, defs []Index[V], now time.Time) *memtable[K, V] {
	return &memtable[K, V]{
		generation: generation,
		createdAt:  now,
		entries:    make(map[K]Entry[K, V]),
		indexes:    newIndexSet[K, V](defs),
		flushed:    make(chan struct{}),
	}
}

func (m *memtable[K, V]) get(key K) (Entry[K, V], bool) {
	e, ok := m.entries[key]
	return e, ok
}

// put inserts or replaces the entry for e.Key and keeps the indexes in
// step: a value is re-indexed, a tombstone leaves no index trace.
func (m *memtable[K, V]) put(e Entry[K, V], size int64) {
	if e.Tombstone {
		m.indexes.remove(e.Key)
	} else {
		m.indexes.insert(e.Key, e.Value)
	}
	m.entries[e.Key] = e
	m.approxSize += size
}

func (m *memtable[K, V]) len() int {
	return len(m.entries)
}

func (m *memtable[K, V]) age(now time.Time) time.Duration {
	return now.Sub(m.createdAt)
}

// batch returns every entry of the generation ordered by key, the shape
// Store.Apply expects.
func (m *memtable[K, V]) batch() []Entry[K, V] {
	out := make([]Entry[K, V], 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
