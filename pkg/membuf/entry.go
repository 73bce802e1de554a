// Package membuf implements an in-memory write buffer in front of a
// durable store. Writes land in an active memtable; when it grows past a
// size threshold or ages past a flush timeout it is frozen, queued, and
// flushed to the store by a background coordinator. Reads merge the
// active table, the frozen generations newest-first, and the store.
package membuf

import "cmp"

// Entry is a single buffered record: a primary key, its value, and the
// sequence number assigned when the write was accepted. A tombstone
// entry marks the key as logically deleted until the generation holding
// it is flushed.
type Entry[K cmp.Ordered, V any] struct {
	Key       K
	Value     V
	Tombstone bool
	Version   uint64
}
