package membuf

import (
	"slices"
	"testing"
	"time"
)

func testIndexes() []Index[string] {
	return []Index[string]{
		{Name: "val", Mode: MatchExact, Extract: func(v string) string { return v }},
		{Name: "path", Mode: MatchPrefix, Extract: func(v string) string { return v }},
	}
}

func TestMemtable_PutGet(t *testing.T) {
	mt := newMemtable[int64, string](1, testIndexes(), time.Now())

	mt.put(Entry[int64, string]{Key: 1, Value: "a", Version: 1}, 10)
	mt.put(Entry[int64, string]{Key: 2, Value: "b", Version: 2}, 10)

	e, ok := mt.get(1)
	if !ok || e.Value != "a" || e.Version != 1 {
		t.Fatalf("unexpected entry: %+v found=%v", e, ok)
	}
	if _, ok := mt.get(3); ok {
		t.Fatal("found an entry that was never put")
	}
	if mt.len() != 2 {
		t.Fatalf("expected 2 entries, got %d", mt.len())
	}
	if mt.approxSize != 20 {
		t.Fatalf("expected approxSize 20, got %d", mt.approxSize)
	}
}

func TestMemtable_SizeIsMonotonic(t *testing.T) {
	mt := newMemtable[int64, string](1, nil, time.Now())

	mt.put(Entry[int64, string]{Key: 1, Value: "a"}, 10)
	mt.put(Entry[int64, string]{Key: 1, Value: "bb"}, 12)
	mt.put(Entry[int64, string]{Key: 1, Tombstone: true}, 1)

	// Superseded entries keep their weight; the size never shrinks.
	if mt.approxSize != 23 {
		t.Fatalf("expected approxSize 23, got %d", mt.approxSize)
	}
	if mt.len() != 1 {
		t.Fatalf("expected a single entry, got %d", mt.len())
	}
}

func TestMemtable_TombstoneClearsIndexes(t *testing.T) {
	mt := newMemtable[int64, string](1, testIndexes(), time.Now())

	mt.put(Entry[int64, string]{Key: 1, Value: "rock"}, 1)
	mt.put(Entry[int64, string]{Key: 1, Tombstone: true}, 1)

	if keys := mt.indexes.lookup("val", "rock"); len(keys) != 0 {
		t.Fatalf("tombstoned key still indexed: %v", keys)
	}
	if keys := mt.indexes.findByPrefix("path", "ro"); len(keys) != 0 {
		t.Fatalf("tombstoned key still in prefix index: %v", keys)
	}
	e, ok := mt.get(1)
	if !ok || !e.Tombstone {
		t.Fatalf("expected a tombstone entry, got %+v found=%v", e, ok)
	}
}

func TestMemtable_UpdateReindexes(t *testing.T) {
	mt := newMemtable[int64, string](1, testIndexes(), time.Now())

	mt.put(Entry[int64, string]{Key: 1, Value: "rock"}, 1)
	mt.put(Entry[int64, string]{Key: 1, Value: "jazz"}, 1)

	if keys := mt.indexes.lookup("val", "rock"); len(keys) != 0 {
		t.Fatalf("stale bucket still holds the key: %v", keys)
	}
	if keys := mt.indexes.lookup("val", "jazz"); !slices.Equal(keys, []int64{1}) {
		t.Fatalf("expected [1] under the new value, got %v", keys)
	}
}

func TestMemtable_BatchOrderedByKey(t *testing.T) {
	mt := newMemtable[int64, string](1, nil, time.Now())

	for _, k := range []int64{5, 1, 9, 3, 7} {
		mt.put(Entry[int64, string]{Key: k, Value: "x"}, 1)
	}
	mt.put(Entry[int64, string]{Key: 3, Tombstone: true}, 1)

	batch := mt.batch()
	if len(batch) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(batch))
	}
	for i := 1; i < len(batch); i++ {
		if batch[i-1].Key >= batch[i].Key {
			t.Fatalf("batch not ordered by key: %v then %v", batch[i-1].Key, batch[i].Key)
		}
	}
	for _, e := range batch {
		if e.Key == 3 && !e.Tombstone {
			t.Fatal("tombstone lost when batching")
		}
	}
}

func TestIndexSet_PrefixScan(t *testing.T) {
	s := newIndexSet[int64, string](testIndexes())

	s.insert(1, "music/a/one.mp3")
	s.insert(2, "music/b/two.mp3")
	s.insert(3, "podcasts/x.mp3")
	s.insert(4, "music/a/three.mp3")

	keys := s.findByPrefix("path", "music/a/")
	slices.Sort(keys)
	if want := []int64{1, 4}; !slices.Equal(keys, want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}

	// Ordered by (value, key), so the full-tree scan comes back sorted
	// by path.
	all := s.findByPrefix("path", "")
	if want := []int64{1, 4, 2, 3}; !slices.Equal(all, want) {
		t.Fatalf("expected value order %v, got %v", want, all)
	}

	if keys := s.findByPrefix("path", "video/"); len(keys) != 0 {
		t.Fatalf("expected no matches, got %v", keys)
	}
}

func TestIndexSet_RemoveUnknownKey(t *testing.T) {
	s := newIndexSet[int64, string](testIndexes())
	s.remove(99) // must not panic
	if keys := s.lookup("val", "anything"); len(keys) != 0 {
		t.Fatalf("lookup on empty set returned %v", keys)
	}
}
