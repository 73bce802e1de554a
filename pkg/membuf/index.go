package membuf

import (
	"cmp"
	"strings"

	"github.com/zhangyunhao116/skipset"
)

// MatchMode selects how an index is queried.
type MatchMode int

const (
	// MatchExact answers equality lookups: value -> set of keys.
	MatchExact MatchMode = iota
	// MatchPrefix answers prefix scans over string values.
	MatchPrefix
)

// Index declares a secondary index over buffered values. Extract is
// called on every write and must be pure and cheap.
type Index[V any] struct {
	Name    string
	Mode    MatchMode
	Extract func(V) string
}

type prefixPair[K cmp.Ordered] struct {
	value string
	key   K
}

// indexSet maintains the secondary indexes of one memtable generation.
// Invariant: a key appears under at most one value per index; inserts
// re-index, tombstones remove. Callers synchronize access the same way
// they synchronize the owning memtable.
type indexSet[K cmp.Ordered, V any] struct {
	defs []Index[V]

	// exact: index name -> indexed value -> keys holding that value.
	exact map[string]map[string]map[K]struct{}
	// prefix: index name -> (value, key) pairs ordered by value.
	prefix map[string]*skipset.FuncSet[prefixPair[K]]
	// byKey: index name -> key -> value it is currently indexed under,
	// kept so updates and tombstones can drop the stale bucket entry.
	byKey map[string]map[K]string
}

func newIndexSet[K cmp.Ordered, V any](defs []Index[V]) *indexSet[K, V] {
	s := &indexSet[K, V]{
		defs:   defs,
		exact:  make(map[string]map[string]map[K]struct{}),
		prefix: make(map[string]*skipset.FuncSet[prefixPair[K]]),
		byKey:  make(map[string]map[K]string),
	}
	for _, def := range defs {
		s.byKey[def.Name] = make(map[K]string)
		switch def.Mode {
		case MatchExact:
			s.exact[def.Name] = make(map[string]map[K]struct{})
		case MatchPrefix:
			s.prefix[def.Name] = skipset.NewFunc(func(a, b prefixPair[K]) bool {
				if a.value != b.value {
					return a.value < b.value
				}
				return a.key < b.key
			})
		}
	}
	return s
}

// insert indexes value under key, replacing whatever the key was
// previously indexed under.
func (s *indexSet[K, V]) insert(key K, value V) {
	for _, def := range s.defs {
		s.removeFrom(def, key)
		v := def.Extract(value)
		switch def.Mode {
		case MatchExact:
			bucket := s.exact[def.Name][v]
			if bucket == nil {
				bucket = make(map[K]struct{})
				s.exact[def.Name][v] = bucket
			}
			bucket[key] = struct{}{}
		case MatchPrefix:
			s.prefix[def.Name].Add(prefixPair[K]{value: v, key: key})
		}
		s.byKey[def.Name][key] = v
	}
}

// remove drops key from every index.
func (s *indexSet[K, V]) remove(key K) {
	for _, def := range s.defs {
		s.removeFrom(def, key)
	}
}

func (s *indexSet[K, V]) removeFrom(def Index[V], key K) {
	old, ok := s.byKey[def.Name][key]
	if !ok {
		return
	}
	delete(s.byKey[def.Name], key)
	switch def.Mode {
	case MatchExact:
		bucket := s.exact[def.Name][old]
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(s.exact[def.Name], old)
		}
	case MatchPrefix:
		s.prefix[def.Name].Remove(prefixPair[K]{value: old, key: key})
	}
}

// lookup returns the keys currently indexed under (name, value).
func (s *indexSet[K, V]) lookup(name, value string) []K {
	buckets, ok := s.exact[name]
	if !ok {
		return nil
	}
	bucket := buckets[value]
	if len(bucket) == 0 {
		return nil
	}
	keys := make([]K, 0, len(bucket))
	for k := range bucket {
		keys = append(keys, k)
	}
	return keys
}

// findByPrefix returns the keys whose indexed value starts with prefix.
// The set is ordered by value, so the scan stops at the first entry past
// the prefix range.
func (s *indexSet[K, V]) findByPrefix(name, prefix string) []K {
	set, ok := s.prefix[name]
	if !ok {
		return nil
	}
	var keys []K
	set.Range(func(p prefixPair[K]) bool {
		if strings.HasPrefix(p.value, prefix) {
			keys = append(keys, p.key)
			return true
		}
		return p.value < prefix
	})
	return keys
}
