package membuf

import (
	"cmp"
	"context"
)

// Store is the durable backend a Buffer flushes to and falls back to on
// reads. Implementations are expected to be safe for concurrent use.
type Store[K cmp.Ordered, V any] interface {
	// Apply persists one frozen generation: entries carrying a value are
	// upserted, tombstones are deleted. The batch arrives ordered by key
	// and must be applied atomically: either the whole generation becomes
	// visible or none of it.
	Apply(ctx context.Context, batch []Entry[K, V]) error

	// Get returns the stored value for key, reporting whether it exists.
	Get(ctx context.Context, key K) (V, bool, error)

	// FindByIndex returns the keys whose indexed field equals value.
	FindByIndex(ctx context.Context, name, value string) ([]K, error)

	// FindByPrefix returns the keys whose indexed field starts with
	// prefix.
	FindByPrefix(ctx context.Context, name, prefix string) ([]K, error)
}
