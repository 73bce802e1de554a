// Package repository implements the catalog repositories as write
// buffers in front of the durable stores, so a library scan can hammer
// Save without paying a database round trip per file.
package repository

import (
	"cmp"
	"log/slog"
	"time"

	"github.com/netscane/rhythm/pkg/membuf"
	"github.com/netscane/rhythm/pkg/metrics"
)

// Options carries the buffer tuning shared by every aggregate.
type Options struct {
	ThresholdBytes int64
	FlushTimeout   time.Duration
	MaxPending     int
	FlushRetries   uint64
	Logger         *slog.Logger
	Metrics        metrics.Collector
}

func bufferConfig[K cmp.Ordered, V any](
	o Options,
	name string,
	indexes []membuf.Index[V],
	entrySize func(K, V) int64,
) membuf.Config[K, V] {
	return membuf.Config[K, V]{
		Name:           name,
		ThresholdBytes: o.ThresholdBytes,
		FlushTimeout:   o.FlushTimeout,
		MaxPending:     o.MaxPending,
		FlushRetries:   o.FlushRetries,
		Indexes:        indexes,
		EntrySize:      entrySize,
		Logger:         o.Logger,
		Metrics:        o.Metrics,
	}
}

const recordOverhead = 64 // rough fixed cost per buffered record

func stringBytes(ss ...string) int64 {
	n := int64(recordOverhead)
	for _, s := range ss {
		n += int64(len(s))
	}
	return n
}
