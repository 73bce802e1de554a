package membuf

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	metricRotations          = "membuf_rotations_total"
	metricPendingGenerations = "membuf_pending_generations"
	metricBackpressureWaits  = "membuf_backpressure_waits_total"
	metricFlushDuration      = "membuf_flush_duration_seconds"
	metricFlushRetries       = "membuf_flush_retries_total"
	metricFlushedEntries     = "membuf_flushed_entries_total"
)

// flushLoop is the flush coordinator: a single goroutine draining the
// pending queue strictly oldest-first, so the store never sees
// generations out of order. It wakes on rotation kicks and exits once
// the buffer is closed and nothing is left to drain.
func (b *Buffer[K, V]) flushLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.kicks:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

// drainPending flushes generations until the queue empties or a flush
// exhausts its retries. A failed generation stays at the head of the
// queue; the parked error is surfaced through RotateIfNeeded/ForceFlush
// and the flush is reattempted on the next kick.
func (b *Buffer[K, V]) drainPending() {
	for {
		b.pendingMu.Lock()
		var mt *memtable[K, V]
		if len(b.pending) > 0 {
			mt = b.pending[0]
		}
		b.pendingMu.Unlock()
		if mt == nil {
			return
		}
		if err := b.flushOne(mt); err != nil {
			b.setFlushFailure(err)
			b.log.Error("flush parked until next attempt",
				"generation", mt.generation, "error", err)
			return
		}
		b.setFlushFailure(nil)
	}
}

// flushOne applies a frozen generation to the store with bounded
// exponential-backoff retries. Only on success does the generation leave
// the queue, free its backpressure slot, and signal its waiters.
func (b *Buffer[K, V]) flushOne(mt *memtable[K, V]) error {
	batch := mt.batch()
	batchID := uuid.NewString()
	start := time.Now()

	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 {
			b.mc.IncCounter(metricFlushRetries, b.labels(), 1)
		}
		return b.store.Apply(context.Background(), batch)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.RetryInterval
	bo.RandomizationFactor = 0
	bo.Multiplier = 2

	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, b.cfg.FlushRetries)); err != nil {
		return fmt.Errorf("%w: generation %d batch %s after %d attempts: %v",
			ErrFlushFailed, mt.generation, batchID, attempts, err)
	}

	b.pendingMu.Lock()
	// The coordinator only ever flushes the head, so mt is pending[0].
	b.pending = b.pending[1:]
	depth := len(b.pending)
	b.pendingMu.Unlock()
	<-b.slots
	close(mt.flushed)

	elapsed := time.Since(start)
	b.log.Info("generation flushed",
		"generation", mt.generation,
		"batch", batchID,
		"entries", len(batch),
		"attempts", attempts,
		"elapsed", elapsed)
	b.mc.ObserveHistogram(metricFlushDuration, b.labels(), elapsed.Seconds())
	b.mc.IncCounter(metricFlushedEntries, b.labels(), float64(len(batch)))
	b.mc.SetGauge(metricPendingGenerations, b.labels(), float64(depth))
	return nil
}
