package membuf

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netscane/rhythm/pkg/clock"
	"github.com/netscane/rhythm/pkg/metrics"
)

const (
	defaultFlushRetries  = 3
	defaultRetryInterval = 20 * time.Millisecond
)

// Config describes one buffer. Name shows up in logs and metric labels.
type Config[K cmp.Ordered, V any] struct {
	Name string

	// ThresholdBytes rotates the active table once its approximate size
	// reaches this many bytes (as measured by EntrySize).
	ThresholdBytes int64

	// FlushTimeout rotates a non-empty active table that has been
	// accumulating for this long, even below the size threshold.
	FlushTimeout time.Duration

	// MaxPending bounds the frozen-but-unflushed generations. Rotations
	// past the bound block the writer instead of growing memory.
	MaxPending int

	Indexes []Index[V]

	// EntrySize weighs one write for the rotation threshold. When nil
	// every entry weighs 1 and ThresholdBytes acts as an entry count.
	EntrySize func(key K, value V) int64

	// FlushRetries bounds retry attempts after a failed Store.Apply;
	// RetryInterval seeds the exponential backoff between them.
	FlushRetries  uint64
	RetryInterval time.Duration

	Logger  *slog.Logger
	Metrics metrics.Collector
}

type rotateReason int

const (
	rotateSizeThreshold rotateReason = iota
	rotateTimeout
	rotateForced
)

func (r rotateReason) String() string {
	switch r {
	case rotateSizeThreshold:
		return "size threshold"
	case rotateTimeout:
		return "timeout"
	case rotateForced:
		return "forced"
	default:
		return "unknown"
	}
}

// Buffer absorbs writes for one keyed aggregate in front of a Store.
// Reads merge the active memtable, the frozen generations newest-first,
// and finally the store. All methods are safe for concurrent use.
type Buffer[K cmp.Ordered, V any] struct {
	cfg   Config[K, V]
	store Store[K, V]
	log   *slog.Logger
	mc    metrics.Collector
	seq   *clock.AtomicClock

	// mu guards the active table and nextGen. Held only for in-memory
	// mutation; no I/O runs under it.
	mu      sync.RWMutex
	active  *memtable[K, V]
	nextGen uint64

	// pendingMu guards the frozen queue, ordered oldest first so
	// read-merge order and flush order agree.
	pendingMu sync.Mutex
	pending   []*memtable[K, V]

	// slots carries one reservation per frozen generation. A rotation
	// sends before the swap, the coordinator receives after a successful
	// flush, so exactly one blocked writer wakes per freed slot.
	slots chan struct{}

	// kicks wakes the flush coordinator after a rotation or a ForceFlush.
	kicks chan struct{}

	flushErrMu sync.Mutex
	flushErr   error

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New validates cfg, wires the buffer to its store, and starts the flush
// coordinator and the timed-rotation ticker.
func New[K cmp.Ordered, V any](cfg Config[K, V], store Store[K, V]) (*Buffer[K, V], error) {
	if store == nil {
		return nil, fmt.Errorf("membuf: %q: nil store", cfg.Name)
	}
	if cfg.ThresholdBytes <= 0 {
		return nil, fmt.Errorf("membuf: %q: threshold must be positive", cfg.Name)
	}
	if cfg.FlushTimeout <= 0 {
		return nil, fmt.Errorf("membuf: %q: flush timeout must be positive", cfg.Name)
	}
	if cfg.MaxPending <= 0 {
		return nil, fmt.Errorf("membuf: %q: max pending must be positive", cfg.Name)
	}
	seen := make(map[string]struct{}, len(cfg.Indexes))
	for _, def := range cfg.Indexes {
		if def.Name == "" || def.Extract == nil {
			return nil, fmt.Errorf("membuf: %q: index needs a name and an extractor", cfg.Name)
		}
		if _, dup := seen[def.Name]; dup {
			return nil, fmt.Errorf("membuf: %q: duplicate index %q", cfg.Name, def.Name)
		}
		seen[def.Name] = struct{}{}
	}
	if cfg.EntrySize == nil {
		cfg.EntrySize = func(K, V) int64 { return 1 }
	}
	if cfg.FlushRetries == 0 {
		cfg.FlushRetries = defaultFlushRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}

	b := &Buffer[K, V]{
		cfg:     cfg,
		store:   store,
		log:     cfg.Logger.With("buffer", cfg.Name),
		mc:      cfg.Metrics,
		seq:     clock.NewAtomic(0),
		active:  newMemtable[K, V](1, cfg.Indexes, time.Now()),
		nextGen: 2,
		slots:   make(chan struct{}, cfg.MaxPending),
		kicks:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.wg.Add(2)
	go b.flushLoop()
	go b.rotateLoop()

	return b, nil
}

// Insert writes or overwrites the entry for key in the active table and
// returns the version assigned to the write. It blocks only when a
// rotation is due and every pending slot is taken; the ctx deadline
// bounds that wait.
func (b *Buffer[K, V]) Insert(ctx context.Context, key K, value V) (uint64, error) {
	return b.write(ctx, Entry[K, V]{Key: key, Value: value})
}

// Delete writes a tombstone for key. Deleting an absent key still
// records a tombstone, because the key may live in an older generation
// or in the store.
func (b *Buffer[K, V]) Delete(ctx context.Context, key K) (uint64, error) {
	var zero V
	return b.write(ctx, Entry[K, V]{Key: key, Value: zero, Tombstone: true})
}

func (b *Buffer[K, V]) write(ctx context.Context, e Entry[K, V]) (uint64, error) {
	size := b.cfg.EntrySize(e.Key, e.Value)
	reserved := false
	for {
		b.mu.Lock()
		if b.closed.Load() {
			b.mu.Unlock()
			if reserved {
				<-b.slots
			}
			return 0, ErrClosed
		}
		rotating := b.active.approxSize+size >= b.cfg.ThresholdBytes
		if rotating && !reserved {
			select {
			case b.slots <- struct{}{}:
				reserved = true
			default:
				// Pending queue is full: back off before accepting the
				// write, so a timed-out caller has written nothing.
				b.mu.Unlock()
				b.mc.IncCounter(metricBackpressureWaits, b.labels(), 1)
				select {
				case b.slots <- struct{}{}:
					reserved = true
					continue
				case <-ctx.Done():
					return 0, fmt.Errorf("%w: %v", ErrBackpressureTimeout, ctx.Err())
				case <-b.done:
					return 0, ErrClosed
				}
			}
		}
		e.Version = b.seq.Next()
		b.active.put(e, size)
		if rotating {
			// The crossing write lands in the old active first, then the
			// table is swapped, so no write is lost mid-rotation.
			b.rotateLocked(rotateSizeThreshold)
			reserved = false
		}
		b.mu.Unlock()
		if reserved {
			// Another writer rotated while we waited for the slot.
			<-b.slots
		}
		return e.Version, nil
	}
}

// Get merge-reads key across the active table, the frozen generations
// newest-first, and the store. The newest entry wins; a tombstone stops
// the scan.
func (b *Buffer[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var zero V
	if b.closed.Load() {
		return zero, false, ErrClosed
	}
	b.mu.RLock()
	e, ok := b.active.get(key)
	b.mu.RUnlock()
	if ok {
		if e.Tombstone {
			return zero, false, nil
		}
		return e.Value, true, nil
	}
	for _, mt := range b.pendingNewestFirst() {
		if e, ok := mt.get(key); ok {
			if e.Tombstone {
				return zero, false, nil
			}
			return e.Value, true, nil
		}
	}
	return b.store.Get(ctx, key)
}

// LookupIndex merge-reads the keys indexed under (name, value) across
// every generation, then asks the store for keys no in-memory entry
// shadows. The result is sorted.
func (b *Buffer[K, V]) LookupIndex(ctx context.Context, name, value string) ([]K, error) {
	if err := b.checkIndex(name, MatchExact); err != nil {
		return nil, err
	}
	return b.mergeLookup(ctx,
		func(mt *memtable[K, V]) []K { return mt.indexes.lookup(name, value) },
		func(ctx context.Context) ([]K, error) { return b.store.FindByIndex(ctx, name, value) },
		name)
}

// FindByPrefix merge-reads the keys whose indexed value starts with
// prefix, in the same shadowing order as LookupIndex.
func (b *Buffer[K, V]) FindByPrefix(ctx context.Context, name, prefix string) ([]K, error) {
	if err := b.checkIndex(name, MatchPrefix); err != nil {
		return nil, err
	}
	return b.mergeLookup(ctx,
		func(mt *memtable[K, V]) []K { return mt.indexes.findByPrefix(name, prefix) },
		func(ctx context.Context) ([]K, error) { return b.store.FindByPrefix(ctx, name, prefix) },
		name)
}

func (b *Buffer[K, V]) checkIndex(name string, mode MatchMode) error {
	if b.closed.Load() {
		return ErrClosed
	}
	for _, def := range b.cfg.Indexes {
		if def.Name == name {
			if def.Mode != mode {
				return fmt.Errorf("%w: %q has wrong match mode", ErrUnknownIndex, name)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownIndex, name)
}

func (b *Buffer[K, V]) mergeLookup(
	ctx context.Context,
	inMem func(*memtable[K, V]) []K,
	inStore func(context.Context) ([]K, error),
	name string,
) ([]K, error) {
	included := make(map[K]struct{})
	decided := make(map[K]struct{})

	merge := func(mt *memtable[K, V]) error {
		for _, k := range inMem(mt) {
			if _, seen := decided[k]; seen {
				continue
			}
			if _, ok := mt.entries[k]; !ok {
				return fmt.Errorf("%w: index %q key %v in generation %d",
					ErrIndexInconsistency, name, k, mt.generation)
			}
			included[k] = struct{}{}
		}
		// Every key this generation holds an entry for is decided here:
		// older generations must not resurrect its index membership.
		for k := range mt.entries {
			decided[k] = struct{}{}
		}
		return nil
	}

	b.mu.RLock()
	err := merge(b.active)
	b.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	for _, mt := range b.pendingNewestFirst() {
		if err := merge(mt); err != nil {
			return nil, err
		}
	}

	storeKeys, err := inStore(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range storeKeys {
		if _, seen := decided[k]; !seen {
			included[k] = struct{}{}
		}
	}

	out := make([]K, 0, len(included))
	for k := range included {
		out = append(out, k)
	}
	slices.Sort(out)
	return out, nil
}

// RotateIfNeeded freezes the active table when it is past its size
// threshold or flush timeout. It also surfaces a flush failure parked by
// the coordinator, kicking another retry for the stuck generation.
func (b *Buffer[K, V]) RotateIfNeeded(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.flushFailure(); err != nil {
		b.kick()
		return err
	}
	b.mu.RLock()
	reason, due := b.rotationDue(time.Now())
	b.mu.RUnlock()
	if !due {
		return nil
	}
	return b.rotate(ctx, reason, false)
}

// ForceFlush rotates unconditionally and waits until every pending
// generation has been flushed or ctx expires. Used at shutdown.
func (b *Buffer[K, V]) ForceFlush(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.forceFlush(ctx)
}

func (b *Buffer[K, V]) forceFlush(ctx context.Context) error {
	if err := b.rotate(ctx, rotateForced, true); err != nil {
		return err
	}
	b.pendingMu.Lock()
	waits := make([]*memtable[K, V], len(b.pending))
	copy(waits, b.pending)
	b.pendingMu.Unlock()
	b.kick()
	for _, mt := range waits {
		select {
		case <-mt.flushed:
		case <-ctx.Done():
			if err := b.flushFailure(); err != nil {
				return err
			}
			return fmt.Errorf("membuf: waiting for generation %d: %w", mt.generation, ctx.Err())
		}
	}
	return b.flushFailure()
}

// Close flushes everything still buffered and stops the background
// goroutines. The buffer rejects all operations afterwards.
func (b *Buffer[K, V]) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed.CompareAndSwap(false, true) {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()
	err := b.forceFlush(ctx)
	close(b.done)
	b.wg.Wait()
	return err
}

// rotationDue reports whether the active table should rotate and why.
// Callers hold at least the read side of mu.
func (b *Buffer[K, V]) rotationDue(now time.Time) (rotateReason, bool) {
	if b.active.approxSize >= b.cfg.ThresholdBytes {
		return rotateSizeThreshold, true
	}
	if b.active.len() > 0 && b.active.age(now) >= b.cfg.FlushTimeout {
		return rotateTimeout, true
	}
	return rotateSizeThreshold, false
}

// rotate acquires a pending slot (honoring ctx), then swaps the active
// table under the write lock. force skips the threshold recheck; an
// empty table never rotates.
func (b *Buffer[K, V]) rotate(ctx context.Context, reason rotateReason, force bool) error {
	select {
	case b.slots <- struct{}{}:
	default:
		b.mc.IncCounter(metricBackpressureWaits, b.labels(), 1)
		select {
		case b.slots <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrBackpressureTimeout, ctx.Err())
		case <-b.done:
			return ErrClosed
		}
	}
	b.mu.Lock()
	_, due := b.rotationDue(time.Now())
	if b.active.len() == 0 || (!force && !due) {
		b.mu.Unlock()
		<-b.slots
		return nil
	}
	b.rotateLocked(reason)
	b.mu.Unlock()
	return nil
}

// rotateLocked swaps in a fresh active table. Callers hold the write
// side of mu and have already reserved a pending slot.
func (b *Buffer[K, V]) rotateLocked(reason rotateReason) {
	old := b.active
	b.active = newMemtable[K, V](b.nextGen, b.cfg.Indexes, time.Now())
	b.nextGen++

	b.pendingMu.Lock()
	b.pending = append(b.pending, old)
	depth := len(b.pending)
	b.pendingMu.Unlock()

	b.kick()
	b.log.Info("memtable rotated",
		"reason", reason.String(),
		"generation", old.generation,
		"entries", old.len(),
		"bytes", old.approxSize,
		"pending", depth)
	b.mc.IncCounter(metricRotations, b.labelsWith("reason", reason.String()), 1)
	b.mc.SetGauge(metricPendingGenerations, b.labels(), float64(depth))
}

// rotateLoop drives age-based rotation. It ticks at half the flush
// timeout so a table never sits unflushed much past its deadline.
func (b *Buffer[K, V]) rotateLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.FlushTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.RLock()
			reason, due := b.rotationDue(time.Now())
			b.mu.RUnlock()
			if !due {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.FlushTimeout)
			if err := b.rotate(ctx, reason, false); err != nil {
				b.log.Warn("timed rotation deferred", "error", err)
			}
			cancel()
		case <-b.done:
			return
		}
	}
}

func (b *Buffer[K, V]) pendingNewestFirst() []*memtable[K, V] {
	b.pendingMu.Lock()
	out := make([]*memtable[K, V], len(b.pending))
	for i, mt := range b.pending {
		out[len(out)-1-i] = mt
	}
	b.pendingMu.Unlock()
	return out
}

func (b *Buffer[K, V]) kick() {
	select {
	case b.kicks <- struct{}{}:
	default:
	}
}

func (b *Buffer[K, V]) flushFailure() error {
	b.flushErrMu.Lock()
	defer b.flushErrMu.Unlock()
	return b.flushErr
}

func (b *Buffer[K, V]) setFlushFailure(err error) {
	b.flushErrMu.Lock()
	b.flushErr = err
	b.flushErrMu.Unlock()
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	Name               string `json:"name"`
	ActiveGeneration   uint64 `json:"active_generation"`
	ActiveEntries      int    `json:"active_entries"`
	ActiveBytes        int64  `json:"active_bytes"`
	PendingGenerations int    `json:"pending_generations"`
	LastVersion        uint64 `json:"last_version"`
	FlushError         string `json:"flush_error,omitempty"`
}

func (b *Buffer[K, V]) Stats() Stats {
	b.mu.RLock()
	s := Stats{
		Name:             b.cfg.Name,
		ActiveGeneration: b.active.generation,
		ActiveEntries:    b.active.len(),
		ActiveBytes:      b.active.approxSize,
		LastVersion:      b.seq.Val(),
	}
	b.mu.RUnlock()
	b.pendingMu.Lock()
	s.PendingGenerations = len(b.pending)
	b.pendingMu.Unlock()
	if err := b.flushFailure(); err != nil {
		s.FlushError = err.Error()
	}
	return s
}

func (b *Buffer[K, V]) labels() map[string]string {
	return map[string]string{"buffer": b.cfg.Name}
}

func (b *Buffer[K, V]) labelsWith(k, v string) map[string]string {
	return map[string]string{"buffer": b.cfg.Name, k: v}
}
