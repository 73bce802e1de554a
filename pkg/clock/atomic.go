package clock

import "sync/atomic"

// AtomicClock hands out a monotonically increasing sequence. It is the
// version source for buffered writes: every accepted write takes the next
// value, so versions stay totally ordered across generations.
type AtomicClock struct {
	atomic.Uint64
}

func NewAtomic(init uint64) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

func (ac *AtomicClock) Val() uint64 {
	return ac.Load()
}

func (ac *AtomicClock) Next() uint64 {
	return ac.Add(1)
}

func (ac *AtomicClock) Set(v uint64) {
	ac.Store(v)
}
