package membuf

import "errors"

var (
	// ErrBackpressureTimeout reports a write that waited past its
	// deadline for a pending-flush slot. The write was not applied.
	ErrBackpressureTimeout = errors.New("membuf: backpressure timeout")

	// ErrFlushFailed reports a generation whose flush exhausted its
	// retries. The generation stays queued and is retried on the next
	// rotation or ForceFlush.
	ErrFlushFailed = errors.New("membuf: flush failed")

	// ErrIndexInconsistency reports an index bucket pointing at a key
	// with no entry. This is an invariant violation, not a runtime
	// condition callers should handle.
	ErrIndexInconsistency = errors.New("membuf: index points at missing entry")

	// ErrUnknownIndex reports a lookup against an index that was not
	// configured, or with the wrong match mode.
	ErrUnknownIndex = errors.New("membuf: unknown index")

	ErrClosed = errors.New("membuf: buffer closed")
)
