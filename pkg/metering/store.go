package metering

import (
	"context"
	"time"
)

// CounterStore persists fixed-window counters.
// All methods use concrete types from this package to avoid import cycles.
type CounterStore interface {
	// Increment applies a check-and-increment for key against the window
	// starting at windowStart. If the stored entry belongs to an older window
	// it is reset to the new window with count 0 before the check. When the
	// stored count has already reached limit, the count is returned unchanged
	// together with ErrLimitReached. Otherwise the incremented count is
	// returned.
	//
	// Implementations must make the read-modify-write linearizable per key:
	// two concurrent calls must never both succeed when only one slot remains.
	Increment(ctx context.Context, key CounterKey, windowStart time.Time, limit int) (int, error)

	// Count returns the stored count for key if the stored entry belongs to
	// the window starting at windowStart, and 0 otherwise. It never mutates
	// persisted state.
	Count(ctx context.Context, key CounterKey, windowStart time.Time) (int, error)
}

// KeyValueStore is best-effort string persistence for trial state, client
// identity and audit history. Get returns ErrKeyNotFound for absent keys.
// Callers must tolerate every method failing; storage loss degrades the
// metering core to in-memory defaults, it never fails a request.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
