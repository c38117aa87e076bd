package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking. Refresh extends a held lock and
// returns ErrLockLost if another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
