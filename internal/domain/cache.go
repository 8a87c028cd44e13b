package domain

import (
	"context"
	"time"
)

// InstrumentCache provides fast instrument metadata lookups backed by Redis.
type InstrumentCache interface {
	Set(ctx context.Context, inst Instrument) error
	Get(ctx context.Context, id string) (Instrument, error)
	GetByToken(ctx context.Context, tokenID string) (Instrument, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed mutual exclusion. The decision loop holds
// a lock so only one instance trades against a shared account.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for decision output
// (opportunities, execution events, position changes).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
