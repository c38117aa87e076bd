package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// streamMaxLen caps streams approximately via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus with Pub/Sub for live listeners and
// Streams for a bounded replayable history.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus on c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.rdb}
}

// Publish sends payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend adds payload to stream under the "payload" field.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
