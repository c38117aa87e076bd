package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/metrics"
)

// HeightSource produces a fresh height sequence per call.
type HeightSource interface {
	Heights(ctx context.Context) iter.Seq2[domain.ChainHeight, error]
}

// Consumer processes a height sequence. Processed counts the heights it has
// handled so far and is used to detect progress across reconnects.
type Consumer interface {
	Run(ctx context.Context, heights iter.Seq2[domain.ChainHeight, error]) error
	Processed() uint64
}

// DriverConfig bounds reconnection.
type DriverConfig struct {
	// MaxReconnects is the number of consecutive failed subscriptions
	// tolerated. A subscription that delivered at least one new height
	// resets the count.
	MaxReconnects  int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DriverConfigDefaults returns the default reconnect policy.
func DriverConfigDefaults() DriverConfig {
	return DriverConfig{
		MaxReconnects:  10,
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
	}
}

// Driver keeps a Consumer fed across subscription failures.
type Driver struct {
	consumer Consumer
	source   HeightSource
	cfg      DriverConfig
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDriver creates a Driver.
func NewDriver(c Consumer, source HeightSource, cfg DriverConfig, logger *slog.Logger) *Driver {
	defaults := DriverConfigDefaults()
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Driver{
		consumer: c,
		source:   source,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "driver")),
		sleep:    sleepCtx,
	}
}

// Run blocks until ctx is done or a fatal error occurs. It returns nil on
// cancellation.
func (d *Driver) Run(ctx context.Context) error {
	backoff := d.cfg.InitialBackoff
	failures := 0
	for {
		before := d.consumer.Processed()
		err := d.consumer.Run(ctx, d.source.Heights(ctx))
		if ctx.Err() != nil {
			return nil
		}

		var te *domain.TransportError
		if !errors.As(err, &te) {
			return err
		}

		if d.consumer.Processed() > before {
			failures = 0
			backoff = d.cfg.InitialBackoff
		}
		failures++
		if failures > d.cfg.MaxReconnects {
			return fmt.Errorf("engine: head subscription failed %d times in a row: %w", failures, err)
		}

		metrics.Reconnects.Inc()
		d.logger.WarnContext(ctx, "head subscription lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Int("attempt", failures),
			slog.Duration("backoff", backoff),
		)
		if err := d.sleep(ctx, backoff); err != nil {
			return nil
		}
		backoff *= 2
		if backoff > d.cfg.MaxBackoff {
			backoff = d.cfg.MaxBackoff
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
