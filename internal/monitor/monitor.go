// Package monitor turns a raw head stream into a deduplicated sequence of
// chain heights.
package monitor

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/metrics"
)

// DefaultReceiveTimeout is the quiet interval after which a receive counts
// as a stall.
const DefaultReceiveTimeout = 60 * time.Second

// Config tunes stall handling.
type Config struct {
	ReceiveTimeout time.Duration
	// StrictTimeout ends the sequence with a TransportError on the first
	// stall so the caller reconnects. Otherwise stalls are retried.
	StrictTimeout bool
	// MaxStalls ends the sequence after this many consecutive stalls when
	// StrictTimeout is off. Zero retries forever.
	MaxStalls int
}

// Monitor reads heads from a subscription.
type Monitor struct {
	sub    domain.HeadSubscription
	cfg    Config
	logger *slog.Logger
}

// New creates a Monitor.
func New(sub domain.HeadSubscription, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	return &Monitor{
		sub:    sub,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "monitor")),
	}
}

// Heights opens a fresh stream and yields each new height once. A repeated
// height is dropped. The sequence ends with a *domain.TransportError when the
// stream breaks, and silently when ctx is done. Each call opens a new stream;
// to reconnect, call Heights again.
func (m *Monitor) Heights(ctx context.Context) iter.Seq2[domain.ChainHeight, error] {
	return func(yield func(domain.ChainHeight, error) bool) {
		stream, err := m.sub.Open(ctx)
		if err != nil {
			if ctx.Err() == nil {
				yield(0, &domain.TransportError{Op: "open", Err: err})
			}
			return
		}
		defer stream.Close()
		m.logger.InfoContext(ctx, "head stream opened")

		var (
			last   domain.ChainHeight
			seen   bool
			stalls int
		)
		for {
			if ctx.Err() != nil {
				return
			}

			raw, err := stream.Recv(ctx, m.cfg.ReceiveTimeout)
			if errors.Is(err, domain.ErrReceiveTimeout) {
				stalls++
				metrics.HeadStalls.Inc()
				m.logger.WarnContext(ctx, "no head within receive timeout",
					slog.Duration("timeout", m.cfg.ReceiveTimeout),
					slog.Int("consecutive", stalls),
					slog.Bool("strict", m.cfg.StrictTimeout),
				)
				if m.cfg.StrictTimeout || (m.cfg.MaxStalls > 0 && stalls >= m.cfg.MaxStalls) {
					yield(0, &domain.TransportError{Op: "receive", Err: err})
					return
				}
				continue
			}
			if err != nil {
				if ctx.Err() == nil {
					yield(0, &domain.TransportError{Op: "receive", Err: err})
				}
				return
			}
			stalls = 0

			h, ok, err := DecodeHeight(raw)
			if err != nil {
				m.logger.WarnContext(ctx, "undecodable head message", slog.String("error", err.Error()))
				continue
			}
			if !ok {
				continue
			}
			metrics.HeadsReceived.Inc()

			if seen && h == last {
				metrics.HeadDuplicates.Inc()
				m.logger.DebugContext(ctx, "duplicate head", slog.Uint64("height", uint64(h)))
				continue
			}
			last, seen = h, true
			if !yield(h, nil) {
				return
			}
		}
	}
}
