package monitor

import (
	"context"
	"time"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// DefaultPollInterval is how often PollingHeads asks for the latest height.
const DefaultPollInterval = 500 * time.Millisecond

// PollingHeads is a HeadSubscription that polls the node instead of holding a
// websocket open.
type PollingHeads struct {
	reader   domain.ChainReader
	interval time.Duration
}

var _ domain.HeadSubscription = (*PollingHeads)(nil)

// NewPollingHeads creates a PollingHeads.
func NewPollingHeads(reader domain.ChainReader, interval time.Duration) *PollingHeads {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingHeads{reader: reader, interval: interval}
}

// Open starts a new poll stream.
func (p *PollingHeads) Open(context.Context) (domain.HeadStream, error) {
	return &pollStream{reader: p.reader, interval: p.interval}, nil
}

type pollStream struct {
	reader   domain.ChainReader
	interval time.Duration
	last     domain.ChainHeight
	started  bool
}

// Recv polls until the height changes or timeout elapses.
func (s *pollStream) Recv(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		h, err := s.reader.LatestHeight(ctx)
		if err != nil {
			return nil, err
		}
		if !s.started || h != s.last {
			s.last, s.started = h, true
			return EncodeHeight(h), nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, domain.ErrReceiveTimeout
		}
		if wait > s.interval {
			wait = s.interval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (s *pollStream) Close() error { return nil }
