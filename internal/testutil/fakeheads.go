package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// HeadEvent is one scripted Recv result.
type HeadEvent struct {
	Raw []byte
	Err error
}

// Head returns a newHeads notification for h.
func Head(h uint64) HeadEvent {
	return HeadEvent{Raw: []byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0x1","result":{"number":"0x%x"}}}`, h))}
}

// Stall returns a receive timeout event.
func Stall() HeadEvent { return HeadEvent{Err: domain.ErrReceiveTimeout} }

// Drop returns a broken connection event.
func Drop() HeadEvent { return HeadEvent{Err: fmt.Errorf("connection reset: %w", domain.ErrStreamClosed)} }

// FakeHeads hands out one scripted stream per Open call. When a script runs
// out the stream blocks until ctx is done.
type FakeHeads struct {
	mu      sync.Mutex
	Scripts [][]HeadEvent
	OpenErr error
	Opens   int
	Closed  int
}

var _ domain.HeadSubscription = (*FakeHeads)(nil)

func (f *FakeHeads) Open(context.Context) (domain.HeadStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opens++
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	var script []HeadEvent
	if len(f.Scripts) > 0 {
		script, f.Scripts = f.Scripts[0], f.Scripts[1:]
	}
	return &fakeStream{parent: f, events: script}, nil
}

type fakeStream struct {
	parent *FakeHeads
	events []HeadEvent
}

func (s *fakeStream) Recv(ctx context.Context, _ time.Duration) ([]byte, error) {
	if len(s.events) == 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev.Raw, ev.Err
}

func (s *fakeStream) Close() error {
	s.parent.mu.Lock()
	s.parent.Closed++
	s.parent.mu.Unlock()
	return nil
}
