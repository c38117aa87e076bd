package testutil

import (
	"context"
	"sync"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// FakeRelay records bundles and returns FakeBundle handles.
type FakeRelay struct {
	mu sync.Mutex

	SendErr     error
	StatsErr    error
	WaitErr     error
	ReceiptsErr error
	Receipts    []domain.Receipt

	Targets []domain.ChainHeight
	Options []domain.BundleOptions
	Bundles [][][]byte
}

var _ domain.RelayClient = (*FakeRelay)(nil)

func (f *FakeRelay) SendBundle(_ context.Context, txs [][]byte, target domain.ChainHeight, opts domain.BundleOptions) (domain.BundleHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Targets = append(f.Targets, target)
	f.Options = append(f.Options, opts)
	f.Bundles = append(f.Bundles, txs)
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	return &FakeBundle{relay: f, target: target}, nil
}

// FakeBundle is the handle returned by FakeRelay.
type FakeBundle struct {
	relay  *FakeRelay
	target domain.ChainHeight
}

func (b *FakeBundle) Hash() string { return "0xbundle" }
func (b *FakeBundle) Target() domain.ChainHeight { return b.target }

func (b *FakeBundle) Stats(context.Context) (domain.BundleStats, error) {
	b.relay.mu.Lock()
	defer b.relay.mu.Unlock()
	return domain.BundleStats{"isSimulated": true}, b.relay.StatsErr
}

func (b *FakeBundle) StatsV2(ctx context.Context) (domain.BundleStats, error) {
	return b.Stats(ctx)
}

func (b *FakeBundle) Wait(context.Context) error {
	b.relay.mu.Lock()
	defer b.relay.mu.Unlock()
	return b.relay.WaitErr
}

func (b *FakeBundle) Receipts(context.Context) ([]domain.Receipt, error) {
	b.relay.mu.Lock()
	defer b.relay.mu.Unlock()
	if b.relay.ReceiptsErr != nil {
		return nil, b.relay.ReceiptsErr
	}
	if len(b.relay.Receipts) == 0 {
		return nil, domain.ErrNotFound
	}
	return b.relay.Receipts, nil
}
