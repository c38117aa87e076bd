// Package testutil holds in-memory fakes of the domain ports for tests.
package testutil

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// FakeChain implements ChainReader, FeeOracle and ChainWriter. Nil hooks use
// sensible defaults.
type FakeChain struct {
	mu sync.Mutex

	Height   domain.ChainHeight
	Nonce    uint64
	Tip      *big.Int
	Gas      uint64
	Receipts map[common.Hash]domain.Receipt

	CallFn     func(req domain.CallRequest) ([]byte, error)
	EstimateFn func(req domain.CallRequest) (uint64, error)
	NonceErr   error
	TipErr     error
	SendFn     func(raw []byte) (common.Hash, error)

	Calls     int
	Estimates int
	Sent      [][]byte
}

var (
	_ domain.ChainReader = (*FakeChain)(nil)
	_ domain.FeeOracle   = (*FakeChain)(nil)
	_ domain.ChainWriter = (*FakeChain)(nil)
)

func (f *FakeChain) LatestHeight(context.Context) (domain.ChainHeight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Height, nil
}

// SetHeight moves the fake head.
func (f *FakeChain) SetHeight(h domain.ChainHeight) {
	f.mu.Lock()
	f.Height = h
	f.mu.Unlock()
}

func (f *FakeChain) Call(_ context.Context, req domain.CallRequest) ([]byte, error) {
	f.mu.Lock()
	f.Calls++
	fn := f.CallFn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(req)
}

func (f *FakeChain) NonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Nonce, f.NonceErr
}

func (f *FakeChain) Receipt(_ context.Context, h common.Hash) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Receipts[h]
	if !ok {
		return domain.Receipt{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *FakeChain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TipErr != nil {
		return nil, f.TipErr
	}
	if f.Tip == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return new(big.Int).Set(f.Tip), nil
}

func (f *FakeChain) EstimateGas(_ context.Context, req domain.CallRequest) (uint64, error) {
	f.mu.Lock()
	f.Estimates++
	fn, gas := f.EstimateFn, f.Gas
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	if gas == 0 {
		gas = 60_000
	}
	return gas, nil
}

func (f *FakeChain) SendRaw(_ context.Context, raw []byte) (common.Hash, error) {
	f.mu.Lock()
	f.Sent = append(f.Sent, raw)
	fn := f.SendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(raw)
	}
	return common.BytesToHash(raw), nil
}
