// Package status reports the target contract's daily budget per block.
package status

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/convbot/internal/domain"
)

const viewsABI = `[
	{"type":"function","name":"spent","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"startingBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"spendADay","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"blocksADay","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"WETHAddress","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"saleValueHigh","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"price","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"lastBought","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"lastSold","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

var views = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(viewsABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Reader reads the budget views of the target contract.
type Reader struct {
	chain      domain.ChainReader
	target     common.Address
	weth       common.Address
	blocksADay *big.Int
}

// NewReader resolves the WETH token address and the blocks-per-day constant
// once, since neither changes over the contract's life.
func NewReader(ctx context.Context, chain domain.ChainReader, target common.Address) (*Reader, error) {
	r := &Reader{chain: chain, target: target}

	var err error
	if r.weth, err = callView[common.Address](ctx, r, target, "WETHAddress"); err != nil {
		return nil, err
	}
	if r.blocksADay, err = callView[*big.Int](ctx, r, target, "blocksADay"); err != nil {
		return nil, err
	}
	if r.blocksADay.Sign() == 0 {
		return nil, fmt.Errorf("status: blocksADay is zero")
	}
	return r, nil
}

// WETH returns the resolved token address.
func (r *Reader) WETH() common.Address { return r.weth }

// Status reads the budget and sale views at the latest state and computes
// the amount the contract may have spent by height:
//
//	spendable = (height - startingBlock) * spendADay / blocksADay
//
// A reverting price oracle reads as zero.
func (r *Reader) Status(ctx context.Context, height domain.ChainHeight) (domain.TargetStatus, error) {
	var st domain.TargetStatus
	uints := []struct {
		method string
		dst    **big.Int
	}{
		{"spent", &st.Spent},
		{"saleValueHigh", &st.SaleValueHigh},
		{"lastBought", &st.LastBought},
		{"lastSold", &st.LastSold},
	}
	for _, u := range uints {
		v, err := callView[*big.Int](ctx, r, r.target, u.method)
		if err != nil {
			return domain.TargetStatus{}, err
		}
		*u.dst = v
	}
	starting, err := callView[*big.Int](ctx, r, r.target, "startingBlock")
	if err != nil {
		return domain.TargetStatus{}, err
	}
	perDay, err := callView[*big.Int](ctx, r, r.target, "spendADay")
	if err != nil {
		return domain.TargetStatus{}, err
	}
	if st.WETHBalance, err = callView[*big.Int](ctx, r, r.weth, "balanceOf", r.target); err != nil {
		return domain.TargetStatus{}, err
	}
	if st.OraclePrice, err = r.price(ctx); err != nil {
		return domain.TargetStatus{}, err
	}

	elapsed := new(big.Int).Sub(new(big.Int).SetUint64(uint64(height)), starting)
	st.Spendable = new(big.Int).Mul(elapsed, perDay)
	st.Spendable.Quo(st.Spendable, r.blocksADay)
	st.Height = height
	return st, nil
}

func (r *Reader) price(ctx context.Context) (*big.Int, error) {
	p, err := callView[*big.Int](ctx, r, r.target, "price")
	var reverted *domain.CallError
	if errors.As(err, &reverted) {
		return new(big.Int), nil
	}
	return p, err
}

func callView[T any](ctx context.Context, r *Reader, to common.Address, method string, args ...any) (T, error) {
	var zero T
	data, err := views.Pack(method, args...)
	if err != nil {
		return zero, fmt.Errorf("status: pack %s: %w", method, err)
	}
	out, err := r.chain.Call(ctx, domain.CallRequest{To: to, Data: data})
	if err != nil {
		return zero, fmt.Errorf("status: call %s: %w", method, err)
	}
	vals, err := views.Unpack(method, out)
	if err != nil {
		return zero, fmt.Errorf("status: unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return zero, fmt.Errorf("status: %s returned %d values", method, len(vals))
	}
	v, ok := vals[0].(T)
	if !ok {
		return zero, fmt.Errorf("status: %s returned %T", method, vals[0])
	}
	return v, nil
}
