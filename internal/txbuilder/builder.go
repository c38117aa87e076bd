// Package txbuilder assembles the unsigned target transaction with the fee
// policy of the chosen delivery strategy.
package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/errdecode"
)

// FeePolicy holds the fee parameters per strategy, in wei.
type FeePolicy struct {
	MempoolMaxFee        *big.Int
	MempoolPriorityFee   *big.Int
	RelayMaxFee          *big.Int
	RelayPriorityPremium *big.Int
}

// Gwei converts a gwei amount to wei.
func Gwei(v uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(v), big.NewInt(params.GWei))
}

// Config describes the transaction to build.
type Config struct {
	ChainID  *big.Int
	From     common.Address
	To       common.Address
	Calldata []byte
	// GasLimit skips estimation when non-zero.
	GasLimit     uint64
	GasBufferPct uint64
	Fees         FeePolicy
}

// Builder builds unsigned requests.
type Builder struct {
	reader   domain.ChainReader
	oracle   domain.FeeOracle
	cfg      Config
	registry *errdecode.Registry
	logger   *slog.Logger
}

// New creates a Builder.
func New(reader domain.ChainReader, oracle domain.FeeOracle, cfg Config, registry *errdecode.Registry, logger *slog.Logger) *Builder {
	return &Builder{
		reader:   reader,
		oracle:   oracle,
		cfg:      cfg,
		registry: registry,
		logger:   logger.With(slog.String("component", "txbuilder")),
	}
}

// Build assembles the request for strategy at height. All failures are
// *domain.BuildError. A revert during gas estimation is decoded; it is marked
// Structured only for contract defined failures, not for Error(string) or
// Panic(uint256).
func (b *Builder) Build(ctx context.Context, strategy domain.Strategy, height domain.ChainHeight) (domain.UnsignedRequest, error) {
	maxFee, tip, err := b.fees(ctx, strategy)
	if err != nil {
		return domain.UnsignedRequest{}, &domain.BuildError{Strategy: strategy, Err: err}
	}

	nonce, err := b.reader.NonceAt(ctx, b.cfg.From)
	if err != nil {
		return domain.UnsignedRequest{}, &domain.BuildError{Strategy: strategy, Err: fmt.Errorf("fetch nonce: %w", err)}
	}

	gas, err := b.gas(ctx)
	if err != nil {
		reason, structured := errdecode.Reason(err, b.registry)
		var callErr *domain.CallError
		switch {
		case !structured:
			reason = ""
		case errors.As(err, &callErr) && errdecode.IsStandard(callErr.Data):
			structured = false
		}
		return domain.UnsignedRequest{}, &domain.BuildError{Strategy: strategy, Reason: reason, Structured: structured, Err: err}
	}

	req := domain.UnsignedRequest{
		ChainID:              b.cfg.ChainID,
		From:                 b.cfg.From,
		To:                   b.cfg.To,
		Data:                 b.cfg.Calldata,
		Nonce:                nonce,
		Gas:                  gas,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
	}
	b.logger.DebugContext(ctx, "request built",
		slog.Uint64("height", uint64(height)),
		slog.String("strategy", string(strategy)),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
		slog.String("max_fee", maxFee.String()),
		slog.String("priority_fee", tip.String()),
	)
	return req, nil
}

func (b *Builder) fees(ctx context.Context, strategy domain.Strategy) (maxFee, tip *big.Int, err error) {
	switch strategy {
	case domain.StrategyMempool:
		maxFee = new(big.Int).Set(b.cfg.Fees.MempoolMaxFee)
		tip = new(big.Int).Set(b.cfg.Fees.MempoolPriorityFee)
	case domain.StrategyRelay:
		suggested, err := b.oracle.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("suggest tip: %w", err)
		}
		maxFee = new(big.Int).Set(b.cfg.Fees.RelayMaxFee)
		tip = new(big.Int).Add(suggested, b.cfg.Fees.RelayPriorityPremium)
	default:
		return nil, nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if tip.Cmp(maxFee) > 0 {
		return nil, nil, fmt.Errorf("priority fee %s exceeds max fee %s", tip, maxFee)
	}
	return maxFee, tip, nil
}

func (b *Builder) gas(ctx context.Context) (uint64, error) {
	if b.cfg.GasLimit > 0 {
		return b.cfg.GasLimit, nil
	}
	est, err := b.oracle.EstimateGas(ctx, domain.CallRequest{From: b.cfg.From, To: b.cfg.To, Data: b.cfg.Calldata})
	if err != nil {
		return 0, err
	}
	if est == 0 {
		return 0, errors.New("estimate returned zero gas")
	}
	return est + est*b.cfg.GasBufferPct/100, nil
}
