// Package evaluator decides whether the target call would currently succeed.
package evaluator

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/errdecode"
)

// Evaluator simulates the target call from the configured sender against the
// latest state. Simulation goes through eth_call only, so it never touches
// the sender's nonce.
type Evaluator struct {
	reader   domain.ChainReader
	from     common.Address
	to       common.Address
	calldata []byte
	registry *errdecode.Registry
	logger   *slog.Logger
}

// New creates an Evaluator.
func New(reader domain.ChainReader, from, to common.Address, calldata []byte, registry *errdecode.Registry, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		reader:   reader,
		from:     from,
		to:       to,
		calldata: calldata,
		registry: registry,
		logger:   logger.With(slog.String("component", "evaluator")),
	}
}

// Evaluate simulates the call at height. Failures never escape: structured
// reverts become their decoded reason and anything else becomes "generic".
func (e *Evaluator) Evaluate(ctx context.Context, height domain.ChainHeight) domain.SimulationResult {
	_, err := e.reader.Call(ctx, domain.CallRequest{From: e.from, To: e.to, Data: e.calldata})
	if err == nil {
		return domain.Eligible()
	}

	reason, structured := errdecode.Reason(err, e.registry)
	e.logger.DebugContext(ctx, "simulation reverted",
		slog.Uint64("height", uint64(height)),
		slog.Bool("structured", structured),
		slog.String("error", err.Error()),
	)
	return domain.Ineligible(reason)
}
