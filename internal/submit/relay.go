package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// RelayConfig tunes the relay submitter.
type RelayConfig struct {
	// ReplacementID tags every bundle with a fresh replacement UUID.
	ReplacementID bool
	// WaitTimeout bounds the wait for the target block. Zero means no bound.
	WaitTimeout time.Duration
}

// Relay sends one-transaction bundles for the next block and reports whether
// they landed.
type Relay struct {
	relay  domain.RelayClient
	cfg    RelayConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRelay creates a Relay submitter.
func NewRelay(relay domain.RelayClient, cfg RelayConfig, logger *slog.Logger) *Relay {
	return &Relay{
		relay:  relay,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "submit"), slog.String("strategy", string(domain.StrategyRelay))),
		now:    time.Now,
	}
}

// Strategy implements engine.Submitter.
func (r *Relay) Strategy() domain.Strategy { return domain.StrategyRelay }

// Submit targets height+1 and blocks until that block is known. A bundle
// that did not land yields a NotIncluded record and a nil error.
func (r *Relay) Submit(ctx context.Context, signed domain.SignedRequest, height domain.ChainHeight) (domain.SubmissionRecord, error) {
	target := height + 1
	rec := domain.SubmissionRecord{
		Strategy:     domain.StrategyRelay,
		Height:       height,
		TargetHeight: target,
		TxHash:       signed.Hash,
		Nonce:        signed.Nonce,
		SubmittedAt:  r.now().UTC(),
	}
	var opts domain.BundleOptions
	if r.cfg.ReplacementID {
		opts.ReplacementID = uuid.NewString()
		rec.ReplacementID = opts.ReplacementID
	}

	handle, err := r.relay.SendBundle(ctx, [][]byte{signed.Raw}, target, opts)
	if err != nil {
		return r.fail(rec, "send bundle", err)
	}
	rec.ID = handle.Hash()
	r.logger.InfoContext(ctx, "bundle submitted",
		slog.String("bundle_hash", rec.ID),
		slog.Uint64("target_height", uint64(target)),
		slog.String("replacement_id", opts.ReplacementID),
	)

	if err := r.logStats(ctx, "v1", handle.Stats); err != nil {
		return r.fail(rec, "bundle stats", err)
	}
	if err := r.logStats(ctx, "v2", handle.StatsV2); err != nil {
		return r.fail(rec, "bundle stats v2", err)
	}

	waitCtx := ctx
	if r.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.cfg.WaitTimeout)
		defer cancel()
	}
	if err := handle.Wait(waitCtx); err != nil {
		return r.fail(rec, "wait for target", err)
	}

	receipts, err := handle.Receipts(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec.State = domain.SubmissionNotIncluded
		r.logger.InfoContext(ctx, "bundle not included", slog.Uint64("target_height", uint64(target)))
		return rec, nil
	case err != nil:
		return r.fail(rec, "receipts", err)
	case len(receipts) == 0:
		rec.State = domain.SubmissionNotIncluded
		return rec, nil
	}

	rec.State = domain.SubmissionIncluded
	rec.IncludedIn = receipts[0].BlockNumber
	if receipts[0].Status == 0 {
		rec.Reason = "reverted"
	}
	r.logger.InfoContext(ctx, "bundle included",
		slog.Uint64("block", uint64(rec.IncludedIn)),
		slog.Uint64("gas_used", receipts[0].GasUsed),
	)
	return rec, nil
}

// logStats logs relay statistics. Only an outage is returned; other failures
// are logged since stats are informational.
func (r *Relay) logStats(ctx context.Context, version string, fetch func(context.Context) (domain.BundleStats, error)) error {
	stats, err := fetch(ctx)
	if err != nil {
		if domain.IsServiceUnavailable(err) {
			return err
		}
		r.logger.WarnContext(ctx, "bundle stats unavailable", slog.String("version", version), slog.String("error", err.Error()))
		return nil
	}
	r.logger.InfoContext(ctx, "bundle stats", slog.String("version", version), slog.Any("stats", map[string]any(stats)))
	return nil
}

func (r *Relay) fail(rec domain.SubmissionRecord, op string, err error) (domain.SubmissionRecord, error) {
	rec.State = domain.SubmissionFailed
	rec.Reason = err.Error()
	return rec, fmt.Errorf("submit/relay: %s: %w", op, classify(domain.StrategyRelay, err))
}
