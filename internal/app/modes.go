package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/convbot/internal/crypto"
	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/engine"
	"github.com/alanyoungcy/convbot/internal/evaluator"
	"github.com/alanyoungcy/convbot/internal/journal"
	"github.com/alanyoungcy/convbot/internal/monitor"
	"github.com/alanyoungcy/convbot/internal/platform/flashbots"
	"github.com/alanyoungcy/convbot/internal/retry"
	"github.com/alanyoungcy/convbot/internal/server"
	"github.com/alanyoungcy/convbot/internal/server/handler"
	"github.com/alanyoungcy/convbot/internal/status"
	"github.com/alanyoungcy/convbot/internal/submit"
	"github.com/alanyoungcy/convbot/internal/txbuilder"
)

// BuyMode runs the opportunity engine until ctx is cancelled or a fatal
// outcome stops it.
func (a *App) BuyMode(ctx context.Context, deps *Dependencies) error {
	strategy := domain.Strategy(strings.ToLower(a.cfg.Strategy.Kind))
	a.logger.InfoContext(ctx, "starting buy mode",
		slog.String("strategy", string(strategy)),
		slog.String("target", deps.Target.Address.Hex()),
	)

	pk, err := crypto.LoadECDSA(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: load wallet: %w", err)
	}
	signer := crypto.NewTxSigner(pk, deps.ChainID)
	a.logger.InfoContext(ctx, "wallet loaded", slog.String("address", signer.Address().Hex()))

	submitter, err := a.submitter(strategy, deps)
	if err != nil {
		return err
	}

	fees := a.cfg.Fees
	builder := txbuilder.New(deps.Chain, deps.Chain, txbuilder.Config{
		ChainID:      deps.ChainID,
		From:         signer.Address(),
		To:           deps.Target.Address,
		Calldata:     deps.Target.Calldata(),
		GasLimit:     fees.GasLimit,
		GasBufferPct: uint64(fees.GasBufferPct),
		Fees: txbuilder.FeePolicy{
			MempoolMaxFee:        txbuilder.Gwei(uint64(fees.MempoolMaxFeeGwei)),
			MempoolPriorityFee:   txbuilder.Gwei(uint64(fees.MempoolPriorityFeeGwei)),
			RelayMaxFee:          txbuilder.Gwei(uint64(fees.RelayMaxFeeGwei)),
			RelayPriorityPremium: txbuilder.Gwei(uint64(fees.RelayPriorityPremiumGwei)),
		},
	}, deps.Registry, a.logger)
	ev := evaluator.New(deps.Chain, signer.Address(), deps.Target.Address, deps.Target.Calldata(), deps.Registry, a.logger)

	opts := []journal.Option{}
	if deps.SubmissionStore != nil {
		opts = append(opts, journal.WithStore(deps.SubmissionStore))
	}
	if deps.AuditStore != nil {
		opts = append(opts, journal.WithAudit(deps.AuditStore))
	}
	if deps.SignalBus != nil {
		opts = append(opts, journal.WithBus(deps.SignalBus))
	}
	if deps.Notifier != nil {
		opts = append(opts, journal.WithNotifier(deps.Notifier))
	}
	jrnl := journal.New(a.logger, opts...)

	eng := engine.New(ev, builder, signer, submitter, a.logger, engine.WithRecorder(jrnl))

	if deps.LockManager != nil {
		key := fmt.Sprintf("%s:%s", deps.ChainID, strings.ToLower(deps.Target.Address.Hex()))
		unlock, err := deps.LockManager.Acquire(ctx, key, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: acquire target lock: %w", err)
		}
		defer unlock()
		a.logger.InfoContext(ctx, "target lock acquired", slog.String("key", key))

		var stop func()
		ctx, stop = a.holdLock(ctx, deps.LockManager, key)
		defer stop()
	}

	var lister handler.SubmissionLister = jrnl
	if deps.SubmissionStore != nil {
		lister = deps.SubmissionStore
	}

	g, gctx := errgroup.WithContext(ctx)
	a.startServer(gctx, g, deps, string(strategy), eng.Progress, lister, deps.AuditStore)

	g.Go(func() error {
		return runEngine(gctx, a.driver(eng, deps), jrnl, eng.State)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if cause := context.Cause(ctx); errors.Is(cause, domain.ErrLockLost) {
		return cause
	}
	return nil
}

type runner interface {
	Run(ctx context.Context) error
}

// runEngine drives r until ctx ends. A failure is journaled as fatal at the
// last processed height and returned.
func runEngine(ctx context.Context, r runner, jrnl *journal.Journal, state func() engine.State) error {
	err := r.Run(ctx)
	if err != nil {
		jrnl.Fatal(ctx, state().LastProcessed, err)
	}
	return err
}

// submitter builds the delivery path for strategy.
func (a *App) submitter(strategy domain.Strategy, deps *Dependencies) (engine.Submitter, error) {
	switch strategy {
	case domain.StrategyMempool:
		return submit.NewMempool(deps.Chain, a.cfg.Chain.ExplorerURL, a.logger), nil
	case domain.StrategyRelay:
		var key *ecdsa.PrivateKey
		if a.cfg.Relay.AuthKey != "" {
			k, err := ethcrypto.HexToECDSA(strings.TrimPrefix(a.cfg.Relay.AuthKey, "0x"))
			if err != nil {
				return nil, fmt.Errorf("app: relay auth key: %w", err)
			}
			key = k
		}
		auth, err := crypto.NewRelayAuth(key)
		if err != nil {
			return nil, err
		}
		a.logger.Info("relay identity", slog.String("address", auth.Address().Hex()))
		relay := flashbots.New(flashbots.Config{
			URL:          a.cfg.Relay.URL,
			Timeout:      a.cfg.Relay.HTTPTimeout.Duration,
			PollInterval: a.cfg.Relay.WaitPollInterval.Duration,
			Retry:        retry.DefaultConfig(),
		}, auth, deps.Chain)
		return submit.NewRelay(relay, submit.RelayConfig{
			ReplacementID: a.cfg.Relay.ReplacementUUID,
			WaitTimeout:   a.cfg.Relay.WaitTimeout.Duration,
		}, a.logger), nil
	default:
		return nil, fmt.Errorf("app: unknown strategy %q", strategy)
	}
}

// holdLock refreshes key every third of its TTL. The returned context is
// cancelled with domain.ErrLockLost when another holder takes the key; stop
// ends the refresher.
func (a *App) holdLock(ctx context.Context, lm domain.LockManager, key string) (_ context.Context, stop func()) {
	ttl := a.cfg.Redis.LockTTL.Duration
	lockCtx, cancel := context.WithCancelCause(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-lockCtx.Done():
				return
			case <-ticker.C:
				err := lm.Refresh(lockCtx, key, ttl)
				if err == nil {
					continue
				}
				if errors.Is(err, domain.ErrLockLost) {
					a.logger.Error("target lock lost", slog.String("key", key))
					cancel(err)
					return
				}
				a.logger.Warn("target lock refresh failed", slog.String("error", err.Error()))
			}
		}
	}()
	return lockCtx, func() {
		cancel(nil)
		<-done
	}
}

// StatusMode prints the target's spending status once per new height.
func (a *App) StatusMode(ctx context.Context, deps *Dependencies) error {
	reader, err := status.NewReader(ctx, deps.Chain, deps.Target.Address)
	if err != nil {
		return fmt.Errorf("app: status reader: %w", err)
	}
	a.logger.InfoContext(ctx, "starting status mode",
		slog.String("target", deps.Target.Address.Hex()),
		slog.String("weth", reader.WETH().Hex()),
	)

	batch := 0
	if deps.BlobWriter != nil {
		batch = a.cfg.S3.BatchRows
	}
	rep := status.NewReporter(reader, os.Stdout, deps.BlobWriter, status.ReporterConfig{
		BatchRows: batch,
		KeyPrefix: strings.ToLower(deps.Target.Address.Hex()),
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	a.startServer(gctx, g, deps, "", nil, nil, deps.AuditStore)
	g.Go(func() error {
		return a.driver(rep, deps).Run(gctx)
	})
	return g.Wait()
}

func (a *App) driver(c engine.Consumer, deps *Dependencies) *engine.Driver {
	m := a.cfg.Monitor
	mon := monitor.New(deps.Heads, monitor.Config{
		ReceiveTimeout: m.ReceiveTimeout.Duration,
		StrictTimeout:  m.StrictTimeout,
		MaxStalls:      m.MaxStalls,
	}, a.logger)
	return engine.NewDriver(c, mon, engine.DriverConfig{
		MaxReconnects:  m.MaxReconnects,
		InitialBackoff: m.InitialBackoff.Duration,
		MaxBackoff:     m.MaxBackoff.Duration,
	}, a.logger)
}

// startServer runs the operator endpoint in g when enabled. The server is
// shut down when ctx ends.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, strategy string, progress func() (uint64, bool), lister handler.SubmissionLister, audit handler.AuditLister) {
	if !a.cfg.Server.Enabled {
		return
	}
	h := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(a.cfg.Mode, strategy, progress),
	}
	if lister != nil {
		h.Submissions = handler.NewSubmissionHandler(lister, a.logger)
	}
	if audit != nil {
		h.Audit = handler.NewAuditHandler(audit, a.logger)
	}
	srv := server.New(server.Config{Addr: a.cfg.Server.Addr, APIKey: a.cfg.Server.APIKey}, h, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
