package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"

	s3blob "github.com/alanyoungcy/convbot/internal/blob/s3"
	"github.com/alanyoungcy/convbot/internal/cache/redis"
	"github.com/alanyoungcy/convbot/internal/config"
	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/errdecode"
	"github.com/alanyoungcy/convbot/internal/monitor"
	"github.com/alanyoungcy/convbot/internal/notify"
	"github.com/alanyoungcy/convbot/internal/platform/ethrpc"
	"github.com/alanyoungcy/convbot/internal/platform/wsheads"
	"github.com/alanyoungcy/convbot/internal/server/handler"
	"github.com/alanyoungcy/convbot/internal/store/postgres"
	"github.com/alanyoungcy/convbot/internal/target"
)

// Dependencies bundles what the modes need. Optional infrastructure is nil
// when disabled in the config.
type Dependencies struct {
	Chain    *ethrpc.Client
	ChainID  *big.Int
	Heads    domain.HeadSubscription
	Target   *target.Contract
	Registry *errdecode.Registry

	LockManager     domain.LockManager
	SignalBus       domain.SignalBus
	SubmissionStore domain.SubmissionStore
	AuditStore      domain.AuditStore
	BlobWriter      domain.BlobWriter
	Notifier        *notify.Notifier

	// Checks feed the /health endpoint.
	Checks map[string]handler.Check
}

// Wire builds the dependencies and returns a cleanup that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- Chain ---
	chain, err := ethrpc.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fail("rpc", err)
	}
	closers = append(closers, chain.Close)
	deps.Chain = chain
	deps.Checks["rpc"] = func(ctx context.Context) error {
		_, err := chain.LatestHeight(ctx)
		return err
	}

	id, err := chain.ChainID(ctx)
	if err != nil {
		return fail("chain id", err)
	}
	if id.Int64() != cfg.Chain.ChainID {
		return fail("chain id", fmt.Errorf("node reports %s, config says %d", id, cfg.Chain.ChainID))
	}
	deps.ChainID = id

	switch cfg.Monitor.Source {
	case "poll":
		deps.Heads = monitor.NewPollingHeads(chain, cfg.Monitor.PollInterval.Duration)
	default:
		deps.Heads = wsheads.New(cfg.Chain.WSURL)
	}

	// --- Target ---
	if deps.Target, err = target.New(cfg.Target.Address, cfg.Target.Method); err != nil {
		return fail("target", err)
	}
	if deps.Registry, err = buildRegistry(cfg.Target); err != nil {
		return fail("error registry", err)
	}
	logger.Info("failure registry loaded", slog.Any("signatures", deps.Registry.Names()))

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.LockManager = redis.NewLockManager(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Checks["redis"] = rc.Ping
	}

	// --- Postgres ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.SubmissionStore = postgres.NewSubmissionStore(pg.Pool())
		deps.AuditStore = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.BlobWriter = s3blob.NewWriter(sc)
		deps.Checks["s3"] = sc.Health
	}

	// --- Notifications ---
	if cfg.Notify.Enabled {
		var senders []notify.Sender
		if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
			senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		}
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Chain.ExplorerURL, logger)
	}

	return deps, cleanup, nil
}

// buildRegistry merges the configured signatures with the error entries of
// the optional ABI file.
func buildRegistry(cfg config.TargetConfig) (*errdecode.Registry, error) {
	sigs := make([]errdecode.FailureSignature, 0, len(cfg.Errors))
	for _, s := range cfg.Errors {
		fs, err := errdecode.ParseSignature(s)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, fs)
	}
	if cfg.ABIPath != "" {
		f, err := os.Open(cfg.ABIPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		fromABI, err := errdecode.SignaturesFromABI(f)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, fromABI...)
	}
	return errdecode.NewRegistry(sigs...)
}
