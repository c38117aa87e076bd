// Package journal fans submission records out to the configured sinks:
// Postgres, the Redis bus, chat notifications and an in-memory history.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// Channel and stream the records are published on.
const (
	SubmissionsChannel = "convbot:submissions"
	SubmissionsStream  = "convbot:submissions:log"
)

const (
	defaultSinkTimeout = 5 * time.Second
	defaultHistory     = 256
)

// Notifier is the subset of notify.Notifier the journal uses.
type Notifier interface {
	NotifySubmission(ctx context.Context, rec domain.SubmissionRecord) error
	NotifyFatal(ctx context.Context, height domain.ChainHeight, err error) error
}

// Journal records submissions. Every sink is optional. Sink errors are
// logged and never returned.
type Journal struct {
	store    domain.SubmissionStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	history []domain.SubmissionRecord
	limit   int
}

// Option configures a Journal.
type Option func(*Journal)

func WithStore(s domain.SubmissionStore) Option { return func(j *Journal) { j.store = s } }
func WithAudit(a domain.AuditStore) Option { return func(j *Journal) { j.audit = a } }
func WithBus(b domain.SignalBus) Option { return func(j *Journal) { j.bus = b } }
func WithNotifier(n Notifier) Option { return func(j *Journal) { j.notifier = n } }

// WithSinkTimeout bounds how long Record waits on the sinks.
func WithSinkTimeout(d time.Duration) Option { return func(j *Journal) { j.timeout = d } }

// New creates a Journal.
func New(logger *slog.Logger, opts ...Option) *Journal {
	j := &Journal{
		timeout: defaultSinkTimeout,
		limit:   defaultHistory,
		logger:  logger.With(slog.String("component", "journal")),
	}
	for _, o := range opts {
		o(j)
	}
	return j
}

// Record writes rec to every sink concurrently and waits at most the sink
// timeout.
func (j *Journal) Record(ctx context.Context, rec domain.SubmissionRecord) {
	j.remember(rec)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()

	var g errgroup.Group
	if j.store != nil {
		g.Go(func() error { return j.sink(ctx, "postgres", rec, j.store.Insert(ctx, rec)) })
	}
	if j.bus != nil {
		g.Go(func() error {
			payload, err := json.Marshal(rec)
			if err == nil {
				err = j.bus.Publish(ctx, SubmissionsChannel, payload)
			}
			if err == nil {
				err = j.bus.StreamAppend(ctx, SubmissionsStream, payload)
			}
			return j.sink(ctx, "redis", rec, err)
		})
	}
	if j.notifier != nil {
		g.Go(func() error { return j.sink(ctx, "notify", rec, j.notifier.NotifySubmission(ctx, rec)) })
	}
	_ = g.Wait()
}

// Fatal records the error that stopped the engine in the audit log and
// notifies operators.
func (j *Journal) Fatal(ctx context.Context, height domain.ChainHeight, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()

	var g errgroup.Group
	if j.audit != nil {
		g.Go(func() error {
			err := j.audit.Log(ctx, "engine_fatal", map[string]any{"height": uint64(height), "error": cause.Error()})
			if err != nil {
				j.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	if j.notifier != nil {
		g.Go(func() error {
			if err := j.notifier.NotifyFatal(ctx, height, cause); err != nil {
				j.logger.WarnContext(ctx, "fatal notification failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Recent returns up to n of the latest records, newest first.
func (j *Journal) Recent(n int) []domain.SubmissionRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n <= 0 || n > len(j.history) {
		n = len(j.history)
	}
	out := make([]domain.SubmissionRecord, 0, n)
	for i := len(j.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, j.history[i])
	}
	return out
}

// List serves the in-memory history with the same paging semantics as the
// Postgres store, for deployments without a database.
func (j *Journal) List(_ context.Context, opts domain.ListOpts) ([]domain.SubmissionRecord, error) {
	var out []domain.SubmissionRecord
	skipped := 0
	for _, rec := range j.Recent(0) {
		if opts.Since != nil && rec.SubmittedAt.Before(*opts.Since) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (j *Journal) remember(rec domain.SubmissionRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.history) == j.limit {
		copy(j.history, j.history[1:])
		j.history = j.history[:j.limit-1]
	}
	j.history = append(j.history, rec)
}

func (j *Journal) sink(ctx context.Context, name string, rec domain.SubmissionRecord, err error) error {
	if err != nil {
		j.logger.WarnContext(ctx, "journal sink failed",
			slog.String("sink", name),
			slog.String("submission_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
