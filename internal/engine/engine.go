// Package engine runs one evaluate, build, sign and submit cycle per new
// chain height.
package engine

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/logging"
	"github.com/alanyoungcy/convbot/internal/metrics"
)

// Evaluator simulates the target call.
type Evaluator interface {
	Evaluate(ctx context.Context, height domain.ChainHeight) domain.SimulationResult
}

// Builder assembles the unsigned request.
type Builder interface {
	Build(ctx context.Context, strategy domain.Strategy, height domain.ChainHeight) (domain.UnsignedRequest, error)
}

// Submitter delivers a signed request through one strategy. A returned error
// that satisfies domain.IsFatal stops the engine.
type Submitter interface {
	Strategy() domain.Strategy
	Submit(ctx context.Context, signed domain.SignedRequest, height domain.ChainHeight) (domain.SubmissionRecord, error)
}

// Recorder receives every submission record. Implementations must not block
// for long and must swallow their own errors.
type Recorder interface {
	Record(ctx context.Context, rec domain.SubmissionRecord)
}

// State is the only data carried from one cycle to the next.
type State struct {
	LastProcessed domain.ChainHeight
	Started       bool
}

// Engine owns State and runs cycles on the caller's goroutine. It is not
// safe for concurrent use.
type Engine struct {
	evaluator Evaluator
	builder   Builder
	signer    domain.Signer
	submitter Submitter
	recorder  Recorder
	logger    *slog.Logger

	state     State
	processed uint64
	// progress mirrors state for readers on other goroutines: zero before
	// the first height, height+1 after.
	progress  atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder sets the sink for submission records.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New creates an Engine.
func New(ev Evaluator, b Builder, s domain.Signer, sub Submitter, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		evaluator: ev,
		builder:   b,
		signer:    s,
		submitter: sub,
		logger:    logger.With(slog.String("component", "engine")),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// State returns a copy of the engine state.
func (e *Engine) State() State { return e.state }

// Progress returns the last processed height. It may be called from any
// goroutine.
func (e *Engine) Progress() (uint64, bool) {
	v := e.progress.Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// Processed returns how many heights have been evaluated.
func (e *Engine) Processed() uint64 { return e.processed }

// Run consumes heights until the sequence ends, a height produces a fatal
// outcome, or the sequence reports an error. It returns the fatal or
// sequence error, or ctx.Err() when the sequence ended quietly.
func (e *Engine) Run(ctx context.Context, heights iter.Seq2[domain.ChainHeight, error]) error {
	for h, err := range heights {
		if err != nil {
			return err
		}
		if out := e.HandleHeight(ctx, h); out.Kind == domain.OutcomeFatal {
			return out.Err
		}
	}
	return ctx.Err()
}

// HandleHeight runs one cycle for height.
func (e *Engine) HandleHeight(ctx context.Context, height domain.ChainHeight) domain.CycleOutcome {
	if e.state.Started && height == e.state.LastProcessed {
		return domain.CycleOutcome{Kind: domain.OutcomeDuplicate, Height: height}
	}
	e.state = State{LastProcessed: height, Started: true}
	e.processed++
	e.progress.Store(uint64(height) + 1)
	metrics.LastProcessedHeight.Set(float64(height))

	out := e.cycle(ctx, height)
	e.report(ctx, out)
	return out
}

func (e *Engine) cycle(ctx context.Context, height domain.ChainHeight) domain.CycleOutcome {
	sim := e.evaluator.Evaluate(ctx, height)
	if !sim.Eligible {
		metrics.Evaluations.WithLabelValues("ineligible").Inc()
		return domain.CycleOutcome{Kind: domain.OutcomeIneligible, Height: height, Reason: sim.Reason}
	}
	metrics.Evaluations.WithLabelValues("eligible").Inc()

	strategy := e.submitter.Strategy()
	req, err := e.builder.Build(ctx, strategy, height)
	if err != nil {
		var be *domain.BuildError
		if errors.As(err, &be) && be.Structured && strategy == domain.StrategyMempool {
			return domain.CycleOutcome{
				Kind:   domain.OutcomeFatal,
				Height: height,
				Reason: be.Reason,
				Err:    &domain.InconsistentStateError{Height: height, Reason: be.Reason, Err: err},
			}
		}
		metrics.Skipped.WithLabelValues("build").Inc()
		return domain.CycleOutcome{Kind: domain.OutcomeSkipped, Height: height, Reason: reasonOf(be, err), Err: err}
	}

	signed, err := e.signer.Sign(ctx, req)
	if err != nil {
		metrics.Skipped.WithLabelValues("sign").Inc()
		return domain.CycleOutcome{Kind: domain.OutcomeSkipped, Height: height, Reason: err.Error(), Err: err}
	}

	rec, err := e.submitter.Submit(ctx, signed, height)
	metrics.Submissions.WithLabelValues(string(strategy), string(rec.State)).Inc()
	if e.recorder != nil {
		e.recorder.Record(ctx, rec)
	}
	if err != nil {
		kind := domain.OutcomeSkipped
		if domain.IsFatal(err) {
			kind = domain.OutcomeFatal
		} else {
			metrics.Skipped.WithLabelValues("submit").Inc()
		}
		return domain.CycleOutcome{Kind: kind, Height: height, Reason: rec.Reason, Record: &rec, Err: err}
	}
	return domain.CycleOutcome{Kind: domain.OutcomeSubmitted, Height: height, Record: &rec}
}

func reasonOf(be *domain.BuildError, err error) string {
	if be != nil && be.Reason != "" {
		return be.Reason
	}
	return err.Error()
}

// report writes the single per-height log line.
func (e *Engine) report(ctx context.Context, out domain.CycleOutcome) {
	level := slog.LevelInfo
	switch out.Kind {
	case domain.OutcomeSkipped:
		level = slog.LevelWarn
	case domain.OutcomeFatal:
		level = logging.LevelCritical
	}

	attrs := []slog.Attr{
		slog.Uint64("height", uint64(out.Height)),
		slog.Bool("eligible", out.Kind != domain.OutcomeIneligible),
		slog.String("outcome", out.Kind.String()),
	}
	if out.Reason != "" {
		attrs = append(attrs, slog.String("reason", out.Reason))
	}
	if rec := out.Record; rec != nil {
		attrs = append(attrs,
			slog.String("strategy", string(rec.Strategy)),
			slog.String("submission_id", rec.ID),
			slog.String("state", string(rec.State)),
		)
		if rec.TargetHeight != 0 {
			attrs = append(attrs, slog.Uint64("target_height", uint64(rec.TargetHeight)))
		}
	}
	if out.Err != nil {
		attrs = append(attrs, slog.String("error", out.Err.Error()))
	}
	e.logger.LogAttrs(ctx, level, "cycle", attrs...)
}
