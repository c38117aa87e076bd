package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/convbot/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeEvaluator struct {
	results map[domain.ChainHeight]domain.SimulationResult
	seen    []domain.ChainHeight
}

func (f *fakeEvaluator) Evaluate(_ context.Context, h domain.ChainHeight) domain.SimulationResult {
	f.seen = append(f.seen, h)
	if r, ok := f.results[h]; ok {
		return r
	}
	return domain.Eligible()
}

type fakeBuilder struct {
	err        error
	strategies []domain.Strategy
}

func (f *fakeBuilder) Build(_ context.Context, s domain.Strategy, _ domain.ChainHeight) (domain.UnsignedRequest, error) {
	f.strategies = append(f.strategies, s)
	if f.err != nil {
		return domain.UnsignedRequest{}, f.err
	}
	return domain.UnsignedRequest{Nonce: 3}, nil
}

type fakeSigner struct{ err error }

func (f *fakeSigner) Address() common.Address { return common.HexToAddress("0xaa") }

func (f *fakeSigner) Sign(_ context.Context, req domain.UnsignedRequest) (domain.SignedRequest, error) {
	if f.err != nil {
		return domain.SignedRequest{}, f.err
	}
	return domain.SignedRequest{Raw: []byte{0x02}, Hash: common.HexToHash("0x01"), Nonce: req.Nonce}, nil
}

type fakeSubmitter struct {
	strategy domain.Strategy
	errs     map[domain.ChainHeight]error
	heights  []domain.ChainHeight
}

func (f *fakeSubmitter) Strategy() domain.Strategy { return f.strategy }

func (f *fakeSubmitter) Submit(_ context.Context, s domain.SignedRequest, h domain.ChainHeight) (domain.SubmissionRecord, error) {
	f.heights = append(f.heights, h)
	rec := domain.SubmissionRecord{Strategy: f.strategy, Height: h, ID: "0xid", TxHash: s.Hash, State: domain.SubmissionPending}
	if err := f.errs[h]; err != nil {
		rec.State = domain.SubmissionFailed
		rec.Reason = err.Error()
		return rec, err
	}
	return rec, nil
}

type recorder struct{ recs []domain.SubmissionRecord }

func (r *recorder) Record(_ context.Context, rec domain.SubmissionRecord) { r.recs = append(r.recs, rec) }

func seq(heights ...domain.ChainHeight) iter.Seq2[domain.ChainHeight, error] {
	return func(yield func(domain.ChainHeight, error) bool) {
		for _, h := range heights {
			if !yield(h, nil) {
				return
			}
		}
	}
}

func TestRun_RepeatedHeightEvaluatedOnce(t *testing.T) {
	t.Parallel()

	ev := &fakeEvaluator{}
	sub := &fakeSubmitter{strategy: domain.StrategyMempool}
	e := New(ev, &fakeBuilder{}, &fakeSigner{}, sub, discard())

	require.NoError(t, e.Run(context.Background(), seq(100, 100, 101)))
	assert.Equal(t, []domain.ChainHeight{100, 101}, ev.seen)
	assert.Equal(t, []domain.ChainHeight{100, 101}, sub.heights)
	assert.Equal(t, State{LastProcessed: 101, Started: true}, e.State())
	assert.Equal(t, uint64(2), e.Processed())
}

func TestProgress_ZeroHeightIsStarted(t *testing.T) {
	t.Parallel()

	e := New(&fakeEvaluator{}, &fakeBuilder{}, &fakeSigner{}, &fakeSubmitter{strategy: domain.StrategyRelay}, discard())
	_, started := e.Progress()
	assert.False(t, started)

	e.HandleHeight(context.Background(), 0)
	h, started := e.Progress()
	assert.True(t, started)
	assert.Equal(t, uint64(0), h)
}

func TestHandleHeight_Outcomes(t *testing.T) {
	t.Parallel()

	structured := &domain.BuildError{Strategy: domain.StrategyMempool, Reason: "Converter__SpendingTooMuch()", Structured: true, Err: errors.New("estimate")}

	tests := []struct {
		name     string
		ev       *fakeEvaluator
		builder  *fakeBuilder
		signer   *fakeSigner
		sub      *fakeSubmitter
		wantKind domain.OutcomeKind
		wantRec  bool
	}{
		{
			name:     "ineligible",
			ev:       &fakeEvaluator{results: map[domain.ChainHeight]domain.SimulationResult{7: domain.Ineligible("Something__WrongHeight()")}},
			builder:  &fakeBuilder{},
			signer:   &fakeSigner{},
			sub:      &fakeSubmitter{strategy: domain.StrategyMempool},
			wantKind: domain.OutcomeIneligible,
		},
		{
			name:     "submitted",
			ev:       &fakeEvaluator{},
			builder:  &fakeBuilder{},
			signer:   &fakeSigner{},
			sub:      &fakeSubmitter{strategy: domain.StrategyMempool},
			wantKind: domain.OutcomeSubmitted,
			wantRec:  true,
		},
		{
			name:     "mempool structured build failure is fatal",
			ev:       &fakeEvaluator{},
			builder:  &fakeBuilder{err: structured},
			signer:   &fakeSigner{},
			sub:      &fakeSubmitter{strategy: domain.StrategyMempool},
			wantKind: domain.OutcomeFatal,
		},
		{
			name:     "relay structured build failure is skipped",
			ev:       &fakeEvaluator{},
			builder:  &fakeBuilder{err: &domain.BuildError{Strategy: domain.StrategyRelay, Reason: "Converter__SpendingTooMuch()", Structured: true}},
			signer:   &fakeSigner{},
			sub:      &fakeSubmitter{strategy: domain.StrategyRelay},
			wantKind: domain.OutcomeSkipped,
		},
		{
			name:     "mempool nonce failure is skipped",
			ev:       &fakeEvaluator{},
			builder:  &fakeBuilder{err: &domain.BuildError{Strategy: domain.StrategyMempool, Err: errors.New("nonce")}},
			signer:   &fakeSigner{},
			sub:      &fakeSubmitter{strategy: domain.StrategyMempool},
			wantKind: domain.OutcomeSkipped,
		},
		{
			name:     "signing failure is skipped",
			ev:       &fakeEvaluator{},
			builder:  &fakeBuilder{},
			signer:   &fakeSigner{err: domain.ErrSigningFailed},
			sub:      &fakeSubmitter{strategy: domain.StrategyMempool},
			wantKind: domain.OutcomeSkipped,
		},
		{
			name:     "submit error is skipped",
			ev:       &fakeEvaluator{},
			builder:  &fakeBuilder{},
			signer:   &fakeSigner{},
			sub:      &fakeSubmitter{strategy: domain.StrategyMempool, errs: map[domain.ChainHeight]error{7: errors.New("rejected")}},
			wantKind: domain.OutcomeSkipped,
			wantRec:  true,
		},
		{
			name:    "relay outage is fatal",
			ev:      &fakeEvaluator{},
			builder: &fakeBuilder{},
			signer:  &fakeSigner{},
			sub: &fakeSubmitter{strategy: domain.StrategyRelay, errs: map[domain.ChainHeight]error{
				7: &domain.RelayUnavailableError{Strategy: domain.StrategyRelay, Err: errors.New("down")},
			}},
			wantKind: domain.OutcomeFatal,
			wantRec:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			e := New(tt.ev, tt.builder, tt.signer, tt.sub, discard(), WithRecorder(rec))

			out := e.HandleHeight(context.Background(), 7)
			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, domain.ChainHeight(7), out.Height)
			if tt.wantRec {
				require.NotNil(t, out.Record)
				assert.Len(t, rec.recs, 1)
			} else {
				assert.Empty(t, rec.recs)
			}
			if len(tt.builder.strategies) > 0 {
				assert.Equal(t, tt.sub.strategy, tt.builder.strategies[0])
			}
		})
	}
}

func TestRun_MempoolInconsistentStateStops(t *testing.T) {
	t.Parallel()

	build := &fakeBuilder{err: &domain.BuildError{Strategy: domain.StrategyMempool, Reason: "Converter__SoftwareError()", Structured: true}}
	ev := &fakeEvaluator{}
	e := New(ev, build, &fakeSigner{}, &fakeSubmitter{strategy: domain.StrategyMempool}, discard())

	err := e.Run(context.Background(), seq(100, 101, 102))

	var ise *domain.InconsistentStateError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, domain.ChainHeight(100), ise.Height)
	assert.Equal(t, "Converter__SoftwareError()", ise.Reason)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, []domain.ChainHeight{100}, ev.seen, "no height after the fatal one is evaluated")
}

func TestRun_PropagatesSequenceError(t *testing.T) {
	t.Parallel()

	broken := func(yield func(domain.ChainHeight, error) bool) {
		if !yield(5, nil) {
			return
		}
		yield(0, &domain.TransportError{Op: "receive", Err: domain.ErrStreamClosed})
	}
	e := New(&fakeEvaluator{}, &fakeBuilder{}, &fakeSigner{}, &fakeSubmitter{strategy: domain.StrategyMempool}, discard())

	err := e.Run(context.Background(), broken)
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, uint64(1), e.Processed())
}

func TestReport_OneLinePerEvaluatedHeight(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ev := &fakeEvaluator{results: map[domain.ChainHeight]domain.SimulationResult{100: domain.Ineligible("generic")}}
	e := New(ev, &fakeBuilder{}, &fakeSigner{}, &fakeSubmitter{strategy: domain.StrategyRelay}, logger)

	require.NoError(t, e.Run(context.Background(), seq(100, 100, 101)))

	var cycles []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		if m["msg"] == "cycle" {
			cycles = append(cycles, m)
		}
	}
	require.Len(t, cycles, 2)

	assert.Equal(t, float64(100), cycles[0]["height"])
	assert.Equal(t, false, cycles[0]["eligible"])
	assert.Equal(t, "generic", cycles[0]["reason"])

	assert.Equal(t, float64(101), cycles[1]["height"])
	assert.Equal(t, true, cycles[1]["eligible"])
	assert.Equal(t, "0xid", cycles[1]["submission_id"])
	assert.Equal(t, "pending", cycles[1]["state"])
}

var _ domain.Signer = (*fakeSigner)(nil)
