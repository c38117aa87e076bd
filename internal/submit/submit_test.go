package submit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/testutil"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var signed = domain.SignedRequest{Raw: []byte{0x02, 0xf8}, Hash: common.HexToHash("0xabc"), Nonce: 9}

func TestMempool_Submit(t *testing.T) {
	t.Parallel()

	chain := &testutil.FakeChain{SendFn: func([]byte) (common.Hash, error) { return common.HexToHash("0xabc"), nil }}
	rec, err := NewMempool(chain, "https://sepolia.etherscan.io/", discard()).Submit(context.Background(), signed, 100)
	require.NoError(t, err)

	assert.Equal(t, domain.SubmissionPending, rec.State)
	assert.Equal(t, common.HexToHash("0xabc").Hex(), rec.ID)
	assert.Equal(t, domain.StrategyMempool, rec.Strategy)
	assert.Zero(t, rec.TargetHeight)
	assert.Equal(t, uint64(9), rec.Nonce)
	require.Len(t, chain.Sent, 1)
	assert.Equal(t, signed.Raw, chain.Sent[0])
}

func TestMempool_SubmitErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		wantFatal bool
	}{
		{"outage", &testutil.RPCError{Code: domain.CodeServiceUnavailable, Msg: "service unavailable"}, true},
		{"already known", &testutil.RPCError{Code: domain.CodeServiceUnavailable, Msg: "already known"}, false},
		{"nonce too low", &testutil.RPCError{Code: domain.CodeServiceUnavailable, Msg: "nonce too low: next nonce 10, tx nonce 9"}, false},
		{"other code", &testutil.RPCError{Code: -32603, Msg: "internal error"}, false},
		{"plain", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &testutil.FakeChain{SendFn: func([]byte) (common.Hash, error) { return common.Hash{}, tt.err }}
			rec, err := NewMempool(chain, "", discard()).Submit(context.Background(), signed, 100)
			require.Error(t, err)
			assert.Equal(t, domain.SubmissionFailed, rec.State)
			assert.Equal(t, tt.wantFatal, domain.IsFatal(err))
		})
	}
}

func TestRelay_TargetsNextHeight(t *testing.T) {
	t.Parallel()

	relay := &testutil.FakeRelay{Receipts: []domain.Receipt{{BlockNumber: 101, Status: 1}}}
	r := NewRelay(relay, RelayConfig{ReplacementID: true}, discard())

	for _, h := range []domain.ChainHeight{100, 250, 7} {
		rec, err := r.Submit(context.Background(), signed, h)
		require.NoError(t, err)
		assert.Equal(t, h+1, rec.TargetHeight)
		assert.Equal(t, h, rec.Height)
	}
	assert.Equal(t, []domain.ChainHeight{101, 251, 8}, relay.Targets)

	require.Len(t, relay.Options, 3)
	assert.NotEmpty(t, relay.Options[0].ReplacementID)
	assert.NotEqual(t, relay.Options[0].ReplacementID, relay.Options[1].ReplacementID)
	assert.Equal(t, [][]byte{signed.Raw}, relay.Bundles[0])
}

func TestRelay_Outcomes(t *testing.T) {
	t.Parallel()

	outage := &testutil.RPCError{Code: domain.CodeServiceUnavailable, Msg: "relay down"}

	tests := []struct {
		name      string
		relay     *testutil.FakeRelay
		wantState domain.SubmissionState
		wantErr   bool
		wantFatal bool
	}{
		{
			name:      "included",
			relay:     &testutil.FakeRelay{Receipts: []domain.Receipt{{BlockNumber: 101, Status: 1}}},
			wantState: domain.SubmissionIncluded,
		},
		{
			name:      "not included",
			relay:     &testutil.FakeRelay{},
			wantState: domain.SubmissionNotIncluded,
		},
		{
			name:      "stats failure is informational",
			relay:     &testutil.FakeRelay{StatsErr: errors.New("stats lag")},
			wantState: domain.SubmissionNotIncluded,
		},
		{
			name:      "send outage",
			relay:     &testutil.FakeRelay{SendErr: outage},
			wantState: domain.SubmissionFailed,
			wantErr:   true,
			wantFatal: true,
		},
		{
			name:      "stats outage",
			relay:     &testutil.FakeRelay{StatsErr: outage},
			wantState: domain.SubmissionFailed,
			wantErr:   true,
			wantFatal: true,
		},
		{
			name:      "send rejected",
			relay:     &testutil.FakeRelay{SendErr: &testutil.RPCError{Code: -32602, Msg: "invalid params"}},
			wantState: domain.SubmissionFailed,
			wantErr:   true,
		},
		{
			name:      "wait cancelled",
			relay:     &testutil.FakeRelay{WaitErr: context.DeadlineExceeded},
			wantState: domain.SubmissionFailed,
			wantErr:   true,
		},
		{
			name:      "receipt lookup broken",
			relay:     &testutil.FakeRelay{ReceiptsErr: errors.New("eof")},
			wantState: domain.SubmissionFailed,
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := NewRelay(tt.relay, RelayConfig{}, discard()).Submit(context.Background(), signed, 100)
			assert.Equal(t, tt.wantState, rec.State)
			assert.Equal(t, domain.ChainHeight(101), rec.TargetHeight)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantFatal, domain.IsFatal(err))
			if tt.wantFatal {
				var ru *domain.RelayUnavailableError
				require.ErrorAs(t, err, &ru)
				assert.Equal(t, domain.StrategyRelay, ru.Strategy)
			}
		})
	}
}
