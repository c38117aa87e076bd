package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/testutil"
)

var (
	targetAddr = common.HexToAddress("0x6bdCEE5603322Aaa1cDBEf5bb361c63373C0b1a2")
	wethAddr   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

// viewChain answers the budget views from a map keyed by method name.
func viewChain(t *testing.T, answers map[string]any) *testutil.FakeChain {
	t.Helper()
	return &testutil.FakeChain{CallFn: func(req domain.CallRequest) ([]byte, error) {
		for name, m := range views.Methods {
			if !bytes.Equal(req.Data[:4], m.ID) {
				continue
			}
			if name == "balanceOf" && req.To != wethAddr {
				t.Errorf("balanceOf called on %s", req.To)
			}
			v, ok := answers[name]
			if !ok {
				return nil, &domain.CallError{Message: "execution reverted"}
			}
			return m.Outputs.Pack(v)
		}
		return nil, errors.New("unknown selector")
	}}
}

func TestReader_Status(t *testing.T) {
	t.Parallel()

	chain := viewChain(t, map[string]any{
		"WETHAddress":   wethAddr,
		"blocksADay":    big.NewInt(7200),
		"spent":         big.NewInt(5e17),
		"startingBlock": big.NewInt(1000),
		"spendADay":     big.NewInt(72e17),
		"balanceOf":     big.NewInt(3e18),
		"saleValueHigh": big.NewInt(2e17),
		"price":         big.NewInt(4e18),
		"lastBought":    big.NewInt(9e18),
		"lastSold":      big.NewInt(2e18),
	})
	ctx := context.Background()

	r, err := NewReader(ctx, chain, targetAddr)
	require.NoError(t, err)
	assert.Equal(t, wethAddr, r.WETH())

	st, err := r.Status(ctx, 1100)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainHeight(1100), st.Height)
	assert.Equal(t, "500000000000000000", st.Spent.String())
	// 100 blocks at 7.2 ETH per 7200 blocks.
	assert.Equal(t, "100000000000000000", st.Spendable.String())
	assert.Equal(t, "3000000000000000000", st.WETHBalance.String())
	assert.Equal(t, "200000000000000000", st.SaleValueHigh.String())
	assert.Equal(t, "4000000000000000000", st.OraclePrice.String())
	assert.Equal(t, "9000000000000000000", st.LastBought.String())
	assert.Equal(t, "2000000000000000000", st.LastSold.String())
}

func TestReader_PriceRevertReadsZero(t *testing.T) {
	t.Parallel()

	chain := viewChain(t, map[string]any{
		"WETHAddress":   wethAddr,
		"blocksADay":    big.NewInt(7200),
		"spent":         big.NewInt(0),
		"startingBlock": big.NewInt(1000),
		"spendADay":     big.NewInt(72e17),
		"balanceOf":     big.NewInt(0),
		"saleValueHigh": big.NewInt(2e17),
		"lastBought":    big.NewInt(0),
		"lastSold":      big.NewInt(0),
	})
	ctx := context.Background()

	r, err := NewReader(ctx, chain, targetAddr)
	require.NoError(t, err)
	st, err := r.Status(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, 0, st.OraclePrice.Sign())
}

func TestReader_PriceTransportErrorFails(t *testing.T) {
	t.Parallel()

	answers := viewChain(t, map[string]any{
		"WETHAddress":   wethAddr,
		"blocksADay":    big.NewInt(7200),
		"spent":         big.NewInt(0),
		"startingBlock": big.NewInt(1000),
		"spendADay":     big.NewInt(72e17),
		"balanceOf":     big.NewInt(0),
		"saleValueHigh": big.NewInt(2e17),
		"lastBought":    big.NewInt(0),
		"lastSold":      big.NewInt(0),
	})
	down := &domain.TransportError{Op: "call", Err: errors.New("connection reset")}
	chain := &testutil.FakeChain{CallFn: func(req domain.CallRequest) ([]byte, error) {
		if bytes.Equal(req.Data[:4], views.Methods["price"].ID) {
			return nil, down
		}
		return answers.CallFn(req)
	}}
	ctx := context.Background()

	r, err := NewReader(ctx, chain, targetAddr)
	require.NoError(t, err)
	_, err = r.Status(ctx, 1001)
	require.ErrorIs(t, err, down)
	require.ErrorContains(t, err, "status: call price")
}

func TestReader_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := NewReader(ctx, viewChain(t, map[string]any{"WETHAddress": wethAddr, "blocksADay": big.NewInt(0)}), targetAddr)
	require.ErrorContains(t, err, "blocksADay is zero")

	r, err := NewReader(ctx, viewChain(t, map[string]any{"WETHAddress": wethAddr, "blocksADay": big.NewInt(1)}), targetAddr)
	require.NoError(t, err)
	_, err = r.Status(ctx, 1)
	require.ErrorContains(t, err, "status: call spent")
}

type fakeSource struct {
	fail map[domain.ChainHeight]bool
}

func (f fakeSource) Status(_ context.Context, h domain.ChainHeight) (domain.TargetStatus, error) {
	if f.fail[h] {
		return domain.TargetStatus{}, errors.New("node hiccup")
	}
	return domain.TargetStatus{
		Height:      h,
		Spent:       big.NewInt(int64(h)),
		Spendable:   big.NewInt(int64(h) * 2),
		WETHBalance: big.NewInt(1e18),
	}, nil
}

type sourceFunc func(ctx context.Context, h domain.ChainHeight) (domain.TargetStatus, error)

func (f sourceFunc) Status(ctx context.Context, h domain.ChainHeight) (domain.TargetStatus, error) {
	return f(ctx, h)
}

type memBlob struct {
	mu           sync.Mutex
	objects      map[string]string
	contentTypes []string
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[path] = string(b)
	m.contentTypes = append(m.contentTypes, contentType)
	return nil
}

func heights(hs ...domain.ChainHeight) func(func(domain.ChainHeight, error) bool) {
	return func(yield func(domain.ChainHeight, error) bool) {
		for _, h := range hs {
			if !yield(h, nil) {
				return
			}
		}
	}
}

func TestReporter_Run(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	blob := &memBlob{}
	r := NewReporter(fakeSource{fail: map[domain.ChainHeight]bool{12: true}}, &out, blob,
		ReporterConfig{BatchRows: 2, KeyPrefix: "0xabc"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := r.Run(context.Background(), heights(10, 10, 11, 12, 13))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), r.Processed())

	assert.Equal(t, strings.Join([]string{
		"10,10,20,1000000000000000000",
		"11,11,22,1000000000000000000",
		"13,13,26,1000000000000000000",
	}, "\n")+"\n", out.String())

	assert.Equal(t, map[string]string{
		"0xabc/10-11.csv": "10,10,20,1000000000000000000\n11,11,22,1000000000000000000\n",
		"0xabc/13-13.csv": "13,13,26,1000000000000000000\n",
	}, blob.objects)
	assert.Equal(t, []string{"text/csv", "text/csv"}, blob.contentTypes)
}

func TestReporter_ReturnsSequenceError(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	r := NewReporter(fakeSource{}, &out, nil, ReporterConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	boom := &domain.TransportError{Op: "receive", Err: errors.New("eof")}

	err := r.Run(context.Background(), func(yield func(domain.ChainHeight, error) bool) {
		if yield(5, nil) {
			yield(0, boom)
		}
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "5,5,10,1000000000000000000\n", out.String())
}

func TestReporter_LogsSaleRatios(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	src := sourceFunc(func(_ context.Context, h domain.ChainHeight) (domain.TargetStatus, error) {
		return domain.TargetStatus{
			Height:        h,
			Spent:         big.NewInt(1e17),
			Spendable:     big.NewInt(6e17),
			WETHBalance:   big.NewInt(0),
			SaleValueHigh: big.NewInt(2e17),
			OraclePrice:   big.NewInt(4e18),
			LastBought:    big.NewInt(9e18),
			LastSold:      big.NewInt(2e18),
		}, nil
	})
	r := NewReporter(src, io.Discard, nil, ReporterConfig{}, slog.New(slog.NewJSONHandler(&logs, nil)))
	r.Handle(context.Background(), 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &entry))
	assert.Equal(t, "status", entry["msg"])
	assert.Equal(t, "4", entry["oracle_price"])
	assert.Equal(t, "2.50", entry["headroom"])
	assert.Equal(t, "4.50", entry["actual_price"])
	assert.Equal(t, "9", entry["last_bought_eth"])
	assert.Equal(t, "2", entry["last_sold_eth"])
}

func TestSaleRatios_ZeroDenominators(t *testing.T) {
	t.Parallel()

	st := domain.TargetStatus{
		Spent:         big.NewInt(1),
		Spendable:     big.NewInt(2),
		SaleValueHigh: big.NewInt(0),
		LastBought:    big.NewInt(5),
		LastSold:      big.NewInt(0),
	}
	_, ok := headroom(st)
	assert.False(t, ok)
	_, ok = actualPrice(st)
	assert.False(t, ok)

	st.Spent = big.NewInt(5)
	st.SaleValueHigh = big.NewInt(2)
	h, ok := headroom(st)
	require.True(t, ok)
	assert.Equal(t, "-1.50", h.StringFixed(2))
}

func TestToEther(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.5", toEther(big.NewInt(15e17)))
	assert.Equal(t, "0", toEther(nil))
}
