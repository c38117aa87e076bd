package flashbots

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/convbot/internal/crypto"
	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/retry"
	"github.com/alanyoungcy/convbot/internal/testutil"
)

type relayCall struct {
	Method string
	Params []map[string]any
	Signer common.Address
}

type mockRelay struct {
	mu      sync.Mutex
	calls   []relayCall
	answers map[string]any
	status  int
}

func (m *mockRelay) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Method string           `json:"method"`
			Params []map[string]any `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		signer, ok := recoverSigner(r.Header.Get(signatureHeader), body)
		if !ok {
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}

		m.mu.Lock()
		m.calls = append(m.calls, relayCall{Method: req.Method, Params: req.Params, Signer: signer})
		status := m.status
		answer, found := m.answers[req.Method]
		m.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("upstream unavailable"))
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": 1}
		if e, isErr := answer.(*Error); isErr {
			resp["error"] = e
		} else if !found {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		} else {
			resp["result"] = answer
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func recoverSigner(header string, body []byte) (common.Address, bool) {
	addr, sigHex, ok := strings.Cut(header, ":")
	if !ok {
		return common.Address{}, false
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return common.Address{}, false
	}
	digest := hexutil.Encode(ethcrypto.Keccak256(body))
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(digest)), sig)
	if err != nil {
		return common.Address{}, false
	}
	got := ethcrypto.PubkeyToAddress(*pub)
	return got, got == common.HexToAddress(addr)
}

func newClient(t *testing.T, relay *mockRelay, chain domain.ChainReader) (*Client, *crypto.RelayAuth) {
	t.Helper()
	srv := httptest.NewServer(relay.handler(t))
	t.Cleanup(srv.Close)

	auth, err := crypto.NewRelayAuth(nil)
	require.NoError(t, err)
	cfg := Config{
		URL:          srv.URL,
		PollInterval: 5 * time.Millisecond,
		Retry:        retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
	}
	return New(cfg, auth, chain), auth
}

func TestClient_SendBundle(t *testing.T) {
	t.Parallel()

	relay := &mockRelay{answers: map[string]any{
		"eth_sendBundle":             map[string]any{"bundleHash": "0xfeed"},
		"flashbots_getBundleStats":   map[string]any{"isSimulated": true},
		"flashbots_getBundleStatsV2": map[string]any{"isHighPriority": false},
	}}
	c, auth := newClient(t, relay, &testutil.FakeChain{})
	ctx := context.Background()

	raw := []byte{0x02, 0xf8, 0x01}
	h, err := c.SendBundle(ctx, [][]byte{raw}, 101, domain.BundleOptions{ReplacementID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", h.Hash())
	assert.Equal(t, domain.ChainHeight(101), h.Target())
	assert.Equal(t, common.BytesToHash(ethcrypto.Keccak256(raw)), h.(*Bundle).TxHashes()[0])

	stats, err := h.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, stats["isSimulated"])
	_, err = h.StatsV2(ctx)
	require.NoError(t, err)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.calls, 3)
	send := relay.calls[0]
	assert.Equal(t, "eth_sendBundle", send.Method)
	assert.Equal(t, auth.Address(), send.Signer)
	assert.Equal(t, "0x65", send.Params[0]["blockNumber"])
	assert.Equal(t, "abc", send.Params[0]["replacementUuid"])
	assert.Equal(t, []any{"0x02f801"}, send.Params[0]["txs"])

	assert.Equal(t, "flashbots_getBundleStats", relay.calls[1].Method)
	assert.Equal(t, "0xfeed", relay.calls[1].Params[0]["bundleHash"])
	assert.Equal(t, "0x65", relay.calls[1].Params[0]["blockNumber"])
	assert.Equal(t, "flashbots_getBundleStatsV2", relay.calls[2].Method)
}

func TestClient_OmitsEmptyReplacementID(t *testing.T) {
	t.Parallel()

	relay := &mockRelay{answers: map[string]any{"eth_sendBundle": map[string]any{"bundleHash": "0x1"}}}
	c, _ := newClient(t, relay, &testutil.FakeChain{})

	_, err := c.SendBundle(context.Background(), [][]byte{{0x01}}, 5, domain.BundleOptions{})
	require.NoError(t, err)
	relay.mu.Lock()
	defer relay.mu.Unlock()
	_, present := relay.calls[0].Params[0]["replacementUuid"]
	assert.False(t, present)
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	t.Run("relay error keeps its code", func(t *testing.T) {
		relay := &mockRelay{answers: map[string]any{
			"eth_sendBundle": &Error{Code: domain.CodeServiceUnavailable, Message: "relay overloaded"},
		}}
		c, _ := newClient(t, relay, &testutil.FakeChain{})

		_, err := c.SendBundle(context.Background(), [][]byte{{0x01}}, 5, domain.BundleOptions{})
		require.Error(t, err)
		assert.True(t, domain.IsServiceUnavailable(err))
		assert.Contains(t, err.Error(), "relay overloaded")
	})

	t.Run("503 maps to service unavailable", func(t *testing.T) {
		relay := &mockRelay{status: http.StatusServiceUnavailable}
		c, _ := newClient(t, relay, &testutil.FakeChain{})

		_, err := c.SendBundle(context.Background(), [][]byte{{0x01}}, 5, domain.BundleOptions{})
		require.Error(t, err)
		assert.True(t, domain.IsServiceUnavailable(err))
	})

	t.Run("other status is not an outage", func(t *testing.T) {
		relay := &mockRelay{status: http.StatusBadRequest}
		c, _ := newClient(t, relay, &testutil.FakeChain{})

		_, err := c.SendBundle(context.Background(), [][]byte{{0x01}}, 5, domain.BundleOptions{})
		require.Error(t, err)
		assert.False(t, domain.IsServiceUnavailable(err))
	})

	t.Run("stats errors are not retried", func(t *testing.T) {
		relay := &mockRelay{answers: map[string]any{
			"eth_sendBundle":           map[string]any{"bundleHash": "0x1"},
			"flashbots_getBundleStats": &Error{Code: -32602, Message: "bundle not found"},
		}}
		c, _ := newClient(t, relay, &testutil.FakeChain{})
		h, err := c.SendBundle(context.Background(), [][]byte{{0x01}}, 5, domain.BundleOptions{})
		require.NoError(t, err)

		_, err = h.Stats(context.Background())
		require.Error(t, err)
		relay.mu.Lock()
		defer relay.mu.Unlock()
		assert.Len(t, relay.calls, 2)
	})
}

func TestBundle_WaitAndReceipts(t *testing.T) {
	t.Parallel()

	raw := []byte{0x02, 0x01}
	txHash := common.BytesToHash(ethcrypto.Keccak256(raw))
	chain := &testutil.FakeChain{Height: 100}
	relay := &mockRelay{answers: map[string]any{"eth_sendBundle": map[string]any{"bundleHash": "0x1"}}}
	c, _ := newClient(t, relay, chain)
	ctx := context.Background()

	h, err := c.SendBundle(ctx, [][]byte{raw}, 101, domain.BundleOptions{})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		chain.SetHeight(101)
	}()
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(waitCtx))

	_, err = h.Receipts(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	chain.Receipts = map[common.Hash]domain.Receipt{txHash: {TxHash: txHash, BlockNumber: 101, Status: 1}}
	rs, err := h.Receipts(ctx)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, domain.ChainHeight(101), rs[0].BlockNumber)
}

func TestBundle_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	relay := &mockRelay{answers: map[string]any{"eth_sendBundle": map[string]any{"bundleHash": "0x1"}}}
	c, _ := newClient(t, relay, &testutil.FakeChain{Height: 1})

	h, err := c.SendBundle(context.Background(), [][]byte{{0x01}}, 50, domain.BundleOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = h.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
