package ethrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/convbot/internal/domain"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newNode serves canned JSON-RPC answers keyed by method. A value of type
// map[string]any with an "error" key is sent as the error member.
func newNode(t *testing.T, answers map[string]any) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		answer, ok := answers[req.Method]
		switch a := answer.(type) {
		case map[string]any:
			if e, isErr := a["error"]; isErr {
				resp["error"] = e
			} else {
				resp["result"] = a
			}
		default:
			if !ok {
				resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
			} else {
				resp["result"] = a
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c, err := Dial(context.Background(), srv.URL)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClient_Reads(t *testing.T) {
	t.Parallel()

	c := newNode(t, map[string]any{
		"eth_blockNumber":           "0x64",
		"eth_getTransactionCount":   "0x7",
		"eth_maxPriorityFeePerGas":  "0x3b9aca00",
		"eth_estimateGas":           "0xea60",
		"eth_call":                  "0x",
		"eth_getTransactionReceipt": nil,
	})
	ctx := context.Background()

	h, err := c.LatestHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ChainHeight(100), h)

	n, err := c.NonceAt(ctx, common.HexToAddress("0xaa"))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	tip, err := c.SuggestGasTipCap(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), tip.Int64())

	gas, err := c.EstimateGas(ctx, domain.CallRequest{To: common.HexToAddress("0xbb")})
	require.NoError(t, err)
	assert.Equal(t, uint64(60_000), gas)

	_, err = c.Call(ctx, domain.CallRequest{To: common.HexToAddress("0xbb")})
	require.NoError(t, err)

	_, err = c.Receipt(ctx, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClient_CallRevertKeepsData(t *testing.T) {
	t.Parallel()

	c := newNode(t, map[string]any{
		"eth_call": map[string]any{"error": map[string]any{
			"code":    3,
			"message": "execution reverted",
			"data":    "0xDEADBEEF",
		}},
		"eth_estimateGas": map[string]any{"error": map[string]any{
			"code":    -32000,
			"message": "execution reverted",
		}},
	})
	ctx := context.Background()

	_, err := c.Call(ctx, domain.CallRequest{To: common.HexToAddress("0xbb")})
	var ce *domain.CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, ce.Data)
	assert.Equal(t, 3, ce.Code)
	assert.True(t, ce.Structured())

	_, err = c.EstimateGas(ctx, domain.CallRequest{To: common.HexToAddress("0xbb")})
	require.ErrorAs(t, err, &ce)
	assert.False(t, ce.Structured())
}

func TestClient_SendRawKeepsCode(t *testing.T) {
	t.Parallel()

	c := newNode(t, map[string]any{
		"eth_sendRawTransaction": map[string]any{"error": map[string]any{"code": -32000, "message": "service unavailable"}},
	})
	_, err := c.SendRaw(context.Background(), []byte{0x02})
	require.Error(t, err)
	assert.True(t, domain.IsServiceUnavailable(err))
}

func TestClient_SendRaw(t *testing.T) {
	t.Parallel()

	want := common.HexToHash("0xabc")
	c := newNode(t, map[string]any{"eth_sendRawTransaction": want.Hex()})
	got, err := c.SendRaw(context.Background(), []byte{0x02})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
