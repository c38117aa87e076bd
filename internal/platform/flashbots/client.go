// Package flashbots talks to a Flashbots-compatible bundle relay.
package flashbots

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/convbot/internal/crypto"
	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/retry"
)

const signatureHeader = "X-Flashbots-Signature"

// Config configures the relay client.
type Config struct {
	URL string
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// PollInterval is how often Wait checks the chain head.
	PollInterval time.Duration
	Retry        retry.Config
}

// Error is a JSON-RPC error returned by the relay.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string  { return fmt.Sprintf("relay error %d: %s", e.Code, e.Message) }
func (e *Error) ErrorCode() int { return e.Code }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Client implements domain.RelayClient. Wait and Receipts on returned
// handles go through chain.
type Client struct {
	cfg   Config
	http  *http.Client
	auth  *crypto.RelayAuth
	chain domain.ChainReader
	ids   atomic.Uint64
}

var _ domain.RelayClient = (*Client)(nil)

// New creates a Client.
func New(cfg Config, auth *crypto.RelayAuth, chain domain.ChainReader) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		auth:  auth,
		chain: chain,
	}
}

type sendBundleParams struct {
	Txs             []string `json:"txs"`
	BlockNumber     string   `json:"blockNumber"`
	ReplacementUUID string   `json:"replacementUuid,omitempty"`
}

// SendBundle submits txs for inclusion in block target. It is not retried:
// a duplicate bundle for the same target would be wasted.
func (c *Client) SendBundle(ctx context.Context, txs [][]byte, target domain.ChainHeight, opts domain.BundleOptions) (domain.BundleHandle, error) {
	params := sendBundleParams{
		Txs:             make([]string, len(txs)),
		BlockNumber:     hexutil.EncodeUint64(uint64(target)),
		ReplacementUUID: opts.ReplacementID,
	}
	for i, tx := range txs {
		params.Txs[i] = hexutil.Encode(tx)
	}

	var result struct {
		BundleHash string `json:"bundleHash"`
	}
	if err := c.call(ctx, "eth_sendBundle", params, &result); err != nil {
		return nil, err
	}
	return newBundle(c, result.BundleHash, target, txs), nil
}

type statsParams struct {
	BundleHash  string `json:"bundleHash"`
	BlockNumber string `json:"blockNumber"`
}

func (c *Client) stats(ctx context.Context, method, hash string, target domain.ChainHeight) (domain.BundleStats, error) {
	return retry.Do(ctx, c.cfg.Retry, isTransient, nil, func() (domain.BundleStats, error) {
		var out domain.BundleStats
		err := c.call(ctx, method, statsParams{BundleHash: hash, BlockNumber: hexutil.EncodeUint64(uint64(target))}, &out)
		return out, err
	})
}

// call performs one signed JSON-RPC request.
func (c *Client) call(ctx context.Context, method string, param any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.ids.Add(1), Method: method, Params: []any{param}})
	if err != nil {
		return fmt.Errorf("flashbots: %s: marshal: %w", method, err)
	}
	sig, err := c.auth.Header(body)
	if err != nil {
		return fmt.Errorf("flashbots: %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("flashbots: %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, sig)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("flashbots: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("flashbots: %s: read body: %w", method, err)
	}

	var rr rpcResponse
	if jsonErr := json.Unmarshal(raw, &rr); jsonErr != nil {
		if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway {
			return fmt.Errorf("flashbots: %s: %w", method, &Error{Code: domain.CodeServiceUnavailable, Message: resp.Status})
		}
		return fmt.Errorf("flashbots: %s: status %d: %s", method, resp.StatusCode, truncate(raw))
	}
	if rr.Error != nil {
		return fmt.Errorf("flashbots: %s: %w", method, rr.Error)
	}
	if out != nil && len(rr.Result) > 0 {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("flashbots: %s: decode result: %w", method, err)
		}
	}
	return nil
}

// isTransient reports network failures worth retrying. Relay errors are final.
func isTransient(err error) bool {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func truncate(b []byte) string {
	if len(b) > 256 {
		return string(b[:256]) + "..."
	}
	return string(b)
}
