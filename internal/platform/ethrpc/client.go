// Package ethrpc adapts a go-ethereum JSON-RPC connection to the domain
// chain ports.
package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// Client implements ChainReader, ChainWriter and FeeOracle.
type Client struct {
	rpc *rpc.Client
	eth *ethclient.Client
}

var (
	_ domain.ChainReader = (*Client)(nil)
	_ domain.ChainWriter = (*Client)(nil)
	_ domain.FeeOracle   = (*Client)(nil)
)

// Dial connects to an HTTP or websocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: dial: %w", err)
	}
	return &Client{rpc: c, eth: ethclient.NewClient(c)}, nil
}

// ChainID asks the node for its chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: chain id: %w", err)
	}
	return id, nil
}

func (c *Client) LatestHeight(ctx context.Context) (domain.ChainHeight, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("ethrpc: block number: %w", err)
	}
	return domain.ChainHeight(n), nil
}

// Call runs eth_call against the latest block.
func (c *Client) Call(ctx context.Context, req domain.CallRequest) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, callMsg(req), nil)
	if err != nil {
		return nil, callError(err)
	}
	return out, nil
}

// NonceAt returns the account nonce at the latest block.
func (c *Client) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	n, err := c.eth.NonceAt(ctx, addr, nil)
	if err != nil {
		return 0, fmt.Errorf("ethrpc: nonce: %w", err)
	}
	return n, nil
}

func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (domain.Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return domain.Receipt{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("ethrpc: receipt %s: %w", txHash.Hex(), err)
	}
	return domain.Receipt{
		TxHash:      r.TxHash,
		BlockNumber: domain.ChainHeight(r.BlockNumber.Uint64()),
		Status:      r.Status,
		GasUsed:     r.GasUsed,
	}, nil
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: suggest tip: %w", err)
	}
	return tip, nil
}

// EstimateGas returns a *domain.CallError when the estimation reverts.
func (c *Client) EstimateGas(ctx context.Context, req domain.CallRequest) (uint64, error) {
	gas, err := c.eth.EstimateGas(ctx, callMsg(req))
	if err != nil {
		return 0, callError(err)
	}
	return gas, nil
}

// SendRaw submits an encoded transaction with eth_sendRawTransaction. Node
// errors keep their JSON-RPC code.
func (c *Client) SendRaw(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, fmt.Errorf("ethrpc: send raw: %w", err)
	}
	return hash, nil
}

// Close releases the connection.
func (c *Client) Close() { c.rpc.Close() }

func callMsg(req domain.CallRequest) ethereum.CallMsg {
	to := req.To
	return ethereum.CallMsg{From: req.From, To: &to, Data: req.Data}
}

// callError converts node errors into *domain.CallError, keeping the revert
// payload when present. Transport failures pass through unchanged.
func callError(err error) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return fmt.Errorf("ethrpc: call: %w", err)
	}
	ce := &domain.CallError{Message: rpcErr.Error(), Code: rpcErr.ErrorCode()}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			ce.Data = common.FromHex(s)
		}
	}
	return ce
}
