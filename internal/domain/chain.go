package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ChainHeight is a block number.
type ChainHeight uint64

// CallRequest is a read-only invocation of a contract.
type CallRequest struct {
	From common.Address
	To   common.Address
	Data []byte
}

// Receipt is the subset of a transaction receipt the engine reports on.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber ChainHeight
	Status      uint64
	GasUsed     uint64
}

// ChainReader is the read side of a node connection. Call returns a
// *CallError when the invocation reverts. Receipt returns ErrNotFound for
// unknown transactions.
type ChainReader interface {
	LatestHeight(ctx context.Context) (ChainHeight, error)
	Call(ctx context.Context, req CallRequest) ([]byte, error)
	NonceAt(ctx context.Context, addr common.Address) (uint64, error)
	Receipt(ctx context.Context, txHash common.Hash) (Receipt, error)
}

// FeeOracle supplies the network inputs the builder needs on top of
// ChainReader.
type FeeOracle interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, req CallRequest) (uint64, error)
}

// ChainWriter broadcasts signed transactions to the public network.
type ChainWriter interface {
	SendRaw(ctx context.Context, raw []byte) (common.Hash, error)
}

// HeadSubscription opens streams of raw new-head messages.
type HeadSubscription interface {
	Open(ctx context.Context) (HeadStream, error)
}

// HeadStream yields raw head messages. Recv returns ErrReceiveTimeout when
// nothing arrives within timeout; the stream stays usable afterwards.
type HeadStream interface {
	Recv(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}

// BundleOptions tunes a relay submission.
type BundleOptions struct {
	ReplacementID string
}

// BundleStats is the relay's free-form statistics payload.
type BundleStats map[string]any

// BundleHandle tracks a submitted bundle. Receipts returns ErrNotFound when
// the bundle was not included in its target block.
type BundleHandle interface {
	Hash() string
	Target() ChainHeight
	Stats(ctx context.Context) (BundleStats, error)
	StatsV2(ctx context.Context) (BundleStats, error)
	Wait(ctx context.Context) error
	Receipts(ctx context.Context) ([]Receipt, error)
}

// RelayClient submits bundles to a private relay.
type RelayClient interface {
	SendBundle(ctx context.Context, txs [][]byte, target ChainHeight, opts BundleOptions) (BundleHandle, error)
}

// Signer turns an unsigned request into raw transaction bytes.
type Signer interface {
	Address() common.Address
	Sign(ctx context.Context, req UnsignedRequest) (SignedRequest, error)
}
