package flashbots

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// Bundle is a submitted bundle.
type Bundle struct {
	client   *Client
	hash     string
	target   domain.ChainHeight
	txHashes []common.Hash
}

var _ domain.BundleHandle = (*Bundle)(nil)

func newBundle(c *Client, hash string, target domain.ChainHeight, txs [][]byte) *Bundle {
	hashes := make([]common.Hash, len(txs))
	for i, raw := range txs {
		// The hash of an encoded transaction is keccak256 of its binary form
		// for both legacy and typed transactions.
		hashes[i] = common.BytesToHash(ethcrypto.Keccak256(raw))
	}
	return &Bundle{client: c, hash: hash, target: target, txHashes: hashes}
}

// Hash returns the relay's bundle hash.
func (b *Bundle) Hash() string { return b.hash }

// Target returns the block the bundle was submitted for.
func (b *Bundle) Target() domain.ChainHeight { return b.target }

// TxHashes returns the hashes of the bundled transactions.
func (b *Bundle) TxHashes() []common.Hash { return b.txHashes }

// Stats queries flashbots_getBundleStats.
func (b *Bundle) Stats(ctx context.Context) (domain.BundleStats, error) {
	return b.client.stats(ctx, "flashbots_getBundleStats", b.hash, b.target)
}

// StatsV2 queries flashbots_getBundleStatsV2.
func (b *Bundle) StatsV2(ctx context.Context) (domain.BundleStats, error) {
	return b.client.stats(ctx, "flashbots_getBundleStatsV2", b.hash, b.target)
}

// Wait blocks until the chain head reaches the target block.
func (b *Bundle) Wait(ctx context.Context) error {
	ticker := time.NewTicker(b.client.cfg.PollInterval)
	defer ticker.Stop()
	for {
		h, err := b.client.chain.LatestHeight(ctx)
		if err == nil && h >= b.target {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flashbots: wait for block %d: %w", b.target, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Receipts returns the receipts of every bundled transaction, or
// domain.ErrNotFound if any is missing.
func (b *Bundle) Receipts(ctx context.Context) ([]domain.Receipt, error) {
	out := make([]domain.Receipt, 0, len(b.txHashes))
	for _, h := range b.txHashes {
		r, err := b.client.chain.Receipt(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
