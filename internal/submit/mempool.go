package submit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// Mempool broadcasts to the public network and does not wait for inclusion.
type Mempool struct {
	writer      domain.ChainWriter
	explorerURL string
	logger      *slog.Logger
	now         func() time.Time
}

// NewMempool creates a Mempool submitter. explorerURL may be empty.
func NewMempool(writer domain.ChainWriter, explorerURL string, logger *slog.Logger) *Mempool {
	return &Mempool{
		writer:      writer,
		explorerURL: strings.TrimRight(explorerURL, "/"),
		logger:      logger.With(slog.String("component", "submit"), slog.String("strategy", string(domain.StrategyMempool))),
		now:         time.Now,
	}
}

// Strategy implements engine.Submitter.
func (m *Mempool) Strategy() domain.Strategy { return domain.StrategyMempool }

// Submit broadcasts signed. The record is Pending on success.
func (m *Mempool) Submit(ctx context.Context, signed domain.SignedRequest, height domain.ChainHeight) (domain.SubmissionRecord, error) {
	rec := domain.SubmissionRecord{
		Strategy:    domain.StrategyMempool,
		Height:      height,
		TxHash:      signed.Hash,
		Nonce:       signed.Nonce,
		SubmittedAt: m.now().UTC(),
	}

	hash, err := m.writer.SendRaw(ctx, signed.Raw)
	if err != nil {
		rec.State = domain.SubmissionFailed
		rec.Reason = err.Error()
		return rec, fmt.Errorf("submit/mempool: send raw: %w", classify(domain.StrategyMempool, err))
	}

	rec.TxHash = hash
	rec.ID = hash.Hex()
	rec.State = domain.SubmissionPending

	attrs := []any{slog.Uint64("nonce", signed.Nonce), slog.String("tx_hash", rec.ID)}
	if m.explorerURL != "" {
		attrs = append(attrs, slog.String("explorer", m.explorerURL+"/tx/"+rec.ID))
	}
	m.logger.InfoContext(ctx, "transaction broadcast", attrs...)
	return rec, nil
}
