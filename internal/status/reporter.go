package status

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/convbot/internal/domain"
	"github.com/alanyoungcy/convbot/internal/metrics"
)

// Source yields the target status at a height.
type Source interface {
	Status(ctx context.Context, height domain.ChainHeight) (domain.TargetStatus, error)
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	// BatchRows is the number of rows per uploaded object. Zero disables
	// uploads.
	BatchRows int
	// KeyPrefix namespaces uploaded objects, e.g. the target address.
	KeyPrefix string
}

// Reporter writes one CSV row per new height to out and archives rows in
// batches when a BlobWriter is set.
type Reporter struct {
	source Source
	out    *csv.Writer
	blob   domain.BlobWriter
	cfg    ReporterConfig
	logger *slog.Logger

	last      domain.ChainHeight
	started   bool
	processed uint64

	batch      bytes.Buffer
	batchCSV   *csv.Writer
	batchFirst domain.ChainHeight
	batchLast  domain.ChainHeight
	batchLen   int
}

// NewReporter creates a Reporter. blob may be nil.
func NewReporter(source Source, out io.Writer, blob domain.BlobWriter, cfg ReporterConfig, logger *slog.Logger) *Reporter {
	r := &Reporter{
		source: source,
		out:    csv.NewWriter(out),
		blob:   blob,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "status")),
	}
	r.batchCSV = csv.NewWriter(&r.batch)
	return r
}

// Processed returns how many heights produced a row attempt.
func (r *Reporter) Processed() uint64 { return r.processed }

// Run consumes heights until the sequence ends or fails, then uploads any
// partial batch.
func (r *Reporter) Run(ctx context.Context, heights iter.Seq2[domain.ChainHeight, error]) error {
	defer r.flush(context.WithoutCancel(ctx))
	for h, err := range heights {
		if err != nil {
			return err
		}
		r.Handle(ctx, h)
	}
	return ctx.Err()
}

// Handle emits the row for height. Repeated heights are ignored and read
// failures are logged and skipped.
func (r *Reporter) Handle(ctx context.Context, height domain.ChainHeight) {
	if r.started && height == r.last {
		return
	}
	r.last, r.started = height, true
	r.processed++

	st, err := r.source.Status(ctx, height)
	if err != nil {
		r.logger.WarnContext(ctx, "status read failed",
			slog.Uint64("height", uint64(height)),
			slog.String("error", err.Error()),
		)
		return
	}

	row := Row(st)
	if err := r.write(r.out, row); err != nil {
		r.logger.ErrorContext(ctx, "status write failed", slog.String("error", err.Error()))
	}
	metrics.StatusRows.Inc()
	attrs := []any{
		slog.Uint64("height", uint64(height)),
		slog.String("spent_eth", toEther(st.Spent)),
		slog.String("spendable_eth", toEther(st.Spendable)),
		slog.String("weth_balance_eth", toEther(st.WETHBalance)),
		slog.String("oracle_price", toEther(st.OraclePrice)),
	}
	if h, ok := headroom(st); ok {
		attrs = append(attrs, slog.String("headroom", h.StringFixed(2)))
	}
	if p, ok := actualPrice(st); ok {
		attrs = append(attrs,
			slog.String("actual_price", p.StringFixed(2)),
			slog.String("last_bought_eth", toEther(st.LastBought)),
			slog.String("last_sold_eth", toEther(st.LastSold)),
		)
	}
	r.logger.InfoContext(ctx, "status", attrs...)

	if r.blob == nil || r.cfg.BatchRows <= 0 {
		return
	}
	if r.batchLen == 0 {
		r.batchFirst = height
	}
	r.batchLast = height
	r.batchLen++
	_ = r.write(r.batchCSV, row)
	if r.batchLen >= r.cfg.BatchRows {
		r.flush(ctx)
	}
}

// Row renders st as height,spent,spendable,weth_balance in wei.
func Row(st domain.TargetStatus) []string {
	return []string{
		strconv.FormatUint(uint64(st.Height), 10),
		intString(st.Spent),
		intString(st.Spendable),
		intString(st.WETHBalance),
	}
}

func (r *Reporter) write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// flush uploads the pending batch. A failed upload is logged and dropped.
func (r *Reporter) flush(ctx context.Context) {
	if r.batchLen == 0 {
		return
	}
	key := fmt.Sprintf("%d-%d.csv", r.batchFirst, r.batchLast)
	if r.cfg.KeyPrefix != "" {
		key = r.cfg.KeyPrefix + "/" + key
	}
	if err := r.blob.Put(ctx, key, bytes.NewReader(r.batch.Bytes()), "text/csv"); err != nil {
		r.logger.WarnContext(ctx, "status upload failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	} else {
		r.logger.InfoContext(ctx, "status batch uploaded", slog.String("key", key), slog.Int("rows", r.batchLen))
	}
	r.batch.Reset()
	r.batchLen = 0
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}

// headroom is the unspent budget measured in high sale values:
// (spendable - spent) / saleValueHigh.
func headroom(st domain.TargetStatus) (decimal.Decimal, bool) {
	if st.SaleValueHigh == nil || st.SaleValueHigh.Sign() == 0 || st.Spendable == nil || st.Spent == nil {
		return decimal.Zero, false
	}
	free := decimal.NewFromBigInt(st.Spendable, 0).Sub(decimal.NewFromBigInt(st.Spent, 0))
	return free.Div(decimal.NewFromBigInt(st.SaleValueHigh, 0)), true
}

// actualPrice is lastBought / lastSold, the rate the last sale cleared at.
func actualPrice(st domain.TargetStatus) (decimal.Decimal, bool) {
	if st.LastSold == nil || st.LastSold.Sign() == 0 || st.LastBought == nil {
		return decimal.Zero, false
	}
	return decimal.NewFromBigInt(st.LastBought, 0).Div(decimal.NewFromBigInt(st.LastSold, 0)), true
}
