package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// SubmissionStore implements domain.SubmissionStore.
type SubmissionStore struct {
	pool *pgxpool.Pool
}

// NewSubmissionStore creates a SubmissionStore on pool.
func NewSubmissionStore(pool *pgxpool.Pool) *SubmissionStore {
	return &SubmissionStore{pool: pool}
}

// Insert appends rec. Zero heights and empty strings are stored as NULL.
func (s *SubmissionStore) Insert(ctx context.Context, rec domain.SubmissionRecord) error {
	const query = `INSERT INTO submissions
		(submission_id, strategy, height, target_height, tx_hash, nonce, state, reason, included_in, replacement_id, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		string(rec.Strategy),
		int64(rec.Height),
		nullHeight(rec.TargetHeight),
		rec.TxHash.Hex(),
		int64(rec.Nonce),
		string(rec.State),
		nullString(rec.Reason),
		nullHeight(rec.IncludedIn),
		nullString(rec.ReplacementID),
		rec.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert submission %s: %w", rec.ID, err)
	}
	return nil
}

// List returns submissions newest first.
func (s *SubmissionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SubmissionRecord, error) {
	query, args := listQuery(`SELECT submission_id, strategy, height, target_height, tx_hash, nonce, state,
		reason, included_in, replacement_id, submitted_at FROM submissions WHERE TRUE`, "submitted_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list submissions: %w", err)
	}
	defer rows.Close()

	var out []domain.SubmissionRecord
	for rows.Next() {
		var (
			rec                     domain.SubmissionRecord
			strategy, state, txHash string
			height, nonce           int64
			target, included        *int64
			reason, replacementID   *string
		)
		if err := rows.Scan(&rec.ID, &strategy, &height, &target, &txHash, &nonce, &state,
			&reason, &included, &replacementID, &rec.SubmittedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan submission: %w", err)
		}
		rec.Strategy = domain.Strategy(strategy)
		rec.State = domain.SubmissionState(state)
		rec.Height = domain.ChainHeight(height)
		rec.Nonce = uint64(nonce)
		rec.TxHash = common.HexToHash(txHash)
		if target != nil {
			rec.TargetHeight = domain.ChainHeight(*target)
		}
		if included != nil {
			rec.IncludedIn = domain.ChainHeight(*included)
		}
		if reason != nil {
			rec.Reason = *reason
		}
		if replacementID != nil {
			rec.ReplacementID = *replacementID
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list submissions rows: %w", err)
	}
	return out, nil
}

func nullHeight(h domain.ChainHeight) *int64 {
	if h == 0 {
		return nil
	}
	v := int64(h)
	return &v
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.SubmissionStore = (*SubmissionStore)(nil)
