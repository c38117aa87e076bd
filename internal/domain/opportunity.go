package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Strategy selects the delivery path for a transaction.
type Strategy string

const (
	StrategyMempool Strategy = "mempool"
	StrategyRelay   Strategy = "relay"
)

// SimulationResult is the outcome of a simulated call. Reason is empty when
// Eligible is true.
type SimulationResult struct {
	Eligible bool
	Reason   string
}

// Eligible is the successful simulation result.
func Eligible() SimulationResult { return SimulationResult{Eligible: true} }

// Ineligible builds a failed simulation result.
func Ineligible(reason string) SimulationResult {
	return SimulationResult{Reason: reason}
}

// UnsignedRequest is a dynamic-fee transaction ready for signing.
type UnsignedRequest struct {
	ChainID              *big.Int
	From                 common.Address
	To                   common.Address
	Data                 []byte
	Nonce                uint64
	Gas                  uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// SignedRequest is an encoded, signed transaction.
type SignedRequest struct {
	Raw   []byte
	Hash  common.Hash
	Nonce uint64
}

// SubmissionState tracks a submission through its lifecycle.
type SubmissionState string

const (
	SubmissionPending     SubmissionState = "pending"
	SubmissionIncluded    SubmissionState = "included"
	SubmissionNotIncluded SubmissionState = "not_included"
	SubmissionFailed      SubmissionState = "failed"
)

// SubmissionRecord describes one delivery attempt. TargetHeight is zero for
// mempool submissions, which do not target a block.
type SubmissionRecord struct {
	Strategy      Strategy        `json:"strategy"`
	Height        ChainHeight     `json:"height"`
	TargetHeight  ChainHeight     `json:"target_height,omitempty"`
	ID            string          `json:"id"`
	TxHash        common.Hash     `json:"tx_hash"`
	Nonce         uint64          `json:"nonce"`
	State         SubmissionState `json:"state"`
	Reason        string          `json:"reason,omitempty"`
	IncludedIn    ChainHeight     `json:"included_in,omitempty"`
	ReplacementID string          `json:"replacement_id,omitempty"`
	SubmittedAt   time.Time       `json:"submitted_at"`
}

// OutcomeKind tags the result of one engine cycle.
type OutcomeKind int

const (
	OutcomeDuplicate OutcomeKind = iota
	OutcomeIneligible
	OutcomeSubmitted
	OutcomeSkipped
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeIneligible:
		return "ineligible"
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CycleOutcome is what the engine did with one height. Err is set for
// Skipped and Fatal outcomes; Record is set for Submitted.
type CycleOutcome struct {
	Kind   OutcomeKind
	Height ChainHeight
	Reason string
	Record *SubmissionRecord
	Err    error
}
