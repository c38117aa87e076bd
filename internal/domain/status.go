package domain

import (
	"math/big"
)

// TargetStatus is a per-height snapshot of the target contract's budget and
// sale prices. Amounts are in wei.
type TargetStatus struct {
	Height      ChainHeight
	Spent       *big.Int
	Spendable   *big.Int
	WETHBalance *big.Int

	SaleValueHigh *big.Int
	// OraclePrice is zero when the oracle reverts.
	OraclePrice   *big.Int
	LastBought    *big.Int
	LastSold      *big.Int
}
