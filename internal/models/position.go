package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetPosition is the current holding of one asset inside one wallet.
// The natural key is (walletID, tokenSymbol, tokenAddress); tokenAddress is
// the empty string for native coins and exchange balances so the key stays
// a plain string triple.
type AssetPosition struct {
	ID           string          `json:"id" db:"id"`
	WalletID     string          `json:"walletId" db:"wallet_id"`
	TokenSymbol  string          `json:"tokenSymbol" db:"token_symbol"`
	TokenAddress string          `json:"tokenAddress" db:"token_address"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	// AverageCost is the weighted-average acquisition price per unit, set by
	// BUY ledger entries. Zero means no recorded cost basis.
	AverageCost decimal.Decimal `json:"averageCost" db:"average_cost"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// HasCostBasis reports whether a cost basis has been recorded for the position.
func (p *AssetPosition) HasCostBasis() bool {
	return p.AverageCost.IsPositive()
}

// NextAverageCost computes the weighted-average cost after buying addAmount
// units at price, on top of an existing holding of oldAmount units carried at
// oldAvg. When nothing is held yet the purchase price becomes the average. A
// held balance with a zero basis weighs in at zero cost and dilutes the
// average accordingly.
func NextAverageCost(oldAmount, oldAvg, addAmount, price decimal.Decimal) decimal.Decimal {
	if addAmount.Sign() <= 0 {
		return oldAvg
	}
	if oldAmount.Sign() <= 0 {
		return price
	}
	total := oldAmount.Add(addAmount)
	cost := oldAmount.Mul(oldAvg).Add(addAmount.Mul(price))
	return cost.Div(total)
}
