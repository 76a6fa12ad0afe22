package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletHolding is one wallet's share of a token holding.
type WalletHolding struct {
	WalletID   string          `json:"walletId"`
	WalletName string          `json:"walletName"`
	Amount     decimal.Decimal `json:"amount"`
}

// TokenHolding is a user's aggregate position in one token across all
// active wallets.
type TokenHolding struct {
	Symbol         string          `json:"symbol"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Price          decimal.Decimal `json:"price"`
	PriceAvailable bool            `json:"priceAvailable"`
	Value          decimal.Decimal `json:"value"`
	// AverageCost is the amount-weighted average cost across wallets that
	// have a recorded cost basis. Zero when no wallet has one.
	AverageCost    decimal.Decimal `json:"averageCost"`
	CostBasisValue decimal.Decimal `json:"costBasisValue"`
	// UnrealizedPnL is only meaningful when both a price and a cost basis
	// exist for the holding.
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	HasCostBasis  bool            `json:"hasCostBasis"`
	Wallets       []WalletHolding `json:"wallets"`
}

// PortfolioView is the aggregated portfolio for one user.
type PortfolioView struct {
	UserID string `json:"userId"`
	// TotalValue sums the value of holdings with an available price.
	TotalValue decimal.Decimal `json:"totalValue"`
	// TotalCostBasis and TotalUnrealizedPnL cover holdings that have both a
	// price and a recorded cost basis.
	TotalCostBasis     decimal.Decimal `json:"totalCostBasis"`
	TotalUnrealizedPnL decimal.Decimal `json:"totalUnrealizedPnl"`
	Holdings           []TokenHolding  `json:"holdings"`
	GeneratedAt        time.Time       `json:"generatedAt"`
}
