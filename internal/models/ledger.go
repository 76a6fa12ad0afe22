package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryTypeBuy         EntryType = "BUY"
	EntryTypeSell        EntryType = "SELL"
	EntryTypeSwap        EntryType = "SWAP"
	EntryTypeTransferIn  EntryType = "TRANSFER_IN"
	EntryTypeTransferOut EntryType = "TRANSFER_OUT"
	EntryTypeStakeReward EntryType = "STAKE_REWARD"
	EntryTypeFee         EntryType = "FEE"
	EntryTypeOther       EntryType = "OTHER"
)

// Valid reports whether the entry type is known.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeBuy, EntryTypeSell, EntryTypeSwap, EntryTypeTransferIn,
		EntryTypeTransferOut, EntryTypeStakeReward, EntryTypeFee, EntryTypeOther:
		return true
	}
	return false
}

// RecurringInterval is the cadence of a recurring ledger template.
type RecurringInterval string

const (
	IntervalDaily   RecurringInterval = "DAILY"
	IntervalWeekly  RecurringInterval = "WEEKLY"
	IntervalMonthly RecurringInterval = "MONTHLY"
	IntervalYearly  RecurringInterval = "YEARLY"
)

// Valid reports whether the interval is known.
func (i RecurringInterval) Valid() bool {
	switch i {
	case IntervalDaily, IntervalWeekly, IntervalMonthly, IntervalYearly:
		return true
	}
	return false
}

// NextRun returns the next occurrence after from.
func (i RecurringInterval) NextRun(from time.Time) time.Time {
	switch i {
	case IntervalDaily:
		return from.AddDate(0, 0, 1)
	case IntervalWeekly:
		return from.AddDate(0, 0, 7)
	case IntervalMonthly:
		return from.AddDate(0, 1, 0)
	case IntervalYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from.AddDate(0, 0, 1)
	}
}

// LedgerEntry is an immutable record of an acquisition, disposal, or transfer.
// Entries are append-only; corrections are made by adding compensating entries.
// A recurring entry acts as a template: the daily scan materializes concrete
// entries from it and advances NextRunAt.
type LedgerEntry struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"userId" db:"user_id"`
	WalletID     string    `json:"walletId" db:"wallet_id"`
	Type         EntryType `json:"type" db:"type"`
	TokenSymbol  string    `json:"tokenSymbol" db:"token_symbol"`
	TokenAddress string    `json:"tokenAddress" db:"token_address"`

	Amount decimal.Decimal `json:"amount" db:"amount"`
	// PricePerUnit is the fiat price paid or received per unit; nil when the
	// entry carries no price information.
	PricePerUnit *decimal.Decimal `json:"pricePerUnit,omitempty" db:"price_per_unit"`
	// TotalValue = Amount * PricePerUnit when a price is present.
	TotalValue *decimal.Decimal `json:"totalValue,omitempty" db:"total_value"`

	Note       string    `json:"note,omitempty" db:"note"`
	OccurredAt time.Time `json:"occurredAt" db:"occurred_at"`

	IsRecurring       bool               `json:"isRecurring" db:"is_recurring"`
	RecurringInterval *RecurringInterval `json:"recurringInterval,omitempty" db:"recurring_interval"`
	LastProcessedAt   *time.Time         `json:"lastProcessedAt,omitempty" db:"last_processed_at"`
	NextRunAt         *time.Time         `json:"nextRunAt,omitempty" db:"next_run_at"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// AffectsCostBasis reports whether the entry updates a position's average
// cost. Only priced BUY entries do; provider sync owns amounts for every
// other type.
func (e *LedgerEntry) AffectsCostBasis() bool {
	return e.Type == EntryTypeBuy && e.PricePerUnit != nil && e.PricePerUnit.IsPositive()
}
