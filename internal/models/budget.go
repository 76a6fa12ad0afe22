package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget is a per-user monthly spending budget over BUY entries.
type Budget struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"userId" db:"user_id"`
	MonthlyLimit    decimal.Decimal `json:"monthlyLimit" db:"monthly_limit"`
	LastAlertSentAt *time.Time      `json:"lastAlertSentAt,omitempty" db:"last_alert_sent_at"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// AlertDueFor reports whether a threshold alert may be sent for the month
// containing now. At most one alert goes out per calendar month.
func (b *Budget) AlertDueFor(now time.Time) bool {
	if b.LastAlertSentAt == nil {
		return true
	}
	last := *b.LastAlertSentAt
	return last.Year() != now.Year() || last.Month() != now.Month()
}
