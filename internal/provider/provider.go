// Package provider defines the balance source contract and its
// implementations: exchange APIs, blockchain nodes and explorers, and bank
// aggregators. Everything downstream of the registry sees only the Provider
// interface.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/models"
)

// ErrNoProvider is returned by the registry when a wallet kind has no
// external data source (manual wallets).
var ErrNoProvider = errors.New("no provider for wallet kind")

// Credentials carries whatever a provider needs to query a source. Exchange
// and bank providers use the key material; blockchain providers use Address.
type Credentials struct {
	APIKey    string `json:"apiKey,omitempty"`
	APISecret string `json:"apiSecret,omitempty"`
	Address   string `json:"address,omitempty"`
}

// Balance is one asset balance as reported by a source, already converted to
// whole units. TokenAddress is empty for native coins and exchange balances.
type Balance struct {
	Symbol       string
	Amount       decimal.Decimal
	TokenAddress string
}

// Transaction is a provider-reported trade or transfer, normalized to the
// ledger vocabulary.
type Transaction struct {
	ExternalID   string
	Type         models.EntryType
	Symbol       string
	Amount       decimal.Decimal
	PricePerUnit decimal.Decimal
	OccurredAt   time.Time
}

// Provider is a read-only balance source.
type Provider interface {
	// Name identifies the provider in logs and error messages.
	Name() string

	// ValidateCredentials performs a cheap authenticated call to verify the
	// credentials work. Returns (false, nil) for rejected credentials and a
	// non-nil error only for infrastructure failures.
	ValidateCredentials(ctx context.Context, creds Credentials) (bool, error)

	// GetBalances fetches current balances. Zero balances may be included;
	// the sync engine normalizes them away.
	GetBalances(ctx context.Context, creds Credentials) ([]Balance, error)

	// GetTransactions fetches trades/transfers for one asset in a time
	// window. Providers without a transaction API return an empty slice.
	GetTransactions(ctx context.Context, creds Credentials, symbol string, start, end time.Time) ([]Transaction, error)
}
