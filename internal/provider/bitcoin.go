package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/circuitbreaker"
	apperrors "github.com/portfolio-tracker/internal/errors"
)

// BitcoinProvider reads the confirmed balance of a Bitcoin address from a
// blockchain.info-style explorer. Addresses are validated against mainnet
// parameters before any network call.
type BitcoinProvider struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewBitcoinProvider creates a Bitcoin provider.
func NewBitcoinProvider(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *BitcoinProvider {
	return &BitcoinProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Name implements Provider.
func (p *BitcoinProvider) Name() string { return "bitcoin" }

// ValidateCredentials implements Provider.
func (p *BitcoinProvider) ValidateCredentials(ctx context.Context, creds Credentials) (bool, error) {
	_, err := btcutil.DecodeAddress(creds.Address, &chaincfg.MainNetParams)
	return err == nil, nil
}

type blockchainInfoAddress struct {
	FinalBalance int64 `json:"final_balance"` // satoshis
}

// GetBalances implements Provider.
func (p *BitcoinProvider) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	if _, err := btcutil.DecodeAddress(creds.Address, &chaincfg.MainNetParams); err != nil {
		return nil, apperrors.NewValidationError("address", "not a valid Bitcoin address")
	}

	var info blockchainInfoAddress
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			p.baseURL+"/rawaddr/"+creds.Address+"?limit=0", nil)
		if err != nil {
			return apperrors.NewInternalError("building explorer request", err)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return classifyTransportError(p.Name(), err)
		}
		defer resp.Body.Close()

		if err := classifyHTTPStatus(p.Name(), resp.StatusCode); err != nil {
			return err
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return classifyTransportError(p.Name(), err)
		}
		if err := json.Unmarshal(body, &info); err != nil {
			return apperrors.NewSchemaError(p.Name(), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 1 BTC = 1e8 satoshis.
	return []Balance{{
		Symbol: "BTC",
		Amount: decimal.New(info.FinalBalance, -8),
	}}, nil
}

// GetTransactions implements Provider.
func (p *BitcoinProvider) GetTransactions(ctx context.Context, creds Credentials, symbol string, start, end time.Time) ([]Transaction, error) {
	return []Transaction{}, nil
}
