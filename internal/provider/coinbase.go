package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/circuitbreaker"
	apperrors "github.com/portfolio-tracker/internal/errors"
)

// CoinbaseProvider reads account balances from the Coinbase v2 API. Requests
// are signed with HMAC-SHA256 over timestamp + method + path and carry the
// CB-ACCESS-* headers.
type CoinbaseProvider struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewCoinbaseProvider creates a Coinbase provider.
func NewCoinbaseProvider(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *CoinbaseProvider {
	return &CoinbaseProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Name implements Provider.
func (p *CoinbaseProvider) Name() string { return "coinbase" }

type coinbaseAccounts struct {
	Data []struct {
		Balance struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"balance"`
	} `json:"data"`
	Pagination struct {
		NextURI string `json:"next_uri"`
	} `json:"pagination"`
}

// ValidateCredentials implements Provider.
func (p *CoinbaseProvider) ValidateCredentials(ctx context.Context, creds Credentials) (bool, error) {
	_, err := p.accounts(ctx, creds)
	if err != nil {
		if apperrors.Categorize(err).Category == apperrors.CategoryProviderAuth {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetBalances implements Provider. Coinbase exposes one account per wallet
// per currency; accounts sharing a currency are summed into one balance.
func (p *CoinbaseProvider) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	accounts, err := p.accounts(ctx, creds)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]decimal.Decimal)
	order := make([]string, 0, len(accounts.Data))
	for _, account := range accounts.Data {
		amount, err := decimal.NewFromString(account.Balance.Amount)
		if err != nil {
			return nil, apperrors.NewSchemaError(p.Name(), err)
		}
		currency := account.Balance.Currency
		if _, seen := totals[currency]; !seen {
			order = append(order, currency)
		}
		totals[currency] = totals[currency].Add(amount)
	}

	balances := make([]Balance, 0, len(order))
	for _, currency := range order {
		balances = append(balances, Balance{Symbol: currency, Amount: totals[currency]})
	}
	return balances, nil
}

// GetTransactions implements Provider. Transaction import is not wired for
// Coinbase; balances alone drive sync.
func (p *CoinbaseProvider) GetTransactions(ctx context.Context, creds Credentials, symbol string, start, end time.Time) ([]Transaction, error) {
	return []Transaction{}, nil
}

func (p *CoinbaseProvider) accounts(ctx context.Context, creds Credentials) (*coinbaseAccounts, error) {
	body, err := p.signedGet(ctx, "/accounts", creds)
	if err != nil {
		return nil, err
	}
	var accounts coinbaseAccounts
	if err := json.Unmarshal(body, &accounts); err != nil {
		return nil, apperrors.NewSchemaError(p.Name(), err)
	}
	return &accounts, nil
}

func (p *CoinbaseProvider) signedGet(ctx context.Context, path string, creds Credentials) ([]byte, error) {
	var body []byte
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
		if err != nil {
			return apperrors.NewInternalError("building coinbase request", err)
		}

		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		// Signature covers timestamp + method + request path (v2 scheme).
		signature := signHMAC(creds.APISecret, timestamp+http.MethodGet+"/v2"+path)
		req.Header.Set("CB-ACCESS-KEY", creds.APIKey)
		req.Header.Set("CB-ACCESS-SIGN", signature)
		req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("CB-VERSION", "2024-01-01")

		resp, err := p.client.Do(req)
		if err != nil {
			return classifyTransportError(p.Name(), err)
		}
		defer resp.Body.Close()

		if err := classifyHTTPStatus(p.Name(), resp.StatusCode); err != nil {
			return err
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return classifyTransportError(p.Name(), err)
		}
		return nil
	})
	return body, err
}
