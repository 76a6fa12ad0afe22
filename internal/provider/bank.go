package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/circuitbreaker"
	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
)

// BankProvider reads fiat account balances from a Mono-style bank
// aggregator. The stored credential is the aggregator's account ID; the
// aggregator API key is service-level configuration, not per-wallet.
type BankProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewBankProvider creates a bank aggregator provider.
func NewBankProvider(baseURL, apiKey string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *BankProvider {
	return &BankProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Name implements Provider. It matches the registry key and breaker name.
func (p *BankProvider) Name() string { return "mono" }

type bankAccount struct {
	Account struct {
		Currency string `json:"currency"`
		// Balance is in the currency's minor unit (kobo, cents).
		Balance int64 `json:"balance"`
	} `json:"account"`
}

type bankTransactions struct {
	Data []struct {
		ID       string `json:"_id"`
		Type     string `json:"type"` // debit or credit
		Amount   int64  `json:"amount"`
		Date     string `json:"date"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// ValidateCredentials implements Provider. The account ID works if the
// aggregator can serve its details.
func (p *BankProvider) ValidateCredentials(ctx context.Context, creds Credentials) (bool, error) {
	_, err := p.account(ctx, creds.APIKey)
	if err != nil {
		if apperrors.Categorize(err).Category == apperrors.CategoryProviderAuth {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetBalances implements Provider.
func (p *BankProvider) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	account, err := p.account(ctx, creds.APIKey)
	if err != nil {
		return nil, err
	}
	return []Balance{{
		Symbol: account.Account.Currency,
		Amount: decimal.New(account.Account.Balance, -2),
	}}, nil
}

// GetTransactions implements Provider. Bank debits and credits map to
// transfer entries.
func (p *BankProvider) GetTransactions(ctx context.Context, creds Credentials, symbol string, start, end time.Time) ([]Transaction, error) {
	body, err := p.get(ctx, "/accounts/"+creds.APIKey+"/transactions")
	if err != nil {
		return nil, err
	}
	var txs bankTransactions
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, apperrors.NewSchemaError(p.Name(), err)
	}

	out := make([]Transaction, 0, len(txs.Data))
	for _, tx := range txs.Data {
		occurredAt, err := time.Parse(time.RFC3339, tx.Date)
		if err != nil {
			return nil, apperrors.NewSchemaError(p.Name(), err)
		}
		if !occurredAt.Before(start) && occurredAt.Before(end) {
			entryType := transferTypeFor(tx.Type)
			out = append(out, Transaction{
				ExternalID: tx.ID,
				Type:       entryType,
				Symbol:     tx.Currency,
				Amount:     decimal.New(tx.Amount, -2),
				OccurredAt: occurredAt,
			})
		}
	}
	return out, nil
}

func (p *BankProvider) account(ctx context.Context, accountID string) (*bankAccount, error) {
	body, err := p.get(ctx, "/accounts/"+accountID)
	if err != nil {
		return nil, err
	}
	var account bankAccount
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, apperrors.NewSchemaError(p.Name(), err)
	}
	return &account, nil
}

func (p *BankProvider) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
		if err != nil {
			return apperrors.NewInternalError("building bank request", err)
		}
		req.Header.Set("mono-sec-key", p.apiKey)

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

func transferTypeFor(direction string) models.EntryType {
	if direction == "credit" {
		return models.EntryTypeTransferIn
	}
	return models.EntryTypeTransferOut
}
