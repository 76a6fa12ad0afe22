package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/circuitbreaker"
	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
)

// BinanceProvider reads account balances and trades from the Binance REST
// API. Requests are signed with HMAC-SHA256 over the query string and carry
// the API key in the X-MBX-APIKEY header.
type BinanceProvider struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewBinanceProvider creates a Binance provider.
func NewBinanceProvider(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *BinanceProvider {
	return &BinanceProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Name implements Provider.
func (p *BinanceProvider) Name() string { return "binance" }

type binanceAccount struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type binanceTrade struct {
	ID      int64  `json:"id"`
	Symbol  string `json:"symbol"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
	Time    int64  `json:"time"`
	IsBuyer bool   `json:"isBuyer"`
}

// ValidateCredentials implements Provider.
func (p *BinanceProvider) ValidateCredentials(ctx context.Context, creds Credentials) (bool, error) {
	_, err := p.account(ctx, creds)
	if err != nil {
		if apperrors.Categorize(err).Category == apperrors.CategoryProviderAuth {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetBalances implements Provider. Free and locked amounts are summed per
// asset; zero balances are passed through for the engine to drop.
func (p *BinanceProvider) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	account, err := p.account(ctx, creds)
	if err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, apperrors.NewSchemaError(p.Name(), fmt.Errorf("balance %s: %w", b.Asset, err))
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, apperrors.NewSchemaError(p.Name(), fmt.Errorf("balance %s: %w", b.Asset, err))
		}
		balances = append(balances, Balance{
			Symbol: b.Asset,
			Amount: free.Add(locked),
		})
	}
	return balances, nil
}

// GetTransactions implements Provider. Trades against USDT are normalized to
// BUY/SELL ledger shapes.
func (p *BinanceProvider) GetTransactions(ctx context.Context, creds Credentials, symbol string, start, end time.Time) ([]Transaction, error) {
	params := url.Values{}
	params.Set("symbol", symbol+"USDT")
	params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))

	body, err := p.signedGet(ctx, "/api/v3/myTrades", params, creds)
	if err != nil {
		return nil, err
	}

	var trades []binanceTrade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, apperrors.NewSchemaError(p.Name(), err)
	}

	txs := make([]Transaction, 0, len(trades))
	for _, trade := range trades {
		price, err := decimal.NewFromString(trade.Price)
		if err != nil {
			return nil, apperrors.NewSchemaError(p.Name(), err)
		}
		qty, err := decimal.NewFromString(trade.Qty)
		if err != nil {
			return nil, apperrors.NewSchemaError(p.Name(), err)
		}
		entryType := models.EntryTypeSell
		if trade.IsBuyer {
			entryType = models.EntryTypeBuy
		}
		txs = append(txs, Transaction{
			ExternalID:   strconv.FormatInt(trade.ID, 10),
			Type:         entryType,
			Symbol:       symbol,
			Amount:       qty,
			PricePerUnit: price,
			OccurredAt:   time.UnixMilli(trade.Time).UTC(),
		})
	}
	return txs, nil
}

func (p *BinanceProvider) account(ctx context.Context, creds Credentials) (*binanceAccount, error) {
	body, err := p.signedGet(ctx, "/api/v3/account", url.Values{}, creds)
	if err != nil {
		return nil, err
	}
	var account binanceAccount
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, apperrors.NewSchemaError(p.Name(), err)
	}
	return &account, nil
}

// signedGet performs an authenticated GET. Binance requires a millisecond
// timestamp inside the signed query string.
func (p *BinanceProvider) signedGet(ctx context.Context, path string, params url.Values, creds Credentials) ([]byte, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + signHMAC(creds.APISecret, query)

	var body []byte
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+query, nil)
		if err != nil {
			return apperrors.NewInternalError("building binance request", err)
		}
		req.Header.Set("X-MBX-APIKEY", creds.APIKey)

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

// signHMAC computes the hex HMAC-SHA256 signature of payload.
func signHMAC(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
