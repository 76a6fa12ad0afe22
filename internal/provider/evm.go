package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/circuitbreaker"
	apperrors "github.com/portfolio-tracker/internal/errors"
)

// EVMProvider reads native and token balances for one EVM chain. The native
// balance comes from the chain's JSON-RPC node; token holdings come from an
// Ethplorer-style explorer API because enumerating ERC-20 balances over raw
// RPC would need per-contract calls.
type EVMProvider struct {
	chain        string
	nativeSymbol string
	rpcURL       string
	tokenAPIURL  string
	tokenAPIKey  string
	client       *http.Client
	breaker      *circuitbreaker.CircuitBreaker
}

// NewEVMProvider creates a provider for one EVM chain.
func NewEVMProvider(chain, nativeSymbol, rpcURL, tokenAPIURL, tokenAPIKey string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *EVMProvider {
	return &EVMProvider{
		chain:        chain,
		nativeSymbol: nativeSymbol,
		rpcURL:       rpcURL,
		tokenAPIURL:  tokenAPIURL,
		tokenAPIKey:  tokenAPIKey,
		client:       &http.Client{Timeout: timeout},
		breaker:      breaker,
	}
}

// Name implements Provider.
func (p *EVMProvider) Name() string { return "evm:" + p.chain }

// ValidateCredentials implements Provider. For a watch-only address the only
// credential is the address itself.
func (p *EVMProvider) ValidateCredentials(ctx context.Context, creds Credentials) (bool, error) {
	return common.IsHexAddress(creds.Address), nil
}

type ethplorerAddressInfo struct {
	Tokens []struct {
		TokenInfo struct {
			Address  string      `json:"address"`
			Symbol   string      `json:"symbol"`
			Decimals json.Number `json:"decimals"`
		} `json:"tokenInfo"`
		RawBalance string `json:"rawBalance"`
	} `json:"tokens"`
}

// GetBalances implements Provider.
func (p *EVMProvider) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	if !common.IsHexAddress(creds.Address) {
		return nil, apperrors.NewValidationError("address", "not a valid EVM address")
	}

	native, err := p.nativeBalance(ctx, creds.Address)
	if err != nil {
		return nil, err
	}
	balances := []Balance{{Symbol: p.nativeSymbol, Amount: native}}

	tokens, err := p.tokenBalances(ctx, creds.Address)
	if err != nil {
		return nil, err
	}
	return append(balances, tokens...), nil
}

// GetTransactions implements Provider. On-chain history import is not wired;
// the ledger owns acquisitions for watch-only wallets.
func (p *EVMProvider) GetTransactions(ctx context.Context, creds Credentials, symbol string, start, end time.Time) ([]Transaction, error) {
	return []Transaction{}, nil
}

// nativeBalance fetches the wei balance over RPC and scales to whole coins.
func (p *EVMProvider) nativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		client, err := ethclient.DialContext(ctx, p.rpcURL)
		if err != nil {
			return classifyTransportError(p.Name(), err)
		}
		defer client.Close()

		wei, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
		if err != nil {
			return classifyTransportError(p.Name(), err)
		}
		amount = decimal.NewFromBigInt(wei, -18)
		return nil
	})
	return amount, err
}

// tokenBalances enumerates ERC-20 holdings via the explorer API. Tokens with
// no symbol or undecodable raw balances are skipped rather than failing the
// whole snapshot.
func (p *EVMProvider) tokenBalances(ctx context.Context, address string) ([]Balance, error) {
	endpoint := fmt.Sprintf("%s/getAddressInfo/%s?apiKey=%s",
		p.tokenAPIURL, address, url.QueryEscape(p.tokenAPIKey))

	var info ethplorerAddressInfo
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
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

	balances := make([]Balance, 0, len(info.Tokens))
	for _, token := range info.Tokens {
		if token.TokenInfo.Symbol == "" {
			continue
		}
		raw, err := decimal.NewFromString(token.RawBalance)
		if err != nil {
			continue
		}
		decimals, err := token.TokenInfo.Decimals.Int64()
		if err != nil {
			continue
		}
		balances = append(balances, Balance{
			Symbol:       token.TokenInfo.Symbol,
			Amount:       raw.Shift(int32(-decimals)),
			TokenAddress: token.TokenInfo.Address,
		})
	}
	return balances, nil
}
