package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/circuitbreaker"
	apperrors "github.com/portfolio-tracker/internal/errors"
)

// splTokenProgram is the SPL token program account that owns all standard
// token accounts.
const splTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

// SolanaProvider reads the native SOL balance and SPL token accounts of an
// address over Solana JSON-RPC.
type SolanaProvider struct {
	rpcURL  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewSolanaProvider creates a Solana provider.
func NewSolanaProvider(rpcURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *SolanaProvider {
	return &SolanaProvider{
		rpcURL:  rpcURL,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Name implements Provider.
func (p *SolanaProvider) Name() string { return "solana" }

// ValidateCredentials implements Provider. Solana addresses are base58 keys
// of 32 to 44 characters; a cheap shape check avoids a network round trip.
func (p *SolanaProvider) ValidateCredentials(ctx context.Context, creds Credentials) (bool, error) {
	return validBase58Address(creds.Address), nil
}

type solanaRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type solanaBalanceResult struct {
	Result struct {
		Value uint64 `json:"value"`
	} `json:"result"`
	Error *solanaRPCError `json:"error"`
}

type solanaTokenAccountsResult struct {
	Result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							TokenAmount struct {
								UIAmountString string `json:"uiAmountString"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	} `json:"result"`
	Error *solanaRPCError `json:"error"`
}

// GetBalances implements Provider. SPL token amounts come back pre-scaled;
// the mint address fills the token address slot. Token symbols are not part
// of the RPC response, so the mint doubles as the symbol for SPL holdings.
func (p *SolanaProvider) GetBalances(ctx context.Context, creds Credentials) ([]Balance, error) {
	if !validBase58Address(creds.Address) {
		return nil, apperrors.NewValidationError("address", "not a valid Solana address")
	}

	var balanceResp solanaBalanceResult
	if err := p.rpcCall(ctx, "getBalance", []interface{}{creds.Address}, &balanceResp); err != nil {
		return nil, err
	}
	if balanceResp.Error != nil {
		return nil, apperrors.NewSchemaError(p.Name(), rpcErr(balanceResp.Error))
	}

	// Lamports to SOL: 1 SOL = 1e9 lamports.
	balances := []Balance{{
		Symbol: "SOL",
		Amount: decimal.New(int64(balanceResp.Result.Value), -9),
	}}

	var tokenResp solanaTokenAccountsResult
	params := []interface{}{
		creds.Address,
		map[string]string{"programId": splTokenProgram},
		map[string]string{"encoding": "jsonParsed"},
	}
	if err := p.rpcCall(ctx, "getTokenAccountsByOwner", params, &tokenResp); err != nil {
		return nil, err
	}
	if tokenResp.Error != nil {
		return nil, apperrors.NewSchemaError(p.Name(), rpcErr(tokenResp.Error))
	}

	for _, account := range tokenResp.Result.Value {
		info := account.Account.Data.Parsed.Info
		amount, err := decimal.NewFromString(info.TokenAmount.UIAmountString)
		if err != nil {
			continue
		}
		balances = append(balances, Balance{
			Symbol:       info.Mint,
			Amount:       amount,
			TokenAddress: info.Mint,
		})
	}
	return balances, nil
}

// GetTransactions implements Provider.
func (p *SolanaProvider) GetTransactions(ctx context.Context, creds Credentials, symbol string, start, end time.Time) ([]Transaction, error) {
	return []Transaction{}, nil
}

func (p *SolanaProvider) rpcCall(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return apperrors.NewInternalError("encoding rpc request", err)
	}

	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.rpcURL, bytes.NewReader(payload))
		if err != nil {
			return apperrors.NewInternalError("building rpc request", err)
		}
		req.Header.Set("Content-Type", "application/json")

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
		if err := json.Unmarshal(body, out); err != nil {
			return apperrors.NewSchemaError(p.Name(), err)
		}
		return nil
	})
}

func rpcErr(e *solanaRPCError) error {
	return fmt.Errorf("rpc error %d: %s", e.Code, e.Message)
}

// validBase58Address checks length and alphabet without decoding.
func validBase58Address(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}
	for _, c := range address {
		switch {
		case c >= '1' && c <= '9':
		case c >= 'A' && c <= 'H':
		case c >= 'J' && c <= 'N':
		case c >= 'P' && c <= 'Z':
		case c >= 'a' && c <= 'k':
		case c >= 'm' && c <= 'z':
		default:
			return false
		}
	}
	return true
}
