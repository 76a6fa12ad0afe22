package provider

import (
	"strings"
	"time"

	"github.com/portfolio-tracker/internal/circuitbreaker"
	"github.com/portfolio-tracker/internal/config"
	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
)

// nativeSymbols maps EVM chain names to their native coin symbols.
var nativeSymbols = map[string]string{
	"ethereum": "ETH",
	"polygon":  "MATIC",
	"arbitrum": "ETH",
	"optimism": "ETH",
	"base":     "ETH",
}

// Registry resolves a wallet to its Provider. It is the single place that
// knows which kinds and chains exist; everything else branches on the
// interface.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds every configured provider once. Blockchain providers
// are keyed by chain, exchange and bank providers by provider name.
func NewRegistry(cfg config.ProvidersConfig, breakers *circuitbreaker.Manager) *Registry {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	providers := map[string]Provider{
		"binance":  NewBinanceProvider(cfg.BinanceAPIURL, timeout, breakers.Get("binance")),
		"coinbase": NewCoinbaseProvider(cfg.CoinbaseAPIURL, timeout, breakers.Get("coinbase")),
		"bitcoin":  NewBitcoinProvider(cfg.BitcoinAPIURL, timeout, breakers.Get("bitcoin")),
		"solana":   NewSolanaProvider(cfg.SolanaRPCURL, timeout, breakers.Get("solana")),
		"mono":     NewBankProvider(cfg.BankAPIURL, cfg.BankAPIKey, timeout, breakers.Get("mono")),
	}
	for chain, rpcURL := range cfg.EVMRPCs {
		symbol, ok := nativeSymbols[chain]
		if !ok {
			symbol = "ETH"
		}
		providers[chain] = NewEVMProvider(chain, symbol, rpcURL,
			cfg.TokenAPIURL, cfg.TokenAPIKey, timeout, breakers.Get("evm:"+chain))
	}

	return &Registry{providers: providers}
}

// For returns the provider serving a wallet. Manual wallets have no external
// source and get ErrNoProvider; unknown providers or chains are validation
// errors so a bad wallet row cannot loop through retries.
func (r *Registry) For(wallet *models.Wallet) (Provider, error) {
	if wallet.Kind == models.WalletKindManual {
		return nil, ErrNoProvider
	}

	key := strings.ToLower(wallet.Provider)
	if wallet.Kind == models.WalletKindBlockchain {
		key = strings.ToLower(wallet.Chain)
	}

	p, ok := r.providers[key]
	if !ok {
		return nil, apperrors.NewValidationError("provider", "unsupported provider: "+key)
	}
	return p, nil
}
