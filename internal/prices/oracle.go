// Package prices implements the price oracle: a CoinGecko-style HTTP client
// behind a Redis cache with a short TTL. Portfolio reads tolerate missing
// prices, so every lookup distinguishes "no price" from "lookup failed".
package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/portfolio-tracker/internal/errors"
)

// symbolToID maps common ticker symbols to CoinGecko coin IDs. Symbols not
// listed here are tried lowercased as-is.
var symbolToID = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"MATIC": "matic-network",
	"USDT":  "tether",
	"USDC":  "usd-coin",
	"BNB":   "binancecoin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
}

// Config configures the oracle.
type Config struct {
	APIURL      string
	Quote       string // quote currency, e.g. "usd"
	CacheTTL    time.Duration
	MaxParallel int
	Timeout     time.Duration
}

// Oracle serves spot prices with a Redis-backed cache.
type Oracle struct {
	cfg    Config
	client *http.Client
	redis  *redis.Client
	logger zerolog.Logger
}

// New creates an Oracle.
func New(cfg Config, redisClient *redis.Client, logger zerolog.Logger) *Oracle {
	if cfg.Quote == "" {
		cfg.Quote = "usd"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Oracle{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		redis:  redisClient,
		logger: logger.With().Str("component", "price_oracle").Logger(),
	}
}

// GetPrice returns the spot price for a symbol. ok=false with a nil error
// means the source has no price for the symbol; a non-nil error means the
// lookup itself failed.
func (o *Oracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	symbol = strings.ToUpper(symbol)
	key := o.cacheKey(symbol)

	cached, err := o.redis.Get(ctx, key).Result()
	if err == nil {
		price, parseErr := decimal.NewFromString(cached)
		if parseErr == nil {
			return price, true, nil
		}
		// Unreadable cache entry: fall through to the source.
	} else if !errors.Is(err, redis.Nil) {
		o.logger.Warn().Err(err).Str("symbol", symbol).Msg("price cache read failed")
	}

	price, ok, err := o.fetch(ctx, symbol)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}

	if err := o.redis.Set(ctx, key, price.String(), o.cfg.CacheTTL).Err(); err != nil {
		o.logger.Warn().Err(err).Str("symbol", symbol).Msg("price cache write failed")
	}
	return price, true, nil
}

// GetMultiple fetches prices for several symbols concurrently and returns
// whatever succeeded. Per-symbol failures are logged and absorbed; the map
// simply lacks those symbols.
func (o *Oracle) GetMultiple(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	results := make(map[string]decimal.Decimal, len(symbols))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxParallel)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			price, ok, err := o.GetPrice(ctx, symbol)
			if err != nil {
				o.logger.Warn().Err(err).Str("symbol", symbol).Msg("price lookup failed")
				return nil
			}
			if !ok {
				return nil
			}
			mu.Lock()
			results[strings.ToUpper(symbol)] = price
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only observes context cancellation.
	_ = g.Wait()
	return results
}

func (o *Oracle) cacheKey(symbol string) string {
	return fmt.Sprintf("price:%s:%s", o.cfg.Quote, symbol)
}

// fetch queries the price API for one symbol.
func (o *Oracle) fetch(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	id, known := symbolToID[symbol]
	if !known {
		id = strings.ToLower(symbol)
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		o.cfg.APIURL, url.QueryEscape(id), url.QueryEscape(o.cfg.Quote))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, false, apperrors.NewInternalError("building price request", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Zero, false, apperrors.NewProviderUnavailableError("price_api", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, false, apperrors.NewProviderRateLimitedError("price_api")
	}
	if resp.StatusCode >= 400 {
		return decimal.Zero, false, apperrors.NewProviderUnavailableError("price_api",
			errors.New(http.StatusText(resp.StatusCode)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, false, apperrors.NewProviderUnavailableError("price_api", err)
	}

	var parsed map[string]map[string]json.Number
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, false, apperrors.NewSchemaError("price_api", err)
	}

	quotes, ok := parsed[id]
	if !ok {
		return decimal.Zero, false, nil
	}
	raw, ok := quotes[o.cfg.Quote]
	if !ok {
		return decimal.Zero, false, nil
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, false, apperrors.NewSchemaError("price_api", err)
	}
	return price, true, nil
}
