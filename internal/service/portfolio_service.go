package service

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/storage"
)

// PositionReader lists positions for aggregation.
type PositionReader interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*storage.PositionWithWallet, error)
}

// PriceSource provides spot prices. GetMultiple returns only the symbols it
// could price.
type PriceSource interface {
	GetMultiple(ctx context.Context, symbols []string) map[string]decimal.Decimal
}

// PortfolioService aggregates a user's positions across wallets into one
// priced view. It reads whatever is currently persisted and never triggers a
// sync.
type PortfolioService struct {
	positions PositionReader
	prices    PriceSource
	logger    zerolog.Logger
}

// NewPortfolioService creates a portfolio service.
func NewPortfolioService(positions PositionReader, prices PriceSource, logger zerolog.Logger) *PortfolioService {
	return &PortfolioService{
		positions: positions,
		prices:    prices,
		logger:    logger.With().Str("component", "portfolio").Logger(),
	}
}

// GetPortfolio builds the aggregated view. Holdings are grouped by symbol
// with a per-wallet breakdown. A missing price keeps the holding in the list
// with PriceAvailable=false and out of the priced totals. Units without a
// recorded basis count at zero cost, so their full value shows as
// unrealized gain.
func (s *PortfolioService) GetPortfolio(ctx context.Context, userID string) (*models.PortfolioView, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError("userId", "required")
	}

	positions, err := s.positions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*storage.PositionWithWallet)
	symbols := make([]string, 0)
	for _, p := range positions {
		if _, seen := grouped[p.TokenSymbol]; !seen {
			symbols = append(symbols, p.TokenSymbol)
		}
		grouped[p.TokenSymbol] = append(grouped[p.TokenSymbol], p)
	}

	priceMap := s.prices.GetMultiple(ctx, symbols)

	view := &models.PortfolioView{
		UserID:      userID,
		Holdings:    make([]models.TokenHolding, 0, len(symbols)),
		GeneratedAt: time.Now().UTC(),
	}

	for _, symbol := range symbols {
		holding := buildHolding(symbol, grouped[symbol], priceMap)
		if holding.PriceAvailable {
			view.TotalValue = view.TotalValue.Add(holding.Value)
			view.TotalCostBasis = view.TotalCostBasis.Add(holding.CostBasisValue)
			view.TotalUnrealizedPnL = view.TotalUnrealizedPnL.Add(holding.UnrealizedPnL)
		}
		view.Holdings = append(view.Holdings, holding)
	}

	// Largest priced holdings first; unpriced trail alphabetically.
	sort.SliceStable(view.Holdings, func(i, j int) bool {
		a, b := view.Holdings[i], view.Holdings[j]
		if a.PriceAvailable != b.PriceAvailable {
			return a.PriceAvailable
		}
		if !a.Value.Equal(b.Value) {
			return a.Value.GreaterThan(b.Value)
		}
		return a.Symbol < b.Symbol
	})

	return view, nil
}

// buildHolding merges one symbol's positions. The displayed average cost is
// weighted by amount over the wallets that actually carry a cost basis, but
// the basis value and PnL cover every unit: an uncosted unit carries a zero
// basis, so its whole value is unrealized gain.
func buildHolding(symbol string, positions []*storage.PositionWithWallet, prices map[string]decimal.Decimal) models.TokenHolding {
	holding := models.TokenHolding{Symbol: symbol}

	var costedAmount, costedValue decimal.Decimal
	for _, p := range positions {
		holding.TotalAmount = holding.TotalAmount.Add(p.Amount)
		holding.Wallets = append(holding.Wallets, models.WalletHolding{
			WalletID:   p.WalletID,
			WalletName: p.WalletName,
			Amount:     p.Amount,
		})
		if p.HasCostBasis() {
			costedAmount = costedAmount.Add(p.Amount)
			costedValue = costedValue.Add(p.Amount.Mul(p.AverageCost))
		}
	}

	holding.CostBasisValue = costedValue
	if costedAmount.IsPositive() {
		holding.HasCostBasis = true
		holding.AverageCost = costedValue.Div(costedAmount)
	}

	price, ok := prices[symbol]
	if !ok {
		return holding
	}
	holding.PriceAvailable = true
	holding.Price = price
	holding.Value = holding.TotalAmount.Mul(price)
	holding.UnrealizedPnL = holding.Value.Sub(holding.CostBasisValue)
	return holding
}
