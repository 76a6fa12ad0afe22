package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/storage"
)

type mockPositionReader struct {
	positions []*storage.PositionWithWallet
}

func (m *mockPositionReader) ListActiveByUser(ctx context.Context, userID string) ([]*storage.PositionWithWallet, error) {
	return m.positions, nil
}

type mockPriceSource struct {
	prices map[string]decimal.Decimal
}

func (m *mockPriceSource) GetMultiple(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, s := range symbols {
		if p, ok := m.prices[s]; ok {
			out[s] = p
		}
	}
	return out
}

func position(walletID, walletName, symbol string, amount, avgCost decimal.Decimal) *storage.PositionWithWallet {
	return &storage.PositionWithWallet{
		AssetPosition: models.AssetPosition{
			WalletID:    walletID,
			TokenSymbol: symbol,
			Amount:      amount,
			AverageCost: avgCost,
		},
		WalletName: walletName,
	}
}

func TestGetPortfolioAggregatesAcrossWallets(t *testing.T) {
	// 2 BTC bought at 100 in one wallet, 1 BTC at 400 in another,
	// current price 300: cost 600, value 900, PnL +300.
	positions := &mockPositionReader{positions: []*storage.PositionWithWallet{
		position("w1", "Binance", "BTC", dec("2"), dec("100")),
		position("w2", "Cold wallet", "BTC", dec("1"), dec("400")),
	}}
	prices := &mockPriceSource{prices: map[string]decimal.Decimal{"BTC": dec("300")}}
	svc := NewPortfolioService(positions, prices, zerolog.Nop())

	view, err := svc.GetPortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}

	if len(view.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(view.Holdings))
	}
	h := view.Holdings[0]
	if !h.TotalAmount.Equal(dec("3")) {
		t.Errorf("total amount = %s, want 3", h.TotalAmount)
	}
	if !h.AverageCost.Equal(dec("200")) {
		t.Errorf("average cost = %s, want 200", h.AverageCost)
	}
	if !h.Value.Equal(dec("900")) {
		t.Errorf("value = %s, want 900", h.Value)
	}
	if !h.UnrealizedPnL.Equal(dec("300")) {
		t.Errorf("pnl = %s, want 300", h.UnrealizedPnL)
	}
	if len(h.Wallets) != 2 {
		t.Errorf("expected 2 wallet breakdowns, got %d", len(h.Wallets))
	}
	if !view.TotalValue.Equal(dec("900")) || !view.TotalUnrealizedPnL.Equal(dec("300")) {
		t.Errorf("totals = %s / %s, want 900 / 300", view.TotalValue, view.TotalUnrealizedPnL)
	}
}

func TestGetPortfolioTotals(t *testing.T) {
	// 0.5 ETH at 2000 and 100 USDC at 1.
	positions := &mockPositionReader{positions: []*storage.PositionWithWallet{
		position("w1", "Main", "ETH", dec("0.5"), decimal.Zero),
		position("w1", "Main", "USDC", dec("100"), decimal.Zero),
	}}
	prices := &mockPriceSource{prices: map[string]decimal.Decimal{
		"ETH":  dec("2000"),
		"USDC": dec("1"),
	}}
	svc := NewPortfolioService(positions, prices, zerolog.Nop())

	view, err := svc.GetPortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if !view.TotalValue.Equal(dec("1100")) {
		t.Errorf("total value = %s, want 1100", view.TotalValue)
	}
	// No cost basis recorded anywhere: every unit carries a zero basis and
	// the full value counts as unrealized gain.
	if !view.TotalCostBasis.IsZero() {
		t.Errorf("total cost basis = %s, want 0", view.TotalCostBasis)
	}
	if !view.TotalUnrealizedPnL.Equal(dec("1100")) {
		t.Errorf("total pnl = %s, want 1100", view.TotalUnrealizedPnL)
	}
}

func TestGetPortfolioMissingPriceExcludedFromTotals(t *testing.T) {
	positions := &mockPositionReader{positions: []*storage.PositionWithWallet{
		position("w1", "Main", "BTC", dec("1"), dec("100")),
		position("w1", "Main", "OBSCURECOIN", dec("1000"), decimal.Zero),
	}}
	prices := &mockPriceSource{prices: map[string]decimal.Decimal{"BTC": dec("200")}}
	svc := NewPortfolioService(positions, prices, zerolog.Nop())

	view, err := svc.GetPortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}

	if len(view.Holdings) != 2 {
		t.Fatalf("unpriced holding must stay listed, got %d holdings", len(view.Holdings))
	}
	if !view.TotalValue.Equal(dec("200")) {
		t.Errorf("total value = %s, want 200 (unpriced excluded)", view.TotalValue)
	}

	var unpriced *models.TokenHolding
	for i := range view.Holdings {
		if view.Holdings[i].Symbol == "OBSCURECOIN" {
			unpriced = &view.Holdings[i]
		}
	}
	if unpriced == nil {
		t.Fatal("OBSCURECOIN missing from holdings")
	}
	if unpriced.PriceAvailable {
		t.Error("expected PriceAvailable=false")
	}
	if !unpriced.TotalAmount.Equal(dec("1000")) {
		t.Errorf("amount = %s, want 1000", unpriced.TotalAmount)
	}
}

func TestGetPortfolioPartialCostBasis(t *testing.T) {
	// One wallet has a basis, the other (watch-only) does not. The displayed
	// average is weighted over the costed portion only, but the uncosted
	// units carry a zero basis and count fully toward the gain.
	positions := &mockPositionReader{positions: []*storage.PositionWithWallet{
		position("w1", "Exchange", "ETH", dec("2"), dec("1000")),
		position("w2", "Watch-only", "ETH", dec("3"), decimal.Zero),
	}}
	prices := &mockPriceSource{prices: map[string]decimal.Decimal{"ETH": dec("1500")}}
	svc := NewPortfolioService(positions, prices, zerolog.Nop())

	view, err := svc.GetPortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}

	h := view.Holdings[0]
	if !h.AverageCost.Equal(dec("1000")) {
		t.Errorf("average cost = %s, want 1000 (uncosted wallet excluded)", h.AverageCost)
	}
	if !h.CostBasisValue.Equal(dec("2000")) {
		t.Errorf("cost basis = %s, want 2000", h.CostBasisValue)
	}
	// Value covers all 5 ETH; PnL is value minus the recorded basis.
	if !h.Value.Equal(dec("7500")) {
		t.Errorf("value = %s, want 7500", h.Value)
	}
	if !h.UnrealizedPnL.Equal(dec("5500")) {
		t.Errorf("pnl = %s, want 5500", h.UnrealizedPnL)
	}
	if !view.TotalCostBasis.Equal(dec("2000")) || !view.TotalUnrealizedPnL.Equal(dec("5500")) {
		t.Errorf("totals = %s / %s, want 2000 / 5500", view.TotalCostBasis, view.TotalUnrealizedPnL)
	}
}

func TestGetPortfolioEmpty(t *testing.T) {
	svc := NewPortfolioService(&mockPositionReader{}, &mockPriceSource{}, zerolog.Nop())

	view, err := svc.GetPortfolio(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPortfolio failed: %v", err)
	}
	if len(view.Holdings) != 0 || !view.TotalValue.IsZero() {
		t.Errorf("expected empty view, got %+v", view)
	}
}
