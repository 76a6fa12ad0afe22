package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/config"
	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/service"
	"github.com/portfolio-tracker/internal/storage"
)

type fakeWallets struct {
	created *service.CreateWalletInput
	wallets map[string]*models.Wallet
}

func (f *fakeWallets) Create(ctx context.Context, input service.CreateWalletInput) (*models.Wallet, error) {
	f.created = &input
	return &models.Wallet{ID: "w1", UserID: input.UserID, Name: input.Name, Kind: input.Kind}, nil
}

func (f *fakeWallets) List(ctx context.Context, userID string) ([]*models.Wallet, error) {
	var out []*models.Wallet
	for _, w := range f.wallets {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeWallets) Get(ctx context.Context, userID, walletID string) (*models.Wallet, error) {
	w, ok := f.wallets[walletID]
	if !ok || w.UserID != userID {
		return nil, apperrors.NewNotFoundError("wallet", walletID)
	}
	return w, nil
}

func (f *fakeWallets) Deactivate(ctx context.Context, userID, walletID string) error {
	_, err := f.Get(ctx, userID, walletID)
	return err
}

type fakeSyncer struct {
	err    error
	synced []string
}

func (f *fakeSyncer) SyncWallet(ctx context.Context, walletID string) error {
	if f.err != nil {
		return f.err
	}
	f.synced = append(f.synced, walletID)
	return nil
}

type fakeLedger struct {
	recorded []*models.LedgerEntry
}

func (f *fakeLedger) RecordEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if !entry.Type.Valid() {
		return apperrors.NewValidationError("type", "unknown entry type")
	}
	f.recorded = append(f.recorded, entry)
	return nil
}

func (f *fakeLedger) List(ctx context.Context, filter storage.ListFilter) ([]*models.LedgerEntry, error) {
	return f.recorded, nil
}

type fakePortfolio struct{}

func (fakePortfolio) GetPortfolio(ctx context.Context, userID string) (*models.PortfolioView, error) {
	return &models.PortfolioView{UserID: userID}, nil
}

type fakeBudgets struct {
	budget *models.Budget
	limit  decimal.Decimal
}

func (f *fakeBudgets) SetBudget(ctx context.Context, userID string, limit decimal.Decimal) error {
	if limit.Sign() <= 0 {
		return apperrors.NewValidationError("monthlyLimit", "must be positive")
	}
	f.limit = limit
	return nil
}

func (f *fakeBudgets) GetBudget(ctx context.Context, userID string) (*models.Budget, error) {
	return f.budget, nil
}

type testDeps struct {
	wallets *fakeWallets
	syncer  *fakeSyncer
	ledger  *fakeLedger
	budgets *fakeBudgets
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		wallets: &fakeWallets{wallets: map[string]*models.Wallet{
			"w1": {ID: "w1", UserID: "u1", Name: "Main", Kind: models.WalletKindExchange},
		}},
		syncer:  &fakeSyncer{},
		ledger:  &fakeLedger{},
		budgets: &fakeBudgets{},
	}
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: "0"}, Deps{
		Wallets:   deps.wallets,
		Syncer:    deps.syncer,
		Ledger:    deps.ledger,
		Portfolio: fakePortfolio{},
		Budgets:   deps.budgets,
	}, zerolog.Nop())
	return srv, deps
}

func doRequest(t *testing.T, srv *Server, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(userIDHeader, user)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMissingUserHeaderRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/wallets", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestHealthNeedsNoUser(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCreateWalletUsesHeaderIdentity(t *testing.T) {
	srv, deps := newTestServer(t)
	body := `{"userId":"intruder","name":"Spot","kind":"EXCHANGE","provider":"binance","apiKey":"k","apiSecret":"s"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/wallets", "u1", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	// The authenticated caller wins over whatever the body claims.
	if deps.wallets.created.UserID != "u1" {
		t.Errorf("created userId = %q, want u1", deps.wallets.created.UserID)
	}
}

func TestSyncWalletConflict(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.syncer.err = service.ErrSyncInProgress

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/wallets/w1/sync", "u1", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestSyncWalletChecksOwnership(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/wallets/w1/sync", "someone-else", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if len(deps.syncer.synced) != 0 {
		t.Error("sync must not run for a foreign wallet")
	}
}

func TestRecordEntryValidationMapsTo400(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"walletId":"w1","type":"NONSENSE","tokenSymbol":"BTC","amount":"1"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/ledger", "u1", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
	}
}

func TestRecordEntryCreated(t *testing.T) {
	srv, deps := newTestServer(t)
	body := `{"walletId":"w1","type":"BUY","tokenSymbol":"BTC","amount":"0.5","pricePerUnit":"40000"}`
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/ledger", "u1", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rec.Code, rec.Body.String())
	}
	if len(deps.ledger.recorded) != 1 {
		t.Fatalf("recorded = %d entries, want 1", len(deps.ledger.recorded))
	}
	entry := deps.ledger.recorded[0]
	if entry.UserID != "u1" || entry.OccurredAt.IsZero() {
		t.Errorf("entry not normalized: %+v", entry)
	}
}

func TestListEntriesRejectsBadFilter(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/ledger?since=yesterday", "u1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetBudgetNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/budget", "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSetAndGetBudget(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPut, "/api/v1/budget", "u1", `{"monthlyLimit":"2500"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204, body %s", rec.Code, rec.Body.String())
	}
	if !deps.budgets.limit.Equal(decimal.RequireFromString("2500")) {
		t.Errorf("limit = %s, want 2500", deps.budgets.limit)
	}

	deps.budgets.budget = &models.Budget{UserID: "u1", MonthlyLimit: deps.budgets.limit}
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/budget", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got models.Budget
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding budget: %v", err)
	}
	if !got.MonthlyLimit.Equal(decimal.RequireFromString("2500")) {
		t.Errorf("monthlyLimit = %s, want 2500", got.MonthlyLimit)
	}
}

func TestHistoryDisabled(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/ledger/history", "u1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when the history mirror is off", rec.Code)
	}
}

func TestPortfolioReturnsView(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/v1/portfolio", "u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var view models.PortfolioView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	if view.UserID != "u1" {
		t.Errorf("userId = %q, want u1", view.UserID)
	}
}
