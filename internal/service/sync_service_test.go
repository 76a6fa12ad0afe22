package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/provider"
	"github.com/portfolio-tracker/internal/storage"
)

// Mocks

type mockWalletStore struct {
	mu      sync.Mutex
	wallets map[string]*models.Wallet
}

func newMockWalletStore(wallets ...*models.Wallet) *mockWalletStore {
	m := &mockWalletStore{wallets: make(map[string]*models.Wallet)}
	for _, w := range wallets {
		m.wallets[w.ID] = w
	}
	return m
}

func (m *mockWalletStore) Get(ctx context.Context, id string) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("wallet", id)
	}
	copied := *w
	return &copied, nil
}

func (m *mockWalletStore) ListSyncable(ctx context.Context) ([]*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Wallet
	for _, w := range m.wallets {
		if w.Syncable() {
			copied := *w
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockWalletStore) SetSyncState(ctx context.Context, id string, state models.SyncState, syncError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return apperrors.NewNotFoundError("wallet", id)
	}
	w.SyncState = state
	w.LastSyncError = syncError
	return nil
}

type positionKey struct {
	symbol, address string
}

type positionState struct {
	amount  decimal.Decimal
	avgCost decimal.Decimal
}

// mockPositionStore mirrors the transactional snapshot semantics of the real
// repository: upsert present keys, zero absent keys, keep average cost.
type mockPositionStore struct {
	mu        sync.Mutex
	positions map[string]map[positionKey]positionState
	applies   int
	failNext  error
}

func newMockPositionStore() *mockPositionStore {
	return &mockPositionStore{positions: make(map[string]map[positionKey]positionState)}
}

func (m *mockPositionStore) ApplySnapshot(ctx context.Context, walletID string, entries []storage.SnapshotEntry, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.applies++

	wallet := m.positions[walletID]
	if wallet == nil {
		wallet = make(map[positionKey]positionState)
		m.positions[walletID] = wallet
	}

	present := make(map[positionKey]bool)
	for _, e := range entries {
		k := positionKey{e.TokenSymbol, e.TokenAddress}
		present[k] = true
		state := wallet[k]
		state.amount = e.Amount
		wallet[k] = state
	}
	for k, state := range wallet {
		if !present[k] {
			state.amount = decimal.Zero
			wallet[k] = state
		}
	}
	return nil
}

func (m *mockPositionStore) get(walletID, symbol, address string) (positionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.positions[walletID][positionKey{symbol, address}]
	return state, ok
}

func (m *mockPositionStore) seed(walletID, symbol, address string, amount, avgCost decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet := m.positions[walletID]
	if wallet == nil {
		wallet = make(map[positionKey]positionState)
		m.positions[walletID] = wallet
	}
	wallet[positionKey{symbol, address}] = positionState{amount: amount, avgCost: avgCost}
}

type mockVault struct{}

func (mockVault) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "bad" {
		return "", apperrors.NewCredentialError("credential decryption failed", nil)
	}
	return ciphertext, nil
}

// mockProvider returns canned balances, optionally blocking until released.
type mockProvider struct {
	name     string
	balances map[string][]provider.Balance // keyed by api key or address
	err      error
	block    chan struct{}
	calls    int
	mu       sync.Mutex
}

func (p *mockProvider) Name() string { return p.name }

func (p *mockProvider) ValidateCredentials(ctx context.Context, creds provider.Credentials) (bool, error) {
	return true, nil
}

func (p *mockProvider) GetBalances(ctx context.Context, creds provider.Credentials) ([]provider.Balance, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.block != nil {
		<-p.block
	}
	if p.err != nil {
		return nil, p.err
	}
	key := creds.APIKey
	if key == "" {
		key = creds.Address
	}
	return p.balances[key], nil
}

func (p *mockProvider) GetTransactions(ctx context.Context, creds provider.Credentials, symbol string, start, end time.Time) ([]provider.Transaction, error) {
	return nil, nil
}

type mockRegistry struct {
	providers map[string]provider.Provider
}

func (m *mockRegistry) For(wallet *models.Wallet) (provider.Provider, error) {
	if wallet.Kind == models.WalletKindManual {
		return nil, provider.ErrNoProvider
	}
	key := wallet.Provider
	if wallet.Kind == models.WalletKindBlockchain {
		key = wallet.Chain
	}
	p, ok := m.providers[key]
	if !ok {
		return nil, apperrors.NewValidationError("provider", "unsupported provider: "+key)
	}
	return p, nil
}

func exchangeWallet(id, user, providerName string) *models.Wallet {
	creds, _ := json.Marshal(provider.Credentials{APIKey: id + "-key", APISecret: "secret"})
	return &models.Wallet{
		ID:                   id,
		UserID:               user,
		Name:                 id,
		Kind:                 models.WalletKindExchange,
		Provider:             providerName,
		EncryptedCredentials: string(creds),
		SyncState:            models.SyncStateNeverSynced,
	}
}

func newEngine(wallets *mockWalletStore, positions *mockPositionStore, registry *mockRegistry) *SyncEngine {
	return NewSyncEngine(wallets, positions, mockVault{}, registry, time.Second, zerolog.Nop())
}

// Tests

func TestSyncWalletAppliesSnapshot(t *testing.T) {
	wallet := exchangeWallet("w1", "u1", "binance")
	wallets := newMockWalletStore(wallet)
	positions := newMockPositionStore()
	registry := &mockRegistry{providers: map[string]provider.Provider{
		"binance": &mockProvider{name: "binance", balances: map[string][]provider.Balance{
			"w1-key": {
				{Symbol: "BTC", Amount: dec("0.5")},
				{Symbol: "ETH", Amount: dec("2")},
				{Symbol: "XRP", Amount: decimal.Zero}, // dropped
			},
		}},
	}}

	engine := newEngine(wallets, positions, registry)
	if err := engine.SyncWallet(context.Background(), "w1"); err != nil {
		t.Fatalf("SyncWallet failed: %v", err)
	}

	if state, ok := positions.get("w1", "BTC", ""); !ok || !state.amount.Equal(dec("0.5")) {
		t.Errorf("BTC = %+v, want 0.5", state)
	}
	if _, ok := positions.get("w1", "XRP", ""); ok {
		t.Error("zero balance must not create a position")
	}
}

func TestSyncWalletIsIdempotent(t *testing.T) {
	wallet := exchangeWallet("w1", "u1", "binance")
	wallets := newMockWalletStore(wallet)
	positions := newMockPositionStore()
	registry := &mockRegistry{providers: map[string]provider.Provider{
		"binance": &mockProvider{name: "binance", balances: map[string][]provider.Balance{
			"w1-key": {{Symbol: "BTC", Amount: dec("1.5")}},
		}},
	}}

	engine := newEngine(wallets, positions, registry)
	for i := 0; i < 3; i++ {
		if err := engine.SyncWallet(context.Background(), "w1"); err != nil {
			t.Fatalf("sync %d failed: %v", i, err)
		}
	}

	state, _ := positions.get("w1", "BTC", "")
	if !state.amount.Equal(dec("1.5")) {
		t.Errorf("after repeated syncs BTC = %s, want 1.5", state.amount)
	}
}

func TestSyncWalletZeroesAbsentAssetsKeepsCostBasis(t *testing.T) {
	wallet := exchangeWallet("w1", "u1", "binance")
	wallets := newMockWalletStore(wallet)
	positions := newMockPositionStore()
	// Previously held 10 SOL at an average cost of 20.
	positions.seed("w1", "SOL", "", dec("10"), dec("20"))
	registry := &mockRegistry{providers: map[string]provider.Provider{
		"binance": &mockProvider{name: "binance", balances: map[string][]provider.Balance{
			"w1-key": {{Symbol: "BTC", Amount: dec("1")}},
		}},
	}}

	engine := newEngine(wallets, positions, registry)
	if err := engine.SyncWallet(context.Background(), "w1"); err != nil {
		t.Fatalf("SyncWallet failed: %v", err)
	}

	state, ok := positions.get("w1", "SOL", "")
	if !ok {
		t.Fatal("SOL position must survive as a zeroed row")
	}
	if !state.amount.IsZero() {
		t.Errorf("SOL amount = %s, want 0", state.amount)
	}
	if !state.avgCost.Equal(dec("20")) {
		t.Errorf("SOL average cost = %s, want 20 preserved", state.avgCost)
	}
}

func TestSyncWalletFailureLeavesPositionsUntouched(t *testing.T) {
	wallet := exchangeWallet("w1", "u1", "binance")
	wallets := newMockWalletStore(wallet)
	positions := newMockPositionStore()
	positions.seed("w1", "BTC", "", dec("2"), dec("30000"))
	registry := &mockRegistry{providers: map[string]provider.Provider{
		"binance": &mockProvider{
			name: "binance",
			err:  apperrors.NewProviderUnavailableError("binance", errors.New("timeout")),
		},
	}}

	engine := newEngine(wallets, positions, registry)
	err := engine.SyncWallet(context.Background(), "w1")
	if err == nil {
		t.Fatal("expected sync to fail")
	}

	state, _ := positions.get("w1", "BTC", "")
	if !state.amount.Equal(dec("2")) {
		t.Errorf("positions changed on failed sync: BTC = %s", state.amount)
	}

	stored, _ := wallets.Get(context.Background(), "w1")
	if stored.SyncState != models.SyncStateError {
		t.Errorf("sync state = %s, want ERROR", stored.SyncState)
	}
	if stored.LastSyncError == nil {
		t.Error("expected last sync error to be recorded")
	}
}

func TestSyncWalletFailuresAreIsolated(t *testing.T) {
	a := exchangeWallet("a", "u1", "good")
	b := exchangeWallet("b", "u1", "bad")
	c := exchangeWallet("c", "u1", "good")
	wallets := newMockWalletStore(a, b, c)
	positions := newMockPositionStore()
	registry := &mockRegistry{providers: map[string]provider.Provider{
		"good": &mockProvider{name: "good", balances: map[string][]provider.Balance{
			"a-key": {{Symbol: "BTC", Amount: dec("1")}},
			"c-key": {{Symbol: "ETH", Amount: dec("3")}},
		}},
		"bad": &mockProvider{
			name: "bad",
			err:  apperrors.NewProviderAuthError("bad", nil),
		},
	}}

	engine := newEngine(wallets, positions, registry)
	for _, id := range []string{"a", "b", "c"} {
		_ = engine.SyncWallet(context.Background(), id)
	}

	if state, ok := positions.get("a", "BTC", ""); !ok || !state.amount.Equal(dec("1")) {
		t.Errorf("wallet a not synced: %+v", state)
	}
	if state, ok := positions.get("c", "ETH", ""); !ok || !state.amount.Equal(dec("3")) {
		t.Errorf("wallet c not synced: %+v", state)
	}
	stored, _ := wallets.Get(context.Background(), "b")
	if stored.SyncState != models.SyncStateError {
		t.Errorf("wallet b state = %s, want ERROR", stored.SyncState)
	}
}

func TestSyncWalletConcurrentGuard(t *testing.T) {
	wallet := exchangeWallet("w1", "u1", "binance")
	wallets := newMockWalletStore(wallet)
	positions := newMockPositionStore()
	block := make(chan struct{})
	registry := &mockRegistry{providers: map[string]provider.Provider{
		"binance": &mockProvider{
			name:  "binance",
			block: block,
			balances: map[string][]provider.Balance{
				"w1-key": {{Symbol: "BTC", Amount: dec("1")}},
			},
		},
	}}

	engine := newEngine(wallets, positions, registry)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- engine.SyncWallet(context.Background(), "w1")
	}()

	// Wait for the first sync to reach the provider call.
	deadline := time.After(time.Second)
	for {
		p := registry.providers["binance"].(*mockProvider)
		p.mu.Lock()
		started := p.calls > 0
		p.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first sync never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := engine.SyncWallet(context.Background(), "w1"); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("second sync error = %v, want ErrSyncInProgress", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	if positions.applies != 1 {
		t.Errorf("snapshot applied %d times, want 1", positions.applies)
	}
}

func TestSyncWalletManualIsNoOp(t *testing.T) {
	wallet := &models.Wallet{ID: "m1", UserID: "u1", Kind: models.WalletKindManual, SyncState: models.SyncStateNeverSynced}
	wallets := newMockWalletStore(wallet)
	positions := newMockPositionStore()
	engine := newEngine(wallets, positions, &mockRegistry{providers: map[string]provider.Provider{}})

	if err := engine.SyncWallet(context.Background(), "m1"); err != nil {
		t.Fatalf("manual sync must be a no-op, got %v", err)
	}
	if positions.applies != 0 {
		t.Error("manual sync must not touch positions")
	}
}

func TestSyncWalletRefusesDeactivated(t *testing.T) {
	wallet := exchangeWallet("w1", "u1", "binance")
	wallet.SyncState = models.SyncStateDeactivated
	wallets := newMockWalletStore(wallet)
	engine := newEngine(wallets, newMockPositionStore(), &mockRegistry{providers: map[string]provider.Provider{}})

	err := engine.SyncWallet(context.Background(), "w1")
	if err == nil {
		t.Fatal("expected deactivated wallet sync to be refused")
	}
	if apperrors.Categorize(err).Category != apperrors.CategoryConflict {
		t.Errorf("expected conflict error, got %v", err)
	}
}

func TestNormalizeBalancesMergesDuplicates(t *testing.T) {
	entries := normalizeBalances([]provider.Balance{
		{Symbol: "USDC", Amount: dec("10"), TokenAddress: "0xa0b8"},
		{Symbol: "USDC", Amount: dec("5"), TokenAddress: "0xa0b8"},
		{Symbol: "USDC", Amount: dec("7")}, // native slot, distinct key
		{Symbol: "BAD", Amount: dec("-1")},
	})

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	// Sorted by symbol then address: USDC "" before USDC "0xa0b8".
	if !entries[0].Amount.Equal(dec("7")) || entries[0].TokenAddress != "" {
		t.Errorf("entry 0 = %+v, want native USDC 7", entries[0])
	}
	if !entries[1].Amount.Equal(dec("15")) || entries[1].TokenAddress != "0xa0b8" {
		t.Errorf("entry 1 = %+v, want token USDC 15", entries[1])
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
