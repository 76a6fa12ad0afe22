// Package service implements the application core: balance sync, cost basis
// tracking, portfolio aggregation, and budget alerts. Repositories and
// providers are consumed through narrow interfaces defined here.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/provider"
	"github.com/portfolio-tracker/internal/storage"
)

// ErrSyncInProgress is returned when a wallet is already being synced.
var ErrSyncInProgress = errors.New("sync already in progress for wallet")

// WalletStore is the wallet persistence surface the sync engine needs.
type WalletStore interface {
	Get(ctx context.Context, id string) (*models.Wallet, error)
	ListSyncable(ctx context.Context) ([]*models.Wallet, error)
	SetSyncState(ctx context.Context, id string, state models.SyncState, syncError *string) error
}

// PositionStore applies full balance snapshots transactionally.
type PositionStore interface {
	ApplySnapshot(ctx context.Context, walletID string, entries []storage.SnapshotEntry, syncedAt time.Time) error
}

// CredentialVault decrypts stored provider credentials.
type CredentialVault interface {
	Decrypt(ciphertext string) (string, error)
}

// ProviderResolver maps a wallet to its balance source.
type ProviderResolver interface {
	For(wallet *models.Wallet) (provider.Provider, error)
}

// SyncEngine pulls balances from providers and replaces wallet positions
// with the reported snapshot.
type SyncEngine struct {
	wallets   WalletStore
	positions PositionStore
	vault     CredentialVault
	registry  ProviderResolver
	timeout   time.Duration
	logger    zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewSyncEngine creates a sync engine.
func NewSyncEngine(wallets WalletStore, positions PositionStore, vault CredentialVault, registry ProviderResolver, timeout time.Duration, logger zerolog.Logger) *SyncEngine {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &SyncEngine{
		wallets:   wallets,
		positions: positions,
		vault:     vault,
		registry:  registry,
		timeout:   timeout,
		logger:    logger.With().Str("component", "sync_engine").Logger(),
		inFlight:  make(map[string]struct{}),
	}
}

// SyncWallet fetches the wallet's current balances and applies them as a
// full snapshot. Only one sync per wallet runs at a time; a second caller
// gets ErrSyncInProgress instead of queueing. Any failure before the
// snapshot write leaves positions untouched and records the error on the
// wallet.
func (e *SyncEngine) SyncWallet(ctx context.Context, walletID string) error {
	if !e.acquire(walletID) {
		return ErrSyncInProgress
	}
	defer e.release(walletID)

	wallet, err := e.wallets.Get(ctx, walletID)
	if err != nil {
		return err
	}

	if wallet.SyncState == models.SyncStateDeactivated {
		return apperrors.NewConflictError("wallet is deactivated")
	}
	if wallet.Kind == models.WalletKindManual {
		// Manual wallets hold only ledger-recorded positions.
		return nil
	}

	if err := e.syncOnce(ctx, wallet); err != nil {
		e.recordFailure(wallet.ID, err)
		return err
	}

	e.logger.Info().
		Str("wallet", wallet.ID).
		Str("kind", string(wallet.Kind)).
		Msg("wallet synced")
	return nil
}

// SyncAll lists syncable wallets. It exists for the scheduler, which fans
// each wallet out as its own job; the engine itself never loops.
func (e *SyncEngine) SyncAll(ctx context.Context) ([]*models.Wallet, error) {
	return e.wallets.ListSyncable(ctx)
}

func (e *SyncEngine) syncOnce(ctx context.Context, wallet *models.Wallet) error {
	src, err := e.registry.For(wallet)
	if err != nil {
		return err
	}

	creds, err := e.credentialsFor(wallet)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	balances, err := src.GetBalances(ctx, creds)
	if err != nil {
		return err
	}

	entries := normalizeBalances(balances)
	return e.positions.ApplySnapshot(ctx, wallet.ID, entries, time.Now().UTC())
}

// credentialsFor resolves what the provider needs. Blockchain wallets carry
// a public address; exchange and bank wallets carry vault-sealed key
// material.
func (e *SyncEngine) credentialsFor(wallet *models.Wallet) (provider.Credentials, error) {
	if wallet.Kind == models.WalletKindBlockchain {
		return provider.Credentials{Address: wallet.Address}, nil
	}

	if wallet.EncryptedCredentials == "" {
		return provider.Credentials{}, apperrors.NewCredentialError("wallet has no stored credentials", nil)
	}
	plaintext, err := e.vault.Decrypt(wallet.EncryptedCredentials)
	if err != nil {
		return provider.Credentials{}, err
	}
	var creds provider.Credentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return provider.Credentials{}, apperrors.NewCredentialError("stored credentials are unreadable", err)
	}
	return creds, nil
}

func (e *SyncEngine) recordFailure(walletID string, cause error) {
	msg := apperrors.Categorize(cause).Message
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.wallets.SetSyncState(ctx, walletID, models.SyncStateError, &msg); err != nil {
		e.logger.Error().Err(err).Str("wallet", walletID).Msg("recording sync failure failed")
	}
	e.logger.Warn().Err(cause).Str("wallet", walletID).Msg("wallet sync failed")
}

func (e *SyncEngine) acquire(walletID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[walletID]; busy {
		return false
	}
	e.inFlight[walletID] = struct{}{}
	return true
}

func (e *SyncEngine) release(walletID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, walletID)
}

// normalizeBalances drops zero and negative amounts and merges duplicate
// (symbol, tokenAddress) keys by summing. Output order is deterministic.
func normalizeBalances(balances []provider.Balance) []storage.SnapshotEntry {
	type key struct{ symbol, address string }
	merged := make(map[key]storage.SnapshotEntry)

	for _, b := range balances {
		if b.Symbol == "" || b.Amount.Sign() <= 0 {
			continue
		}
		k := key{b.Symbol, b.TokenAddress}
		entry, seen := merged[k]
		if !seen {
			entry = storage.SnapshotEntry{TokenSymbol: b.Symbol, TokenAddress: b.TokenAddress}
		}
		entry.Amount = entry.Amount.Add(b.Amount)
		merged[k] = entry
	}

	entries := make([]storage.SnapshotEntry, 0, len(merged))
	for _, entry := range merged {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TokenSymbol != entries[j].TokenSymbol {
			return entries[i].TokenSymbol < entries[j].TokenSymbol
		}
		return entries[i].TokenAddress < entries[j].TokenAddress
	})
	return entries
}
