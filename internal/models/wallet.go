package models

import (
	"time"
)

// WalletKind identifies which provider family a wallet belongs to.
type WalletKind string

const (
	WalletKindExchange   WalletKind = "EXCHANGE"
	WalletKindBlockchain WalletKind = "BLOCKCHAIN"
	WalletKindBank       WalletKind = "BANK"
	WalletKindManual     WalletKind = "MANUAL"
)

// Valid reports whether the kind is one of the known wallet kinds.
func (k WalletKind) Valid() bool {
	switch k {
	case WalletKindExchange, WalletKindBlockchain, WalletKindBank, WalletKindManual:
		return true
	}
	return false
}

// SyncState is the wallet sync state machine. NEVER_SYNCED moves to SYNCED or
// ERROR; SYNCED and ERROR move between each other; DEACTIVATED is terminal.
type SyncState string

const (
	SyncStateNeverSynced SyncState = "NEVER_SYNCED"
	SyncStateSynced      SyncState = "SYNCED"
	SyncStateError       SyncState = "ERROR"
	SyncStateDeactivated SyncState = "DEACTIVATED"
)

// Wallet represents a connected balance source: an exchange account, an
// on-chain address, a bank connection, or a manual container.
type Wallet struct {
	ID       string     `json:"id" db:"id"`
	UserID   string     `json:"userId" db:"user_id"`
	Name     string     `json:"name" db:"name"`
	Kind     WalletKind `json:"kind" db:"kind"`
	Provider string     `json:"provider" db:"provider"` // binance, coinbase, ethereum, bitcoin, solana, mono, ...

	// Address is set for blockchain wallets; empty otherwise.
	Address string `json:"address,omitempty" db:"address"`
	// Chain is set for blockchain wallets (ethereum, polygon, bitcoin, solana, ...).
	Chain string `json:"chain,omitempty" db:"chain"`

	// EncryptedCredentials is the vault-sealed API secret for exchange and
	// bank wallets. Never serialized to API responses.
	EncryptedCredentials string `json:"-" db:"encrypted_credentials"`

	SyncState     SyncState  `json:"syncState" db:"sync_state"`
	LastSyncedAt  *time.Time `json:"lastSyncedAt,omitempty" db:"last_synced_at"`
	LastSyncError *string    `json:"lastSyncError,omitempty" db:"last_sync_error"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Syncable reports whether the wallet participates in balance sync.
// Manual wallets hold only ledger-derived positions and deactivated wallets
// are excluded from all scheduling.
func (w *Wallet) Syncable() bool {
	return w.Kind != WalletKindManual && w.SyncState != SyncStateDeactivated
}
