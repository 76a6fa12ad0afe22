package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
)

// WalletRepository handles wallet persistence.
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a wallet repository.
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

const walletColumns = `
	id, user_id, name, kind, provider, address, chain,
	encrypted_credentials, sync_state, last_synced_at, last_sync_error,
	created_at, updated_at`

// Create inserts a new wallet. The ID is generated if empty.
func (r *WalletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	wallet.CreatedAt = now
	wallet.UpdatedAt = now
	if wallet.SyncState == "" {
		wallet.SyncState = models.SyncStateNeverSynced
	}

	query := `
		INSERT INTO wallets (
			id, user_id, name, kind, provider, address, chain,
			encrypted_credentials, sync_state, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool().Exec(ctx, query,
		wallet.ID,
		wallet.UserID,
		wallet.Name,
		wallet.Kind,
		wallet.Provider,
		wallet.Address,
		wallet.Chain,
		wallet.EncryptedCredentials,
		wallet.SyncState,
		wallet.CreatedAt,
		wallet.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewDatabaseError("wallet create", err)
	}
	return nil
}

// Get retrieves a wallet by ID.
func (r *WalletRepository) Get(ctx context.Context, id string) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	wallet, err := scanWallet(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("wallet", id)
		}
		return nil, apperrors.NewDatabaseError("wallet get", err)
	}
	return wallet, nil
}

// ListByUser retrieves all wallets for a user, newest first.
func (r *WalletRepository) ListByUser(ctx context.Context, userID string) ([]*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("wallet list", err)
	}
	defer rows.Close()
	return scanWallets(rows)
}

// ListSyncable retrieves every wallet that participates in scheduled sync:
// not manual and not deactivated.
func (r *WalletRepository) ListSyncable(ctx context.Context) ([]*models.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE kind <> $1 AND sync_state <> $2
		ORDER BY user_id, created_at
	`
	rows, err := r.db.Pool().Query(ctx, query, models.WalletKindManual, models.SyncStateDeactivated)
	if err != nil {
		return nil, apperrors.NewDatabaseError("wallet list syncable", err)
	}
	defer rows.Close()
	return scanWallets(rows)
}

// FindByAddress finds a user's wallet with the given address on a chain.
// Returns nil when no such wallet exists.
func (r *WalletRepository) FindByAddress(ctx context.Context, userID, chain, address string) (*models.Wallet, error) {
	query := `
		SELECT ` + walletColumns + `
		FROM wallets
		WHERE user_id = $1 AND chain = $2 AND lower(address) = lower($3)
	`
	wallet, err := scanWallet(r.db.Pool().QueryRow(ctx, query, userID, chain, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("wallet find by address", err)
	}
	return wallet, nil
}

// SetSyncState updates only the state machine fields. Used for failure
// recording; the success path updates state inside the snapshot transaction.
func (r *WalletRepository) SetSyncState(ctx context.Context, id string, state models.SyncState, syncError *string) error {
	query := `
		UPDATE wallets
		SET sync_state = $2, last_sync_error = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, state, syncError, time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("wallet set sync state", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("wallet", id)
	}
	return nil
}

// Deactivate moves a wallet into the terminal DEACTIVATED state.
func (r *WalletRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE wallets
		SET sync_state = $2, updated_at = $3
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, models.SyncStateDeactivated, time.Now().UTC())
	if err != nil {
		return apperrors.NewDatabaseError("wallet deactivate", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("wallet", id)
	}
	return nil
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(
		&w.ID, &w.UserID, &w.Name, &w.Kind, &w.Provider, &w.Address, &w.Chain,
		&w.EncryptedCredentials, &w.SyncState, &w.LastSyncedAt, &w.LastSyncError,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanWallets(rows pgx.Rows) ([]*models.Wallet, error) {
	var wallets []*models.Wallet
	for rows.Next() {
		wallet, err := scanWallet(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("wallet scan", err)
		}
		wallets = append(wallets, wallet)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("wallet rows", err)
	}
	return wallets, nil
}
