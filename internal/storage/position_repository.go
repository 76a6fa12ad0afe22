package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
)

// PositionRepository handles asset position persistence. Positions are keyed
// by (wallet_id, token_symbol, token_address); token_address is the empty
// string for native coins so the unique index never sees NULL.
type PositionRepository struct {
	db *PostgresDB
}

// NewPositionRepository creates a position repository.
func NewPositionRepository(db *PostgresDB) *PositionRepository {
	return &PositionRepository{db: db}
}

// SnapshotEntry is one asset amount inside a full provider snapshot.
type SnapshotEntry struct {
	TokenSymbol  string
	TokenAddress string
	Amount       decimal.Decimal
}

// ApplySnapshot replaces a wallet's position amounts with a full provider
// snapshot in one transaction. Keys present in the snapshot are upserted,
// keys absent from it are zeroed (not deleted, so average cost survives a
// transient empty balance), and the wallet's sync fields are updated in the
// same transaction. Interrupting the sync anywhere leaves the previous
// positions fully intact.
func (r *PositionRepository) ApplySnapshot(ctx context.Context, walletID string, entries []SnapshotEntry, syncedAt time.Time) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("snapshot begin", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()

	for _, entry := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO asset_positions (id, wallet_id, token_symbol, token_address, amount, average_cost, updated_at)
			VALUES ($1, $2, $3, $4, $5::numeric, 0, $6)
			ON CONFLICT (wallet_id, token_symbol, token_address)
			DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at
		`, uuid.NewString(), walletID, entry.TokenSymbol, entry.TokenAddress, entry.Amount.String(), now)
		if err != nil {
			return apperrors.NewDatabaseError("snapshot upsert", err)
		}
	}

	// Zero out assets the provider no longer reports.
	if err := zeroAbsentPositions(ctx, tx, walletID, entries, now); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallets
		SET sync_state = $2, last_synced_at = $3, last_sync_error = NULL, updated_at = $4
		WHERE id = $1
	`, walletID, models.SyncStateSynced, syncedAt, now)
	if err != nil {
		return apperrors.NewDatabaseError("snapshot wallet update", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError("snapshot commit", err)
	}
	return nil
}

func zeroAbsentPositions(ctx context.Context, tx pgx.Tx, walletID string, entries []SnapshotEntry, now time.Time) error {
	symbols := make([]string, len(entries))
	addresses := make([]string, len(entries))
	for i, e := range entries {
		symbols[i] = e.TokenSymbol
		addresses[i] = e.TokenAddress
	}

	// (symbol, address) pairs are matched positionally via unnest.
	_, err := tx.Exec(ctx, `
		UPDATE asset_positions
		SET amount = 0, updated_at = $2
		WHERE wallet_id = $1
		  AND amount <> 0
		  AND (token_symbol, token_address) NOT IN (
			SELECT * FROM unnest($3::text[], $4::text[])
		  )
	`, walletID, now, symbols, addresses)
	if err != nil {
		return apperrors.NewDatabaseError("snapshot zero absent", err)
	}
	return nil
}

// ListByWallet retrieves all positions for one wallet.
func (r *PositionRepository) ListByWallet(ctx context.Context, walletID string) ([]*models.AssetPosition, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, wallet_id, token_symbol, token_address, amount::text, average_cost::text, updated_at
		FROM asset_positions
		WHERE wallet_id = $1
		ORDER BY token_symbol
	`, walletID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("position list", err)
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListActiveByUser retrieves non-zero positions across a user's active
// wallets, joined with the wallet name for the portfolio breakdown.
func (r *PositionRepository) ListActiveByUser(ctx context.Context, userID string) ([]*PositionWithWallet, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT p.id, p.wallet_id, p.token_symbol, p.token_address,
		       p.amount::text, p.average_cost::text, p.updated_at, w.name
		FROM asset_positions p
		JOIN wallets w ON w.id = p.wallet_id
		WHERE w.user_id = $1
		  AND w.sync_state <> $2
		  AND p.amount > 0
		ORDER BY p.token_symbol, w.created_at
	`, userID, models.SyncStateDeactivated)
	if err != nil {
		return nil, apperrors.NewDatabaseError("position list active", err)
	}
	defer rows.Close()

	var out []*PositionWithWallet
	for rows.Next() {
		var p PositionWithWallet
		var amount, avgCost string
		err := rows.Scan(
			&p.ID, &p.WalletID, &p.TokenSymbol, &p.TokenAddress,
			&amount, &avgCost, &p.UpdatedAt, &p.WalletName,
		)
		if err != nil {
			return nil, apperrors.NewDatabaseError("position scan", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, apperrors.NewDatabaseError("position amount parse", err)
		}
		if p.AverageCost, err = decimal.NewFromString(avgCost); err != nil {
			return nil, apperrors.NewDatabaseError("position cost parse", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("position rows", err)
	}
	return out, nil
}

// PositionWithWallet is a position annotated with its wallet's name.
type PositionWithWallet struct {
	models.AssetPosition
	WalletName string
}

func scanPositions(rows pgx.Rows) ([]*models.AssetPosition, error) {
	var positions []*models.AssetPosition
	for rows.Next() {
		var p models.AssetPosition
		var amount, avgCost string
		err := rows.Scan(&p.ID, &p.WalletID, &p.TokenSymbol, &p.TokenAddress, &amount, &avgCost, &p.UpdatedAt)
		if err != nil {
			return nil, apperrors.NewDatabaseError("position scan", err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, apperrors.NewDatabaseError("position amount parse", err)
		}
		if p.AverageCost, err = decimal.NewFromString(avgCost); err != nil {
			return nil, apperrors.NewDatabaseError("position cost parse", err)
		}
		positions = append(positions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("position rows", err)
	}
	return positions, nil
}
