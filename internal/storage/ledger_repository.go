package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
)

// LedgerRepository handles the append-only ledger. Entries are never updated
// or deleted except for the scheduling fields of recurring templates.
type LedgerRepository struct {
	db *PostgresDB
}

// NewLedgerRepository creates a ledger repository.
func NewLedgerRepository(db *PostgresDB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `
	id, user_id, wallet_id, type, token_symbol, token_address,
	amount::text, price_per_unit::text, total_value::text, note, occurred_at,
	is_recurring, recurring_interval, last_processed_at, next_run_at, created_at`

// Create inserts a ledger entry without touching positions.
func (r *LedgerRepository) Create(ctx context.Context, entry *models.LedgerEntry) error {
	if err := r.insert(ctx, r.db.Pool(), entry); err != nil {
		return apperrors.NewDatabaseError("ledger create", err)
	}
	return nil
}

// CreateBuy inserts a priced BUY entry and folds it into the position in one
// transaction: the purchased amount is added to the holding and the average
// cost reweights. A first buy creates the position outright, which is the
// only way manual wallets accumulate balances.
func (r *LedgerRepository) CreateBuy(ctx context.Context, entry *models.LedgerEntry) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("buy begin", err)
	}
	defer tx.Rollback(ctx)

	if err := r.insert(ctx, tx, entry); err != nil {
		return apperrors.NewDatabaseError("buy insert", err)
	}

	now := time.Now().UTC()

	// Lock the position row for the read-modify-write of the average.
	var amountStr, avgStr string
	err = tx.QueryRow(ctx, `
		SELECT amount::text, average_cost::text
		FROM asset_positions
		WHERE wallet_id = $1 AND token_symbol = $2 AND token_address = $3
		FOR UPDATE
	`, entry.WalletID, entry.TokenSymbol, entry.TokenAddress).Scan(&amountStr, &avgStr)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx, `
			INSERT INTO asset_positions (id, wallet_id, token_symbol, token_address, amount, average_cost, updated_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		`, uuid.NewString(), entry.WalletID, entry.TokenSymbol, entry.TokenAddress,
			entry.Amount.String(), entry.PricePerUnit.String(), now)
		if err != nil {
			return apperrors.NewDatabaseError("buy position insert", err)
		}
	case err != nil:
		return apperrors.NewDatabaseError("buy position lock", err)
	default:
		oldAmount, parseErr := decimal.NewFromString(amountStr)
		if parseErr != nil {
			return apperrors.NewDatabaseError("buy amount parse", parseErr)
		}
		oldAvg, parseErr := decimal.NewFromString(avgStr)
		if parseErr != nil {
			return apperrors.NewDatabaseError("buy cost parse", parseErr)
		}
		newAvg := models.NextAverageCost(oldAmount, oldAvg, entry.Amount, *entry.PricePerUnit)
		newAmount := oldAmount.Add(entry.Amount)
		_, err = tx.Exec(ctx, `
			UPDATE asset_positions
			SET amount = $4::numeric, average_cost = $5::numeric, updated_at = $6
			WHERE wallet_id = $1 AND token_symbol = $2 AND token_address = $3
		`, entry.WalletID, entry.TokenSymbol, entry.TokenAddress, newAmount.String(), newAvg.String(), now)
		if err != nil {
			return apperrors.NewDatabaseError("buy position update", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError("buy commit", err)
	}
	return nil
}

// pgxExecer is satisfied by both *pgxpool.Pool and pgx.Tx so inserts can run
// standalone or inside a transaction.
type pgxExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (r *LedgerRepository) insert(ctx context.Context, q pgxExecer, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var price, total *string
	if entry.PricePerUnit != nil {
		s := entry.PricePerUnit.String()
		price = &s
	}
	if entry.TotalValue != nil {
		s := entry.TotalValue.String()
		total = &s
	}

	_, err := q.Exec(ctx, `
		INSERT INTO ledger_entries (
			id, user_id, wallet_id, type, token_symbol, token_address,
			amount, price_per_unit, total_value, note, occurred_at,
			is_recurring, recurring_interval, last_processed_at, next_run_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, $10, $11, $12, $13, $14, $15, $16)
	`,
		entry.ID, entry.UserID, entry.WalletID, entry.Type, entry.TokenSymbol, entry.TokenAddress,
		entry.Amount.String(), price, total, entry.Note, entry.OccurredAt,
		entry.IsRecurring, entry.RecurringInterval, entry.LastProcessedAt, entry.NextRunAt, entry.CreatedAt,
	)
	return err
}

// ListFilter narrows ledger queries. Zero values mean "no constraint".
type ListFilter struct {
	UserID      string
	WalletID    string
	TokenSymbol string
	Type        models.EntryType
	Since       time.Time
	Until       time.Time
	Limit       int
}

// List retrieves ledger entries matching the filter, newest first.
func (r *LedgerRepository) List(ctx context.Context, filter ListFilter) ([]*models.LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE user_id = $1`
	args := []any{filter.UserID}

	if filter.WalletID != "" {
		args = append(args, filter.WalletID)
		query += ` AND wallet_id = $` + strconv.Itoa(len(args))
	}
	if filter.TokenSymbol != "" {
		args = append(args, filter.TokenSymbol)
		query += ` AND token_symbol = $` + strconv.Itoa(len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += ` AND occurred_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until)
		query += ` AND occurred_at < $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY occurred_at DESC, created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("ledger list", err)
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

// ListDueRecurring retrieves recurring templates whose next run is due.
func (r *LedgerRepository) ListDueRecurring(ctx context.Context, asOf time.Time) ([]*models.LedgerEntry, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE is_recurring = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at
	`, asOf)
	if err != nil {
		return nil, apperrors.NewDatabaseError("ledger list due recurring", err)
	}
	defer rows.Close()
	return scanLedgerEntries(rows)
}

// MaterializeRecurring inserts the concrete entry produced from a recurring
// template and advances the template's schedule, atomically. The guard on
// next_run_at makes concurrent materialization of the same occurrence a
// no-op for the loser.
func (r *LedgerRepository) MaterializeRecurring(ctx context.Context, template *models.LedgerEntry, concrete *models.LedgerEntry, nextRunAt time.Time) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return apperrors.NewDatabaseError("recurring begin", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE ledger_entries
		SET last_processed_at = $2, next_run_at = $3
		WHERE id = $1 AND is_recurring = TRUE AND next_run_at = $4
	`, template.ID, now, nextRunAt, template.NextRunAt)
	if err != nil {
		return apperrors.NewDatabaseError("recurring advance", err)
	}
	if tag.RowsAffected() == 0 {
		// Someone else already materialized this occurrence.
		return nil
	}

	if err := r.insert(ctx, tx, concrete); err != nil {
		return apperrors.NewDatabaseError("recurring insert", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.NewDatabaseError("recurring commit", err)
	}
	return nil
}

// SumBuyValueSince sums total_value of a user's BUY entries occurring at or
// after since. Used by the budget check.
func (r *LedgerRepository) SumBuyValueSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	var sum string
	err := r.db.Pool().QueryRow(ctx, `
		SELECT COALESCE(SUM(total_value), 0)::text
		FROM ledger_entries
		WHERE user_id = $1 AND type = $2 AND occurred_at >= $3 AND total_value IS NOT NULL
	`, userID, models.EntryTypeBuy, since).Scan(&sum)
	if err != nil {
		return decimal.Zero, apperrors.NewDatabaseError("ledger sum buys", err)
	}
	total, err := decimal.NewFromString(sum)
	if err != nil {
		return decimal.Zero, apperrors.NewDatabaseError("ledger sum parse", err)
	}
	return total, nil
}

func scanLedgerEntries(rows pgx.Rows) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("ledger rows", err)
	}
	return entries, nil
}

func scanLedgerEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	var amount string
	var price, total *string
	err := row.Scan(
		&e.ID, &e.UserID, &e.WalletID, &e.Type, &e.TokenSymbol, &e.TokenAddress,
		&amount, &price, &total, &e.Note, &e.OccurredAt,
		&e.IsRecurring, &e.RecurringInterval, &e.LastProcessedAt, &e.NextRunAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError("ledger scan", err)
	}
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, apperrors.NewDatabaseError("ledger amount parse", err)
	}
	if price != nil {
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, apperrors.NewDatabaseError("ledger price parse", err)
		}
		e.PricePerUnit = &p
	}
	if total != nil {
		v, err := decimal.NewFromString(*total)
		if err != nil {
			return nil, apperrors.NewDatabaseError("ledger total parse", err)
		}
		e.TotalValue = &v
	}
	return &e, nil
}
