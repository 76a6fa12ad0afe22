package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
)

// BudgetRepository handles monthly budget persistence. Each user has at most
// one budget row.
type BudgetRepository struct {
	db *PostgresDB
}

// NewBudgetRepository creates a budget repository.
func NewBudgetRepository(db *PostgresDB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// Upsert creates or replaces a user's budget limit.
func (r *BudgetRepository) Upsert(ctx context.Context, budget *models.Budget) error {
	if budget.ID == "" {
		budget.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO budgets (id, user_id, monthly_limit, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $4)
		ON CONFLICT (user_id)
		DO UPDATE SET monthly_limit = EXCLUDED.monthly_limit, updated_at = EXCLUDED.updated_at
	`, budget.ID, budget.UserID, budget.MonthlyLimit.String(), now)
	if err != nil {
		return apperrors.NewDatabaseError("budget upsert", err)
	}
	return nil
}

// GetByUser retrieves a user's budget. Returns nil when none is set.
func (r *BudgetRepository) GetByUser(ctx context.Context, userID string) (*models.Budget, error) {
	budget, err := scanBudget(r.db.Pool().QueryRow(ctx, `
		SELECT id, user_id, monthly_limit::text, last_alert_sent_at, created_at, updated_at
		FROM budgets WHERE user_id = $1
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("budget get", err)
	}
	return budget, nil
}

// ListAll retrieves every budget for the periodic alert scan.
func (r *BudgetRepository) ListAll(ctx context.Context) ([]*models.Budget, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, monthly_limit::text, last_alert_sent_at, created_at, updated_at
		FROM budgets ORDER BY user_id
	`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("budget list", err)
	}
	defer rows.Close()

	var budgets []*models.Budget
	for rows.Next() {
		budget, err := scanBudget(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("budget scan", err)
		}
		budgets = append(budgets, budget)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("budget rows", err)
	}
	return budgets, nil
}

// MarkAlertSent records that this month's alert went out. The month guard
// keeps concurrent checks from double-sending.
func (r *BudgetRepository) MarkAlertSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE budgets
		SET last_alert_sent_at = $2, updated_at = $2
		WHERE id = $1
		  AND (last_alert_sent_at IS NULL
		       OR date_trunc('month', last_alert_sent_at) < date_trunc('month', $2::timestamptz))
	`, id, sentAt)
	if err != nil {
		return false, apperrors.NewDatabaseError("budget mark alert", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanBudget(row pgx.Row) (*models.Budget, error) {
	var b models.Budget
	var limit string
	err := row.Scan(&b.ID, &b.UserID, &limit, &b.LastAlertSentAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if b.MonthlyLimit, err = decimal.NewFromString(limit); err != nil {
		return nil, err
	}
	return &b, nil
}
