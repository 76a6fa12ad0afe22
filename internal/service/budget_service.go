package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
)

// alertThreshold is the fraction of the monthly limit that triggers an
// alert.
var alertThreshold = decimal.NewFromFloat(0.8)

// BudgetStore is the budget persistence surface.
type BudgetStore interface {
	Upsert(ctx context.Context, budget *models.Budget) error
	GetByUser(ctx context.Context, userID string) (*models.Budget, error)
	ListAll(ctx context.Context) ([]*models.Budget, error)
	MarkAlertSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
}

// BuySummer sums this month's BUY spending.
type BuySummer interface {
	SumBuyValueSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
}

// Alerter delivers budget alerts. The default implementation just logs; a
// mail or push sender can replace it.
type Alerter interface {
	SendBudgetAlert(ctx context.Context, userID string, spent, limit decimal.Decimal)
}

// BudgetService manages monthly budgets and the periodic threshold check.
type BudgetService struct {
	budgets BudgetStore
	ledger  BuySummer
	alerter Alerter
	logger  zerolog.Logger
}

// NewBudgetService creates a budget service. alerter may be nil, in which
// case alerts are only logged.
func NewBudgetService(budgets BudgetStore, ledger BuySummer, alerter Alerter, logger zerolog.Logger) *BudgetService {
	return &BudgetService{
		budgets: budgets,
		ledger:  ledger,
		alerter: alerter,
		logger:  logger.With().Str("component", "budget").Logger(),
	}
}

// SetBudget creates or updates a user's monthly limit.
func (s *BudgetService) SetBudget(ctx context.Context, userID string, limit decimal.Decimal) error {
	if userID == "" {
		return apperrors.NewValidationError("userId", "required")
	}
	if limit.Sign() <= 0 {
		return apperrors.NewValidationError("monthlyLimit", "must be positive")
	}
	return s.budgets.Upsert(ctx, &models.Budget{UserID: userID, MonthlyLimit: limit})
}

// GetBudget returns a user's budget, or nil when none is set.
func (s *BudgetService) GetBudget(ctx context.Context, userID string) (*models.Budget, error) {
	return s.budgets.GetByUser(ctx, userID)
}

// CheckAll runs the threshold check over every budget. A user whose BUY
// spending in the current calendar month reaches 80% of the limit gets one
// alert per month. Failures are isolated per user.
func (s *BudgetService) CheckAll(ctx context.Context, now time.Time) error {
	budgets, err := s.budgets.ListAll(ctx)
	if err != nil {
		return err
	}

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for _, budget := range budgets {
		if err := s.checkOne(ctx, budget, monthStart, now); err != nil {
			s.logger.Warn().Err(err).Str("user", budget.UserID).Msg("budget check failed")
		}
	}
	return nil
}

func (s *BudgetService) checkOne(ctx context.Context, budget *models.Budget, monthStart, now time.Time) error {
	if !budget.AlertDueFor(now) {
		return nil
	}

	spent, err := s.ledger.SumBuyValueSince(ctx, budget.UserID, monthStart)
	if err != nil {
		return err
	}

	threshold := budget.MonthlyLimit.Mul(alertThreshold)
	if spent.LessThan(threshold) {
		return nil
	}

	// MarkAlertSent loses the race if a concurrent check got there first.
	sent, err := s.budgets.MarkAlertSent(ctx, budget.ID, now)
	if err != nil {
		return err
	}
	if !sent {
		return nil
	}

	s.logger.Info().
		Str("user", budget.UserID).
		Str("spent", spent.String()).
		Str("limit", budget.MonthlyLimit.String()).
		Msg("budget threshold alert")
	if s.alerter != nil {
		s.alerter.SendBudgetAlert(ctx, budget.UserID, spent, budget.MonthlyLimit)
	}
	return nil
}
