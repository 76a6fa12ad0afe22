package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/storage"
)

// LedgerStore is the ledger persistence surface.
type LedgerStore interface {
	Create(ctx context.Context, entry *models.LedgerEntry) error
	CreateBuy(ctx context.Context, entry *models.LedgerEntry) error
	List(ctx context.Context, filter storage.ListFilter) ([]*models.LedgerEntry, error)
	ListDueRecurring(ctx context.Context, asOf time.Time) ([]*models.LedgerEntry, error)
	MaterializeRecurring(ctx context.Context, template, concrete *models.LedgerEntry, nextRunAt time.Time) error
}

// HistoryMirror receives committed entries for the append-only history
// store. Nil-safe wrapper lives in the service so callers can run without
// ClickHouse.
type HistoryMirror interface {
	Record(entry *models.LedgerEntry)
}

// LedgerService validates and records ledger entries and owns the cost basis
// rules: a priced BUY adds its amount to the position and reweights the
// average atomically with the insert; every other entry type leaves
// positions alone.
type LedgerService struct {
	ledger  LedgerStore
	wallets WalletStore
	history HistoryMirror
	logger  zerolog.Logger
}

// NewLedgerService creates a ledger service. history may be nil.
func NewLedgerService(ledger LedgerStore, wallets WalletStore, history HistoryMirror, logger zerolog.Logger) *LedgerService {
	return &LedgerService{
		ledger:  ledger,
		wallets: wallets,
		history: history,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

// RecordEntry validates and persists an entry.
func (s *LedgerService) RecordEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if err := s.validate(ctx, entry); err != nil {
		return err
	}

	// Derive total value when a price is present.
	if entry.PricePerUnit != nil && entry.TotalValue == nil {
		total := entry.Amount.Mul(*entry.PricePerUnit)
		entry.TotalValue = &total
	}
	if entry.IsRecurring && entry.NextRunAt == nil {
		next := entry.RecurringInterval.NextRun(entry.OccurredAt)
		entry.NextRunAt = &next
	}

	// Recurring templates are plans; only executed BUYs move the average.
	var err error
	if !entry.IsRecurring && entry.AffectsCostBasis() {
		err = s.ledger.CreateBuy(ctx, entry)
	} else {
		err = s.ledger.Create(ctx, entry)
	}
	if err != nil {
		return err
	}

	if s.history != nil && !entry.IsRecurring {
		s.history.Record(entry)
	}
	return nil
}

// List returns entries matching the filter.
func (s *LedgerService) List(ctx context.Context, filter storage.ListFilter) ([]*models.LedgerEntry, error) {
	if filter.UserID == "" {
		return nil, apperrors.NewValidationError("userId", "required")
	}
	return s.ledger.List(ctx, filter)
}

// DueRecurring returns recurring templates whose next occurrence is due.
func (s *LedgerService) DueRecurring(ctx context.Context, asOf time.Time) ([]*models.LedgerEntry, error) {
	return s.ledger.ListDueRecurring(ctx, asOf)
}

// MaterializeRecurring turns one due template occurrence into a concrete
// entry and advances the template's schedule. Materialized entries are plain
// inserts: a recurring BUY's price is a plan, not an execution, so it never
// moves the average cost.
func (s *LedgerService) MaterializeRecurring(ctx context.Context, template *models.LedgerEntry, now time.Time) error {
	if !template.IsRecurring || template.RecurringInterval == nil || template.NextRunAt == nil {
		return apperrors.NewValidationError("entry", "not a due recurring template")
	}

	occurredAt := *template.NextRunAt
	concrete := &models.LedgerEntry{
		UserID:       template.UserID,
		WalletID:     template.WalletID,
		Type:         template.Type,
		TokenSymbol:  template.TokenSymbol,
		TokenAddress: template.TokenAddress,
		Amount:       template.Amount,
		PricePerUnit: template.PricePerUnit,
		TotalValue:   template.TotalValue,
		Note:         template.Note,
		OccurredAt:   occurredAt,
	}
	if concrete.PricePerUnit != nil && concrete.TotalValue == nil {
		total := concrete.Amount.Mul(*concrete.PricePerUnit)
		concrete.TotalValue = &total
	}

	// Catch up schedules that fell behind without emitting one entry per
	// missed period; the next run lands in the future.
	nextRunAt := template.RecurringInterval.NextRun(occurredAt)
	for !nextRunAt.After(now) {
		nextRunAt = template.RecurringInterval.NextRun(nextRunAt)
	}

	if err := s.ledger.MaterializeRecurring(ctx, template, concrete, nextRunAt); err != nil {
		return err
	}
	if s.history != nil {
		s.history.Record(concrete)
	}
	s.logger.Info().
		Str("template", template.ID).
		Str("user", template.UserID).
		Time("occurred_at", occurredAt).
		Msg("recurring entry materialized")
	return nil
}

func (s *LedgerService) validate(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.UserID == "" {
		return apperrors.NewValidationError("userId", "required")
	}
	if !entry.Type.Valid() {
		return apperrors.NewValidationError("type", "unknown entry type")
	}
	if entry.TokenSymbol == "" {
		return apperrors.NewValidationError("tokenSymbol", "required")
	}
	if entry.Amount.Sign() <= 0 {
		return apperrors.NewValidationError("amount", "must be positive")
	}
	if entry.PricePerUnit != nil && entry.PricePerUnit.Sign() < 0 {
		return apperrors.NewValidationError("pricePerUnit", "must not be negative")
	}
	if entry.OccurredAt.IsZero() {
		return apperrors.NewValidationError("occurredAt", "required")
	}
	if entry.IsRecurring {
		if entry.RecurringInterval == nil || !entry.RecurringInterval.Valid() {
			return apperrors.NewValidationError("recurringInterval", "required for recurring entries")
		}
	}

	wallet, err := s.wallets.Get(ctx, entry.WalletID)
	if err != nil {
		return err
	}
	if wallet.UserID != entry.UserID {
		return apperrors.NewNotFoundError("wallet", entry.WalletID)
	}
	if wallet.SyncState == models.SyncStateDeactivated {
		return apperrors.NewConflictError("wallet is deactivated")
	}
	return nil
}
