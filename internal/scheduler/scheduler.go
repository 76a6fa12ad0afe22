package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/portfolio-tracker/internal/config"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/retry"
	"github.com/portfolio-tracker/internal/service"
)

// WalletSyncer lists syncable wallets and syncs one at a time.
type WalletSyncer interface {
	SyncAll(ctx context.Context) ([]*models.Wallet, error)
	SyncWallet(ctx context.Context, walletID string) error
}

// RecurringLedger surfaces due recurring templates and materializes them.
type RecurringLedger interface {
	DueRecurring(ctx context.Context, asOf time.Time) ([]*models.LedgerEntry, error)
	MaterializeRecurring(ctx context.Context, template *models.LedgerEntry, now time.Time) error
}

// BudgetChecker evaluates all budgets against the current month's spend.
type BudgetChecker interface {
	CheckAll(ctx context.Context, now time.Time) error
}

// Scheduler owns the cron triggers and the worker pool behind them.
type Scheduler struct {
	cfg     config.SyncConfig
	cron    *cron.Cron
	pool    *WorkerPool
	syncer  WalletSyncer
	ledger  RecurringLedger
	budgets BudgetChecker
	logger  zerolog.Logger

	cancel context.CancelFunc
}

// New creates a scheduler. Triggers are registered on Start.
func New(cfg config.SyncConfig, syncer WalletSyncer, ledger RecurringLedger, budgets BudgetChecker, logger zerolog.Logger) *Scheduler {
	pool := NewWorkerPool(PoolConfig{
		Workers:      cfg.Workers,
		PerUserRPS:   cfg.PerUserRPS,
		PerUserBurst: cfg.PerUserBurst,
		Retry: retry.Config{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, logger)

	return &Scheduler{
		cfg:     cfg,
		cron:    cron.New(),
		pool:    pool,
		syncer:  syncer,
		ledger:  ledger,
		budgets: budgets,
		logger:  logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the cron triggers and launches the worker pool.
func (s *Scheduler) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if _, err := s.cron.AddFunc(s.cfg.ResyncSchedule, func() { s.runResync(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.RecurringSchedule, func() { s.runRecurring(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.BudgetSchedule, func() { s.runBudgets(ctx) }); err != nil {
		return err
	}

	s.pool.Start(ctx)
	s.cron.Start()
	s.logger.Info().
		Str("resync", s.cfg.ResyncSchedule).
		Str("recurring", s.cfg.RecurringSchedule).
		Str("budget", s.cfg.BudgetSchedule).
		Int("workers", s.cfg.Workers).
		Msg("scheduler started")
	return nil
}

// Stop halts the triggers, drains queued jobs, and waits for in-flight
// work to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.pool.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info().Msg("scheduler stopped")
}

// runResync fans every syncable wallet out as its own job, so one slow or
// failing provider cannot hold up the rest of the fleet.
func (s *Scheduler) runResync(ctx context.Context) {
	wallets, err := s.syncer.SyncAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("listing syncable wallets failed")
		return
	}

	for _, w := range wallets {
		walletID := w.ID
		job := Job{
			Name:   "resync:" + walletID,
			UserID: w.UserID,
			Run: func(ctx context.Context) error {
				err := s.syncer.SyncWallet(ctx, walletID)
				if errors.Is(err, service.ErrSyncInProgress) {
					// A manual sync beat us to it. The snapshot will be
					// just as fresh.
					s.logger.Debug().Str("wallet", walletID).Msg("resync skipped, sync in progress")
					return nil
				}
				return err
			},
		}
		if err := s.pool.Submit(ctx, job); err != nil {
			return
		}
	}
	s.logger.Info().Int("wallets", len(wallets)).Msg("resync scheduled")
}

// runRecurring materializes every due recurring template.
func (s *Scheduler) runRecurring(ctx context.Context) {
	now := time.Now().UTC()
	templates, err := s.ledger.DueRecurring(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("listing due recurring entries failed")
		return
	}

	for _, tmpl := range templates {
		tmpl := tmpl
		job := Job{
			Name:   "recurring:" + tmpl.ID,
			UserID: tmpl.UserID,
			Run: func(ctx context.Context) error {
				return s.ledger.MaterializeRecurring(ctx, tmpl, now)
			},
		}
		if err := s.pool.Submit(ctx, job); err != nil {
			return
		}
	}
	s.logger.Info().Int("templates", len(templates)).Msg("recurring entries scheduled")
}

func (s *Scheduler) runBudgets(ctx context.Context) {
	job := Job{
		Name: "budget-check",
		Run: func(ctx context.Context) error {
			return s.budgets.CheckAll(ctx, time.Now().UTC())
		},
	}
	if err := s.pool.Submit(ctx, job); err != nil {
		s.logger.Error().Err(err).Msg("submitting budget check failed")
	}
}
