package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/portfolio-tracker/internal/api"
	"github.com/portfolio-tracker/internal/circuitbreaker"
	"github.com/portfolio-tracker/internal/config"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/prices"
	"github.com/portfolio-tracker/internal/provider"
	"github.com/portfolio-tracker/internal/scheduler"
	"github.com/portfolio-tracker/internal/service"
	"github.com/portfolio-tracker/internal/storage"
	"github.com/portfolio-tracker/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println("failed to load config:", err.Error())
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	logger.Info().Msg("starting portfolio tracker")

	pg, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("connecting to postgres failed")
	}
	defer pg.Close()

	redisCache, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("connecting to redis failed")
	}
	defer redisCache.Close()

	credVault, err := vault.New(cfg.Vault.MasterKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("initializing credential vault failed")
	}

	breakers := circuitbreaker.NewManager(logger)
	registry := provider.NewRegistry(cfg.Providers, breakers)

	oracle := prices.New(prices.Config{
		APIURL:      cfg.Prices.APIURL,
		Quote:       cfg.Prices.QuoteCurrency,
		CacheTTL:    cfg.Prices.CacheTTL,
		MaxParallel: cfg.Prices.MaxParallel,
	}, redisCache.Client(), logger)

	walletRepo := storage.NewWalletRepository(pg)
	positionRepo := storage.NewPositionRepository(pg)
	ledgerRepo := storage.NewLedgerRepository(pg)
	budgetRepo := storage.NewBudgetRepository(pg)

	// The ClickHouse mirror is optional. Without it the ledger still works;
	// only the history endpoint is off.
	var historyMirror service.HistoryMirror
	var historyReader api.HistoryReader
	var historyRepo *storage.HistoryRepository
	if cfg.Database.ClickHouse.Enabled {
		ch, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.Fatal().Err(err).Msg("connecting to clickhouse failed")
		}
		defer ch.Close()
		if err := ch.EnsureSchema(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("preparing clickhouse schema failed")
		}
		historyRepo = storage.NewHistoryRepository(ch, logger)
		historyMirror = historyRepo
		historyReader = historyRepo
	}

	syncEngine := service.NewSyncEngine(walletRepo, positionRepo, credVault, registry, cfg.Sync.WalletTimeout, logger)
	walletService := service.NewWalletService(walletRepo, credVault, registry, logger)
	ledgerService := service.NewLedgerService(ledgerRepo, walletRepo, historyMirror, logger)
	portfolioService := service.NewPortfolioService(positionRepo, oracle, logger)
	budgetService := service.NewBudgetService(budgetRepo, ledgerRepo, nil, logger)

	sched := scheduler.New(cfg.Sync, syncEngine, ledgerService, budgetService, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal().Err(err).Msg("starting scheduler failed")
	}

	server := api.NewServer(cfg.Server, api.Deps{
		Wallets:   walletService,
		Syncer:    syncEngine,
		Ledger:    ledgerService,
		Portfolio: portfolioService,
		Budgets:   budgetService,
		History:   historyReader,
	}, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	sched.Stop()
	if historyRepo != nil {
		historyRepo.Close()
	}
	logger.Info().Msg("stopped")
}
