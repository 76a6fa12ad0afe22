package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"

	"github.com/portfolio-tracker/internal/config"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/storage"
)

func main() {
	var (
		direction = flag.String("direction", "up", "up, down, or version")
		path      = flag.String("path", "migrations", "path to migration files")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Pretty: true})

	dbURL := postgresURL(&cfg.Database.Postgres)

	switch *direction {
	case "up":
		if err := storage.RunMigrations(dbURL, *path); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations applied")
	case "down":
		if err := storage.RollbackMigrations(dbURL, *path); err != nil {
			logger.Fatal().Err(err).Msg("rollback failed")
		}
		logger.Info().Msg("last migration rolled back")
	case "version":
		version, dirty, err := storage.MigrationVersion(dbURL, *path)
		if err != nil {
			logger.Fatal().Err(err).Msg("reading migration version failed")
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migration status")
	default:
		logger.Fatal().Str("direction", *direction).Msg("unknown direction, use up, down, or version")
	}
}

func postgresURL(cfg *config.PostgresConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)
}
