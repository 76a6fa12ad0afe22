// Package config provides configuration management for the portfolio tracker.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Providers ProvidersConfig
	Prices    PricesConfig
	Vault     VaultConfig
	Sync      SyncConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Postgres   PostgresConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration for the ledger history mirror.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	Enabled  bool
}

// ProvidersConfig holds external data source configuration.
type ProvidersConfig struct {
	EVMRPCs        map[string]string // chain name -> RPC endpoint
	TokenAPIURL    string            // explorer-style token enumeration API
	TokenAPIKey    string
	SolanaRPCURL   string
	BitcoinAPIURL  string
	BinanceAPIURL  string
	CoinbaseAPIURL string
	BankAPIURL     string
	BankAPIKey     string
	RequestTimeout time.Duration
}

// PricesConfig holds price oracle configuration.
type PricesConfig struct {
	APIURL        string
	CacheTTL      time.Duration
	MaxParallel   int
	QuoteCurrency string
}

// VaultConfig holds credential encryption configuration.
type VaultConfig struct {
	MasterKey string
}

// SyncConfig holds scheduler and sync engine configuration.
type SyncConfig struct {
	ResyncSchedule    string // cron expression for the full wallet resync
	RecurringSchedule string // cron expression for the daily recurring-ledger scan
	BudgetSchedule    string // cron expression for the budget threshold check
	Workers           int    // global worker pool size
	PerUserRPS        float64
	PerUserBurst      int
	MaxRetries        int
	WalletTimeout     time.Duration
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// Load loads configuration from a .env file and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio_tracker"),
				User:           getEnv("POSTGRES_USER", "tracker"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "portfolio_tracker"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
			},
		},
		Providers: ProvidersConfig{
			EVMRPCs:        loadEVMRPCs(),
			TokenAPIURL:    getEnv("TOKEN_API_URL", "https://api.ethplorer.io"),
			TokenAPIKey:    getEnv("TOKEN_API_KEY", "freekey"),
			SolanaRPCURL:   getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
			BitcoinAPIURL:  getEnv("BITCOIN_API_URL", "https://blockchain.info"),
			BinanceAPIURL:  getEnv("BINANCE_API_URL", "https://api.binance.com"),
			CoinbaseAPIURL: getEnv("COINBASE_API_URL", "https://api.coinbase.com/v2"),
			BankAPIURL:     getEnv("BANK_API_URL", "https://api.withmono.com"),
			BankAPIKey:     getEnv("BANK_API_KEY", ""),
			RequestTimeout: getEnvAsDuration("PROVIDER_TIMEOUT", 15*time.Second),
		},
		Prices: PricesConfig{
			APIURL:        getEnv("PRICE_API_URL", "https://api.coingecko.com/api/v3"),
			CacheTTL:      getEnvAsDuration("PRICE_CACHE_TTL", 60*time.Second),
			MaxParallel:   getEnvAsInt("PRICE_MAX_PARALLEL", 8),
			QuoteCurrency: getEnv("PRICE_QUOTE_CURRENCY", "usd"),
		},
		Vault: VaultConfig{
			MasterKey: getEnv("VAULT_MASTER_KEY", ""),
		},
		Sync: SyncConfig{
			ResyncSchedule:    getEnv("SYNC_RESYNC_SCHEDULE", "*/15 * * * *"),
			RecurringSchedule: getEnv("SYNC_RECURRING_SCHEDULE", "0 0 * * *"),
			BudgetSchedule:    getEnv("SYNC_BUDGET_SCHEDULE", "0 */6 * * *"),
			Workers:           getEnvAsInt("SYNC_WORKERS", 10),
			PerUserRPS:        getEnvAsFloat("SYNC_PER_USER_RPS", 1.0),
			PerUserBurst:      getEnvAsInt("SYNC_PER_USER_BURST", 5),
			MaxRetries:        getEnvAsInt("SYNC_MAX_RETRIES", 3),
			WalletTimeout:     getEnvAsDuration("SYNC_WALLET_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvAsBool("LOG_PRETTY", false),
		},
	}

	if cfg.Vault.MasterKey == "" {
		return nil, fmt.Errorf("VAULT_MASTER_KEY must be set")
	}

	return cfg, nil
}

// loadEVMRPCs loads RPC endpoints for the enabled EVM chains.
func loadEVMRPCs() map[string]string {
	enabled := strings.Split(getEnv("EVM_CHAINS", "ethereum,polygon,arbitrum,optimism,base"), ",")

	rpcs := make(map[string]string)
	for _, chain := range enabled {
		chain = strings.TrimSpace(chain)
		if chain == "" {
			continue
		}
		prefix := strings.ToUpper(chain)
		if url := getEnv(prefix+"_RPC_URL", ""); url != "" {
			rpcs[chain] = url
		}
	}
	return rpcs
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
