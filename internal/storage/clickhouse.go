package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/portfolio-tracker/internal/config"
)

// ClickHouseDB wraps the ClickHouse connection used for the append-only
// ledger history mirror.
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse connection.
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection.
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// historyTableDDL creates the ledger history table. ClickHouse has no
// migration tooling wired here; the table is created idempotently on startup.
const historyTableDDL = `
CREATE TABLE IF NOT EXISTS ledger_history (
    id             String,
    user_id        String,
    wallet_id      String,
    entry_type     LowCardinality(String),
    token_symbol   LowCardinality(String),
    token_address  String,
    amount         Decimal(38, 18),
    price_per_unit Decimal(38, 18),
    total_value    Decimal(38, 18),
    occurred_at    DateTime,
    recorded_at    DateTime DEFAULT now()
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(occurred_at)
ORDER BY (user_id, occurred_at, id)
`

// EnsureSchema creates the history table if it does not exist.
func (db *ClickHouseDB) EnsureSchema(ctx context.Context) error {
	if err := db.conn.Exec(ctx, historyTableDDL); err != nil {
		return fmt.Errorf("failed to create ledger_history table: %w", err)
	}
	return nil
}
