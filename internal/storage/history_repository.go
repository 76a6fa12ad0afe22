package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/models"
)

// HistoryRepository mirrors committed ledger entries into ClickHouse for
// cheap full-history reads. Writes are buffered and flushed in batches on a
// timer, off the request path; losing a batch on crash is acceptable because
// Postgres remains the source of truth.
type HistoryRepository struct {
	db     *ClickHouseDB
	logger zerolog.Logger

	mu      sync.Mutex
	pending []*models.LedgerEntry

	flushInterval time.Duration
	batchSize     int
	stop          chan struct{}
	done          chan struct{}
}

// NewHistoryRepository creates the mirror and starts its flush loop.
func NewHistoryRepository(db *ClickHouseDB, logger zerolog.Logger) *HistoryRepository {
	r := &HistoryRepository{
		db:            db,
		logger:        logger.With().Str("component", "ledger_history").Logger(),
		flushInterval: 5 * time.Second,
		batchSize:     500,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Record queues an entry for the next batch. Safe to call after commit from
// any goroutine.
func (r *HistoryRepository) Record(entry *models.LedgerEntry) {
	r.mu.Lock()
	r.pending = append(r.pending, entry)
	full := len(r.pending) >= r.batchSize
	r.mu.Unlock()

	if full {
		r.flush()
	}
}

// ListByUser reads a user's full history from the mirror, oldest first.
func (r *HistoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Conn().Query(ctx, `
		SELECT id, user_id, wallet_id, entry_type, token_symbol, token_address,
		       toString(amount), toString(price_per_unit), toString(total_value), occurred_at
		FROM ledger_history
		WHERE user_id = ?
		ORDER BY occurred_at
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var amount, price, total string
		if err := rows.Scan(&e.ID, &e.UserID, &e.WalletID, &e.Type, &e.TokenSymbol, &e.TokenAddress,
			&amount, &price, &total, &e.OccurredAt); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		if p, perr := decimal.NewFromString(price); perr == nil && !p.IsZero() {
			e.PricePerUnit = &p
		}
		if v, verr := decimal.NewFromString(total); verr == nil && !v.IsZero() {
			e.TotalValue = &v
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close flushes remaining entries and stops the loop.
func (r *HistoryRepository) Close() {
	close(r.stop)
	<-r.done
}

func (r *HistoryRepository) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

func (r *HistoryRepository) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	insert, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO ledger_history (
			id, user_id, wallet_id, entry_type, token_symbol, token_address,
			amount, price_per_unit, total_value, occurred_at
		)`)
	if err != nil {
		r.logger.Error().Err(err).Int("entries", len(batch)).Msg("history batch prepare failed")
		return
	}

	for _, e := range batch {
		price := decimal.Zero
		if e.PricePerUnit != nil {
			price = *e.PricePerUnit
		}
		total := decimal.Zero
		if e.TotalValue != nil {
			total = *e.TotalValue
		}
		if err := insert.Append(
			e.ID, e.UserID, e.WalletID, string(e.Type), e.TokenSymbol, e.TokenAddress,
			e.Amount, price, total, e.OccurredAt,
		); err != nil {
			r.logger.Error().Err(err).Str("entry", e.ID).Msg("history batch append failed")
			return
		}
	}

	if err := insert.Send(); err != nil {
		r.logger.Error().Err(err).Int("entries", len(batch)).Msg("history batch send failed")
		return
	}
	r.logger.Debug().Int("entries", len(batch)).Msg("history batch flushed")
}
