// Package store is the SQL gateway of the processor. It owns the
// gp_market_runtime_config table and runs every operation inside a single
// transaction; the scoped-row discovery over foreign tables lives in
// discovery.go.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// RuntimeConfigTable is the only table the processor owns.
const RuntimeConfigTable = "gp_market_runtime_config"

// Store wraps the pooled database connection.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to the database and verifies the connection with a ping.
func Open(databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection; used by tests.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Tx is a transaction-scoped handle passed to the operation executors.
type Tx struct {
	tx     *sqlx.Tx
	logger *zap.Logger
}

// WithinTx runs fn inside one transaction. Any error (or panic) rolls the
// whole transaction back; partial writes are never observable.
func (s *Store) WithinTx(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Tx{tx: tx, logger: s.logger}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Row is one stored record of the runtime-config table.
type Row struct {
	InstanceID string        `db:"instance_id"`
	MarketID   string        `db:"market_id"`
	Section    string        `db:"section"`
	RecordKey  string        `db:"record_key"`
	Data       JSONBDocument `db:"data"`
	CreatedAt  time.Time     `db:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at"`
}

// EnsureRuntimeConfigTable creates the processor's table if it is missing.
// The DDL is idempotent and runs inside the operation transaction.
func (t *Tx) EnsureRuntimeConfigTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + RuntimeConfigTable + ` (
		instance_id TEXT NOT NULL,
		market_id   TEXT NOT NULL,
		section     TEXT NOT NULL,
		record_key  TEXT NOT NULL,
		data        JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (instance_id, market_id, section, record_key)
	)`
	if _, err := t.tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure %s: %w", RuntimeConfigTable, err)
	}
	return nil
}

// UpsertRow inserts or replaces one stored record.
func (t *Tx) UpsertRow(ctx context.Context, row Row) error {
	query := `INSERT INTO ` + RuntimeConfigTable + `
		(instance_id, market_id, section, record_key, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (instance_id, market_id, section, record_key)
		DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if _, err := t.tx.ExecContext(ctx, query,
		row.InstanceID, row.MarketID, row.Section, row.RecordKey, row.Data); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", row.Section, row.RecordKey, err)
	}
	return nil
}

// GetRow fetches one stored record, or nil when it does not exist.
func (t *Tx) GetRow(ctx context.Context, instanceID, marketID, section, recordKey string) (*Row, error) {
	query := `SELECT instance_id, market_id, section, record_key, data, created_at, updated_at
		FROM ` + RuntimeConfigTable + `
		WHERE instance_id = $1 AND market_id = $2 AND section = $3 AND record_key = $4`
	var row Row
	err := t.tx.GetContext(ctx, &row, query, instanceID, marketID, section, recordKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", section, recordKey, err)
	}
	return &row, nil
}

// ListRows returns every stored record for the market ordered by section and
// record key.
func (t *Tx) ListRows(ctx context.Context, instanceID, marketID string) ([]Row, error) {
	query := `SELECT instance_id, market_id, section, record_key, data, created_at, updated_at
		FROM ` + RuntimeConfigTable + `
		WHERE instance_id = $1 AND market_id = $2
		ORDER BY section, record_key`
	var rows []Row
	if err := t.tx.SelectContext(ctx, &rows, query, instanceID, marketID); err != nil {
		return nil, fmt.Errorf("failed to list stored rows: %w", err)
	}
	return rows, nil
}

// CountRows returns the number of stored records for the market.
func (t *Tx) CountRows(ctx context.Context, instanceID, marketID string) (int64, error) {
	query := `SELECT count(*) FROM ` + RuntimeConfigTable + `
		WHERE instance_id = $1 AND market_id = $2`
	var count int64
	if err := t.tx.GetContext(ctx, &count, query, instanceID, marketID); err != nil {
		return 0, fmt.Errorf("failed to count stored rows: %w", err)
	}
	return count, nil
}

// DeleteRows removes every stored record for the market and returns how many
// were deleted.
func (t *Tx) DeleteRows(ctx context.Context, instanceID, marketID string) (int64, error) {
	query := `DELETE FROM ` + RuntimeConfigTable + `
		WHERE instance_id = $1 AND market_id = $2`
	res, err := t.tx.ExecContext(ctx, query, instanceID, marketID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stored rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	return n, nil
}
