package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"quantlab/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS run_results (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	strategy      TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	start_date    INTEGER NOT NULL,
	end_date      INTEGER NOT NULL,
	initial_cash  REAL NOT NULL,
	final_value   REAL NOT NULL,
	total_return  REAL NOT NULL,
	sharpe_ratio  REAL NOT NULL,
	max_drawdown  REAL NOT NULL,
	num_trades    INTEGER NOT NULL,
	win_rate      REAL NOT NULL,
	profit_factor REAL NOT NULL,
	created_at    INTEGER NOT NULL,
	payload       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_results_created ON run_results(created_at);
CREATE INDEX IF NOT EXISTS idx_run_results_strategy ON run_results(strategy, symbol);
`

// SQLiteStore implements ResultStore backed by a SQLite database. Summary
// columns are queryable; the full result is kept as a JSON payload.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers from concurrent runs.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult inserts or replaces a result keyed by its ID.
func (s *SQLiteStore) SaveResult(ctx context.Context, r *domain.RunResult) error {
	if r.ID == "" {
		return errors.New("saving result without id")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_results (
			id, name, strategy, symbol, start_date, end_date,
			initial_cash, final_value, total_return, sharpe_ratio, max_drawdown,
			num_trades, win_rate, profit_factor, created_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Strategy, r.Symbol, r.Start.UnixMilli(), r.End.UnixMilli(),
		r.InitialCash, r.FinalValue, r.TotalReturn, r.SharpeRatio, r.MaxDrawdown,
		r.NumTrades, r.WinRate, r.ProfitFactor, r.CreatedAt.UnixMilli(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("saving result %s: %w", r.ID, err)
	}
	return nil
}

// GetResult retrieves a full result by ID.
func (s *SQLiteStore) GetResult(ctx context.Context, id string) (*domain.RunResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM run_results WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var r domain.RunResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("decoding result %s: %w", id, err)
	}
	return &r, nil
}

// ListResults returns result summaries, newest first.
func (s *SQLiteStore) ListResults(ctx context.Context, limit int) ([]ResultSummary, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, strategy, symbol, total_return, sharpe_ratio,
		       max_drawdown, num_trades, created_at
		FROM run_results
		ORDER BY created_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultSummary
	for rows.Next() {
		var (
			rs      ResultSummary
			created int64
		)
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.Strategy, &rs.Symbol, &rs.TotalReturn,
			&rs.SharpeRatio, &rs.MaxDrawdown, &rs.NumTrades, &created); err != nil {
			return nil, err
		}
		rs.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, rs)
	}
	return out, rows.Err()
}
