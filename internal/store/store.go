// Package store defines storage interfaces for the bar series that feed
// backtests and for the results they produce.
package store

import (
	"context"
	"errors"
	"time"

	"quantlab/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// ResultStore persists and retrieves completed run results.
type ResultStore interface {
	// SaveResult inserts or replaces a result keyed by its ID.
	SaveResult(ctx context.Context, r *domain.RunResult) error

	// GetResult retrieves a full result by ID, or ErrNotFound.
	GetResult(ctx context.Context, id string) (*domain.RunResult, error)

	// ListResults returns summaries of the most recent results, newest
	// first, up to limit (all when limit <= 0).
	ListResults(ctx context.Context, limit int) ([]ResultSummary, error)
}

// ResultExporter writes a result's trades and equity curve in a columnar
// format for offline analysis.
type ResultExporter interface {
	ExportResult(ctx context.Context, r *domain.RunResult) error
}

// ResultSummary is the listing view of a stored result.
type ResultSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"strategy_name"`
	Strategy    string    `json:"strategy"`
	Symbol      string    `json:"symbol"`
	TotalReturn float64   `json:"total_return"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	MaxDrawdown float64   `json:"max_drawdown"`
	NumTrades   int       `json:"num_trades"`
	CreatedAt   time.Time `json:"created_at"`
}
