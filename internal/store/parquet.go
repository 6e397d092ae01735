package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"quantlab/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ ResultExporter = (*ParquetStore)(nil)

// ParquetStore implements BarStore and ResultExporter using Parquet files on
// disk.
type ParquetStore struct {
	DataDir    string
	ResultsDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data
// directory. Exports go to <dataDir>/results until ResultsDir is set.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{
		DataDir:    dataDir,
		ResultsDir: filepath.Join(dataDir, "results"),
	}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// TradeRecord is the Parquet schema for an exported closed trade.
type TradeRecord struct {
	RunID        string  `parquet:"run_id"`
	TradeID      int64   `parquet:"trade_id"`
	Symbol       string  `parquet:"symbol"`
	Side         string  `parquet:"side"`
	EntryTime    int64   `parquet:"entry_time,timestamp(millisecond)"`
	ExitTime     int64   `parquet:"exit_time,timestamp(millisecond)"`
	EntryPrice   float64 `parquet:"entry_price"`
	ExitPrice    float64 `parquet:"exit_price"`
	Size         float64 `parquet:"size"`
	GrossPnL     float64 `parquet:"gross_pnl"`
	Commission   float64 `parquet:"commission"`
	NetPnL       float64 `parquet:"pnl"`
	ReturnPct    float64 `parquet:"pnl_percent"`
	DurationDays int32   `parquet:"duration_days"`
	EntryReason  string  `parquet:"entry_reason"`
	ExitReason   string  `parquet:"exit_reason"`
}

// EquityRecord is the Parquet schema for an exported equity-curve point.
type EquityRecord struct {
	RunID     string  `parquet:"run_id"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Value     float64 `parquet:"value"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year
// under the "us" market. Use WriteBarsForMarket for other markets.
//
//	<DataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	return s.WriteBarsForMarket(bars, string(domain.MarketUS))
}

// WriteBarsForMarket writes bars to Parquet grouped by symbol and year under
// the given market directory, merging with bars already on disk.
func (s *ParquetStore) WriteBarsForMarket(bars []domain.Bar, market string) error {
	if len(bars) == 0 {
		return nil
	}

	// Group by symbol → year.
	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		sym := strings.ToUpper(b.Symbol)
		k := key{symbol: sym, year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    sym,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.symbol, market, time.Date(k.year, 1, 1, 0, 0, 0, 0, time.UTC))

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time
// range, in ascending timestamp order. Timestamps are returned in UTC.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	years, err := s.barYears(symbol, market)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if year < start.UTC().Year() || year > end.UTC().Year() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := s.barPath(symbol, market, time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC))

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("reading bars %s: %w", path, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			})
		}
	}
	return bars, nil
}

// barYears lists the years that have a bar file for symbol, ascending.
func (s *ParquetStore) barYears(symbol, market string) ([]int, error) {
	dir := filepath.Dir(s.barPath(symbol, market, time.Time{}))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if !ok || e.IsDir() {
			continue
		}
		if y, err := strconv.Atoi(name); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ListSymbols lists all symbols that have bar data in the given market.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.DataDir, market, "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// Result export
// ---------------------------------------------------------------------------

// ExportResult writes the result's trades and equity curve to
//
//	<ResultsDir>/<id>/trades.parquet
//	<ResultsDir>/<id>/equity.parquet
func (s *ParquetStore) ExportResult(_ context.Context, r *domain.RunResult) error {
	if r.ID == "" {
		return errors.New("exporting result without id")
	}

	trades := make([]TradeRecord, len(r.Trades))
	for i, t := range r.Trades {
		trades[i] = TradeRecord{
			RunID:        r.ID,
			TradeID:      int64(t.ID),
			Symbol:       t.Symbol,
			Side:         string(t.Side),
			EntryTime:    t.EntryTime.UnixMilli(),
			ExitTime:     t.ExitTime.UnixMilli(),
			EntryPrice:   t.EntryPrice,
			ExitPrice:    t.ExitPrice,
			Size:         t.Qty,
			GrossPnL:     t.GrossPnL,
			Commission:   t.Commission,
			NetPnL:       t.NetPnL,
			ReturnPct:    t.ReturnPct,
			DurationDays: int32(t.DurationDays),
			EntryReason:  t.EntryReason,
			ExitReason:   t.ExitReason,
		}
	}
	equity := make([]EquityRecord, len(r.EquityCurve))
	for i, p := range r.EquityCurve {
		equity[i] = EquityRecord{RunID: r.ID, Timestamp: p.Timestamp.UnixMilli(), Value: p.Value}
	}

	if err := writeParquetFile(s.resultPath(r.ID, "trades"), trades); err != nil {
		return fmt.Errorf("writing trades for %s: %w", r.ID, err)
	}
	if err := writeParquetFile(s.resultPath(r.ID, "equity"), equity); err != nil {
		return fmt.Errorf("writing equity for %s: %w", r.ID, err)
	}
	return nil
}

// ReadExportedTrades reads back the trades exported for run id.
func (s *ParquetStore) ReadExportedTrades(id string) ([]domain.Trade, error) {
	records, err := readParquetFile[TradeRecord](s.resultPath(id, "trades"))
	if err != nil {
		return nil, err
	}
	trades := make([]domain.Trade, len(records))
	for i, r := range records {
		trades[i] = domain.Trade{
			ID:           int(r.TradeID),
			Symbol:       r.Symbol,
			Side:         domain.PositionSide(r.Side),
			EntryTime:    time.UnixMilli(r.EntryTime).UTC(),
			ExitTime:     time.UnixMilli(r.ExitTime).UTC(),
			EntryPrice:   r.EntryPrice,
			ExitPrice:    r.ExitPrice,
			Qty:          r.Size,
			GrossPnL:     r.GrossPnL,
			Commission:   r.Commission,
			NetPnL:       r.NetPnL,
			ReturnPct:    r.ReturnPct,
			DurationDays: int(r.DurationDays),
			EntryReason:  r.EntryReason,
			ExitReason:   r.ExitReason,
		}
	}
	return trades, nil
}

// ReadExportedEquity reads back the equity curve exported for run id.
func (s *ParquetStore) ReadExportedEquity(id string) ([]domain.EquityPoint, error) {
	records, err := readParquetFile[EquityRecord](s.resultPath(id, "equity"))
	if err != nil {
		return nil, err
	}
	out := make([]domain.EquityPoint, len(records))
	for i, r := range records {
		out[i] = domain.EquityPoint{Timestamp: time.UnixMilli(r.Timestamp).UTC(), Value: r.Value}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/daily/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol, market string, t time.Time) string {
	year := fmt.Sprintf("%d", t.Year())
	return filepath.Join(s.DataDir, market, "daily", strings.ToUpper(symbol), year+".parquet")
}

// resultPath returns the filesystem path for an exported result table.
// Layout: <resultsDir>/<id>/<table>.parquet
func (s *ParquetStore) resultPath(id, table string) string {
	return filepath.Join(s.ResultsDir, id, table+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
