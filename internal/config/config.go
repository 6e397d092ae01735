// Package config loads the backtester configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"quantlab/internal/domain"
)

// Defaults applied by Load when a field is absent.
const (
	DefaultInitialCash   = 100000.0
	DefaultCommission    = 0.001
	DefaultMaxConcurrent = 3
	DefaultTimeout       = 300 * time.Second
	DefaultPath          = "config/backtester.yaml"

	dateLayout = "2006-01-02"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for a backtest batch.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Logging   Logging   `yaml:"logging"`
	Backtest  Backtest  `yaml:"backtest"`
	Telemetry Telemetry `yaml:"telemetry"`
	Runs      []Run     `yaml:"runs"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	ResultsDir string `yaml:"results_dir"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds the account and scheduling parameters shared by every run.
type Backtest struct {
	InitialCash    float64       `yaml:"initial_cash"`
	Commission     float64       `yaml:"commission"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	Timeout        time.Duration `yaml:"timeout"`
	PeriodsPerYear float64       `yaml:"periods_per_year"`
	Market         string        `yaml:"market"`
	StartDate      string        `yaml:"start_date"`
	EndDate        string        `yaml:"end_date"`

	// Optional pre-trade limits; zero disables.
	MaxPositionPct  float64 `yaml:"max_position_pct"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
}

// Telemetry configures run metrics export.
type Telemetry struct {
	// Textfile is a node-exporter textfile path; empty disables export.
	Textfile string `yaml:"textfile"`
}

// Run is one (strategy, symbol, filters, parameters) configuration.
type Run struct {
	Name       string              `yaml:"name"`
	Strategy   string              `yaml:"strategy"`
	Symbol     string              `yaml:"symbol"`
	Parameters map[string]any      `yaml:"parameters"`
	Filters    []domain.FilterSpec `yaml:"filters"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, applies environment variable overrides and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}
	for i := range cfg.Runs {
		cfg.Runs[i].Symbol = strings.ToUpper(cfg.Runs[i].Symbol)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath returns flagPath, else $BACKTESTER_CONFIG, else DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if v := os.Getenv("BACKTESTER_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// defaults returns the configuration used for keys the file leaves out. An
// explicit zero in the file (for example commission: 0) is kept.
func defaults() *Config {
	return &Config{
		Storage: Storage{DataDir: "data"},
		Logging: Logging{Level: "info", Format: "json"},
		Backtest: Backtest{
			InitialCash:   DefaultInitialCash,
			Commission:    DefaultCommission,
			MaxConcurrent: DefaultMaxConcurrent,
			Timeout:       DefaultTimeout,
			Market:        string(domain.MarketUS),
		},
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("BACKTEST_INITIAL_CASH"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: BACKTEST_INITIAL_CASH=%q", domain.ErrConfig, v)
		}
		cfg.Backtest.InitialCash = f
	}

	if v := os.Getenv("BACKTEST_COMMISSION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: BACKTEST_COMMISSION=%q", domain.ErrConfig, v)
		}
		cfg.Backtest.Commission = f
	}

	if v := os.Getenv("BACKTEST_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: BACKTEST_MAX_CONCURRENT=%q", domain.ErrConfig, v)
		}
		cfg.Backtest.MaxConcurrent = n
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports the first malformed field as an ErrConfig.
func (c *Config) Validate() error {
	b := c.Backtest
	if b.InitialCash <= 0 {
		return fmt.Errorf("%w: backtest.initial_cash must be positive, got %v", domain.ErrConfig, b.InitialCash)
	}
	if b.Commission < 0 || b.Commission >= 1 {
		return fmt.Errorf("%w: backtest.commission must be in [0, 1), got %v", domain.ErrConfig, b.Commission)
	}
	if b.MaxConcurrent < 1 {
		return fmt.Errorf("%w: backtest.max_concurrent must be at least 1, got %d", domain.ErrConfig, b.MaxConcurrent)
	}
	if b.Timeout < 0 {
		return fmt.Errorf("%w: backtest.timeout must not be negative", domain.ErrConfig)
	}
	switch domain.Market(b.Market) {
	case domain.MarketUS, domain.MarketCN:
	default:
		return fmt.Errorf("%w: unknown market %q", domain.ErrConfig, b.Market)
	}
	if _, _, err := c.DateRange(); err != nil {
		return err
	}

	for i, r := range c.Runs {
		if r.Strategy == "" {
			return fmt.Errorf("%w: runs[%d]: strategy is required", domain.ErrConfig, i)
		}
		if r.Symbol == "" {
			return fmt.Errorf("%w: runs[%d]: symbol is required", domain.ErrConfig, i)
		}
	}
	return nil
}

// DateRange parses the configured start and end dates. A missing start is
// the zero time and a missing end is the far future, so the bar store
// returns everything it has.
func (c *Config) DateRange() (start, end time.Time, err error) {
	end = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	if s := c.Backtest.StartDate; s != "" {
		if start, err = time.Parse(dateLayout, s); err != nil {
			return start, end, fmt.Errorf("%w: backtest.start_date %q", domain.ErrConfig, s)
		}
	}
	if s := c.Backtest.EndDate; s != "" {
		if end, err = time.Parse(dateLayout, s); err != nil {
			return start, end, fmt.Errorf("%w: backtest.end_date %q", domain.ErrConfig, s)
		}
		// Inclusive of the whole end day.
		end = end.Add(24*time.Hour - time.Nanosecond)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("%w: end_date before start_date", domain.ErrConfig)
	}
	return start, end, nil
}
