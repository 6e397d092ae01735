package backtest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"quantlab/internal/broker"
	"quantlab/internal/domain"
	"quantlab/internal/strategy"
	"quantlab/internal/strategy/builtins"
	"quantlab/internal/telemetry"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeBars(symbol string, closes ...float64) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: day0.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    int64(1000 * (i + 1)),
		}
	}
	return out
}

// crossSeries declines for 30 bars then rises for 30, so SMA(10) crosses
// above SMA(30) once during the rise.
func crossSeries(symbol string) []domain.Bar {
	var closes []float64
	for i := 0; i < 30; i++ {
		closes = append(closes, 200-float64(i))
	}
	for i := 0; i < 30; i++ {
		closes = append(closes, 171+2*float64(i))
	}
	return makeBars(symbol, closes...)
}

var zeroCommission = broker.Config{InitialCash: 100000}

// counter counts OnBar calls and never trades.
type counter struct {
	strategy.Base
	bars int
}

func (c *counter) Name() string            { return "counter" }
func (c *counter) Init(strategy.Env) error { return nil }
func (c *counter) OnBar(strategy.Env, domain.Bar) ([]domain.OrderRequest, error) {
	c.bars++
	return nil, nil
}

// failing errors on its third bar.
type failing struct {
	strategy.Base
	n int
}

func (f *failing) Name() string            { return "failing" }
func (f *failing) Init(strategy.Env) error { return nil }
func (f *failing) OnBar(strategy.Env, domain.Bar) ([]domain.OrderRequest, error) {
	f.n++
	if f.n == 3 {
		return nil, errors.New("boom")
	}
	return nil, nil
}

func TestRunCrossover(t *testing.T) {
	bars := crossSeries("TEST")
	res, err := Run(context.Background(), builtins.NewSMACross, bars, nil, zeroCommission, Options{
		Strategy: builtins.SMACrossName,
		Params:   strategy.Params{"fast_period": 10, "slow_period": 30, "stake": 100},
		Log:      quietLog(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ID == "" {
		t.Error("result has no ID")
	}
	if res.Name != "sma-cross_TEST" || res.Strategy != "sma-cross" || res.Symbol != "TEST" {
		t.Errorf("identity = %q/%q/%q", res.Name, res.Strategy, res.Symbol)
	}
	if res.FinalValue <= res.InitialCash {
		t.Errorf("FinalValue = %v, want above %v", res.FinalValue, res.InitialCash)
	}
	// The position is still open at the end, so no trade has closed.
	if res.NumTrades != 0 || len(res.OpenPositions) != 1 {
		t.Errorf("NumTrades = %d, open = %d; want 0 closed and 1 open", res.NumTrades, len(res.OpenPositions))
	}
	if res.OpenPositions[0].Qty != 100 {
		t.Errorf("open qty = %v, want 100", res.OpenPositions[0].Qty)
	}
	if res.WonTrades+res.LostTrades != res.NumTrades {
		t.Errorf("won %d + lost %d != %d", res.WonTrades, res.LostTrades, res.NumTrades)
	}
	if len(res.EquityCurve) == 0 || res.EquityCurve[0].Value != res.InitialCash {
		t.Errorf("equity curve starts at %v, want %v", res.EquityCurve, res.InitialCash)
	}
	if !res.Start.Equal(bars[0].Timestamp) || !res.End.Equal(bars[len(bars)-1].Timestamp) {
		t.Errorf("range = %v..%v", res.Start, res.End)
	}
}

func TestRunAppliesFilters(t *testing.T) {
	bars := makeBars("TEST", 95, 101, 99, 102, 98, 103, 97, 104, 96, 100)
	filters := []domain.FilterSpec{
		{Kind: domain.FilterVolume, Operator: ">", Value: 1e9, Enabled: false},
		{Kind: domain.FilterPrice, Operator: ">", Value: 100, Enabled: true},
	}

	c := &counter{}
	res, err := Run(context.Background(), func(strategy.Params) (strategy.Strategy, error) { return c, nil },
		bars, filters, zeroCommission, Options{Log: quietLog()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.bars != 4 {
		t.Errorf("strategy saw %d bars, want 4", c.bars)
	}
	if res.NumBars != 4 {
		t.Errorf("NumBars = %d, want 4", res.NumBars)
	}
	if !res.Start.Equal(bars[1].Timestamp) {
		t.Errorf("Start = %v, want first bar above 100 (%v)", res.Start, bars[1].Timestamp)
	}
	if res.Name != "counter_TEST" {
		t.Errorf("Name = %q, want counter_TEST", res.Name)
	}
	if len(bars) != 10 || bars[0].Close != 95 {
		t.Error("input series modified")
	}
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()
	bars := makeBars("TEST", 100, 101, 102, 103, 104)
	counterFactory := func(strategy.Params) (strategy.Strategy, error) { return &counter{}, nil }
	failingFactory := func(strategy.Params) (strategy.Strategy, error) { return &failing{}, nil }
	nilFactory := func(strategy.Params) (strategy.Strategy, error) { return nil, nil }

	tests := []struct {
		name    string
		factory strategy.Factory
		bars    []domain.Bar
		filters []domain.FilterSpec
		cfg     broker.Config
		params  strategy.Params
		want    error
	}{
		{"empty series", counterFactory, nil, nil, zeroCommission, nil, domain.ErrData},
		{"filtered to nothing", counterFactory, bars,
			[]domain.FilterSpec{{Kind: domain.FilterPrice, Operator: ">", Value: 1000, Enabled: true}},
			zeroCommission, nil, domain.ErrData},
		{"bad account", counterFactory, bars, nil, broker.Config{InitialCash: -1}, nil, domain.ErrConfig},
		{"bad parameters", builtins.NewSMACross, bars, nil, zeroCommission,
			strategy.Params{"fast_period": 30, "slow_period": 10}, domain.ErrConfig},
		{"strategy error", failingFactory, bars, nil, zeroCommission, nil, domain.ErrStrategy},
		{"nil strategy", nilFactory, bars, nil, zeroCommission, nil, domain.ErrStrategy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(ctx, tt.factory, tt.bars, tt.filters, tt.cfg, Options{Params: tt.params, Log: quietLog()})
			if !errors.Is(err, tt.want) {
				t.Errorf("Run error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDisplayNames(t *testing.T) {
	got := DisplayNames([]RunConfig{
		{Strategy: "rsi", Symbol: "aapl"},
		{Strategy: "rsi", Symbol: "AAPL"},
		{Strategy: "sma-cross", Symbol: "AAPL"},
		{Strategy: "rsi", Symbol: "AAPL"},
		{Name: "custom", Strategy: "rsi", Symbol: "AAPL"},
		{Name: "custom", Strategy: "sma-cross", Symbol: "MSFT"},
	})
	want := []string{"rsi_AAPL", "rsi_AAPL_2", "sma-cross_AAPL", "rsi_AAPL_3", "custom", "custom_2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("name[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDisplayNamesSkipExplicitCollisions(t *testing.T) {
	got := DisplayNames([]RunConfig{
		{Strategy: "rsi", Symbol: "AAPL"},
		{Name: "rsi_AAPL_2", Strategy: "rsi", Symbol: "MSFT"},
		{Strategy: "rsi", Symbol: "AAPL"},
		{Name: "rsi_AAPL", Strategy: "sma-cross", Symbol: "MSFT"},
	})
	want := []string{"rsi_AAPL", "rsi_AAPL_2", "rsi_AAPL_3", "rsi_AAPL_4"}
	seen := make(map[string]bool)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("name[%d] = %q, want %q", i, got[i], want[i])
		}
		if seen[got[i]] {
			t.Errorf("name %q emitted twice", got[i])
		}
		seen[got[i]] = true
	}
}

// memSource serves bars from memory and counts reads.
type memSource struct {
	bars  map[string][]domain.Bar
	reads atomic.Int32
}

func (m *memSource) ReadBars(_ context.Context, symbol, _ string, _, _ time.Time) ([]domain.Bar, error) {
	m.reads.Add(1)
	return m.bars[symbol], nil
}

func newSource() *memSource {
	return &memSource{bars: map[string][]domain.Bar{
		"AAPL": crossSeries("AAPL"),
		"MSFT": crossSeries("MSFT"),
	}}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	reg := builtins.NewRegistry()
	reg.Register("panicky", func(strategy.Params) (strategy.Strategy, error) { panic("factory exploded") })
	src := newSource()
	m := telemetry.New()
	runner := NewRunner(reg, src, RunnerConfig{Broker: zeroCommission}, m, quietLog())

	results := runner.RunBatch(context.Background(), []RunConfig{
		{Strategy: "sma-cross", Symbol: "AAPL"},
		{Strategy: "no-such-strategy", Symbol: "AAPL"},
		{Strategy: "sma-cross", Symbol: "AAPL", Params: strategy.Params{"fast_period": 5, "slow_period": 20}},
		{Strategy: "rsi", Symbol: "NONE"},
		{Strategy: "panicky", Symbol: "AAPL"},
		{Strategy: "sma-cross", Symbol: "AAPL", Params: strategy.Params{"fast_period": 50, "slow_period": 20}},
		{Strategy: "rsi", Symbol: "MSFT"},
	})

	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	want := []string{"sma-cross_AAPL", "sma-cross_AAPL_2", "rsi_MSFT"}
	if len(names) != len(want) {
		t.Fatalf("results = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("result[%d] = %q, want %q", i, names[i], want[i])
		}
	}
	if results[0].ID == results[1].ID {
		t.Error("results share an ID")
	}
	if n := src.reads.Load(); n != 3 {
		t.Errorf("ReadBars called %d times, want once per symbol (3)", n)
	}
}

// blocker parks in OnBar until release is closed.
type blocker struct {
	strategy.Base
	release <-chan struct{}
}

func (b *blocker) Name() string            { return "blocker" }
func (b *blocker) Init(strategy.Env) error { return nil }
func (b *blocker) OnBar(strategy.Env, domain.Bar) ([]domain.OrderRequest, error) {
	<-b.release
	return nil, nil
}

func TestRunBatchTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	reg := builtins.NewRegistry()
	reg.Register("blocker", func(strategy.Params) (strategy.Strategy, error) {
		return &blocker{release: release}, nil
	})
	runner := NewRunner(reg, newSource(), RunnerConfig{
		Broker:  zeroCommission,
		Timeout: 50 * time.Millisecond,
	}, nil, quietLog())

	results := runner.RunBatch(context.Background(), []RunConfig{
		{Strategy: "blocker", Symbol: "AAPL"},
		{Strategy: "sma-cross", Symbol: "MSFT"},
	})
	if len(results) != 1 || results[0].Name != "sma-cross_MSFT" {
		t.Errorf("results = %+v, want only sma-cross_MSFT", results)
	}
}

// tracker records how many runs are inside Init at once.
type tracker struct {
	strategy.Base
	active, peak *atomic.Int32
}

func (tr *tracker) Name() string { return "tracker" }
func (tr *tracker) Init(strategy.Env) error {
	n := tr.active.Add(1)
	for {
		p := tr.peak.Load()
		if n <= p || tr.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	tr.active.Add(-1)
	return nil
}
func (tr *tracker) OnBar(strategy.Env, domain.Bar) ([]domain.OrderRequest, error) { return nil, nil }

func TestRunBatchConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	reg := strategy.NewRegistry()
	reg.Register("tracker", func(strategy.Params) (strategy.Strategy, error) {
		return &tracker{active: &active, peak: &peak}, nil
	})
	runner := NewRunner(reg, newSource(), RunnerConfig{Broker: zeroCommission, MaxConcurrent: 2}, nil, quietLog())

	configs := make([]RunConfig, 6)
	for i := range configs {
		configs[i] = RunConfig{Strategy: "tracker", Symbol: "AAPL"}
	}
	results := runner.RunBatch(context.Background(), configs)
	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", p)
	}
}

func TestRunBatchSharesSeriesSafely(t *testing.T) {
	runner := NewRunner(builtins.NewRegistry(), newSource(), RunnerConfig{Broker: zeroCommission, MaxConcurrent: 4}, nil, quietLog())

	configs := make([]RunConfig, 8)
	for i := range configs {
		configs[i] = RunConfig{Strategy: "sma-cross", Symbol: "AAPL"}
	}
	results := runner.RunBatch(context.Background(), configs)
	if len(results) != 8 {
		t.Fatalf("got %d results, want 8", len(results))
	}
	// Identical configurations are deterministic.
	first := results[0].FinalValue
	for _, r := range results {
		if r.FinalValue != first {
			t.Errorf("%s FinalValue = %v, want %v", r.Name, r.FinalValue, first)
		}
	}
}

func TestCompare(t *testing.T) {
	curve := []domain.EquityPoint{{Timestamp: day0, Value: 100}}
	results := []*domain.RunResult{
		{ID: "a", Name: "a", TotalReturn: 5, SharpeRatio: 1.2, MaxDrawdown: 8, EquityCurve: curve},
		{ID: "b", Name: "b", TotalReturn: 12, SharpeRatio: 0.4, MaxDrawdown: 3},
		{ID: "c", Name: "c", TotalReturn: 12, SharpeRatio: 2.5, MaxDrawdown: 3},
	}
	report := Compare(results)

	if len(report.Summary) != 3 || report.Summary[1].Name != "b" {
		t.Errorf("Summary = %+v", report.Summary)
	}
	if len(report.EquityCurves) != 3 || len(report.EquityCurves["a"]) != 1 {
		t.Errorf("EquityCurves = %+v", report.EquityCurves)
	}
	if report.BestReturn.Name != "b" || report.BestReturn.Value != 12 {
		t.Errorf("BestReturn = %+v, want b (first of the tie)", report.BestReturn)
	}
	if report.BestSharpe.Name != "c" {
		t.Errorf("BestSharpe = %+v, want c", report.BestSharpe)
	}
	if report.LowestDrawdown.Name != "b" {
		t.Errorf("LowestDrawdown = %+v, want b", report.LowestDrawdown)
	}

	empty := Compare(nil)
	if len(empty.Summary) != 0 || empty.BestReturn != nil {
		t.Errorf("Compare(nil) = %+v, want empty report", empty)
	}
}
