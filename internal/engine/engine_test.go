package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"quantlab/internal/broker"
	"quantlab/internal/domain"
	"quantlab/internal/strategy"
	"quantlab/internal/strategy/builtins"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeBars(closes ...float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Bar, len(closes))
	for i, c := range closes {
		out[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

func newTestEngine(cash, comm float64) *Engine {
	return NewEngine(broker.Config{InitialCash: cash, CommissionRate: comm}, nil, quietLog())
}

// scripted returns the requests registered for each bar index and records
// every callback it receives.
type scripted struct {
	orders  map[int][]domain.OrderRequest
	bar     int
	calls   []string
	updates []domain.Order
	closed  []domain.Trade
	onBar   func(env strategy.Env, i int) error
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Init(_ strategy.Env) error {
	s.calls = append(s.calls, "init")
	return nil
}

func (s *scripted) OnBar(env strategy.Env, _ domain.Bar) ([]domain.OrderRequest, error) {
	i := s.bar
	s.bar++
	s.calls = append(s.calls, "bar")
	if s.onBar != nil {
		if err := s.onBar(env, i); err != nil {
			return nil, err
		}
	}
	return s.orders[i], nil
}

func (s *scripted) OnOrderUpdate(o domain.Order) {
	s.calls = append(s.calls, "order:"+string(o.Status))
	s.updates = append(s.updates, o)
}

func (s *scripted) OnTradeClosed(t domain.Trade) {
	s.calls = append(s.calls, "trade")
	s.closed = append(s.closed, t)
}

// fillCounter wraps a strategy and counts completed orders.
type fillCounter struct {
	strategy.Strategy
	buys, sells int
}

func (f *fillCounter) OnOrderUpdate(o domain.Order) {
	if o.Status == domain.OrderStatusCompleted {
		if o.Side == domain.OrderSideBuy {
			f.buys++
		} else {
			f.sells++
		}
	}
	f.Strategy.OnOrderUpdate(o)
}

func TestRunEmptySeries(t *testing.T) {
	e := newTestEngine(1000, 0)
	_, err := e.Run(context.Background(), &scripted{}, nil, nil)
	if !errors.Is(err, domain.ErrData) {
		t.Fatalf("Run(empty) error = %v, want ErrData", err)
	}
	if e.State() != StateFailed || !errors.Is(e.Err(), domain.ErrData) {
		t.Errorf("State() = %v, Err() = %v; want failed with ErrData", e.State(), e.Err())
	}
}

func TestRunNilStrategy(t *testing.T) {
	e := newTestEngine(1000, 0)
	_, err := e.Run(context.Background(), nil, makeBars(1, 2, 3), nil)
	if !errors.Is(err, domain.ErrStrategy) {
		t.Fatalf("Run(nil) error = %v, want ErrStrategy", err)
	}
	if e.State() != StateFailed {
		t.Errorf("State() = %v, want failed", e.State())
	}
}

func TestRunRejectsMalformedSeries(t *testing.T) {
	unordered := makeBars(1, 2, 3)
	unordered[2].Timestamp = unordered[0].Timestamp
	mixed := makeBars(1, 2, 3)
	mixed[1].Symbol = "OTHER"
	nan := makeBars(1, 2, 3)
	nan[1].Close = math.NaN()

	for name, bars := range map[string][]domain.Bar{"unordered": unordered, "mixed": mixed, "nan": nan} {
		if _, err := newTestEngine(1000, 0).Run(context.Background(), &scripted{}, bars, nil); !errors.Is(err, domain.ErrData) {
			t.Errorf("%s: error = %v, want ErrData", name, err)
		}
	}
}

func TestSMACrossScenario(t *testing.T) {
	var closes []float64
	for i := 0; i < 30; i++ {
		closes = append(closes, 200-float64(i))
	}
	for i := 0; i < 30; i++ {
		closes = append(closes, 171+2*float64(i))
	}
	bars := makeBars(closes...)

	s, err := builtins.NewSMACross(strategy.Params{"fast_period": 10, "slow_period": 30, "stake": 100})
	if err != nil {
		t.Fatal(err)
	}
	counter := &fillCounter{Strategy: s}
	e := newTestEngine(100000, 0)
	out, err := e.Run(context.Background(), counter, bars, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if counter.buys != 1 || counter.sells != 0 {
		t.Errorf("fills = %d buys / %d sells, want 1 / 0", counter.buys, counter.sells)
	}
	if len(out.Trades) != 0 {
		t.Errorf("closed trades = %d, want 0 (position still open)", len(out.Trades))
	}
	if len(out.OpenPositions) != 1 || out.OpenPositions[0].Qty != 100 {
		t.Errorf("open positions = %+v, want one 100-share long", out.OpenPositions)
	}
	if out.FinalValue <= out.InitialCash {
		t.Errorf("FinalValue = %v, want above %v", out.FinalValue, out.InitialCash)
	}
	if len(out.Equity) != len(bars) {
		t.Errorf("equity points = %d, want %d", len(out.Equity), len(bars))
	}
	if e.State() != StateCompleted {
		t.Errorf("State() = %v, want completed", e.State())
	}
}

func TestFlatRSIScenario(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 100
	}
	s, err := builtins.NewRSI(strategy.Params{"rsi_period": 14, "oversold_level": 30, "overbought_level": 70})
	if err != nil {
		t.Fatal(err)
	}
	out, err := newTestEngine(100000, 0.001).Run(context.Background(), s, makeBars(closes...), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Trades) != 0 || len(out.OpenPositions) != 0 {
		t.Errorf("trades = %d, open = %d; want none", len(out.Trades), len(out.OpenPositions))
	}
	if out.FinalValue != 100000 {
		t.Errorf("FinalValue = %v, want 100000", out.FinalValue)
	}
}

func TestRoundTripEventOrder(t *testing.T) {
	s := &scripted{orders: map[int][]domain.OrderRequest{
		0: {{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 10, Reason: "entry"}},
		2: {{Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Qty: 10}},
	}}
	out, err := newTestEngine(10000, 0).Run(context.Background(), s, makeBars(10, 11, 12, 13, 14), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{
		"init",
		"bar", "order:accepted",
		"order:completed", "bar",
		"bar", "order:accepted",
		"order:completed", "trade", "bar",
		"bar",
	}
	if len(s.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", s.calls, want)
	}
	for i := range want {
		if s.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", s.calls, want)
		}
	}

	if len(out.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(out.Trades))
	}
	tr := out.Trades[0]
	if tr.ID != 1 || tr.EntryPrice != 11 || tr.ExitPrice != 13 || tr.GrossPnL != 20 {
		t.Errorf("trade = %+v, want #1 11 → 13 gross 20", tr)
	}
	if tr.EntryReason != "entry" || tr.ExitReason != DefaultReason {
		t.Errorf("reasons = %q/%q, want entry/%q", tr.EntryReason, tr.ExitReason, DefaultReason)
	}
	if s.closed[0] != tr {
		t.Errorf("strategy saw %+v, recorder logged %+v", s.closed[0], tr)
	}
	if out.FinalValue != 10020 {
		t.Errorf("FinalValue = %v, want 10020", out.FinalValue)
	}
}

func TestStrategyFailures(t *testing.T) {
	bars := makeBars(1, 2, 3)
	tests := []struct {
		name  string
		s     *scripted
		isErr error
	}{
		{
			name:  "error",
			s:     &scripted{onBar: func(strategy.Env, int) error { return errors.New("boom") }},
			isErr: domain.ErrStrategy,
		},
		{
			name: "panic",
			s: &scripted{onBar: func(_ strategy.Env, i int) error {
				if i == 1 {
					panic("index out of range")
				}
				return nil
			}},
			isErr: domain.ErrStrategy,
		},
		{
			name: "invalid order",
			s: &scripted{orders: map[int][]domain.OrderRequest{
				0: {{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 0}},
			}},
			isErr: domain.ErrOrder,
		},
		{
			name:  "unknown cancel",
			s:     &scripted{onBar: func(env strategy.Env, _ int) error { env.Cancel(42); return nil }},
			isErr: domain.ErrStrategy,
		},
	}
	for _, tt := range tests {
		e := newTestEngine(1000, 0)
		_, err := e.Run(context.Background(), tt.s, bars, nil)
		if !errors.Is(err, tt.isErr) || !errors.Is(err, domain.ErrStrategy) {
			t.Errorf("%s: error = %v, want ErrStrategy wrapping %v", tt.name, err, tt.isErr)
		}
		if e.State() != StateFailed {
			t.Errorf("%s: State() = %v, want failed", tt.name, e.State())
		}
	}
}

func TestRunIsSelfContained(t *testing.T) {
	bars := makeBars(10, 11, 12, 13)
	script := func() *scripted {
		return &scripted{orders: map[int][]domain.OrderRequest{
			0: {{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 5}},
		}}
	}
	e := newTestEngine(1000, 0.01)
	first, err := e.Run(context.Background(), script(), bars, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Run(context.Background(), script(), bars, nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.FinalValue != second.FinalValue || first.FinalCash != second.FinalCash {
		t.Errorf("second run = %v/%v, first = %v/%v", second.FinalValue, second.FinalCash, first.FinalValue, first.FinalCash)
	}
}

func TestRunHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(1000, 0).Run(ctx, &scripted{}, makeBars(1, 2), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestCancelFromStrategy(t *testing.T) {
	s := &scripted{orders: map[int][]domain.OrderRequest{
		0: {{Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit, Qty: 1, Price: 1}},
	}}
	s.onBar = func(env strategy.Env, i int) error {
		if i == 1 {
			for _, o := range env.OpenOrders() {
				env.Cancel(o.ID)
			}
		}
		return nil
	}
	if _, err := newTestEngine(1000, 0).Run(context.Background(), s, makeBars(10, 10, 10), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	last := s.updates[len(s.updates)-1]
	if last.Status != domain.OrderStatusCanceled {
		t.Errorf("last update = %+v, want canceled", last)
	}
}

func TestRiskManagerBlocksOversizedOrders(t *testing.T) {
	s := &scripted{orders: map[int][]domain.OrderRequest{
		0: {{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 50}},
		1: {{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 5}},
	}}
	e := NewEngine(broker.Config{InitialCash: 1000}, NewRiskManager(0.10, 0), quietLog())
	out, err := e.Run(context.Background(), s, makeBars(10, 10, 10), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.updates[0].Status != domain.OrderStatusRejected {
		t.Errorf("first update = %+v, want rejected by risk limits", s.updates[0])
	}
	if len(out.OpenPositions) != 1 || out.OpenPositions[0].Qty != 5 {
		t.Errorf("open positions = %+v, want only the 5-share order filled", out.OpenPositions)
	}
}

func TestRiskManagerDailyLoss(t *testing.T) {
	rm := NewRiskManager(0, 0.02)
	day := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	rm.Mark(day, 1000)
	rm.Mark(day.Add(time.Hour), 970)

	order := &domain.Order{Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket, Qty: 1}
	if err := rm.CheckOrder(context.Background(), order, domain.Position{}, nil, 10); !errors.Is(err, domain.ErrOrder) {
		t.Errorf("CheckOrder after 3%% loss = %v, want ErrOrder", err)
	}
	exit := &domain.Order{Side: domain.OrderSideSell, Type: domain.OrderTypeMarket, Qty: 1}
	if err := rm.CheckOrder(context.Background(), exit, domain.Position{Qty: 5}, nil, 10); err != nil {
		t.Errorf("CheckOrder(reducing) = %v, want nil", err)
	}
	rm.Mark(day.AddDate(0, 0, 1), 970)
	if err := rm.CheckOrder(context.Background(), order, domain.Position{}, nil, 10); err != nil {
		t.Errorf("CheckOrder on a new day = %v, want nil", err)
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(quietLog())
	entry := time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC)

	long := r.Record(domain.Trade{
		Side:       domain.PositionSideLong,
		EntryTime:  entry,
		ExitTime:   entry.Add(3 * time.Hour),
		EntryPrice: 100,
		Qty:        10,
		GrossPnL:   50,
		Commission: 10,
		NetPnL:     40,
	})
	if long.ID != 1 || long.ExitPrice != 105 || long.DurationDays != 1 {
		t.Errorf("long = %+v, want id 1, exit 105, duration 1", long)
	}
	if math.Abs(long.ReturnPct-4) > 1e-9 {
		t.Errorf("ReturnPct = %v, want 4", long.ReturnPct)
	}

	short := r.Record(domain.Trade{
		Side:       domain.PositionSideShort,
		EntryTime:  entry,
		ExitTime:   entry.AddDate(0, 0, 5),
		EntryPrice: 100,
		Qty:        10,
		GrossPnL:   50,
		NetPnL:     50,
	})
	if short.ID != 2 || short.ExitPrice != 95 || short.DurationDays != 5 {
		t.Errorf("short = %+v, want id 2, exit 95, duration 5", short)
	}

	log := r.Trades()
	log[0].NetPnL = -1
	if r.Trades()[0].NetPnL != 40 {
		t.Error("Trades() exposed the recorder's backing array")
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
}
