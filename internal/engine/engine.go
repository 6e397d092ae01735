// Package engine runs one strategy over one bar series against a simulated
// broker and records the resulting trades and equity.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"quantlab/internal/broker"
	"quantlab/internal/domain"
	"quantlab/internal/strategy"
	"quantlab/internal/util"
)

// State is the lifecycle of a run: Idle → Running → Completed | Failed.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome is what a completed run produced.
type Outcome struct {
	Symbol      string
	InitialCash float64
	FinalValue  float64
	FinalCash   float64

	// Equity holds one mark-to-market point per bar.
	Equity []domain.EquityPoint
	Trades []domain.Trade

	// OpenPositions are left open at the end of the run and take no part in
	// closed-trade metrics.
	OpenPositions []domain.Position
}

// Engine drives a strategy bar by bar. Each Run builds its own broker and
// recorder, so nothing carries over between runs. An Engine is not safe for
// concurrent use; give each concurrent run its own.
type Engine struct {
	cfg  broker.Config
	risk *RiskManager
	log  *slog.Logger

	state State
	err   error
}

// NewEngine creates an Engine whose runs use a simulated broker built from
// cfg. risk may be nil to disable pre-trade exposure checks.
func NewEngine(cfg broker.Config, risk *RiskManager, log *slog.Logger) *Engine {
	return &Engine{
		cfg:  cfg,
		risk: risk,
		log:  util.OrDefault(log),
	}
}

// State returns the state of the latest run.
func (e *Engine) State() State {
	return e.state
}

// Err returns the cause of a Failed run, or nil.
func (e *Engine) Err() error {
	return e.err
}

// Run replays bars through s in timestamp order. For each bar it delivers
// fills of orders queued on earlier bars, calls OnBar, submits the returned
// orders for the next bar and records the account value.
//
// It fails with ErrData for an empty or malformed series and with
// ErrStrategy when the strategy errors, panics or requests an invalid order.
func (e *Engine) Run(ctx context.Context, s strategy.Strategy, bars []domain.Bar, params strategy.Params) (*Outcome, error) {
	e.state = StateRunning
	e.err = nil

	out, err := e.run(ctx, s, bars, params)
	if err != nil {
		e.state = StateFailed
		e.err = err
		e.log.Debug("run failed", "error", err)
		return nil, err
	}
	e.state = StateCompleted
	return out, nil
}

func (e *Engine) run(ctx context.Context, s strategy.Strategy, bars []domain.Bar, params strategy.Params) (*Outcome, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil strategy", domain.ErrStrategy)
	}
	if err := validateSeries(bars); err != nil {
		return nil, err
	}
	brk, err := broker.NewSimulatorBroker(e.cfg)
	if err != nil {
		return nil, err
	}

	r := &run{
		engine:   e,
		strategy: s,
		broker:   brk,
		recorder: NewRecorder(e.log),
		env: &runEnv{
			symbol: bars[0].Symbol,
			params: params,
			reader: brk,
		},
	}
	if r.env.params == nil {
		r.env.params = strategy.Params{}
	}
	if e.risk != nil {
		r.risk = e.risk.clone()
	}

	if err := r.call("Init", func() error { return s.Init(r.env) }); err != nil {
		return nil, err
	}

	equity := make([]domain.EquityPoint, 0, len(bars))
	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.step(ctx, bars, i); err != nil {
			return nil, fmt.Errorf("bar %d (%s): %w", i, bar.Timestamp.Format("2006-01-02 15:04"), err)
		}
		equity = append(equity, domain.EquityPoint{
			Timestamp: bar.Timestamp,
			Value:     brk.MarkToMarket(bar),
		})
	}

	positions, _ := brk.GetPositions(ctx)
	out := &Outcome{
		Symbol:        r.env.symbol,
		InitialCash:   e.cfg.InitialCash,
		FinalValue:    brk.Value(),
		FinalCash:     brk.Cash(),
		Equity:        equity,
		Trades:        r.recorder.Trades(),
		OpenPositions: positions,
	}
	e.log.Debug("run completed",
		"strategy", s.Name(),
		"symbol", out.Symbol,
		"bars", len(bars),
		"trades", len(out.Trades),
		"final_value", out.FinalValue,
	)
	return out, nil
}

// validateSeries rejects series the engine cannot replay.
func validateSeries(bars []domain.Bar) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty price series", domain.ErrData)
	}
	sym := bars[0].Symbol
	for i, b := range bars {
		if b.Symbol != sym {
			return fmt.Errorf("%w: bar %d has symbol %q, series is %q", domain.ErrData, i, b.Symbol, sym)
		}
		for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("%w: bar %d has invalid price %v", domain.ErrData, i, v)
			}
		}
		if b.High < b.Low {
			return fmt.Errorf("%w: bar %d has high %v below low %v", domain.ErrData, i, b.High, b.Low)
		}
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bar %d at %s is not after bar %d", domain.ErrData, i, b.Timestamp, i-1)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Per-run state
// ---------------------------------------------------------------------------

type run struct {
	engine   *Engine
	strategy strategy.Strategy
	broker   *broker.SimulatorBroker
	recorder *Recorder
	risk     *RiskManager
	env      *runEnv
}

func (r *run) step(ctx context.Context, bars []domain.Bar, i int) error {
	bar := bars[i]

	r.broker.ProcessBar(bar)
	if err := r.dispatch(); err != nil {
		return err
	}

	r.env.history = bars[:i+1:i+1]
	if r.risk != nil {
		r.risk.Mark(bar.Timestamp, r.broker.MarkToMarket(bar))
	}

	var reqs []domain.OrderRequest
	err := r.call("OnBar", func() error {
		var err error
		reqs, err = r.strategy.OnBar(r.env, bar)
		return err
	})
	if err != nil {
		return err
	}

	cancels := r.env.takeCancels()
	for _, id := range cancels {
		if err := r.broker.CancelOrder(ctx, id); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrStrategy, err)
		}
	}
	for _, req := range reqs {
		if err := r.submit(ctx, bar, req); err != nil {
			return err
		}
	}
	return r.dispatch()
}

func (r *run) submit(ctx context.Context, bar domain.Bar, req domain.OrderRequest) error {
	order := &domain.Order{
		Symbol:     r.env.symbol,
		Side:       req.Side,
		Type:       req.Type,
		Qty:        req.Qty,
		Price:      req.Price,
		ReduceOnly: req.ReduceOnly,
		Reason:     req.Reason,
	}

	if r.risk != nil {
		acct, _ := r.broker.GetAccount(ctx)
		pos := r.broker.Position(order.Symbol)
		if err := r.risk.CheckOrder(ctx, order, pos, acct, bar.Close); err != nil {
			order.Status = domain.OrderStatusRejected
			order.CreatedAt = bar.Timestamp
			order.UpdatedAt = bar.Timestamp
			r.engine.log.Info("order blocked by risk limits",
				"side", order.Side,
				"qty", order.Qty,
				"reason", err,
			)
			return r.call("OnOrderUpdate", func() error {
				r.strategy.OnOrderUpdate(*order)
				return nil
			})
		}
	}

	if _, err := r.broker.SubmitOrder(ctx, order); err != nil {
		if errors.Is(err, domain.ErrOrder) {
			return fmt.Errorf("%w: %w", domain.ErrStrategy, err)
		}
		return err
	}
	return nil
}

// dispatch delivers broker events in emission order: order updates to the
// strategy, closed trades to the recorder and then the strategy.
func (r *run) dispatch() error {
	for _, ev := range r.broker.Drain() {
		switch ev.Kind {
		case broker.EventOrder:
			r.logOrder(ev.Order)
			order := ev.Order
			if err := r.call("OnOrderUpdate", func() error {
				r.strategy.OnOrderUpdate(order)
				return nil
			}); err != nil {
				return err
			}
		case broker.EventTradeClosed:
			trade := r.recorder.Record(ev.Trade)
			if err := r.call("OnTradeClosed", func() error {
				r.strategy.OnTradeClosed(trade)
				return nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) logOrder(o domain.Order) {
	log := r.engine.log
	switch o.Status {
	case domain.OrderStatusCompleted:
		log.Debug("order completed",
			"order_id", o.ID,
			"side", o.Side,
			"type", o.Type,
			"qty", o.FilledQty,
			"price", o.FilledAvgPrice,
			"commission", o.Commission,
		)
	case domain.OrderStatusCanceled, domain.OrderStatusMargin, domain.OrderStatusRejected:
		log.Info("order not filled",
			"order_id", o.ID,
			"side", o.Side,
			"type", o.Type,
			"status", o.Status,
		)
	}
}

// call invokes a strategy callback, converting errors and panics into
// ErrStrategy.
func (r *run) call(hook string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s panicked: %v", domain.ErrStrategy, hook, p)
		}
	}()
	if err := fn(); err != nil {
		if errors.Is(err, domain.ErrStrategy) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", domain.ErrStrategy, hook, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Strategy view
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ strategy.Env = (*runEnv)(nil)

type runEnv struct {
	symbol  string
	params  strategy.Params
	history []domain.Bar
	reader  broker.Reader
	cancels []int
}

func (e *runEnv) Symbol() string             { return e.symbol }
func (e *runEnv) Params() strategy.Params    { return e.params }
func (e *runEnv) History() []domain.Bar      { return e.history }
func (e *runEnv) Cash() float64              { return e.reader.Cash() }
func (e *runEnv) Position() domain.Position  { return e.reader.Position(e.symbol) }
func (e *runEnv) OpenOrders() []domain.Order { return e.reader.OpenOrders() }
func (e *runEnv) Cancel(orderID int)         { e.cancels = append(e.cancels, orderID) }

func (e *runEnv) takeCancels() []int {
	c := e.cancels
	e.cancels = nil
	return c
}
