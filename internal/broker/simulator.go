package broker

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"quantlab/internal/domain"
)

// Compile-time interface checks.
var _ Broker = (*SimulatorBroker)(nil)
var _ Reader = (*SimulatorBroker)(nil)

// Config holds the simulated account parameters.
type Config struct {
	InitialCash    float64
	CommissionRate float64 // fraction of notional charged per fill
}

// Validate reports an ErrConfig for impossible account parameters.
func (c Config) Validate() error {
	if math.IsNaN(c.InitialCash) || math.IsInf(c.InitialCash, 0) || c.InitialCash < 0 {
		return fmt.Errorf("%w: initial cash %v", domain.ErrConfig, c.InitialCash)
	}
	if math.IsNaN(c.CommissionRate) || c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("%w: commission rate %v", domain.ErrConfig, c.CommissionRate)
	}
	return nil
}

// openTrade accumulates a round trip until its position returns to flat.
type openTrade struct {
	side        domain.PositionSide
	entryTime   time.Time
	exitTime    time.Time
	openedQty   decimal.Decimal
	openedValue float64
	gross       float64
	commission  float64
	entryReason string
	exitReason  string
}

// SimulatorBroker fills orders against historical bars. Orders accepted
// while processing bar t are first eligible on bar t+1. It is owned by a
// single run and is not safe for concurrent use.
type SimulatorBroker struct {
	cash       decimal.Decimal
	commission decimal.Decimal

	positions map[string]*domain.Position
	// qty is the exact signed size behind each position's float Qty.
	qty       map[string]decimal.Decimal
	trades    map[string]*openTrade
	orders    map[int]*domain.Order
	pending   []*domain.Order
	lastClose map[string]float64

	now    time.Time
	nextID int
	events []Event
}

// NewSimulatorBroker creates a SimulatorBroker funded with cfg.InitialCash.
func NewSimulatorBroker(cfg Config) (*SimulatorBroker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SimulatorBroker{
		cash:       decimal.NewFromFloat(cfg.InitialCash),
		commission: decimal.NewFromFloat(cfg.CommissionRate),
		positions:  make(map[string]*domain.Position),
		qty:        make(map[string]decimal.Decimal),
		trades:     make(map[string]*openTrade),
		orders:     make(map[int]*domain.Order),
		lastClose:  make(map[string]float64),
	}, nil
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// ---------------------------------------------------------------------------
// Broker implementation
// ---------------------------------------------------------------------------

// SubmitOrder validates the order and queues it for the next bar. Invalid
// size or price is rejected with ErrOrder. A buy the account cannot fund is
// returned with status margin and no error.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	b.nextID++
	order.ID = b.nextID
	order.Status = domain.OrderStatusSubmitted
	order.CreatedAt = b.now
	order.UpdatedAt = b.now
	b.orders[order.ID] = order

	if err := validateOrder(order); err != nil {
		b.transition(order, domain.OrderStatusRejected)
		return order, err
	}

	if order.Side == domain.OrderSideBuy {
		ref := order.Price
		if order.Type == domain.OrderTypeMarket {
			ref = b.lastClose[order.Symbol]
		}
		if b.buyCost(ref, order.Qty).GreaterThan(b.available()) {
			b.transition(order, domain.OrderStatusMargin)
			return order, nil
		}
	}

	b.pending = append(b.pending, order)
	b.transition(order, domain.OrderStatusAccepted)
	return order, nil
}

// CancelOrder removes a queued order. Cancelling a terminal order is a no-op.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID int) error {
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: unknown order %d", domain.ErrOrder, orderID)
	}
	if o.Status.Terminal() {
		return nil
	}
	b.removePending(o)
	b.transition(o, domain.OrderStatusCanceled)
	return nil
}

// GetPositions returns all non-flat positions.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	return b.openPositions(), nil
}

// GetAccount returns cash, marked equity and the cash not reserved by
// queued buys.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	return &domain.AccountInfo{
		Cash:        b.Cash(),
		Equity:      b.Value(),
		BuyingPower: b.available().InexactFloat64(),
	}, nil
}

// ---------------------------------------------------------------------------
// Reader implementation
// ---------------------------------------------------------------------------

// Cash returns the current cash balance.
func (b *SimulatorBroker) Cash() float64 {
	return b.cash.InexactFloat64()
}

// Position returns the position in symbol; flat if none.
func (b *SimulatorBroker) Position(symbol string) domain.Position {
	if p, ok := b.positions[symbol]; ok {
		return *p
	}
	return domain.Position{Symbol: symbol}
}

// OpenOrders returns copies of the queued orders in submission order.
func (b *SimulatorBroker) OpenOrders() []domain.Order {
	out := make([]domain.Order, 0, len(b.pending))
	for _, o := range b.pending {
		out = append(out, *o)
	}
	return out
}

// ---------------------------------------------------------------------------
// Simulation
// ---------------------------------------------------------------------------

// ProcessBar resolves queued orders for bar.Symbol against the bar's price
// action. Market orders fill at the open. Stop and limit orders fill at
// their price once the bar reaches it, or at the open when the bar gaps
// through it; otherwise they stay queued.
func (b *SimulatorBroker) ProcessBar(bar domain.Bar) {
	b.now = bar.Timestamp

	queued := make([]*domain.Order, len(b.pending))
	copy(queued, b.pending)
	for _, o := range queued {
		if o.Symbol != bar.Symbol {
			continue
		}
		price, ok := fillPrice(o, bar)
		if !ok {
			continue
		}
		b.removePending(o)
		if o.ReduceOnly {
			qty, ok := b.reducible(o)
			if !ok {
				b.transition(o, domain.OrderStatusCanceled)
				continue
			}
			o.Qty = qty
		}
		if o.Side == domain.OrderSideBuy && b.buyCost(price, o.Qty).GreaterThan(b.cash) {
			b.transition(o, domain.OrderStatusMargin)
			continue
		}
		b.fill(o, price)
	}

	b.lastClose[bar.Symbol] = bar.Close
}

// MarkToMarket returns cash plus every position valued at its latest close,
// with bar's close used for bar.Symbol.
func (b *SimulatorBroker) MarkToMarket(bar domain.Bar) float64 {
	b.lastClose[bar.Symbol] = bar.Close
	return b.Value()
}

// Value returns cash plus positions valued at their latest known close.
func (b *SimulatorBroker) Value() float64 {
	v := b.cash
	for sym, p := range b.positions {
		if p.Qty == 0 {
			continue
		}
		v = v.Add(decimal.NewFromFloat(p.Qty).Mul(decimal.NewFromFloat(b.lastClose[sym])))
	}
	return v.InexactFloat64()
}

// Drain returns the events emitted since the previous call, oldest first.
func (b *SimulatorBroker) Drain() []Event {
	ev := b.events
	b.events = nil
	return ev
}

func (b *SimulatorBroker) openPositions() []domain.Position {
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Qty != 0 {
			out = append(out, *p)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Fills
// ---------------------------------------------------------------------------

func validateOrder(o *domain.Order) error {
	if math.IsNaN(o.Qty) || math.IsInf(o.Qty, 0) || o.Qty <= 0 {
		return fmt.Errorf("%w: invalid size %v", domain.ErrOrder, o.Qty)
	}
	switch o.Side {
	case domain.OrderSideBuy, domain.OrderSideSell:
	default:
		return fmt.Errorf("%w: invalid side %q", domain.ErrOrder, o.Side)
	}
	switch o.Type {
	case domain.OrderTypeMarket:
	case domain.OrderTypeStop, domain.OrderTypeLimit:
		if math.IsNaN(o.Price) || math.IsInf(o.Price, 0) || o.Price <= 0 {
			return fmt.Errorf("%w: %s order needs a positive price, got %v", domain.ErrOrder, o.Type, o.Price)
		}
	default:
		return fmt.Errorf("%w: invalid order type %q", domain.ErrOrder, o.Type)
	}
	return nil
}

func fillPrice(o *domain.Order, bar domain.Bar) (float64, bool) {
	buy := o.Side == domain.OrderSideBuy
	switch o.Type {
	case domain.OrderTypeMarket:
		return bar.Open, true

	case domain.OrderTypeStop:
		if buy {
			if bar.Open >= o.Price {
				return bar.Open, true
			}
			if bar.High >= o.Price {
				return o.Price, true
			}
		} else {
			if bar.Open <= o.Price {
				return bar.Open, true
			}
			if bar.Low <= o.Price {
				return o.Price, true
			}
		}

	case domain.OrderTypeLimit:
		if buy {
			if bar.Open <= o.Price {
				return bar.Open, true
			}
			if bar.Low <= o.Price {
				return o.Price, true
			}
		} else {
			if bar.Open >= o.Price {
				return bar.Open, true
			}
			if bar.High >= o.Price {
				return o.Price, true
			}
		}
	}
	return 0, false
}

// reducible returns the size a reduce-only order may fill without opening
// or growing a position.
func (b *SimulatorBroker) reducible(o *domain.Order) (float64, bool) {
	pos, ok := b.positions[o.Symbol]
	if !ok || pos.Qty == 0 {
		return 0, false
	}
	if (o.Side == domain.OrderSideSell) != (pos.Qty > 0) {
		return 0, false
	}
	return math.Min(o.Qty, math.Abs(pos.Qty)), true
}

func (b *SimulatorBroker) buyCost(price, qty float64) decimal.Decimal {
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty))
	return notional.Add(notional.Mul(b.commission))
}

// available is cash minus the estimated cost of queued buys.
func (b *SimulatorBroker) available() decimal.Decimal {
	avail := b.cash
	for _, o := range b.pending {
		if o.Side != domain.OrderSideBuy {
			continue
		}
		ref := o.Price
		if o.Type == domain.OrderTypeMarket {
			ref = b.lastClose[o.Symbol]
		}
		avail = avail.Sub(b.buyCost(ref, o.Qty))
	}
	return avail
}

func (b *SimulatorBroker) fill(o *domain.Order, price float64) {
	signed := o.Qty
	if o.Side == domain.OrderSideSell {
		signed = -o.Qty
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(o.Qty))
	comm := notional.Mul(b.commission)
	if o.Side == domain.OrderSideBuy {
		b.cash = b.cash.Sub(notional)
	} else {
		b.cash = b.cash.Add(notional)
	}
	b.cash = b.cash.Sub(comm)

	o.FilledQty = o.Qty
	o.FilledAvgPrice = price
	o.Commission = comm.InexactFloat64()
	b.transition(o, domain.OrderStatusCompleted)

	b.applyFill(o, price, signed, o.Commission)
}

// applyFill moves the position by signed at price and maintains the open
// round trip. Reducing fills realize P&L on the closed quantity; the trade
// is emitted once the position is flat. A fill that crosses zero closes the
// trade and opens a new one with the remainder.
func (b *SimulatorBroker) applyFill(o *domain.Order, price, signed, comm float64) {
	pos, ok := b.positions[o.Symbol]
	if !ok {
		pos = &domain.Position{Symbol: o.Symbol}
		b.positions[o.Symbol] = pos
	}
	held := b.qty[o.Symbol]
	delta := decimal.NewFromFloat(signed)

	if held.IsZero() || held.Sign() == delta.Sign() {
		b.openOrAdd(pos, o, price, delta, comm)
		return
	}

	tr := b.trades[o.Symbol]
	qty := delta.Abs()
	closing := decimal.Min(qty, held.Abs())
	closingQty := closing.InexactFloat64()
	closingComm := comm * closingQty / qty.InexactFloat64()

	if held.IsPositive() {
		tr.gross += (price - pos.AvgEntryPrice) * closingQty
	} else {
		tr.gross += (pos.AvgEntryPrice - price) * closingQty
	}
	tr.commission += closingComm
	tr.exitTime = b.now
	tr.exitReason = o.Reason

	sign := decimal.NewFromInt(int64(delta.Sign()))
	if closing.Equal(held.Abs()) {
		b.setQty(pos, decimal.Zero)
		pos.AvgEntryPrice = 0
		delete(b.trades, o.Symbol)
		b.emitTrade(o.Symbol, tr)
	} else {
		b.setQty(pos, held.Add(closing.Mul(sign)))
	}

	if rest := qty.Sub(closing); rest.IsPositive() {
		b.openOrAdd(pos, o, price, rest.Mul(sign), comm-closingComm)
	}
}

func (b *SimulatorBroker) openOrAdd(pos *domain.Position, o *domain.Order, price float64, delta decimal.Decimal, comm float64) {
	qty := delta.Abs()
	tr, ok := b.trades[o.Symbol]
	if !ok {
		side := domain.PositionSideLong
		if delta.IsNegative() {
			side = domain.PositionSideShort
		}
		tr = &openTrade{side: side, entryTime: b.now, entryReason: o.Reason}
		b.trades[o.Symbol] = tr
	}
	tr.openedQty = tr.openedQty.Add(qty)
	tr.openedValue += price * qty.InexactFloat64()
	tr.commission += comm

	held := b.qty[o.Symbol].Abs().InexactFloat64()
	q := qty.InexactFloat64()
	pos.AvgEntryPrice = (pos.AvgEntryPrice*held + price*q) / (held + q)
	b.setQty(pos, b.qty[o.Symbol].Add(delta))
}

// setQty records the exact size and mirrors it onto the position.
func (b *SimulatorBroker) setQty(pos *domain.Position, q decimal.Decimal) {
	b.qty[pos.Symbol] = q
	pos.Qty = q.InexactFloat64()
}

func (b *SimulatorBroker) emitTrade(symbol string, tr *openTrade) {
	b.events = append(b.events, Event{
		Kind: EventTradeClosed,
		Trade: domain.Trade{
			Symbol:      symbol,
			Side:        tr.side,
			EntryTime:   tr.entryTime,
			ExitTime:    tr.exitTime,
			EntryPrice:  tr.openedValue / tr.openedQty.InexactFloat64(),
			Qty:         tr.openedQty.InexactFloat64(),
			GrossPnL:    tr.gross,
			Commission:  tr.commission,
			NetPnL:      tr.gross - tr.commission,
			EntryReason: tr.entryReason,
			ExitReason:  tr.exitReason,
		},
	})
}

func (b *SimulatorBroker) transition(o *domain.Order, status domain.OrderStatus) {
	o.Status = status
	o.UpdatedAt = b.now
	b.events = append(b.events, Event{Kind: EventOrder, Order: *o})
}

func (b *SimulatorBroker) removePending(o *domain.Order) {
	for i, p := range b.pending {
		if p == o {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return
		}
	}
}
