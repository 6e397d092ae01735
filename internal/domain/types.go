// Package domain defines the core types shared by the simulation engine,
// the simulated broker, strategies, filters and the result stores.
package domain

import "time"

// Market identifies the exchange calendar a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one OHLCV observation for a fixed interval. Bars are immutable once
// produced and a series is ordered ascending by Timestamp.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType selects how the broker decides the fill price and timing.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeStop   OrderType = "stop"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks an order through
// submitted → accepted → {completed | canceled | rejected | margin}.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCanceled  OrderStatus = "canceled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusMargin    OrderStatus = "margin"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCanceled, OrderStatusRejected, OrderStatusMargin:
		return true
	}
	return false
}

// OrderRequest is what a strategy asks for. The broker turns it into an Order.
type OrderRequest struct {
	Side  OrderSide
	Type  OrderType
	Qty   float64
	Price float64 // stop trigger or limit price; ignored for market orders

	// ReduceOnly orders may only shrink an existing position. At fill time
	// the size is clipped to the position and the order is canceled if the
	// position is flat or on the same side.
	ReduceOnly bool

	// Reason is carried onto the trade the fill opens or closes.
	Reason string
}

// Order is a request accepted by the broker, with its lifecycle state.
type Order struct {
	ID             int
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Qty            float64
	Price          float64
	ReduceOnly     bool
	Reason         string
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
	Commission     float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ---------------------------------------------------------------------------
// Positions and account
// ---------------------------------------------------------------------------

// PositionSide is derived from the sign of a position's quantity.
type PositionSide string

const (
	PositionSideFlat  PositionSide = "flat"
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is the broker-owned holding in one symbol. Qty is signed:
// positive long, negative short, zero flat.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
}

// Side returns the direction implied by Qty.
func (p Position) Side() PositionSide {
	switch {
	case p.Qty > 0:
		return PositionSideLong
	case p.Qty < 0:
		return PositionSideShort
	}
	return PositionSideFlat
}

// AccountInfo is a snapshot of the simulated account.
type AccountInfo struct {
	Cash        float64
	Equity      float64
	BuyingPower float64
}

// ---------------------------------------------------------------------------
// Trades and results
// ---------------------------------------------------------------------------

// Trade is a closed round trip. It opens when a position leaves flat and
// closes when the position returns to flat.
type Trade struct {
	ID           int          `json:"trade_id"`
	Symbol       string       `json:"symbol"`
	Side         PositionSide `json:"side"`
	EntryTime    time.Time    `json:"entry_date"`
	ExitTime     time.Time    `json:"exit_date"`
	EntryPrice   float64      `json:"entry_price"`
	ExitPrice    float64      `json:"exit_price"`
	Qty          float64      `json:"size"`
	GrossPnL     float64      `json:"gross_pnl"`
	Commission   float64      `json:"commission"`
	NetPnL       float64      `json:"pnl"`
	ReturnPct    float64      `json:"pnl_percent"`
	DurationDays int          `json:"duration_days"`
	EntryReason  string       `json:"entry_reason"`
	ExitReason   string       `json:"exit_reason"`
}

// EquityPoint is one sample of total account value.
type EquityPoint struct {
	Timestamp time.Time `json:"date"`
	Value     float64   `json:"value"`
}

// RunResult is the immutable aggregate of one strategy run. All numeric
// fields are finite so the record serializes as plain JSON.
type RunResult struct {
	ID            string        `json:"id"`
	Name          string        `json:"strategy_name"`
	Strategy      string        `json:"strategy"`
	Symbol        string        `json:"symbol"`
	Start         time.Time     `json:"start_date"`
	End           time.Time     `json:"end_date"`
	InitialCash   float64       `json:"initial_cash"`
	FinalValue    float64       `json:"final_value"`
	TotalReturn   float64       `json:"total_return"`
	SharpeRatio   float64       `json:"sharpe_ratio"`
	MaxDrawdown   float64       `json:"max_drawdown"`
	NumTrades     int           `json:"num_trades"`
	WinRate       float64       `json:"win_rate"`
	ProfitFactor  float64       `json:"profit_factor"`
	WonTrades     int           `json:"won_trades"`
	LostTrades    int           `json:"lost_trades"`
	NumBars       int           `json:"num_bars"`
	OpenPositions []Position    `json:"open_positions,omitempty"`
	Trades        []Trade       `json:"trades"`
	EquityCurve   []EquityPoint `json:"equity_curve"`
	CreatedAt     time.Time     `json:"created_at"`
}
