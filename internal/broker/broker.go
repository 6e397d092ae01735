// Package broker defines the Broker interface and the simulated broker used
// by the backtest engine to execute orders against historical bars.
package broker

import (
	"context"

	"quantlab/internal/domain"
)

// Broker abstracts brokerage operations for order execution and account management.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// SubmitOrder sends an order to the brokerage for execution.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID int) error

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}

// Reader is the read-only account view handed to strategies.
type Reader interface {
	Cash() float64
	Position(symbol string) domain.Position
	OpenOrders() []domain.Order
}

// EventKind distinguishes broker events.
type EventKind int

const (
	// EventOrder carries an order status change.
	EventOrder EventKind = iota + 1
	// EventTradeClosed carries a round trip that returned to flat. Only the
	// raw fields are set; identifiers and derived fields belong to the
	// trade recorder.
	EventTradeClosed
)

// Event is one entry of the broker's event stream. A trade-closed event
// always follows the order event of the fill that closed it.
type Event struct {
	Kind  EventKind
	Order domain.Order
	Trade domain.Trade
}
