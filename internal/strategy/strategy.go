// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry of factories for creating them by name.
package strategy

import (
	"fmt"
	"sort"

	"quantlab/internal/domain"
)

// Strategy is the interface that all trading strategies must implement. The
// engine calls it synchronously from a single goroutine; implementations
// must not block.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Init performs any one-time setup before the first bar. Configured
	// parameters are available through env.
	Init(env Env) error

	// OnBar is called once per bar in timestamp order. The returned requests
	// are queued and fill no earlier than the next bar.
	OnBar(env Env, bar domain.Bar) ([]domain.OrderRequest, error)

	// OnOrderUpdate is called for every order status change.
	OnOrderUpdate(order domain.Order)

	// OnTradeClosed is called after the fill that returned a position to flat.
	OnTradeClosed(trade domain.Trade)
}

// Env is the read-only view of a run handed to a strategy. Strategies never
// touch the broker directly; state changes flow through returned orders and
// Cancel.
type Env interface {
	Symbol() string
	Params() Params

	// History returns the bars seen so far, the current bar last. The slice
	// must not be modified.
	History() []domain.Bar

	Cash() float64
	Position() domain.Position
	OpenOrders() []domain.Order

	// Cancel requests cancellation of a queued order. It takes effect after
	// OnBar returns.
	Cancel(orderID int)
}

// Base provides no-op notification handlers for embedding.
type Base struct{}

func (Base) OnOrderUpdate(domain.Order) {}
func (Base) OnTradeClosed(domain.Trade) {}

// Factory builds a fresh Strategy for one run.
type Factory func(params Params) (Strategy, error)

// Registry holds a named collection of strategy factories for lookup and
// enumeration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get retrieves a factory by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// New builds the named strategy with params.
func (r *Registry) New(name string, params Params) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrConfig, name)
	}
	return f(params)
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
