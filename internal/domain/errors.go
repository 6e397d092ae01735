package domain

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("%w: ...") and match
// with errors.Is.
var (
	// ErrData reports an empty or malformed price series.
	ErrData = errors.New("data error")

	// ErrStrategy reports a strategy that failed or asked for an invalid order.
	ErrStrategy = errors.New("strategy error")

	// ErrOrder reports an order with an invalid size or price.
	ErrOrder = errors.New("order error")

	// ErrConfig reports malformed filter, strategy or run configuration.
	ErrConfig = errors.New("config error")
)
