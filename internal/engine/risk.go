package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"quantlab/internal/domain"
)

// RiskManager enforces pre-trade risk rules such as position sizing limits
// and maximum daily loss constraints. Orders that only reduce exposure are
// always allowed.
type RiskManager struct {
	maxPositionPct  float64
	maxDailyLossPct float64

	day        time.Time
	dayStartEq float64
	currentEq  float64
}

// NewRiskManager creates a RiskManager with the specified risk thresholds.
// A zero threshold disables that rule.
//
//   - maxPositionPct: maximum fraction of equity allowed in a single position
//     (e.g. 0.10 for 10%).
//   - maxDailyLossPct: maximum fraction of equity that may be lost in a single
//     trading day (e.g. 0.02 for 2%).
func NewRiskManager(maxPositionPct, maxDailyLossPct float64) *RiskManager {
	return &RiskManager{
		maxPositionPct:  maxPositionPct,
		maxDailyLossPct: maxDailyLossPct,
	}
}

// clone returns a RiskManager with the same limits and no day state.
func (rm *RiskManager) clone() *RiskManager {
	return NewRiskManager(rm.maxPositionPct, rm.maxDailyLossPct)
}

// Mark records the account equity at ts. The first mark of each calendar
// day becomes that day's reference for the daily loss rule.
func (rm *RiskManager) Mark(ts time.Time, equity float64) {
	y, m, d := ts.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
	if !day.Equal(rm.day) {
		rm.day = day
		rm.dayStartEq = equity
	}
	rm.currentEq = equity
}

// CheckOrder evaluates whether the proposed order complies with the
// configured risk limits given the current position and account state.
// refPrice values the order; it is the order price for stop and limit
// orders.
func (rm *RiskManager) CheckOrder(_ context.Context, order *domain.Order, pos domain.Position, acct *domain.AccountInfo, refPrice float64) error {
	if order.ReduceOnly || !increasesExposure(order, pos) {
		return nil
	}
	if order.Type != domain.OrderTypeMarket && order.Price > 0 {
		refPrice = order.Price
	}

	if rm.maxPositionPct > 0 && acct != nil && acct.Equity > 0 {
		exposure := math.Abs(pos.Qty*refPrice) + order.Qty*refPrice
		if limit := rm.maxPositionPct * acct.Equity; exposure > limit {
			return fmt.Errorf("%w: position %.2f would exceed %.2f (%.1f%% of equity)",
				domain.ErrOrder, exposure, limit, rm.maxPositionPct*100)
		}
	}

	if rm.maxDailyLossPct > 0 && rm.dayStartEq > 0 {
		loss := (rm.dayStartEq - rm.currentEq) / rm.dayStartEq
		if loss >= rm.maxDailyLossPct {
			return fmt.Errorf("%w: daily loss %.2f%% reached limit %.2f%%",
				domain.ErrOrder, loss*100, rm.maxDailyLossPct*100)
		}
	}
	return nil
}

// increasesExposure reports whether filling order opens or grows a position.
func increasesExposure(order *domain.Order, pos domain.Position) bool {
	switch {
	case pos.Qty == 0:
		return true
	case pos.Qty > 0:
		return order.Side == domain.OrderSideBuy
	default:
		return order.Side == domain.OrderSideSell
	}
}
