package util

import (
	"time"
	_ "time/tzdata" // Exchange time zones without relying on the host.

	"quantlab/internal/domain"
)

// session is one continuous trading window in exchange-local minutes.
type session struct {
	open, close int
}

// TradingCalendar provides market-hours awareness for a specific market.
// Exchange holidays are not modelled.
type TradingCalendar struct {
	market   domain.Market
	loc      *time.Location
	sessions []session
}

// NewTradingCalendar creates a TradingCalendar for the given market. Unknown
// markets use the US calendar.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	switch market {
	case domain.MarketCN:
		return &TradingCalendar{
			market: market,
			loc:    loadLocation("Asia/Shanghai", 8*3600),
			// SSE 9:30-11:30, 13:00-15:00 CST
			sessions: []session{{9*60 + 30, 11*60 + 30}, {13 * 60, 15 * 60}},
		}
	default:
		return &TradingCalendar{
			market: domain.MarketUS,
			loc:    loadLocation("America/New_York", -5*3600),
			// NYSE 9:30-16:00 ET
			sessions: []session{{9*60 + 30, 16 * 60}},
		}
	}
}

func loadLocation(name string, fallbackOffset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, fallbackOffset)
	}
	return loc
}

// Market returns the calendar's market.
func (tc *TradingCalendar) Market() domain.Market {
	return tc.market
}

// IsTradingDay reports whether t falls on a weekday. The date is read in t's
// own location so daily bars stamped at midnight keep their calendar day.
func (tc *TradingCalendar) IsTradingDay(t time.Time) bool {
	return isWeekday(t.Weekday())
}

func isWeekday(d time.Weekday) bool {
	return d != time.Saturday && d != time.Sunday
}

// IsMarketOpen returns whether the market is in a regular session at time t.
// Session close is exclusive.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	if !isWeekday(local.Weekday()) {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	for _, s := range tc.sessions {
		if minute >= s.open && minute < s.close {
			return true
		}
	}
	return false
}
