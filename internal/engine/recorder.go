package engine

import (
	"log/slog"
	"math"

	"quantlab/internal/domain"
	"quantlab/internal/util"
)

// DefaultReason labels entries and exits whose order carried no reason.
const DefaultReason = "Strategy Signal"

// Recorder turns raw closed round trips from the broker into numbered trade
// records. It owns its log; Trades hands out copies.
type Recorder struct {
	log    *slog.Logger
	trades []domain.Trade
	nextID int
}

// NewRecorder creates an empty Recorder.
func NewRecorder(log *slog.Logger) *Recorder {
	return &Recorder{log: util.OrDefault(log)}
}

// Record assigns the next trade id, fills the derived fields and appends the
// trade to the log. The exit price is the size-weighted mean of the closing
// fills, so entry ± gross/size reproduces it. Duration counts whole days,
// minimum one, and the return is net P&L over entry notional.
func (r *Recorder) Record(t domain.Trade) domain.Trade {
	r.nextID++
	t.ID = r.nextID

	if t.Qty > 0 {
		if t.Side == domain.PositionSideShort {
			t.ExitPrice = t.EntryPrice - t.GrossPnL/t.Qty
		} else {
			t.ExitPrice = t.EntryPrice + t.GrossPnL/t.Qty
		}
	}
	t.DurationDays = int(math.Floor(t.ExitTime.Sub(t.EntryTime).Hours() / 24))
	if t.DurationDays < 1 {
		t.DurationDays = 1
	}
	if notional := t.EntryPrice * t.Qty; notional != 0 {
		t.ReturnPct = t.NetPnL / notional * 100
	}
	if t.EntryReason == "" {
		t.EntryReason = DefaultReason
	}
	if t.ExitReason == "" {
		t.ExitReason = DefaultReason
	}

	r.trades = append(r.trades, t)
	r.log.Info("trade closed",
		"trade_id", t.ID,
		"symbol", t.Symbol,
		"side", t.Side,
		"entry_price", t.EntryPrice,
		"exit_price", t.ExitPrice,
		"size", t.Qty,
		"pnl", t.NetPnL,
		"return_pct", t.ReturnPct,
		"commission", t.Commission,
	)
	return t
}

// Trades returns a copy of the trade log in closing order.
func (r *Recorder) Trades() []domain.Trade {
	out := make([]domain.Trade, len(r.trades))
	copy(out, r.trades)
	return out
}

// Len returns the number of recorded trades.
func (r *Recorder) Len() int {
	return len(r.trades)
}
