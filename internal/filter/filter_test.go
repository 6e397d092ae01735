package filter

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"quantlab/internal/domain"
)

func testPipeline() *Pipeline {
	return NewPipeline(slog.New(slog.NewTextHandler(io.Discard, nil)), domain.MarketUS)
}

// makeBars builds daily bars starting Monday 2024-01-01 with the given closes.
func makeBars(closes ...float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: start.AddDate(0, 0, i),
			Open:      c - 1,
			High:      c + 2,
			Low:       c - 2,
			Close:     c,
			Volume:    int64(1000 * (i + 1)),
		}
	}
	return bars
}

func TestApplyDisabledAndPrice(t *testing.T) {
	bars := makeBars(95, 101, 99, 102, 98, 97, 103, 100, 96, 104)
	original := make([]domain.Bar, len(bars))
	copy(original, bars)

	specs := []domain.FilterSpec{
		{Kind: domain.FilterVolume, Operator: ">", Value: 1e9, Enabled: false},
		{Kind: domain.FilterPrice, Operator: ">", Value: 100, Enabled: true},
	}
	got := testPipeline().Apply(bars, specs)

	if len(got) != 4 {
		t.Fatalf("Apply returned %d rows, want 4", len(got))
	}
	for _, b := range got {
		if b.Close <= 100 {
			t.Errorf("row with close %v survived price > 100", b.Close)
		}
	}
	for i := range bars {
		if bars[i] != original[i] {
			t.Fatalf("input bar %d modified: %+v, want %+v", i, bars[i], original[i])
		}
	}
}

func TestApplyIdempotent(t *testing.T) {
	bars := makeBars(95, 101, 99, 102, 98, 97, 103, 100, 96, 104)
	specs := []domain.FilterSpec{
		{Kind: domain.FilterVolume, Operator: ">=", Value: 3000, Enabled: true},
		{Kind: domain.FilterPrice, Operator: "<", Value: 103, Parameter: "high", Enabled: true},
		{Kind: domain.FilterDatetime, Parameter: "weekdays_only", Enabled: true},
	}
	p := testPipeline()
	once := p.Apply(bars, specs)
	twice := p.Apply(once, specs)
	if len(once) != len(twice) {
		t.Fatalf("second pass returned %d rows, first pass %d", len(twice), len(once))
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("row %d differs after second pass: %+v vs %+v", i, once[i], twice[i])
		}
	}
}

func TestApplyPassThroughOnBadStage(t *testing.T) {
	bars := makeBars(95, 101, 99, 102)
	tests := []struct {
		name string
		spec domain.FilterSpec
	}{
		{"unknown operator", domain.FilterSpec{Kind: domain.FilterPrice, Operator: "between", Value: 100, Enabled: true}},
		{"unknown kind", domain.FilterSpec{Kind: "custom", Operator: ">", Value: 1, Enabled: true}},
		{"unknown indicator", domain.FilterSpec{Kind: domain.FilterTechnical, Indicator: "vwap", Operator: ">", Enabled: true}},
		{"missing indicator", domain.FilterSpec{Kind: domain.FilterTechnical, Operator: ">", Enabled: true}},
		{"bad period", domain.FilterSpec{Kind: domain.FilterTechnical, Indicator: "rsi", Parameter: "abc", Operator: ">", Enabled: true}},
		{"unknown datetime rule", domain.FilterSpec{Kind: domain.FilterDatetime, Parameter: "full_moon", Enabled: true}},
	}
	for _, tt := range tests {
		got := testPipeline().Apply(bars, []domain.FilterSpec{tt.spec})
		if len(got) != len(bars) {
			t.Errorf("%s: Apply returned %d rows, want pass-through of %d", tt.name, len(got), len(bars))
		}
	}
}

func TestApplyFailedStageDoesNotStopLaterStages(t *testing.T) {
	bars := makeBars(95, 101, 99, 102)
	specs := []domain.FilterSpec{
		{Kind: domain.FilterPrice, Operator: "~", Value: 0, Enabled: true},
		{Kind: domain.FilterPrice, Operator: ">=", Value: 100, Enabled: true},
	}
	if got := testPipeline().Apply(bars, specs); len(got) != 2 {
		t.Errorf("Apply returned %d rows, want 2", len(got))
	}
}

func TestPriceFieldParameter(t *testing.T) {
	bars := makeBars(100, 100, 100)
	bars[1].Open = 150
	spec := domain.FilterSpec{Kind: domain.FilterPrice, Operator: ">", Value: 120, Parameter: "Open", Enabled: true}
	got := testPipeline().Apply(bars, []domain.FilterSpec{spec})
	if len(got) != 1 || got[0].Open != 150 {
		t.Errorf("Apply(open > 120) = %+v, want only the bar with open 150", got)
	}
}

func TestTechnicalMovingAverageIgnoresThreshold(t *testing.T) {
	// Rising series: every close from index 2 on sits above SMA(3).
	bars := makeBars(10, 11, 12, 13, 14, 15)
	spec := domain.FilterSpec{
		Kind:      domain.FilterTechnical,
		Indicator: "SMA",
		Parameter: "3",
		Operator:  ">",
		Value:     1e9,
		Enabled:   true,
	}
	got := testPipeline().Apply(bars, []domain.FilterSpec{spec})
	if len(got) != 4 {
		t.Fatalf("Apply(close > sma3) returned %d rows, want 4", len(got))
	}
	if got[0].Close != 12 {
		t.Errorf("first surviving close = %v, want 12", got[0].Close)
	}
}

func TestTechnicalOscillatorUsesThreshold(t *testing.T) {
	// Strictly rising closes give RSI(2) = 100 once two deltas exist.
	bars := makeBars(10, 11, 12, 13, 14)
	spec := domain.FilterSpec{
		Kind:      domain.FilterTechnical,
		Indicator: "rsi",
		Parameter: "2",
		Operator:  ">",
		Value:     70,
		Enabled:   true,
	}
	got := testPipeline().Apply(bars, []domain.FilterSpec{spec})
	if len(got) != 3 {
		t.Errorf("Apply(rsi2 > 70) returned %d rows, want 3", len(got))
	}
}

func TestDatetimeWeekdaysOnly(t *testing.T) {
	bars := makeBars(1, 2, 3, 4, 5, 6, 7) // Mon 2024-01-01 .. Sun 2024-01-07
	spec := domain.FilterSpec{Kind: domain.FilterDatetime, Parameter: "weekdays_only", Enabled: true}
	got := testPipeline().Apply(bars, []domain.FilterSpec{spec})
	if len(got) != 5 {
		t.Fatalf("Apply(weekdays_only) returned %d rows, want 5", len(got))
	}
	for _, b := range got {
		if wd := b.Timestamp.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("weekend bar %v survived", b.Timestamp)
		}
	}
}

func TestApplyNoSpecsReturnsCopy(t *testing.T) {
	bars := makeBars(1, 2, 3)
	got := testPipeline().Apply(bars, nil)
	got[0].Close = 999
	if bars[0].Close == 999 {
		t.Error("Apply without specs returned the caller's backing array")
	}
}
