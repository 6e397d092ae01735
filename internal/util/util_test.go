package util

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"quantlab/internal/domain"
)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerWithFormat("info", "json", &buf).Info("hello", "k", 1)
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("json logger output = %q, want a JSON object", buf.String())
	}

	buf.Reset()
	NewLoggerWithFormat("info", "text", &buf).Info("hello", "k", 1)
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text logger output = %q, want msg=hello", buf.String())
	}

	buf.Reset()
	NewLoggerWithFormat("warn", "json", &buf).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("warn-level logger wrote info record: %q", buf.String())
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) == nil {
		t.Fatal("OrDefault(nil) returned nil")
	}
}

func TestTradingCalendarNew(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	if cal == nil {
		t.Fatal("NewTradingCalendar returned nil")
	}
	if cal.Market() != domain.MarketUS {
		t.Errorf("Market() = %q, want %q", cal.Market(), domain.MarketUS)
	}
}

func TestTradingCalendarUS(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}

	tests := []struct {
		name string
		t    time.Time
		day  bool
		open bool
	}{
		{"wednesday mid-session", time.Date(2024, 6, 12, 11, 0, 0, 0, ny), true, true},
		{"wednesday pre-market", time.Date(2024, 6, 12, 9, 0, 0, 0, ny), true, false},
		{"wednesday at close", time.Date(2024, 6, 12, 16, 0, 0, 0, ny), true, false},
		{"saturday", time.Date(2024, 6, 15, 11, 0, 0, 0, ny), false, false},
	}
	for _, tt := range tests {
		if got := cal.IsTradingDay(tt.t); got != tt.day {
			t.Errorf("%s: IsTradingDay = %v, want %v", tt.name, got, tt.day)
		}
		if got := cal.IsMarketOpen(tt.t); got != tt.open {
			t.Errorf("%s: IsMarketOpen = %v, want %v", tt.name, got, tt.open)
		}
	}
}

func TestTradingCalendarCNLunchBreak(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketCN)
	sh := time.FixedZone("CST", 8*3600)
	if cal.IsMarketOpen(time.Date(2024, 6, 12, 12, 0, 0, 0, sh)) {
		t.Error("IsMarketOpen at 12:00 CST = true, want false (lunch break)")
	}
	if !cal.IsMarketOpen(time.Date(2024, 6, 12, 14, 0, 0, 0, sh)) {
		t.Error("IsMarketOpen at 14:00 CST = false, want true")
	}
}
