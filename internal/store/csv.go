package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"quantlab/internal/domain"
)

var csvTimeLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006",
}

// ReadCSVBars parses OHLCV rows with a header naming the columns
// date (or timestamp/datetime), open, high, low, close and volume, in any
// order and case. Bars are returned sorted by time; a repeated timestamp is
// an ErrData.
func ReadCSVBars(r io.Reader, symbol string) ([]domain.Bar, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty csv", domain.ErrData)
		}
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	timeCol := -1
	for _, name := range []string{"date", "timestamp", "datetime", "time"} {
		if i, ok := cols[name]; ok {
			timeCol = i
			break
		}
	}
	if timeCol < 0 {
		return nil, fmt.Errorf("%w: csv has no date column", domain.ErrData)
	}
	var idx [5]int
	for k, name := range []string{"open", "high", "low", "close", "volume"} {
		i, ok := cols[name]
		if !ok {
			return nil, fmt.Errorf("%w: csv has no %s column", domain.ErrData, name)
		}
		idx[k] = i
	}

	symbol = strings.ToUpper(symbol)
	var bars []domain.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrData, err)
		}

		ts, err := parseCSVTime(rec[timeCol])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", domain.ErrData, line, err)
		}
		var px [4]float64
		for k := range px {
			if px[k], err = strconv.ParseFloat(strings.TrimSpace(rec[idx[k]]), 64); err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", domain.ErrData, line, err)
			}
		}
		vol, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[4]]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", domain.ErrData, line, err)
		}

		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      px[0],
			High:      px[1],
			Low:       px[2],
			Close:     px[3],
			Volume:    int64(vol),
		})
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Equal(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: duplicate timestamp %s", domain.ErrData, bars[i].Timestamp.Format(time.RFC3339))
		}
	}
	return bars, nil
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
