// Package report renders run results and comparisons as plain-text tables.
package report

import (
	"fmt"
	"math"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatMoney formats an account value as $1,234.56.
func FormatMoney(v float64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := int(math.Round(v * 100))
	return fmt.Sprintf("%s$%s.%02d", sign, FormatInt(cents/100), cents%100)
}

// FormatPct formats a value already in percent, e.g. 12.345 as "12.35%".
func FormatPct(v float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, v)
}

// FormatReturn formats a percent return with an explicit sign.
func FormatReturn(v float64) string {
	if v > 0 {
		return "+" + FormatPct(v, 2)
	}
	return FormatPct(v, 2)
}

// FormatProfitFactor formats a profit factor, printing the no-loss sentinel
// as "inf".
func FormatProfitFactor(pf, sentinel float64) string {
	if pf >= sentinel {
		return "inf"
	}
	return fmt.Sprintf("%.2f", pf)
}
