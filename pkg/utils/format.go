// Package utils provides shared utility functions.
package utils

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatCurrency formats an amount in dollars with thousands separators,
// e.g. 124500.5 -> "$124,500.50".
func FormatCurrency(amount float64) string {
	d := decimal.NewFromFloat(amount).Round(2)
	negative := d.IsNegative()
	if negative {
		d = d.Neg()
	}

	str := d.StringFixed(2)
	parts := strings.Split(str, ".")
	result := "$" + groupThousands(parts[0]) + "." + parts[1]
	if negative {
		result = "-" + result
	}
	return result
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatPercent formats a percentage with sign.
func FormatPercent(value float64) string {
	sign := ""
	if value > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, value)
}

// FormatPnL formats P&L with an explicit sign for gains.
func FormatPnL(pnl float64) string {
	formatted := FormatCurrency(pnl)
	if decimal.NewFromFloat(pnl).Round(2).IsPositive() {
		return "+" + formatted
	}
	return formatted
}

// FormatQuantity formats a position size, trimming trailing zeros.
func FormatQuantity(qty float64) string {
	return decimal.NewFromFloat(qty).Round(8).String()
}

// FormatPrice formats a price with precision suited to its magnitude.
func FormatPrice(price float64) string {
	d := decimal.NewFromFloat(price)
	switch abs := d.Abs(); {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return groupThousandsSigned(d.StringFixed(2))
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return d.StringFixed(2)
	default:
		return d.StringFixed(6)
	}
}

func groupThousandsSigned(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	out := sign + groupThousands(parts[0])
	if len(parts) == 2 {
		out += "." + parts[1]
	}
	return out
}

// FormatCompact formats an amount in compact form (K/M/B).
func FormatCompact(amount float64) string {
	abs := amount
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs >= 1e9:
		return fmt.Sprintf("$%.2fB", amount/1e9)
	case abs >= 1e6:
		return fmt.Sprintf("$%.2fM", amount/1e6)
	case abs >= 1e4:
		return fmt.Sprintf("$%.1fK", amount/1e3)
	}
	return FormatCurrency(amount)
}

// SumMoney adds amounts in decimal arithmetic and returns the rounded float.
func SumMoney(amounts ...float64) float64 {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromFloat(a))
	}
	f, _ := total.Round(8).Float64()
	return f
}
