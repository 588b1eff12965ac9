package utils

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var groupedPattern = regexp.MustCompile(`^\d{1,3}(,\d{3})*$`)

// For any amount within float precision, FormatCurrency carries a $ prefix,
// exactly two decimals, comma groups of three, and parses back to the
// amount rounded to cents.
func TestProperty_CurrencyFormatting(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("FormatCurrency round-trips to cents", prop.ForAll(
		func(cents int64) bool {
			amount := float64(cents) / 100
			formatted := FormatCurrency(amount)

			body := strings.TrimPrefix(formatted, "-")
			if (cents < 0) != (body != formatted) {
				t.Logf("sign mismatch for %d: %s", cents, formatted)
				return false
			}
			if !strings.HasPrefix(body, "$") {
				t.Logf("missing $ prefix: %s", formatted)
				return false
			}
			body = strings.TrimPrefix(body, "$")

			parts := strings.Split(body, ".")
			if len(parts) != 2 || len(parts[1]) != 2 {
				t.Logf("expected two decimals: %s", formatted)
				return false
			}
			if !groupedPattern.MatchString(parts[0]) {
				t.Logf("bad grouping: %s", formatted)
				return false
			}

			parsed, err := strconv.ParseFloat(strings.ReplaceAll(body, ",", ""), 64)
			if err != nil {
				return false
			}
			return math.Abs(parsed-math.Abs(amount)) < 0.005
		},
		gen.Int64Range(-1e13, 1e13),
	))

	properties.TestingRun(t)
}

func TestFormatCurrencyExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "$0.00"},
		{1, "$1.00"},
		{999.999, "$1,000.00"},
		{1000, "$1,000.00"},
		{124500.5, "$124,500.50"},
		{1000000, "$1,000,000.00"},
		{-1234.56, "-$1,234.56"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			if got := FormatCurrency(tc.amount); got != tc.expected {
				t.Errorf("FormatCurrency(%f) = %s, want %s", tc.amount, got, tc.expected)
			}
		})
	}
}

func TestFormatPercentExamples(t *testing.T) {
	testCases := []struct {
		value    float64
		expected string
	}{
		{0, "0.00%"},
		{1.5, "+1.50%"},
		{-2.5, "-2.50%"},
	}

	for _, tc := range testCases {
		if got := FormatPercent(tc.value); got != tc.expected {
			t.Errorf("FormatPercent(%f) = %s, want %s", tc.value, got, tc.expected)
		}
	}
}

func TestFormatPnLAndPrice(t *testing.T) {
	if got := FormatPnL(1250.5); got != "+$1,250.50" {
		t.Errorf("FormatPnL(1250.5) = %s", got)
	}
	if got := FormatPnL(-3); got != "-$3.00" {
		t.Errorf("FormatPnL(-3) = %s", got)
	}
	if got := FormatPnL(0.001); got != "$0.00" {
		t.Errorf("FormatPnL(0.001) = %s", got)
	}
	if got := FormatPrice(67012.345); got != "67,012.35" {
		t.Errorf("FormatPrice(67012.345) = %s", got)
	}
	if got := FormatPrice(0.00012345); got != "0.000123" {
		t.Errorf("FormatPrice(0.00012345) = %s", got)
	}
	if got := FormatQuantity(0.30000000000000004); got != "0.3" {
		t.Errorf("FormatQuantity = %s", got)
	}
	if got := FormatCompact(2500000); got != "$2.50M" {
		t.Errorf("FormatCompact = %s", got)
	}
}

func TestSumMoney(t *testing.T) {
	if got := SumMoney(0.1, 0.2); got != 0.3 {
		t.Errorf("SumMoney(0.1, 0.2) = %v", got)
	}
}
