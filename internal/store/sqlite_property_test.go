package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"marko-dashboard/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Property: bars written and read back over their full range are identical
// and chronological.
func TestProperty_BarRoundTripConsistency(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	symbols := []string{"BTC/USD", "ETH/USD", "SOL/USD"}
	run := 0

	properties.Property("save then load returns the same bars", prop.ForAll(
		func(symbolIdx int, tf string, count int, basePrice float64) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("%s#%d", symbols[symbolIdx%len(symbols)], run)
			bars := generateTestBars(count, basePrice)

			if err := store.SaveBars(ctx, symbol, models.Timeframe(tf), bars); err != nil {
				t.Logf("Failed to save bars: %v", err)
				return false
			}

			from := bars[0].Timestamp.Add(-time.Second)
			to := bars[len(bars)-1].Timestamp.Add(time.Second)
			got, err := store.GetBars(ctx, symbol, models.Timeframe(tf), from, to)
			if err != nil {
				t.Logf("Failed to load bars: %v", err)
				return false
			}
			if len(got) != len(bars) {
				t.Logf("Count mismatch: expected %d, got %d", len(bars), len(got))
				return false
			}
			for i := range bars {
				if !barsEqual(bars[i], got[i]) {
					t.Logf("Bar mismatch at %d: %+v vs %+v", i, bars[i], got[i])
					return false
				}
			}
			return true
		},
		gen.IntRange(0, len(symbols)-1),
		gen.OneConstOf("1m", "5m", "15m", "1h", "4h", "1d"),
		gen.IntRange(1, 20),
		gen.Float64Range(1, 70000),
	))

	properties.TestingRun(t)
}

func generateTestBars(count int, basePrice float64) []models.Bar {
	bars := make([]models.Bar, count)
	baseTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		variation := float64(i%10) * 0.01 * basePrice
		open := basePrice + variation
		cls := basePrice + variation*0.5
		bars[i] = models.Bar{
			Timestamp: baseTime.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      math.Max(open, cls) * 1.01,
			Low:       math.Min(open, cls) * 0.99,
			Close:     cls,
			Volume:    float64(i) + 5.5,
		}
	}
	return bars
}

func barsEqual(a, b models.Bar) bool {
	const eps = 1e-9
	return a.Timestamp.Equal(b.Timestamp) &&
		math.Abs(a.Open-b.Open) < eps && math.Abs(a.High-b.High) < eps &&
		math.Abs(a.Low-b.Low) < eps && math.Abs(a.Close-b.Close) < eps &&
		math.Abs(a.Volume-b.Volume) < eps
}

func TestSaveBarsReplacesSameTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	store.SaveBars(ctx, "BTC/USD", models.Timeframe1h, []models.Bar{{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5}})
	store.SaveBars(ctx, "BTC/USD", models.Timeframe1h, []models.Bar{{Timestamp: ts, Open: 1, High: 3, Low: 0.5, Close: 2.5}})

	got, err := store.GetBars(ctx, "BTC/USD", models.Timeframe1h, ts, ts)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Close != 2.5 {
		t.Errorf("bars = %+v", got)
	}
}
