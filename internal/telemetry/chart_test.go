package telemetry

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

func chartBody(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNormalizeChartDefaults(t *testing.T) {
	chart, err := NormalizeChart([]byte(`{"symbol":"BTC/USD"}`))
	if err != nil {
		t.Fatal(err)
	}
	if chart.Bars == nil || chart.Overlays.Entries == nil || chart.Overlays.Exits == nil {
		t.Error("missing arrays should default to empty")
	}
	if chart.Overlays.CurrentPosition.Side != models.SideFlat {
		t.Errorf("current position = %+v, want FLAT", chart.Overlays.CurrentPosition)
	}

	if _, err := NormalizeChart([]byte(`[1,2]`)); !apperrors.Is(err, apperrors.ErrInvalidPayload) {
		t.Errorf("array body error = %v", err)
	}
}

func TestNormalizeChartSortsDedupesAndRejects(t *testing.T) {
	base := int64(1_700_000_000_000)
	body := chartBody(t, map[string]interface{}{
		"symbol":            "ETH/USD",
		"timeframe":         "1h",
		"available_symbols": []string{"ETH/USD", "BTC/USD"},
		"bars": []interface{}{
			map[string]interface{}{"ts": base + 7200000, "open": 10.0, "high": 12.0, "low": 9.0, "close": 11.0, "volume": 1.0},
			map[string]interface{}{"ts": base, "open": 10.0, "high": 11.0, "low": 9.0, "close": 10.5},
			map[string]interface{}{"ts": base + 3600000, "open": 10.0, "high": 9.5, "low": 9.0, "close": 10.0},
			map[string]interface{}{"ts": base, "open": 20.0, "high": 21.0, "low": 19.0, "close": 20.5},
			map[string]interface{}{"open": 1.0, "high": 1.0, "low": 1.0, "close": 1.0},
		},
		"overlays": map[string]interface{}{
			"entries":          []interface{}{map[string]interface{}{"ts": base, "price": 10.0, "side": "long"}},
			"current_position": map[string]interface{}{"side": "SHORT", "size": 0.3, "entry_price": 10.2},
		},
	})

	chart, err := NormalizeChart(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(chart.Bars) != 2 {
		t.Fatalf("len(Bars) = %d, want 2", len(chart.Bars))
	}
	if chart.RejectedBars != 2 {
		t.Errorf("RejectedBars = %d, want 2", chart.RejectedBars)
	}
	if !chart.Bars[0].Timestamp.Before(chart.Bars[1].Timestamp) {
		t.Error("bars not chronological")
	}
	if chart.Bars[0].Open != 20 {
		t.Errorf("duplicate timestamp should keep the later bar, got open %v", chart.Bars[0].Open)
	}
	if !chart.Bars[0].Timestamp.Equal(time.UnixMilli(base)) {
		t.Errorf("ts = %v", chart.Bars[0].Timestamp)
	}
	if len(chart.AvailableSymbols) != 2 || chart.Timeframe != models.Timeframe1h {
		t.Errorf("meta = %+v", chart)
	}
	if cp := chart.Overlays.CurrentPosition; cp.Side != models.SideShort || cp.EntryPrice != 10.2 {
		t.Errorf("current position = %+v", cp)
	}
	if chart.Overlays.Entries[0].Side != "LONG" {
		t.Errorf("entry side = %q", chart.Overlays.Entries[0].Side)
	}
}

// Property: every bar that survives normalization satisfies the OHLC envelope,
// and every input bar is either kept, merged as a duplicate or counted as rejected.
func TestProperty_ChartBarsSatisfyEnvelope(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	type rawBar struct {
		Open, High, Low, Close float64
	}
	barGen := gen.SliceOfN(4, gen.Float64Range(1, 100)).Map(func(v []float64) rawBar {
		return rawBar{Open: v[0], High: v[1], Low: v[2], Close: v[3]}
	})

	properties.Property("kept bars are valid", prop.ForAll(
		func(raws []rawBar) bool {
			bars := make([]interface{}, len(raws))
			invalid := 0
			for i, r := range raws {
				bars[i] = map[string]interface{}{"ts": 1_700_000_000_000 + int64(i)*60000, "open": r.Open, "high": r.High, "low": r.Low, "close": r.Close}
				if !(models.Bar{Open: r.Open, High: r.High, Low: r.Low, Close: r.Close}).Valid() {
					invalid++
				}
			}
			chart, err := NormalizeChart(chartBody(t, map[string]interface{}{"bars": bars}))
			if err != nil {
				return false
			}
			for i, b := range chart.Bars {
				if !b.Valid() {
					return false
				}
				if i > 0 && !chart.Bars[i-1].Timestamp.Before(b.Timestamp) {
					return false
				}
			}
			return chart.RejectedBars == invalid && len(chart.Bars) == len(raws)-invalid
		},
		gen.SliceOf(barGen),
	))

	properties.TestingRun(t)
}
