package telemetry

import (
	"bytes"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

// NormalizeChart parses a chart body. Missing arrays and overlays are defaulted,
// bars are sorted by time with duplicate timestamps resolved in favour of the
// later bar, and bars outside the OHLC envelope are dropped and counted.
func NormalizeChart(body []byte) (*models.ChartData, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, apperrors.NewShapeError("chart", nil)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewShapeError("chart", err)
	}
	o := object(raw)

	chart := &models.ChartData{
		Symbol:           o.str("", "symbol"),
		Timeframe:        models.Timeframe(o.str("", "timeframe")),
		AvailableSymbols: []string{},
	}
	for _, s := range o.list("available_symbols", "availableSymbols") {
		if name, ok := s.(string); ok && strings.TrimSpace(name) != "" {
			chart.AvailableSymbols = append(chart.AvailableSymbols, name)
		}
	}

	chart.Bars, chart.RejectedBars = normalizeBars(o.objects("bars"))

	overlays := o.obj("overlays")
	if overlays == nil {
		overlays = object{}
	}
	chart.Overlays = models.ChartOverlays{
		Entries:         normalizeMarkers(overlays.objects("entries")),
		Exits:           normalizeMarkers(overlays.objects("exits")),
		CurrentPosition: normalizeCurrentPosition(overlays.obj("current_position", "currentPosition")),
	}
	return chart, nil
}

func normalizeBars(raw []object) ([]models.Bar, int) {
	rejected := 0
	byTS := make(map[int64]models.Bar, len(raw))

	for _, b := range raw {
		ts := b.time("ts", "timestamp", "time", "t")
		open, high, low, cls := b.num("open", "o"), b.num("high", "h"), b.num("low", "l"), b.num("close", "c")
		if ts == nil || open == nil || high == nil || low == nil || cls == nil {
			rejected++
			continue
		}
		bar := models.Bar{
			Timestamp: *ts,
			Open:      *open,
			High:      *high,
			Low:       *low,
			Close:     *cls,
			Volume:    b.float(0, "volume", "v"),
		}
		if !bar.Valid() {
			rejected++
			continue
		}
		byTS[bar.Timestamp.UnixNano()] = bar
	}

	bars := make([]models.Bar, 0, len(byTS))
	for _, bar := range byTS {
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, rejected
}

func normalizeMarkers(raw []object) []models.Marker {
	out := make([]models.Marker, 0, len(raw))
	for _, m := range raw {
		ts := m.time("ts", "timestamp")
		if ts == nil {
			continue
		}
		out = append(out, models.Marker{
			Timestamp: *ts,
			Price:     m.float(0, "price"),
			Side:      strings.ToUpper(m.str("", "side")),
			Label:     m.str("", "label", "reason"),
		})
	}
	return out
}

func normalizeCurrentPosition(o object) models.CurrentPosition {
	if o == nil {
		return models.CurrentPosition{Side: models.SideFlat}
	}
	side := models.PositionSide(strings.ToUpper(o.str(string(models.SideFlat), "side")))
	switch side {
	case models.SideLong, models.SideShort, models.SideFlat:
	case "BUY":
		side = models.SideLong
	case "SELL":
		side = models.SideShort
	default:
		side = models.SideFlat
	}
	return models.CurrentPosition{
		Side:       side,
		Size:       o.float(0, "size"),
		EntryPrice: o.float(0, "entry_price", "entryPrice"),
	}
}
