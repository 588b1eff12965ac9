package mockapi

import (
	"errors"
	"math"
	"time"

	"marko-dashboard/internal/models"
)

var errNotFound = errors.New("not found")

type rejection string

func (r rejection) Error() string { return string(r) }

type payload = map[string]interface{}

var basePrices = map[string]float64{"BTC/USD": 67000, "ETH/USD": 3500, "SOL/USD": 145}

const legacyID = "legacy"

// subject resolves the instance a telemetry or chart request is about. The
// legacy routes report on a synthetic instance started with the engine.
func (e *Engine) subject(id string) (*instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" {
		return &instance{Instance: models.Instance{
			ID: legacyID, Symbol: "BTC/USD", Timeframe: models.Timeframe1h, Status: models.StatusRunning,
		}, startedAt: e.startedAt}, true
	}
	inst := e.findLocked(id)
	if inst == nil {
		return nil, false
	}
	cp := *inst
	cp.Instance = inst.Instance.Clone()
	return &cp, true
}

func engineStatus(inst *instance, warming bool) models.InstanceStatus {
	switch {
	case inst.Status.IsStopped():
		return models.StatusStopped
	case inst.Status.IsPaused():
		return models.StatusPaused
	case warming:
		return models.StatusStarting
	}
	return models.StatusRunning
}

// telemetry builds a full snapshot payload in the engine's wire format.
func (e *Engine) telemetry(id string) (payload, error) {
	inst, ok := e.subject(id)
	if !ok {
		return nil, errNotFound
	}

	e.mu.Lock()
	warming, progress, remaining := e.warmingLocked(inst)
	jitter := e.rng.Float64()*100 - 50
	e.mu.Unlock()

	now := e.clock.Now()
	live := !warming && !inst.Status.IsStopped()
	price := basePrices[inst.Symbol]
	if price == 0 {
		price = 100
	}
	qty := 0.5
	if inst.Symbol == "ETH/USD" {
		qty = 10
	}

	engine := payload{
		"status":                   string(engineStatus(inst, warming)),
		"uptime_seconds":           now.Sub(inst.startedAt).Seconds(),
		"last_heartbeat":           now.Format(time.RFC3339Nano),
		"error_state":              nil,
		"is_warming_up":            warming,
		"warmup_progress":          progress,
		"warmup_remaining_seconds": nil,
	}
	if warming {
		engine["warmup_remaining_seconds"] = remaining.Seconds()
	}
	if inst.startedAt.IsZero() {
		engine["uptime_seconds"] = 0
	}

	name := inst.ID
	if id == "" {
		name = "MARKO_V4"
	}
	strategy := payload{
		"name":             name,
		"markov_state":     nil,
		"phi":              nil,
		"volatility":       nil,
		"risk_multiplier":  nil,
		"conviction_score": nil,
		"active_filters":   []string{},
		"last_decision":    "WAIT",
	}
	positions := []payload{}
	orders := []payload{}
	exposure := 0.0
	if live {
		strategy["markov_state"] = "VOLATILITY_EXPANSION"
		strategy["phi"] = 0.85
		strategy["volatility"] = 0.22
		strategy["risk_multiplier"] = 1.2
		strategy["conviction_score"] = 0.85
		strategy["active_filters"] = []string{"trend", "volatility"}
		strategy["last_decision"] = "REBALANCE"
		exposure = 0.6
		positions = append(positions, payload{
			"symbol":          inst.Symbol,
			"qty":             qty,
			"avg_entry_price": price * 0.98,
			"current_price":   price,
			"unrealized_pnl":  1000,
			"market_value":    30000,
		})
		orders = append(orders, payload{
			"order_id":  "ord_123",
			"symbol":    inst.Symbol,
			"side":      "BUY",
			"qty":       qty,
			"status":    "FILLED",
			"timestamp": now.Add(-time.Hour).Format(time.RFC3339Nano),
			"price":     price * 0.98,
		})
	}

	firstEvent := "Heartbeat received"
	if warming {
		firstEvent = "SYNCING_HISTORY"
	}

	out := payload{
		"timestamp":   now.Format(time.RFC3339Nano),
		"version":     "2.0",
		"instance_id": inst.ID,
		"engine":      engine,
		"strategy":    strategy,
		"portfolio": payload{
			"total_equity":       124500 + jitter,
			"cash":               50000,
			"total_exposure_pct": exposure,
			"positions":          positions,
		},
		"recent_orders": orders,
		"events": []payload{
			{"timestamp": now.Format(time.RFC3339Nano), "type": "INFO", "message": firstEvent},
			{"timestamp": now.Add(-5 * time.Second).Format(time.RFC3339Nano), "type": "WARN", "message": "High latency detected on exchange"},
			{"timestamp": now.Add(-15 * time.Second).Format(time.RFC3339Nano), "type": "INFO", "message": "Strategy state updated to VOLATILITY_EXPANSION"},
		},
	}
	if id != "" {
		out["pockets"] = []payload{{
			"pocket_id":      inst.ID,
			"equity":         124500 + jitter,
			"unrealized_pnl": inst.ActivePnl,
			"positions":      positions,
		}}
	}
	return out, nil
}

// chart builds a random-walk OHLC series that always satisfies the bar envelope.
func (e *Engine) chart(id string, limit int, symbol string) (payload, error) {
	inst, ok := e.subject(id)
	if !ok {
		return nil, errNotFound
	}
	if limit <= 0 {
		limit = 100
	}
	limit = min(max(limit, 10), 1000)

	sym := inst.Symbol
	if _, known := basePrices[symbol]; known {
		sym = symbol
	}
	price := basePrices[sym]
	if price == 0 {
		price = 100
	}
	step := inst.Timeframe.Duration()
	if step == 0 {
		step = time.Hour
	}

	now := e.clock.Now()
	bars := make([]payload, 0, limit)
	entries := []payload{}
	exits := []payload{}

	e.mu.Lock()
	for i := limit - 1; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * step).UnixMilli()
		vol := price * 0.005
		open := price
		cls := price + (e.rng.Float64()-0.5)*vol
		high := math.Max(open, cls) + e.rng.Float64()*vol*0.5
		low := math.Min(open, cls) - e.rng.Float64()*vol*0.5
		volume := e.rng.Float64()*10 + 5

		bars = append(bars, payload{"ts": ts, "open": open, "high": high, "low": low, "close": cls, "volume": volume})
		price = cls

		switch i {
		case 70:
			entries = append(entries, payload{"ts": ts, "price": open, "side": "LONG", "size": 0.5})
		case 40:
			exits = append(exits, payload{"ts": ts, "price": cls})
		case 30:
			entries = append(entries, payload{"ts": ts, "price": open, "side": "SHORT", "size": 0.3})
		}
	}
	e.mu.Unlock()

	current := payload{"side": "FLAT", "entry_price": nil, "size": nil}
	if !inst.Status.IsStopped() && len(entries) > 0 {
		current = payload{"side": "SHORT", "entry_price": entries[len(entries)-1]["price"], "size": 0.3}
	}

	return payload{
		"symbol":            sym,
		"timeframe":         string(inst.Timeframe),
		"available_symbols": symbols,
		"bars":              bars,
		"overlays": payload{
			"entries":          entries,
			"exits":            exits,
			"current_position": current,
		},
	}, nil
}
