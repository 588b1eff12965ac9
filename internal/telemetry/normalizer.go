// Package telemetry normalizes engine telemetry and chart payloads and
// keeps the selected instance's telemetry fresh.
package telemetry

import (
	"bytes"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

const (
	defaultStrategyName = "Unknown Strategy"
	defaultRegime       = "UNKNOWN"
	defaultLastAction   = "WAIT"
	defaultDecision     = "No recent decision"
)

// Payload is a decoded telemetry payload of a known shape.
type Payload interface {
	Shape() models.PayloadShape
	root() object
}

// FullPayload carries engine, strategy and portfolio sections.
type FullPayload struct{ raw object }

// FlatPayload is a bare strategy state at the root with no engine or portfolio.
type FlatPayload struct{ raw object }

// EmptyPayload is an object with no recognised section.
type EmptyPayload struct{ raw object }

func (FullPayload) Shape() models.PayloadShape  { return models.ShapeFull }
func (FlatPayload) Shape() models.PayloadShape  { return models.ShapeFlat }
func (EmptyPayload) Shape() models.PayloadShape { return models.ShapeEmpty }

func (p FullPayload) root() object  { return p.raw }
func (p FlatPayload) root() object  { return p.raw }
func (p EmptyPayload) root() object { return p.raw }

// flatMarkers are root keys that identify a bare strategy state.
var flatMarkers = []string{"markov_state", "markovState", "regime", "phi", "active_filters", "activeFilters"}

// Classify is the single discriminator between payload shapes.
func Classify(raw map[string]interface{}) Payload {
	o := object(raw)
	switch {
	case o.obj("strategy") != nil || o.obj("engine") != nil || o.obj("portfolio") != nil:
		return FullPayload{raw: o}
	case o.has(flatMarkers...):
		return FlatPayload{raw: o}
	default:
		return EmptyPayload{raw: o}
	}
}

// Parse decodes a telemetry body. Only a body that is not a JSON object is an error.
func Parse(body []byte) (Payload, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, apperrors.NewShapeError("telemetry", nil)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewShapeError("telemetry", err)
	}
	return Classify(raw), nil
}

// NormalizeBytes parses and normalizes a telemetry body fetched for instanceID.
func NormalizeBytes(body []byte, instanceID string, fetchedAt time.Time) (models.TelemetryRecord, error) {
	p, err := Parse(body)
	if err != nil {
		return models.TelemetryRecord{}, err
	}
	rec := Normalize(p)
	if rec.InstanceID == "" {
		rec.InstanceID = instanceID
	}
	rec.FetchedAt = fetchedAt
	return rec, nil
}

// Normalize converts a payload into a canonical record. It never fails:
// every missing or malformed field takes its default.
func Normalize(p Payload) models.TelemetryRecord {
	root := p.root()

	var engine, strategy, portfolio object
	switch p.(type) {
	case FullPayload:
		engine = root.obj("engine")
		strategy = root.obj("strategy")
		portfolio = root.obj("portfolio")
	case FlatPayload:
		strategy = root
	}
	if engine == nil {
		engine = object{}
	}
	if strategy == nil {
		strategy = object{}
	}
	if portfolio == nil {
		portfolio = object{}
	}

	rec := models.TelemetryRecord{
		InstanceID: root.str("", "instance_id", "instanceId"),
		Shape:      p.Shape(),
		Strategy:   normalizeStrategy(strategy),
		Positions:  normalizePositions(portfolio.objects("positions")),
		Pockets:    normalizePockets(root, portfolio),
		Events:     normalizeEvents(root.objects("events")),
	}
	if len(rec.Positions) == 0 {
		for _, pocket := range rec.Pockets {
			rec.Positions = append(rec.Positions, pocket.Positions...)
		}
	}

	rec.Status = normalizeEngine(engine, portfolio, strategy)
	rec.Status.UnrealizedPnl = aggregatePnl(rec.Pockets, rec.Positions)
	rec.Status.OpenPositionsCount = len(rec.Positions)
	return rec
}

func normalizeEngine(engine, portfolio, strategy object) models.EngineStatus {
	warming := engine.boolean("is_warming_up", "isWarmingUp")
	status := models.NormalizeStatus(engine.str(string(models.StatusUnknown), "status"))
	// A finished warmup is not displayed as still starting.
	if status == models.StatusStarting && !warming {
		status = models.StatusRunning
	}

	return models.EngineStatus{
		Status:             status,
		IsWarmingUp:        warming,
		WarmupProgress:     clamp(engine.float(0, "warmup_progress", "warmupProgress"), 0, 1),
		WarmupRemainingSec: clamp(engine.float(0, "warmup_remaining_seconds", "warmupRemainingSec", "warmup_remaining_est"), 0, 1e9),
		Heartbeat:          engine.time("last_heartbeat", "heartbeat", "lastHeartbeat"),
		Equity:             portfolio.float(0, "total_equity", "equity", "totalEquity"),
		Cash:               portfolio.float(0, "cash"),
		ExposurePct:        portfolio.float(0, "total_exposure_pct", "exposure_pct", "exposurePct"),
		LastAction:         strategy.str(defaultLastAction, "last_decision", "lastDecision"),
	}
}

func normalizeStrategy(s object) models.StrategyState {
	out := models.StrategyState{
		Name:            s.str(defaultStrategyName, "name"),
		Regime:          s.str(defaultRegime, "markov_state", "markovState", "regime"),
		Phi:             s.num("phi"),
		Volatility:      s.num("volatility"),
		ConvictionScore: s.num("conviction_score", "convictionScore"),
		RiskMultiplier:  s.num("risk_multiplier", "riskMultiplier"),
		Filters:         map[string]bool{},
		LastDecision:    s.str(defaultDecision, "last_decision", "lastDecision"),
	}
	if out.Volatility != nil && *out.Volatility < 0 {
		out.Volatility = nil
	}

	for _, f := range s.list("active_filters", "activeFilters") {
		if name, ok := f.(string); ok && name != "" {
			out.Filters[name] = true
		}
	}
	// Some payloads already send a map; only true entries are kept.
	if m := s.obj("filters"); m != nil {
		for name, v := range m {
			if b, ok := v.(bool); ok && b {
				out.Filters[name] = true
			}
		}
	}
	return out
}

func normalizePositions(raw []object) []models.Position {
	out := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, models.Position{
			Symbol:        p.str("", "symbol"),
			Size:          p.float(0, "qty", "size", "quantity"),
			AvgPrice:      p.float(0, "avg_entry_price", "avg_price", "avgPrice"),
			UnrealizedPnl: p.float(0, "unrealized_pnl", "unrealizedPnl", "unrealizedPnL"),
			CurrentPrice:  p.float(0, "current_price", "currentPrice"),
			MarketValue:   p.float(0, "market_value", "marketValue"),
		})
	}
	return out
}

// normalizePockets reads pockets from the root, falling back to the portfolio section.
func normalizePockets(root, portfolio object) []models.Pocket {
	raw := root.objects("pockets")
	if raw == nil {
		raw = portfolio.objects("pockets")
	}

	out := make([]models.Pocket, 0, len(raw))
	for _, p := range raw {
		out = append(out, models.Pocket{
			PocketID:      p.str("", "pocket_id", "pocketId", "instance_id", "id"),
			Equity:        p.float(0, "equity", "total_equity"),
			UnrealizedPnl: p.float(0, "unrealized_pnl", "unrealizedPnl"),
			Positions:     normalizePositions(p.objects("positions")),
		})
	}
	return out
}

// aggregatePnl sums pocket PnL when pockets exist, else position PnL.
// Pocket aggregation is authoritative for multi-instance backends.
func aggregatePnl(pockets []models.Pocket, positions []models.Position) float64 {
	sum := decimal.Zero
	switch {
	case len(pockets) > 0:
		for _, p := range pockets {
			sum = sum.Add(decimal.NewFromFloat(p.UnrealizedPnl))
		}
	case len(positions) > 0:
		for _, p := range positions {
			sum = sum.Add(decimal.NewFromFloat(p.UnrealizedPnl))
		}
	}
	f, _ := sum.Float64()
	return f
}

func normalizeEvents(raw []object) []models.Event {
	out := make([]models.Event, 0, len(raw))
	for _, e := range raw {
		ev := models.Event{
			Type:    eventType(e.str("", "type", "level")),
			Message: e.str("", "message", "msg"),
		}
		if ts := e.time("timestamp", "ts"); ts != nil {
			ev.Timestamp = *ts
		}
		out = append(out, ev)
	}
	return out
}

func eventType(s string) models.EventType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WARN", "WARNING":
		return models.EventWarn
	case "ERROR", "CRITICAL", "FATAL":
		return models.EventError
	default:
		return models.EventInfo
	}
}
