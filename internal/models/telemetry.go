package models

import "time"

// PayloadShape names the telemetry payload variant a record was normalized from.
type PayloadShape string

const (
	// ShapeFull is a snapshot carrying engine, strategy and portfolio sections.
	ShapeFull PayloadShape = "full"
	// ShapeFlat is a bare strategy state at the payload root.
	ShapeFlat PayloadShape = "flat"
	// ShapeEmpty is an object with none of the recognised sections.
	ShapeEmpty PayloadShape = "empty"
)

// EventType is the severity of an engine event.
type EventType string

const (
	EventInfo  EventType = "INFO"
	EventWarn  EventType = "WARN"
	EventError EventType = "ERROR"
)

// TelemetryRecord is the canonical engine/strategy/portfolio snapshot of one poll tick.
// A new record replaces the previous one entirely.
type TelemetryRecord struct {
	InstanceID string        `json:"instanceId"`
	Shape      PayloadShape  `json:"shape"`
	FetchedAt  time.Time     `json:"fetchedAt"`
	Status     EngineStatus  `json:"status"`
	Strategy   StrategyState `json:"strategy"`
	Positions  []Position    `json:"positions"`
	Pockets    []Pocket      `json:"pockets"`
	Events     []Event       `json:"events"`
}

// EngineStatus summarises engine health and account totals.
type EngineStatus struct {
	Status             InstanceStatus `json:"status"`
	IsWarmingUp        bool           `json:"isWarmingUp"`
	WarmupProgress     float64        `json:"warmupProgress"`
	WarmupRemainingSec float64        `json:"warmupRemainingSec"`
	Heartbeat          *time.Time     `json:"heartbeat"`
	Equity             float64        `json:"equity"`
	Cash               float64        `json:"cash"`
	ExposurePct        float64        `json:"exposurePct"`
	UnrealizedPnl      float64        `json:"unrealizedPnl"`
	OpenPositionsCount int            `json:"openPositionsCount"`
	LastAction         string         `json:"lastAction"`
}

// StrategyState is the model state reported by the strategy.
type StrategyState struct {
	Name            string          `json:"name"`
	Regime          string          `json:"regime"`
	Phi             *float64        `json:"phi"`
	Volatility      *float64        `json:"volatility"`
	ConvictionScore *float64        `json:"convictionScore"`
	RiskMultiplier  *float64        `json:"riskMultiplier"`
	Filters         map[string]bool `json:"filters"`
	LastDecision    string          `json:"lastDecision"`
}

// Position is an open position.
type Position struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"`
	AvgPrice      float64 `json:"avgPrice"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	CurrentPrice  float64 `json:"currentPrice"`
	MarketValue   float64 `json:"marketValue"`
}

// Pocket is the sub-portfolio attributed to one instance.
type Pocket struct {
	PocketID      string     `json:"pocketId"`
	Equity        float64    `json:"equity"`
	UnrealizedPnl float64    `json:"unrealizedPnl"`
	Positions     []Position `json:"positions"`
}

// Event is an engine event entry.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
}

// EmptyTelemetry returns the record published before the first successful poll.
func EmptyTelemetry(instanceID string) TelemetryRecord {
	return TelemetryRecord{
		InstanceID: instanceID,
		Shape:      ShapeEmpty,
		Status:     EngineStatus{Status: StatusUnknown},
		Strategy:   StrategyState{Filters: map[string]bool{}},
		Positions:  []Position{},
		Pockets:    []Pocket{},
		Events:     []Event{},
	}
}
