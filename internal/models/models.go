// Package models provides domain models for the trading dashboard.
package models

import (
	"regexp"
	"strings"
	"time"
)

// Timeframe represents the bar interval an instance trades on.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Timeframes lists every supported timeframe in ascending order.
var Timeframes = []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	for _, known := range Timeframes {
		if tf == known {
			return true
		}
	}
	return false
}

// Duration returns the bar length of tf, or zero for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	}
	return 0
}

// InstanceStatus represents the lifecycle state of a strategy instance.
type InstanceStatus string

const (
	StatusStopped  InstanceStatus = "STOPPED"
	StatusStarting InstanceStatus = "STARTING"
	StatusRunning  InstanceStatus = "RUNNING"
	StatusPaused   InstanceStatus = "PAUSED"
	StatusError    InstanceStatus = "ERROR"
	StatusCrashed  InstanceStatus = "CRASHED"
	StatusUnknown  InstanceStatus = "UNKNOWN"
)

// NormalizeStatus upper-cases a backend status string.
func NormalizeStatus(s string) InstanceStatus {
	return InstanceStatus(strings.ToUpper(strings.TrimSpace(s)))
}

// IsStopped reports a stopped or absent status.
func (s InstanceStatus) IsStopped() bool {
	switch NormalizeStatus(string(s)) {
	case StatusStopped, "OFF", "":
		return true
	}
	return false
}

// IsStarting reports a warming-up instance.
func (s InstanceStatus) IsStarting() bool {
	switch NormalizeStatus(string(s)) {
	case StatusStarting, "WARMUP":
		return true
	}
	return false
}

// IsRunning reports a live instance.
func (s InstanceStatus) IsRunning() bool {
	switch NormalizeStatus(string(s)) {
	case StatusRunning, "ACTIVE", "LIVE":
		return true
	}
	return false
}

// IsPaused reports a paused instance.
func (s InstanceStatus) IsPaused() bool {
	return NormalizeStatus(string(s)) == StatusPaused
}

// IsActive groups the states in which stop (and pause, unless starting) is offered.
func (s InstanceStatus) IsActive() bool {
	return s.IsRunning() || s.IsStarting() || s.IsPaused()
}

// IsFailed reports an errored or crashed instance.
func (s InstanceStatus) IsFailed() bool {
	switch NormalizeStatus(string(s)) {
	case StatusError, StatusCrashed:
		return true
	}
	return false
}

// BrokerType identifies the execution venue of an instance.
type BrokerType string

const (
	BrokerPaper BrokerType = "PAPER"
	BrokerLive  BrokerType = "LIVE"
)

// Instance is one deployed strategy.
type Instance struct {
	ID         string                 `json:"id"`
	Symbol     string                 `json:"symbol"`
	Timeframe  Timeframe              `json:"timeframe"`
	Status     InstanceStatus         `json:"status"`
	ActivePnl  float64                `json:"active_pnl"`
	BrokerType BrokerType             `json:"broker_type,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
}

// Clone returns a deep copy of the instance.
func (i Instance) Clone() Instance {
	out := i
	if i.Params != nil {
		out.Params = make(map[string]interface{}, len(i.Params))
		for k, v := range i.Params {
			out.Params[k] = v
		}
	}
	return out
}

// CloneInstances deep-copies a slice of instances.
func CloneInstances(in []Instance) []Instance {
	if in == nil {
		return nil
	}
	out := make([]Instance, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// FindInstance returns the instance with the given id.
func FindInstance(list []Instance, id string) (Instance, bool) {
	for _, inst := range list {
		if inst.ID == id {
			return inst, true
		}
	}
	return Instance{}, false
}

// EffectiveInstance overlays live telemetry on the currently selected instance.
// A STARTING instance whose engine reports warmup complete is shown as RUNNING,
// and the active PnL comes from the latest telemetry record.
func EffectiveInstance(inst Instance, record *TelemetryRecord) Instance {
	if record == nil || (record.InstanceID != "" && record.InstanceID != inst.ID) {
		return inst
	}
	out := inst.Clone()
	switch {
	case inst.Status.IsStarting() && !record.Status.IsWarmingUp:
		out.Status = StatusRunning
	case record.Status.Status != "" && record.Status.Status != StatusUnknown:
		out.Status = record.Status.Status
	}
	out.ActivePnl = record.Status.UnrealizedPnl
	return out
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SuggestInstanceID derives an instance id from a definition, symbol and timeframe,
// e.g. "trend", "BTC/USD", "1h" -> "trend_BTCUSD_1h".
func SuggestInstanceID(definitionID, symbol string, tf Timeframe) string {
	if definitionID == "" || symbol == "" || tf == "" {
		return ""
	}
	return definitionID + "_" + nonAlnum.ReplaceAllString(symbol, "") + "_" + string(tf)
}
