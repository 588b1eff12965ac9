// Package store provides the local telemetry history and control audit trail.
package store

import (
	"context"
	"time"

	"marko-dashboard/internal/models"
)

// HistoryStore defines the interface for dashboard persistence.
type HistoryStore interface {
	// Telemetry snapshots
	SaveSnapshot(ctx context.Context, rec models.TelemetryRecord) error
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]Snapshot, error)

	// Control audit
	LogControl(ctx context.Context, entry ControlEntry) error
	ListControls(ctx context.Context, filter ControlFilter) ([]ControlEntry, error)

	// Chart bars
	SaveBars(ctx context.Context, symbol string, tf models.Timeframe, bars []models.Bar) error
	GetBars(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time) ([]models.Bar, error)

	// Retention
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// Snapshot is one recorded telemetry record plus its indexed summary columns.
type Snapshot struct {
	ID            int64                  `json:"id"`
	InstanceID    string                 `json:"instanceId"`
	FetchedAt     time.Time              `json:"fetchedAt"`
	Status        models.InstanceStatus  `json:"status"`
	Regime        string                 `json:"regime"`
	Equity        float64                `json:"equity"`
	UnrealizedPnl float64                `json:"unrealizedPnl"`
	WarmingUp     bool                   `json:"warmingUp"`
	Record        models.TelemetryRecord `json:"record"`
}

// SnapshotFilter represents filters for querying snapshots.
type SnapshotFilter struct {
	InstanceID string
	From       time.Time
	To         time.Time
	Limit      int
}

// ControlEntry is one operator action and how it ended.
type ControlEntry struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instanceId"`
	Action     string    `json:"action"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
}

// ControlFilter represents filters for querying the control audit.
type ControlFilter struct {
	InstanceID string
	From       time.Time
	Limit      int
}
