package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"marko-dashboard/internal/logging"
	"marko-dashboard/internal/registry"
	"marko-dashboard/internal/telemetry"
)

// Recorder persists published telemetry, chart bars and control outcomes.
type Recorder struct {
	store  HistoryStore
	logger zerolog.Logger

	lastSnapshot map[string]time.Time
	lastChart    time.Time
	lastMutation string
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store HistoryStore, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:        store,
		logger:       logging.WithComponent(logger, "recorder"),
		lastSnapshot: make(map[string]time.Time),
	}
}

// Run consumes state updates until ctx is cancelled or both channels close.
// Either channel may be nil.
func (r *Recorder) Run(ctx context.Context, stream <-chan telemetry.State, instances <-chan registry.State) error {
	r.logger.Info().Msg("Recorder started")
	for stream != nil || instances != nil {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-stream:
			if !ok {
				stream = nil
				continue
			}
			r.RecordTelemetry(ctx, st)
		case st, ok := <-instances:
			if !ok {
				instances = nil
				continue
			}
			r.RecordRegistry(ctx, st)
		}
	}
	return nil
}

// RecordTelemetry saves the record and chart bars if they are new.
func (r *Recorder) RecordTelemetry(ctx context.Context, st telemetry.State) {
	if rec := st.Telemetry; rec != nil && rec.FetchedAt.After(r.lastSnapshot[rec.InstanceID]) {
		if err := r.store.SaveSnapshot(ctx, *rec); err != nil {
			r.logger.Warn().Err(err).Str("instance", rec.InstanceID).Msg("Failed to record snapshot")
		} else {
			r.lastSnapshot[rec.InstanceID] = rec.FetchedAt
		}
	}

	if chart := st.Chart; chart != nil && st.ChartUpdated.After(r.lastChart) {
		if err := r.store.SaveBars(ctx, chart.Symbol, chart.Timeframe, chart.Bars); err != nil {
			r.logger.Warn().Err(err).Str("symbol", chart.Symbol).Msg("Failed to record bars")
		} else {
			r.lastChart = st.ChartUpdated
		}
	}
}

// RecordRegistry audits each control mutation once it has settled.
func (r *Recorder) RecordRegistry(ctx context.Context, st registry.State) {
	m := st.Mutation
	if m == nil || m.State == registry.MutationOptimistic {
		return
	}
	key := m.ID + "/" + string(m.State)
	if key == r.lastMutation {
		return
	}
	r.lastMutation = key

	entry := ControlEntry{
		Timestamp:  m.StartedAt,
		InstanceID: m.InstanceID,
		Action:     string(m.Action),
		Outcome:    string(m.State),
		Message:    m.Error,
	}
	if err := r.store.LogControl(ctx, entry); err != nil {
		r.logger.Warn().Err(err).Str("instance", m.InstanceID).Msg("Failed to record control")
	}
}
