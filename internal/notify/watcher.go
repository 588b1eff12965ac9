package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marko-dashboard/internal/logging"
	"marko-dashboard/internal/models"
	"marko-dashboard/internal/registry"
	"marko-dashboard/internal/telemetry"
)

// Watcher turns published registry and telemetry states into alerts.
// The first loaded instance list and the first record of each instance are
// a baseline and never alert.
type Watcher struct {
	notifier Notifier
	logger   zerolog.Logger

	seeded       bool
	statuses     map[string]models.InstanceStatus
	deleting     map[string]bool
	lastMutation string
	lastEvent    map[string]time.Time
}

// NewWatcher creates a watcher sending to notifier.
func NewWatcher(notifier Notifier, logger zerolog.Logger) *Watcher {
	return &Watcher{
		notifier:  notifier,
		logger:    logging.WithComponent(logger, "watcher"),
		statuses:  make(map[string]models.InstanceStatus),
		deleting:  make(map[string]bool),
		lastEvent: make(map[string]time.Time),
	}
}

// Run consumes states until ctx is cancelled or both channels close.
func (w *Watcher) Run(ctx context.Context, instances <-chan registry.State, stream <-chan telemetry.State) error {
	for instances != nil || stream != nil {
		var out []Notification
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-instances:
			if !ok {
				instances = nil
				continue
			}
			out = w.ObserveRegistry(st)
		case st, ok := <-stream:
			if !ok {
				stream = nil
				continue
			}
			out = w.ObserveTelemetry(st)
		}
		for _, n := range out {
			if err := w.notifier.Send(ctx, n); err != nil {
				w.logger.Debug().Err(err).Str("title", n.Title).Msg("Alert not delivered")
			}
		}
	}
	return nil
}

// ObserveRegistry returns the alerts caused by st.
func (w *Watcher) ObserveRegistry(st registry.State) []Notification {
	var out []Notification

	if m := st.Mutation; m != nil && m.State != registry.MutationOptimistic {
		key := m.ID + "/" + string(m.State)
		if key != w.lastMutation {
			w.lastMutation = key
			out = append(out, mutationAlert(m))
		}
	}

	if st.Deleting != "" {
		w.deleting[st.Deleting] = true
	}
	if st.Loading || st.Stale {
		return out
	}

	// An instance under an unsettled control shows its provisional status;
	// it keeps the last observed status until the mutation settles.
	var pending string
	if m := st.Mutation; m != nil && m.State == registry.MutationOptimistic {
		pending = m.InstanceID
	}

	current := make(map[string]models.InstanceStatus, len(st.Instances))
	for _, inst := range st.Instances {
		current[inst.ID] = inst.Status
		if prev, known := w.statuses[inst.ID]; known && inst.ID == pending {
			current[inst.ID] = prev
		}
	}

	if w.seeded {
		for _, inst := range st.Instances {
			prev, known := w.statuses[inst.ID]
			switch {
			case inst.ID == pending && known:
			case !known:
				out = append(out, Notification{
					Type:       NotificationInfo,
					Title:      "Instance " + inst.ID + " added",
					Message:    fmt.Sprintf("%s %s, status %s", inst.Symbol, inst.Timeframe, inst.Status),
					InstanceID: inst.ID,
				})
			case prev != inst.Status:
				out = append(out, statusAlert(inst, prev))
			}
		}
		for id := range w.statuses {
			if _, ok := current[id]; ok {
				continue
			}
			if w.deleting[id] {
				delete(w.deleting, id)
				out = append(out, Notification{Type: NotificationInfo, Title: "Instance " + id + " deleted", InstanceID: id})
				continue
			}
			out = append(out, Notification{
				Type:       NotificationError,
				Title:      "Instance " + id + " disappeared",
				Message:    "The engine no longer lists " + id,
				InstanceID: id,
			})
		}
	}

	w.statuses = current
	w.seeded = true
	return out
}

// ObserveTelemetry returns an alert for each new ERROR event of the selected instance.
func (w *Watcher) ObserveTelemetry(st telemetry.State) []Notification {
	rec := st.Telemetry
	if rec == nil || rec.InstanceID == "" {
		return nil
	}

	last, seen := w.lastEvent[rec.InstanceID]
	newest := last
	var out []Notification
	for _, e := range rec.Events {
		if e.Timestamp.After(newest) {
			newest = e.Timestamp
		}
		if !seen || !e.Timestamp.After(last) || e.Type != models.EventError {
			continue
		}
		out = append(out, Notification{
			Type:       NotificationError,
			Title:      rec.InstanceID + " reported an error",
			Message:    e.Message,
			InstanceID: rec.InstanceID,
			Timestamp:  e.Timestamp,
		})
	}
	w.lastEvent[rec.InstanceID] = newest
	return out
}

func statusAlert(inst models.Instance, prev models.InstanceStatus) Notification {
	n := Notification{
		Type:       NotificationStatus,
		Title:      fmt.Sprintf("%s is %s", inst.ID, inst.Status),
		Message:    fmt.Sprintf("%s changed from %s to %s", inst.ID, prev, inst.Status),
		InstanceID: inst.ID,
		Data:       map[string]interface{}{"from": prev, "to": inst.Status},
	}
	switch {
	case inst.Status.IsFailed():
		n.Type = NotificationError
	case prev.IsFailed():
		n.Title = inst.ID + " recovered"
	}
	return n
}

func mutationAlert(m *registry.Mutation) Notification {
	n := Notification{
		Type:       NotificationControl,
		Title:      fmt.Sprintf("%s %s confirmed", m.InstanceID, m.Action),
		InstanceID: m.InstanceID,
		Data:       map[string]interface{}{"action": m.Action, "state": m.State},
	}
	if m.State == registry.MutationRolledBack {
		n.Type = NotificationError
		n.Title = fmt.Sprintf("%s %s rolled back", m.InstanceID, m.Action)
		n.Message = m.Error
	}
	return n
}
