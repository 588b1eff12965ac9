// Package registry tracks the strategy instance list, the selected instance
// and operator control actions.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"marko-dashboard/internal/clock"
	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/logging"
	"marko-dashboard/internal/models"
	"marko-dashboard/internal/stream"
)

// Backend is the part of the API client the registry needs.
type Backend interface {
	ListInstances(ctx context.Context) ([]models.Instance, error)
	Control(ctx context.Context, id string, action models.ControlAction) (string, error)
	DeleteInstance(ctx context.Context, id string) (string, error)
}

// Config holds registry settings.
type Config struct {
	// Interval is the instance list polling cadence.
	Interval time.Duration
	// ConfirmDelay is the wait before the confirming re-list after a control action.
	ConfirmDelay time.Duration
	// ConfirmAttempts bounds the confirming re-list retries.
	ConfirmAttempts int
	// DeleteTTL is how long a delete confirmation token stays valid.
	DeleteTTL time.Duration
	Clock     clock.Clock
	Logger    zerolog.Logger
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		Interval:        5 * time.Second,
		ConfirmDelay:    200 * time.Millisecond,
		ConfirmAttempts: 3,
		DeleteTTL:       30 * time.Second,
		Clock:           clock.Real{},
		Logger:          zerolog.Nop(),
	}
}

// MutationState is the lifecycle of an optimistic control action.
type MutationState string

const (
	MutationCommitted  MutationState = "COMMITTED"
	MutationOptimistic MutationState = "OPTIMISTIC"
	MutationReconciled MutationState = "RECONCILED"
	MutationRolledBack MutationState = "ROLLED_BACK"
)

// Mutation records the most recent control action.
type Mutation struct {
	ID         string               `json:"id"`
	InstanceID string               `json:"instanceId"`
	Action     models.ControlAction `json:"action"`
	State      MutationState        `json:"state"`
	StartedAt  time.Time            `json:"startedAt"`
	Error      string               `json:"error,omitempty"`
}

// State is the published registry view.
type State struct {
	Instances  []models.Instance `json:"instances"`
	SelectedID string            `json:"selectedId"`
	Loading    bool              `json:"loading"`
	Error      string            `json:"error,omitempty"`
	// Stale is set while the most recent list poll has failed.
	Stale       bool      `json:"stale"`
	LastUpdated time.Time `json:"lastUpdated"`
	Mutation    *Mutation `json:"mutation,omitempty"`
	// Deleting names the instance whose delete is awaiting the server.
	Deleting string `json:"deleting,omitempty"`
}

type pendingDelete struct {
	instanceID string
	expires    time.Time
}

// Registry is the source of truth for the instance list and the selection.
type Registry struct {
	backend Backend
	cfg     Config
	clock   clock.Clock
	logger  zerolog.Logger
	hub     *stream.Hub[State]
	tasks   conc.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu          sync.RWMutex
	instances   []models.Instance
	selectedID  string
	loaded      bool
	lastErr     string
	lastUpdated time.Time
	mutation    *Mutation
	deleting    string
	pending     map[string]pendingDelete
}

// New creates a registry.
func New(backend Backend, cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ConfirmDelay < 0 {
		cfg.ConfirmDelay = 0
	}
	if cfg.ConfirmAttempts <= 0 {
		cfg.ConfirmAttempts = def.ConfirmAttempts
	}
	if cfg.DeleteTTL <= 0 {
		cfg.DeleteTTL = def.DeleteTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		backend:   backend,
		cfg:       cfg,
		clock:     cfg.Clock,
		logger:    logging.WithComponent(cfg.Logger, "registry"),
		hub:       stream.NewHub[State](),
		ctx:       ctx,
		cancel:    cancel,
		instances: []models.Instance{},
		pending:   make(map[string]pendingDelete),
	}
	r.hub.Publish(r.stateLocked())
	return r
}

func (r *Registry) stateLocked() State {
	st := State{
		Instances:   models.CloneInstances(r.instances),
		SelectedID:  r.selectedID,
		Loading:     !r.loaded && r.lastErr == "",
		Error:       r.lastErr,
		Stale:       r.lastErr != "",
		LastUpdated: r.lastUpdated,
		Deleting:    r.deleting,
	}
	if r.mutation != nil {
		m := *r.mutation
		st.Mutation = &m
	}
	return st
}

func (r *Registry) publishLocked() {
	r.hub.Publish(r.stateLocked())
}

// List fetches the instance list. On success the list is replaced and the
// selection kept if still present, else moved to the first instance. On
// failure the previous list is kept and the error recorded.
func (r *Registry) List(ctx context.Context) ([]models.Instance, error) {
	list, err := r.backend.ListInstances(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	logging.LogPoll(r.logger, "instances", "", err)
	if err != nil {
		r.lastErr = apperrors.Message(err)
		r.publishLocked()
		return nil, err
	}

	r.instances = dedupe(list)
	r.loaded = true
	r.lastErr = ""
	r.lastUpdated = r.clock.Now()
	r.reselectLocked()
	r.publishLocked()
	return models.CloneInstances(r.instances), nil
}

// dedupe keeps one entry per id; a later entry replaces an earlier one in place.
func dedupe(list []models.Instance) []models.Instance {
	out := make([]models.Instance, 0, len(list))
	index := make(map[string]int, len(list))
	for _, inst := range list {
		if i, ok := index[inst.ID]; ok {
			out[i] = inst.Clone()
			continue
		}
		index[inst.ID] = len(out)
		out = append(out, inst.Clone())
	}
	return out
}

func (r *Registry) reselectLocked() {
	if _, ok := models.FindInstance(r.instances, r.selectedID); ok {
		return
	}
	prev := r.selectedID
	r.selectedID = ""
	if len(r.instances) > 0 {
		r.selectedID = r.instances[0].ID
	}
	if prev != r.selectedID {
		r.logger.Debug().Str("from", prev).Str("to", r.selectedID).Msg("Selection moved")
	}
}

// Select sets the selection. It is a no-op unless id is in the current list.
func (r *Registry) Select(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := models.FindInstance(r.instances, id); !ok {
		return false
	}
	if r.selectedID != id {
		r.selectedID = id
		r.publishLocked()
	}
	return true
}

// Selected returns the selected instance id, read fresh on every call.
// It is "" when the list is empty.
func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selectedID
}

// Instances returns a copy of the current list.
func (r *Registry) Instances() []models.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.CloneInstances(r.instances)
}

// Instance returns one instance by id.
func (r *Registry) Instance(id string) (models.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := models.FindInstance(r.instances, id)
	return inst.Clone(), ok
}

// State returns the current registry view.
func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stateLocked()
}

// Subscribe returns a channel receiving every published state, starting with the current one.
func (r *Registry) Subscribe() <-chan State {
	return r.hub.Subscribe()
}

// Unsubscribe releases a subscription.
func (r *Registry) Unsubscribe(ch <-chan State) {
	r.hub.Unsubscribe(ch)
}

// Run polls the instance list until ctx is cancelled. Poll failures are logged
// and never stop the loop.
func (r *Registry) Run(ctx context.Context) error {
	defer r.Close()

	r.logger.Info().Dur("interval", r.cfg.Interval).Msg("Instance polling started")
	for {
		_, _ = r.List(ctx)

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Instance polling stopped")
			return nil
		case <-r.clock.After(r.cfg.Interval):
		}
	}
}

// Close cancels pending reconciliation tasks and waits for them.
func (r *Registry) Close() {
	r.cancel()
	r.tasks.Wait()
	r.hub.Close()
}

func newMutationID() string {
	return uuid.NewString()
}

// Control applies the action's target status locally, issues the command and
// rolls back on failure. On success a confirming re-list is scheduled; until it
// lands the optimistic status is provisional.
func (r *Registry) Control(ctx context.Context, id string, action models.ControlAction) models.ActionResult {
	if _, ok := models.ParseControlAction(string(action)); !ok {
		return models.ActionResult{Success: false, Error: apperrors.ErrInvalidAction.Error() + ": " + string(action)}
	}

	r.mu.Lock()
	idx := -1
	for i := range r.instances {
		if r.instances[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return models.ActionResult{Success: false, Error: apperrors.ErrUnknownInstance.Error() + ": " + id}
	}

	snapshot := models.CloneInstances(r.instances)
	r.instances[idx].Status = action.TargetStatus()
	m := &Mutation{
		ID:         newMutationID(),
		InstanceID: id,
		Action:     action,
		State:      MutationOptimistic,
		StartedAt:  r.clock.Now(),
	}
	r.mutation = m
	r.publishLocked()
	r.mu.Unlock()

	msg, err := r.backend.Control(ctx, id, action)
	if err != nil {
		r.mu.Lock()
		r.rollbackLocked(snapshot, id)
		if r.mutation != nil && r.mutation.ID == m.ID {
			r.mutation.State = MutationRolledBack
			r.mutation.Error = apperrors.Message(err)
		}
		r.publishLocked()
		r.mu.Unlock()

		logging.LogControl(r.logger, id, string(action), "rolled_back", err)
		return models.ActionResult{Success: false, Error: apperrors.Message(err)}
	}

	logging.LogControl(r.logger, id, string(action), "accepted", nil)
	r.scheduleConfirm(m.ID)
	if msg == "" {
		msg = "Instance " + id + " " + string(action) + " accepted"
	}
	return models.ActionResult{Success: true, Message: msg}
}

// rollbackLocked restores the mutated instance's pre-mutation entry in place.
// Other entries are left alone: they may come from a newer list or carry
// another control's optimistic status.
func (r *Registry) rollbackLocked(snapshot []models.Instance, id string) {
	prev, ok := models.FindInstance(snapshot, id)
	if !ok {
		return
	}
	for i := range r.instances {
		if r.instances[i].ID == id {
			r.instances[i] = prev.Clone()
			return
		}
	}
}

// scheduleConfirm re-lists after the confirm delay, retrying with backoff.
func (r *Registry) scheduleConfirm(mutationID string) {
	r.tasks.Go(func() {
		select {
		case <-r.ctx.Done():
			return
		case <-r.clock.After(r.cfg.ConfirmDelay):
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 250 * time.Millisecond
		b.MaxInterval = 2 * time.Second

		for attempt := 1; ; attempt++ {
			if _, err := r.List(r.ctx); err == nil {
				r.mu.Lock()
				if r.mutation != nil && r.mutation.ID == mutationID {
					r.mutation.State = MutationReconciled
					r.publishLocked()
				}
				r.mu.Unlock()
				return
			} else if attempt >= r.cfg.ConfirmAttempts {
				r.logger.Warn().Err(err).Int("attempts", attempt).Msg("Confirming refresh failed; next poll will reconcile")
				return
			}

			sleep := b.NextBackOff()
			if sleep == backoff.Stop {
				return
			}
			select {
			case <-r.ctx.Done():
				return
			case <-r.clock.After(sleep):
			}
		}
	})
}

// RequestDelete starts a delete. The returned token must be passed to
// ConfirmDelete before it expires; nothing is removed until then.
func (r *Registry) RequestDelete(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := models.FindInstance(r.instances, id); !ok {
		return "", apperrors.Wrapf(apperrors.ErrUnknownInstance, "%s", id)
	}
	now := r.clock.Now()
	for token, p := range r.pending {
		if now.After(p.expires) {
			delete(r.pending, token)
		}
	}

	token := uuid.NewString()
	r.pending[token] = pendingDelete{instanceID: id, expires: now.Add(r.cfg.DeleteTTL)}
	return token, nil
}

// PendingDelete returns the instance a live token would delete.
func (r *Registry) PendingDelete(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[token]
	if !ok || r.clock.Now().After(p.expires) {
		return "", false
	}
	return p.instanceID, true
}

// CancelDelete discards a pending delete.
func (r *Registry) CancelDelete(token string) {
	r.mu.Lock()
	delete(r.pending, token)
	r.mu.Unlock()
}

// ConfirmDelete issues a confirmed delete and then force-refreshes the list.
// The instance is not removed locally before the server confirms.
func (r *Registry) ConfirmDelete(ctx context.Context, token string) models.ActionResult {
	r.mu.Lock()
	p, ok := r.pending[token]
	delete(r.pending, token)
	if !ok {
		r.mu.Unlock()
		return models.ActionResult{Success: false, Error: apperrors.ErrConfirmationRequired.Error()}
	}
	if r.clock.Now().After(p.expires) {
		r.mu.Unlock()
		return models.ActionResult{Success: false, Error: apperrors.ErrConfirmationExpired.Error()}
	}
	r.deleting = p.instanceID
	r.publishLocked()
	r.mu.Unlock()

	msg, err := r.backend.DeleteInstance(ctx, p.instanceID)

	r.mu.Lock()
	r.deleting = ""
	r.publishLocked()
	r.mu.Unlock()

	if err != nil {
		logging.LogControl(r.logger, p.instanceID, "delete", "failed", err)
		return models.ActionResult{Success: false, Error: apperrors.Message(err)}
	}
	logging.LogControl(r.logger, p.instanceID, "delete", "accepted", nil)

	if _, err := r.List(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Refresh after delete failed")
	}
	if msg == "" {
		msg = "Instance " + p.instanceID + " deleted"
	}
	return models.ActionResult{Success: true, Message: msg}
}
