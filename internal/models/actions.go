package models

import "time"

// ControlAction is an operator command on an instance.
type ControlAction string

const (
	ActionStart ControlAction = "start"
	ActionStop  ControlAction = "stop"
	ActionPause ControlAction = "pause"
)

// ParseControlAction validates an action name.
func ParseControlAction(s string) (ControlAction, bool) {
	switch a := ControlAction(s); a {
	case ActionStart, ActionStop, ActionPause:
		return a, true
	}
	return "", false
}

// TargetStatus is the status optimistically shown while the action is in flight.
func (a ControlAction) TargetStatus() InstanceStatus {
	switch a {
	case ActionStart:
		return StatusRunning
	case ActionStop:
		return StatusStopped
	case ActionPause:
		return StatusPaused
	}
	return StatusUnknown
}

// ActionResult is the outcome of a foreground, user-initiated operation.
type ActionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateInstanceRequest configures a new instance of an installed definition.
type CreateInstanceRequest struct {
	StrategyID   string                 `json:"strategy_id"`
	InstanceID   string                 `json:"instance_id"`
	Symbol       string                 `json:"symbol"`
	Timeframe    Timeframe              `json:"timeframe"`
	Params       map[string]interface{} `json:"params"`
	BrokerConfig map[string]interface{} `json:"broker_config"`
}

// InstallRequest installs a strategy definition from a repository.
type InstallRequest struct {
	RepositoryURL string `json:"repository_url"`
	Version       string `json:"version"`
}

// UserProfile is the authenticated operator.
type UserProfile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
