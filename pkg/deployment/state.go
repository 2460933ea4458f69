package deployment

import (
	"fmt"
	"sync"
	"time"

	"github.com/flow-tools/axf-deploy/pkg/errors"
	"github.com/flow-tools/axf-deploy/pkg/logging"
)

// DeploymentState represents the current lifecycle state of a deployment
type DeploymentState string

const (
	DeploymentStatePending    DeploymentState = "pending"    // Configuration loaded, nothing started
	DeploymentStateInstalling DeploymentState = "installing" // Dependency installation in progress
	DeploymentStateStarting   DeploymentState = "starting"   // Flow-executor process startup in progress
	DeploymentStateRunning    DeploymentState = "running"    // Process started, waiting for first successful health check
	DeploymentStateReady      DeploymentState = "ready"      // Service answered a health check, accepting flow runs
	DeploymentStateFailed     DeploymentState = "failed"     // Install error, startup error, or process exit
	DeploymentStateUnhealthy  DeploymentState = "unhealthy"  // Health check retry budget exhausted
	DeploymentStateStopping   DeploymentState = "stopping"   // Graceful shutdown initiated
	DeploymentStateStopped    DeploymentState = "stopped"    // Process terminated by operator request
)

// validTransitions defines the allowed state machine edges. A deployment
// never moves backwards: failed, unhealthy and stopped are terminal except
// that unhealthy and failed deployments can still be stopped for cleanup.
var validTransitions = map[DeploymentState][]DeploymentState{
	DeploymentStatePending:    {DeploymentStateInstalling, DeploymentStateStarting, DeploymentStateFailed, DeploymentStateStopping},
	DeploymentStateInstalling: {DeploymentStateStarting, DeploymentStateFailed, DeploymentStateStopping},
	DeploymentStateStarting:   {DeploymentStateRunning, DeploymentStateFailed, DeploymentStateStopping},
	DeploymentStateRunning:    {DeploymentStateReady, DeploymentStateFailed, DeploymentStateUnhealthy, DeploymentStateStopping},
	DeploymentStateReady:      {DeploymentStateFailed, DeploymentStateUnhealthy, DeploymentStateStopping},
	DeploymentStateFailed:     {DeploymentStateStopping},
	DeploymentStateUnhealthy:  {DeploymentStateStopping},
	DeploymentStateStopping:   {DeploymentStateStopped},
	DeploymentStateStopped:    {},
}

// StateTransition records a single state change for diagnostics
type StateTransition struct {
	From      DeploymentState
	To        DeploymentState
	Reason    string
	Timestamp time.Time
}

// StateMachine tracks the deployment lifecycle state with validated transitions
type StateMachine struct {
	mutex   sync.RWMutex
	id      string
	state   DeploymentState
	history []StateTransition
	logger  logging.Logger
}

// NewStateMachine creates a state machine in the pending state
func NewStateMachine(id string, logger logging.Logger) *StateMachine {
	return &StateMachine{
		id:     id,
		state:  DeploymentStatePending,
		logger: logger,
	}
}

// CurrentState returns the current deployment state
func (sm *StateMachine) CurrentState() DeploymentState {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.state
}

// CanTransition reports whether the transition from the current state to
// the target state is allowed
func (sm *StateMachine) CanTransition(to DeploymentState) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return canTransition(sm.state, to)
}

// Transition moves the state machine to the target state, recording the
// reason. Invalid transitions return a validation error and leave the
// state unchanged.
func (sm *StateMachine) Transition(to DeploymentState, reason string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if !canTransition(sm.state, to) {
		return errors.NewValidationError(
			fmt.Sprintf("invalid state transition: %s -> %s", sm.state, to),
			nil,
		).WithContext("deployment_id", sm.id).WithContext("reason", reason)
	}

	sm.logger.Debugf("State transition: %s -> %s (%s), deployment: %s", sm.state, to, reason, sm.id)

	sm.history = append(sm.history, StateTransition{
		From:      sm.state,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	sm.state = to

	return nil
}

// History returns a copy of all recorded transitions
func (sm *StateMachine) History() []StateTransition {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	history := make([]StateTransition, len(sm.history))
	copy(history, sm.history)
	return history
}

// IsTerminal reports whether the current state admits no further
// transitions except cleanup
func (sm *StateMachine) IsTerminal() bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.state == DeploymentStateStopped
}

func canTransition(from, to DeploymentState) bool {
	for _, allowed := range validTransitions[from] {
		if to == allowed {
			return true
		}
	}
	return false
}
