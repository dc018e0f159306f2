// Package component defines the lifecycle contract shared by the
// controller's long-running parts (device listeners, gateways, oracle,
// event publisher) and a manager that starts and stops them in order.
package component

import (
	"context"
	"time"

	"github.com/dededodu/locoloco/health"
)

// State represents the current lifecycle state of a component.
type State int

const (
	// StateCreated indicates the component was created but not initialized.
	StateCreated State = iota
	// StateInitialized indicates the component was initialized but not started.
	StateInitialized
	// StateStarted indicates the component is running.
	StateStarted
	// StateStopped indicates the component was stopped.
	StateStopped
	// StateFailed indicates the component failed during a lifecycle operation.
	StateFailed
)

// String returns a string representation of the component state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Component is a long-running part of the controller with managed lifecycle:
//   - Initialize() error                  setup only, no context
//   - Start(ctx context.Context) error    spawn goroutines bound to ctx
//   - Stop(timeout time.Duration) error   graceful shutdown within timeout
//
// Start must not block; it returns once the component is running.
type Component interface {
	Name() string
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() health.Status
}
