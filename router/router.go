// Package router delivers commands to devices and turns what happens next
// into a definite outcome. Its contract is exactly-once attempt: one command
// in flight per device, no queueing, no retries. Retry policy belongs to the
// caller.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/events"
	"github.com/dededodu/locoloco/fleet"
	"github.com/dededodu/locoloco/metric"
	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/topology"
	"github.com/dededodu/locoloco/tracker"
)

// Outcome is the definite result of a command attempt.
type Outcome int

// Command outcomes.
const (
	// Accepted: the device acknowledged success.
	Accepted Outcome = iota
	// Busy: another command is already in flight for this device.
	Busy
	// Offline: the device is known but has no live session.
	Offline
	// UnknownDevice: the device has never been seen.
	UnknownDevice
	// Rejected: the device acknowledged failure.
	Rejected
	// Timeout: no acknowledgment before the deadline.
	Timeout
)

// String returns the lowercase outcome name used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Busy:
		return "busy"
	case Offline:
		return "offline"
	case UnknownDevice:
		return "unknown_device"
	case Rejected:
		return "rejected"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// LocoStates is the tracker surface the router needs.
type LocoStates interface {
	Get(locoID string) (tracker.Snapshot, bool)
	SetMotion(locoID string, direction protocol.Direction, speed protocol.Speed)
}

// SessionTable is the fleet surface the router needs.
type SessionTable interface {
	Lookup(deviceID string) (*fleet.Session, bool)
}

// Deps holds the dependencies for a Router.
type Deps struct {
	Sessions SessionTable
	Locos    LocoStates
	Topology *topology.Network
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
	Events   events.Publisher

	// CommandTimeout bounds the wait for a device acknowledgment.
	CommandTimeout time.Duration
}

// Router sends commands to devices and tracks switch positions.
type Router struct {
	sessions SessionTable
	locos    LocoStates
	topo     *topology.Network
	logger   *slog.Logger
	metrics  *routerMetrics
	core     *metric.Metrics
	events   events.Publisher
	timeout  time.Duration

	inflight *inflightSet
	switches *switchRegistry
}

// New creates a Router.
func New(deps Deps) (*Router, error) {
	if deps.Sessions == nil || deps.Locos == nil || deps.Topology == nil ||
		deps.Logger == nil || deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Router", "New", "sessions, locos, topology, logger and registry required")
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.CommandTimeout <= 0 {
		deps.CommandTimeout = 3 * time.Second
	}

	metrics, err := newRouterMetrics(deps.Registry, "router")
	if err != nil {
		return nil, err
	}

	return &Router{
		sessions: deps.Sessions,
		locos:    deps.Locos,
		topo:     deps.Topology,
		logger:   deps.Logger.With("component", "router"),
		metrics:  metrics,
		core:     deps.Registry.CoreMetrics(),
		events:   deps.Events,
		timeout:  deps.CommandTimeout,
		inflight: newInflightSet(),
		switches: newSwitchRegistry(deps.Topology),
	}, nil
}

// ControlLoco sends a drive command to a loco and waits for its
// acknowledgment.
func (r *Router) ControlLoco(ctx context.Context, locoID string, direction protocol.Direction, speed protocol.Speed) Outcome {
	outcome := r.controlLoco(ctx, locoID, direction, speed)
	r.core.RecordCommandOutcome(protocol.ClassLoco.String(), outcome.String())
	return outcome
}

func (r *Router) controlLoco(ctx context.Context, locoID string, direction protocol.Direction, speed protocol.Speed) Outcome {
	if _, known := r.locos.Get(locoID); !known {
		return UnknownDevice
	}

	sess, ok := r.sessions.Lookup(locoID)
	if !ok || !sess.Active() || sess.Class() != protocol.ClassLoco {
		return Offline
	}

	release, acquired := r.inflight.acquire(locoID)
	if !acquired {
		return Busy
	}
	defer release()

	cmd := protocol.LocoCommand{Direction: direction, Speed: speed}
	ack, outcome := r.sendAndAwait(ctx, sess, cmd, protocol.TypeLocoCommandAck)
	if outcome != Accepted {
		return outcome
	}

	if !ack.(protocol.LocoCommandAck).Success {
		r.logger.Warn("loco rejected command",
			"loco_id", locoID, "direction", direction.String(), "speed", speed.String())
		return Rejected
	}

	r.locos.SetMotion(locoID, direction, speed)
	return Accepted
}

// DriveSwitch sends a position command to a switch rails actuator and waits
// for its acknowledgment.
func (r *Router) DriveSwitch(ctx context.Context, actuatorID topology.ActuatorID, position protocol.SwitchPosition) Outcome {
	outcome := r.driveSwitch(ctx, actuatorID, position)
	r.core.RecordCommandOutcome(protocol.ClassActuator.String(), outcome.String())
	return outcome
}

func (r *Router) driveSwitch(ctx context.Context, actuatorID topology.ActuatorID, position protocol.SwitchPosition) Outcome {
	id := string(actuatorID)

	_, hasSession := r.sessions.Lookup(id)
	if !r.topo.HasActuator(actuatorID) && !hasSession {
		return UnknownDevice
	}

	sess, ok := r.sessions.Lookup(id)
	if !ok || !sess.Active() || sess.Class() != protocol.ClassActuator {
		return Offline
	}

	release, acquired := r.inflight.acquire(id)
	if !acquired {
		return Busy
	}
	defer release()

	// Already in the requested position and nothing pending: confirm without
	// touching the device.
	if state, known := r.switches.get(actuatorID); known &&
		state.Confirmed == position && !state.Pending {
		return Accepted
	}

	r.switches.setPending(actuatorID, position)

	cmd := protocol.SwitchCommand{Position: position}
	ack, outcome := r.sendAndAwait(ctx, sess, cmd, protocol.TypeSwitchCommandAck)
	if outcome != Accepted {
		// The attempt is discarded; confirmed position stays as it was.
		r.switches.clearPending(actuatorID)
		return outcome
	}

	if !ack.(protocol.SwitchCommandAck).Success {
		r.switches.clearPending(actuatorID)
		r.logger.Warn("actuator rejected command",
			"actuator_id", id, "position", position.String())
		return Rejected
	}

	r.switches.confirm(actuatorID, position)
	r.events.Publish(events.SubjectSwitchPosition(id), events.SwitchEvent{
		ActuatorID: id,
		Position:   position.String(),
		Time:       time.Now(),
	})
	return Accepted
}

// sendAndAwait arms the ack slot, sends the command and waits for the ack,
// the deadline, or the session closing.
func (r *Router) sendAndAwait(ctx context.Context, sess *fleet.Session, cmd protocol.Message, ackType protocol.MessageType) (protocol.Message, Outcome) {
	ackCh, releaseAck, err := sess.ArmAck(ackType)
	if err != nil {
		return nil, Busy
	}
	defer releaseAck()

	start := time.Now()
	if err := sess.Send(cmd); err != nil {
		r.logger.Warn("command send failed",
			"device_id", sess.DeviceID(), "type", cmd.Type().String(), "error", err)
		return nil, Offline
	}
	r.core.RecordFrameSent("router", cmd.Type().String())

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case ack := <-ackCh:
		r.metrics.ackLatency.Observe(time.Since(start).Seconds())
		return ack, Accepted
	case <-timer.C:
		r.metrics.timeouts.Inc()
		r.logger.Warn("command timed out",
			"device_id", sess.DeviceID(), "type", cmd.Type().String(),
			"timeout", r.timeout, "elapsed", fmt.Sprintf("%.3fs", time.Since(start).Seconds()))
		return nil, Timeout
	case <-ctx.Done():
		return nil, Timeout
	case <-sess.Done():
		return nil, Offline
	}
}

// SwitchStatus returns the tracked state of one switch.
func (r *Router) SwitchStatus(actuatorID topology.ActuatorID) (SwitchSnapshot, bool) {
	state, known := r.switches.get(actuatorID)
	if !known && !r.topo.HasActuator(actuatorID) {
		if _, hasSession := r.sessions.Lookup(string(actuatorID)); !hasSession {
			return SwitchSnapshot{}, false
		}
	}

	sess, ok := r.sessions.Lookup(string(actuatorID))
	online := ok && sess.Active() && sess.Class() == protocol.ClassActuator

	return SwitchSnapshot{
		ActuatorID: actuatorID,
		Position:   state.Confirmed,
		Pending:    state.Pending,
		Online:     online,
	}, true
}

// Switches returns the tracked state of every switch in the layout.
func (r *Router) Switches() []SwitchSnapshot {
	out := make([]SwitchSnapshot, 0)
	for _, id := range r.topo.Actuators() {
		if snap, ok := r.SwitchStatus(id); ok {
			out = append(out, snap)
		}
	}
	return out
}
