package router

import (
	"sync"

	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/topology"
)

// SwitchSnapshot is the tracked state of one switch rails actuator.
// Position is zero until a command has been confirmed by the device.
type SwitchSnapshot struct {
	ActuatorID topology.ActuatorID
	Position   protocol.SwitchPosition
	Pending    bool
	Online     bool
}

// switchState is the confirmed position of an actuator plus whether a
// command is awaiting confirmation.
type switchState struct {
	Confirmed protocol.SwitchPosition
	Pending   bool
}

// switchRegistry holds the last confirmed position of every actuator.
// Actuators from the layout are pre-seeded with an unknown position so
// they show up in listings before their first command.
type switchRegistry struct {
	mu     sync.Mutex
	states map[topology.ActuatorID]switchState
}

func newSwitchRegistry(topo *topology.Network) *switchRegistry {
	r := &switchRegistry{states: make(map[topology.ActuatorID]switchState)}
	for _, id := range topo.Actuators() {
		r.states[id] = switchState{}
	}
	return r
}

func (r *switchRegistry) get(id topology.ActuatorID) (switchState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[id]
	return state, ok
}

func (r *switchRegistry) setPending(id topology.ActuatorID, _ protocol.SwitchPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.states[id]
	state.Pending = true
	r.states[id] = state
}

func (r *switchRegistry) clearPending(id topology.ActuatorID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.states[id]
	state.Pending = false
	r.states[id] = state
}

func (r *switchRegistry) confirm(id topology.ActuatorID, position protocol.SwitchPosition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[id] = switchState{Confirmed: position, Pending: false}
}
