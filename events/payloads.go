package events

import "time"

// PositionEvent reports a loco position change.
type PositionEvent struct {
	LocoID        string    `json:"loco_id"`
	Checkpoint    string    `json:"checkpoint"`
	Segment       string    `json:"segment,omitempty"`
	Sequence      uint64    `json:"sequence"`
	Discontinuity bool      `json:"discontinuity"`
	Time          time.Time `json:"time"`
}

// SessionEvent reports a device session lifecycle change.
type SessionEvent struct {
	DeviceID string    `json:"device_id"`
	Class    string    `json:"class"`
	State    string    `json:"state"`
	Time     time.Time `json:"time"`
}

// SwitchEvent reports a confirmed switch position change.
type SwitchEvent struct {
	ActuatorID string    `json:"actuator_id"`
	Position   string    `json:"position"`
	Time       time.Time `json:"time"`
}
