// Package protocol implements the framed binary wire protocol spoken between
// the controller and the embedded field devices (locomotives, RFID waypoint
// sensors, track-switch actuators).
//
// Every frame is a fixed 4-byte header followed by a type-specific payload:
//
//	magic (1B) | message type (1B) | payload length (2B little-endian)
//
// Multi-byte integers are little-endian to match the devices' native byte
// order. Encoding is deterministic; decoding distinguishes "need more bytes"
// from malformed frames.
package protocol

import (
	"fmt"

	"github.com/dededodu/locoloco/errors"
)

// Magic is the first byte of every frame on the device protocol.
const Magic = 0xAB

// HeaderSize is the fixed frame header length in bytes.
const HeaderSize = 4

// MaxPayloadSize bounds the payload length field; larger frames are framing
// errors, not allocation requests.
const MaxPayloadSize = 512

// MaxIDLen bounds device/checkpoint identifier strings on the wire.
const MaxIDLen = 64

// MessageType tags the payload carried by a frame.
type MessageType uint8

// Wire message types.
const (
	TypeRegister MessageType = iota + 1
	TypeRegisterAck
	TypeLocoCommand
	TypeLocoCommandAck
	TypeSwitchCommand
	TypeSwitchCommandAck
	TypeSensorReport
	TypeHeartbeat
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case TypeRegister:
		return "Register"
	case TypeRegisterAck:
		return "RegisterAck"
	case TypeLocoCommand:
		return "LocoCommand"
	case TypeLocoCommandAck:
		return "LocoCommandAck"
	case TypeSwitchCommand:
		return "SwitchCommand"
	case TypeSwitchCommandAck:
		return "SwitchCommandAck"
	case TypeSensorReport:
		return "SensorReport"
	case TypeHeartbeat:
		return "Heartbeat"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// DeviceClass identifies which kind of embedded device a session belongs to.
type DeviceClass uint8

// Device classes carried in Register frames.
const (
	ClassLoco DeviceClass = iota + 1
	ClassSensor
	ClassActuator
)

// String returns the device class name.
func (c DeviceClass) String() string {
	switch c {
	case ClassLoco:
		return "loco"
	case ClassSensor:
		return "sensor"
	case ClassActuator:
		return "actuator"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Valid reports whether the class is one of the three known device classes.
func (c DeviceClass) Valid() bool {
	return c >= ClassLoco && c <= ClassActuator
}

// Direction is a locomotive travel direction.
type Direction uint8

// Travel directions.
const (
	DirectionForward Direction = iota + 1
	DirectionBackward
)

// String returns the lowercase direction name used on the HTTP boundary.
func (d Direction) String() string {
	switch d {
	case DirectionForward:
		return "forward"
	case DirectionBackward:
		return "backward"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(d))
	}
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionForward || d == DirectionBackward
}

// ParseDirection parses the lowercase direction name.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "forward":
		return DirectionForward, nil
	case "backward":
		return DirectionBackward, nil
	default:
		return 0, errors.WrapInvalid(fmt.Errorf("direction %q", s),
			"protocol", "ParseDirection", "direction parsing")
	}
}

// Speed is a locomotive speed step.
type Speed uint8

// Speed steps. The devices drive PWM duty cycles from these.
const (
	SpeedStop Speed = iota
	SpeedSlow
	SpeedNormal
	SpeedFast
)

// String returns the lowercase speed name used on the HTTP boundary.
func (s Speed) String() string {
	switch s {
	case SpeedStop:
		return "stop"
	case SpeedSlow:
		return "slow"
	case SpeedNormal:
		return "normal"
	case SpeedFast:
		return "fast"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether s is a known speed step.
func (s Speed) Valid() bool {
	return s <= SpeedFast
}

// ParseSpeed parses the lowercase speed name.
func ParseSpeed(v string) (Speed, error) {
	switch v {
	case "stop":
		return SpeedStop, nil
	case "slow":
		return SpeedSlow, nil
	case "normal":
		return SpeedNormal, nil
	case "fast":
		return SpeedFast, nil
	default:
		return 0, errors.WrapInvalid(fmt.Errorf("speed %q", v),
			"protocol", "ParseSpeed", "speed parsing")
	}
}

// SwitchPosition is a track switch position.
type SwitchPosition uint8

// Switch positions.
const (
	PositionDirect SwitchPosition = iota + 1
	PositionDiverted
)

// String returns the lowercase position name used on the HTTP boundary.
func (p SwitchPosition) String() string {
	switch p {
	case PositionDirect:
		return "direct"
	case PositionDiverted:
		return "diverted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// Valid reports whether p is a known position.
func (p SwitchPosition) Valid() bool {
	return p == PositionDirect || p == PositionDiverted
}

// ParseSwitchPosition parses the lowercase position name.
func ParseSwitchPosition(s string) (SwitchPosition, error) {
	switch s {
	case "direct":
		return PositionDirect, nil
	case "diverted":
		return PositionDiverted, nil
	default:
		return 0, errors.WrapInvalid(fmt.Errorf("switch position %q", s),
			"protocol", "ParseSwitchPosition", "position parsing")
	}
}

// Message is a decoded wire message.
type Message interface {
	// Type returns the wire tag of the message.
	Type() MessageType
}

// Register is the first frame a device sends after connecting.
type Register struct {
	Class    DeviceClass
	DeviceID string
}

// Type implements Message.
func (Register) Type() MessageType { return TypeRegister }

// RegisterAck completes the handshake and carries the assigned session token.
type RegisterAck struct {
	Token string
}

// Type implements Message.
func (RegisterAck) Type() MessageType { return TypeRegisterAck }

// LocoCommand drives a locomotive's direction and speed.
type LocoCommand struct {
	Direction Direction
	Speed     Speed
}

// Type implements Message.
func (LocoCommand) Type() MessageType { return TypeLocoCommand }

// LocoCommandAck reports whether the locomotive applied the command.
type LocoCommandAck struct {
	Success bool
}

// Type implements Message.
func (LocoCommandAck) Type() MessageType { return TypeLocoCommandAck }

// SwitchCommand drives a track switch to a position.
type SwitchCommand struct {
	Position SwitchPosition
}

// Type implements Message.
func (SwitchCommand) Type() MessageType { return TypeSwitchCommand }

// SwitchCommandAck reports whether the actuator applied the command.
type SwitchCommandAck struct {
	Success bool
}

// Type implements Message.
func (SwitchCommandAck) Type() MessageType { return TypeSwitchCommandAck }

// SensorReport is a waypoint sensor's observation of a locomotive passing a
// checkpoint. Sequence is per-loco monotonic and assigned by the sensor mesh.
type SensorReport struct {
	LocoID       string
	CheckpointID string
	Sequence     uint64
}

// Type implements Message.
func (SensorReport) Type() MessageType { return TypeSensorReport }

// Heartbeat keeps an otherwise idle session alive.
type Heartbeat struct{}

// Type implements Message.
func (Heartbeat) Type() MessageType { return TypeHeartbeat }

// FramingError reports a malformed or unknown wire frame. It is
// connection-fatal: the offending session is closed.
type FramingError struct {
	Reason error
	Detail string
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("framing: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("framing: %s", e.Reason)
}

// Unwrap returns the sentinel reason.
func (e *FramingError) Unwrap() error { return e.Reason }

func framingErr(reason error, format string, args ...any) error {
	return &FramingError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
