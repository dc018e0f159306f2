package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dededodu/locoloco/errors"
)

// Encode serializes a message into a single frame. It is deterministic and
// has no side effects. The only failure modes are identifier strings that do
// not fit the wire format.
func Encode(msg Message) ([]byte, error) {
	payload, err := encodePayload(msg)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, HeaderSize, HeaderSize+len(payload))
	frame[0] = Magic
	frame[1] = byte(msg.Type())
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(payload)))
	return append(frame, payload...), nil
}

func encodePayload(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case Register:
		return encodeRegister(m)
	case RegisterAck:
		return appendString(nil, m.Token, "session token")
	case LocoCommand:
		return []byte{byte(m.Direction), byte(m.Speed)}, nil
	case LocoCommandAck:
		return []byte{encodeBool(m.Success)}, nil
	case SwitchCommand:
		return []byte{byte(m.Position)}, nil
	case SwitchCommandAck:
		return []byte{encodeBool(m.Success)}, nil
	case SensorReport:
		return encodeSensorReport(m)
	case Heartbeat:
		return nil, nil
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("message type %T", msg),
			"protocol", "Encode", "message dispatch")
	}
}

func encodeRegister(m Register) ([]byte, error) {
	payload := []byte{byte(m.Class)}
	return appendString(payload, m.DeviceID, "device id")
}

func encodeSensorReport(m SensorReport) ([]byte, error) {
	payload, err := appendString(nil, m.LocoID, "loco id")
	if err != nil {
		return nil, err
	}
	payload, err = appendString(payload, m.CheckpointID, "checkpoint id")
	if err != nil {
		return nil, err
	}
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], m.Sequence)
	return append(payload, seq[:]...), nil
}

// appendString appends a length-prefixed identifier string.
func appendString(dst []byte, s, what string) ([]byte, error) {
	if len(s) == 0 || len(s) > MaxIDLen {
		return nil, errors.WrapInvalid(fmt.Errorf("%s length %d", what, len(s)),
			"protocol", "Encode", "identifier length check")
	}
	dst = append(dst, byte(len(s)))
	return append(dst, s...), nil
}

func encodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Decode parses one frame from the front of buf. It returns the decoded
// message and the number of bytes consumed.
//
// When buf holds only a prefix of a frame, Decode returns
// errors.ErrIncompleteFrame and consumes nothing; the caller should read more
// bytes and retry. A short buffer is never misread as a different message.
// Malformed frames (bad magic, unknown type, oversized or inconsistent
// payload) return a *FramingError.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, errors.ErrIncompleteFrame
	}

	if buf[0] != Magic {
		return nil, 0, framingErr(errors.ErrBadMagic, "0x%02x", buf[0])
	}

	msgType := MessageType(buf[1])
	payloadLen := int(binary.LittleEndian.Uint16(buf[2:4]))
	if payloadLen > MaxPayloadSize {
		return nil, 0, framingErr(errors.ErrFrameTooLarge, "payload %d bytes", payloadLen)
	}

	if len(buf) < HeaderSize+payloadLen {
		return nil, 0, errors.ErrIncompleteFrame
	}

	payload := buf[HeaderSize : HeaderSize+payloadLen]
	msg, err := decodePayload(msgType, payload)
	if err != nil {
		return nil, 0, err
	}
	return msg, HeaderSize + payloadLen, nil
}

func decodePayload(msgType MessageType, payload []byte) (Message, error) {
	switch msgType {
	case TypeRegister:
		return decodeRegister(payload)
	case TypeRegisterAck:
		token, rest, err := readString(payload, "session token")
		if err != nil {
			return nil, err
		}
		if err := expectDrained(rest, msgType); err != nil {
			return nil, err
		}
		return RegisterAck{Token: token}, nil
	case TypeLocoCommand:
		return decodeLocoCommand(payload)
	case TypeLocoCommandAck:
		ok, err := decodeBoolPayload(payload, msgType)
		if err != nil {
			return nil, err
		}
		return LocoCommandAck{Success: ok}, nil
	case TypeSwitchCommand:
		return decodeSwitchCommand(payload)
	case TypeSwitchCommandAck:
		ok, err := decodeBoolPayload(payload, msgType)
		if err != nil {
			return nil, err
		}
		return SwitchCommandAck{Success: ok}, nil
	case TypeSensorReport:
		return decodeSensorReport(payload)
	case TypeHeartbeat:
		if len(payload) != 0 {
			return nil, framingErr(errors.ErrMalformedHandshake, "heartbeat with %d payload bytes", len(payload))
		}
		return Heartbeat{}, nil
	default:
		return nil, framingErr(errors.ErrUnknownType, "type tag %d", uint8(msgType))
	}
}

func decodeRegister(payload []byte) (Message, error) {
	if len(payload) < 1 {
		return nil, framingErr(errors.ErrMalformedHandshake, "empty register payload")
	}
	class := DeviceClass(payload[0])
	if !class.Valid() {
		return nil, framingErr(errors.ErrMalformedHandshake, "device class %d", payload[0])
	}
	id, rest, err := readString(payload[1:], "device id")
	if err != nil {
		return nil, err
	}
	if err := expectDrained(rest, TypeRegister); err != nil {
		return nil, err
	}
	return Register{Class: class, DeviceID: id}, nil
}

func decodeLocoCommand(payload []byte) (Message, error) {
	if len(payload) != 2 {
		return nil, framingErr(errors.ErrMalformedHandshake, "loco command payload %d bytes", len(payload))
	}
	dir := Direction(payload[0])
	speed := Speed(payload[1])
	if !dir.Valid() || !speed.Valid() {
		return nil, framingErr(errors.ErrMalformedHandshake,
			"loco command direction=%d speed=%d", payload[0], payload[1])
	}
	return LocoCommand{Direction: dir, Speed: speed}, nil
}

func decodeSwitchCommand(payload []byte) (Message, error) {
	if len(payload) != 1 {
		return nil, framingErr(errors.ErrMalformedHandshake, "switch command payload %d bytes", len(payload))
	}
	pos := SwitchPosition(payload[0])
	if !pos.Valid() {
		return nil, framingErr(errors.ErrMalformedHandshake, "switch position %d", payload[0])
	}
	return SwitchCommand{Position: pos}, nil
}

func decodeSensorReport(payload []byte) (Message, error) {
	locoID, rest, err := readString(payload, "loco id")
	if err != nil {
		return nil, err
	}
	checkpointID, rest, err := readString(rest, "checkpoint id")
	if err != nil {
		return nil, err
	}
	if len(rest) != 8 {
		return nil, framingErr(errors.ErrMalformedHandshake, "sensor report sequence field %d bytes", len(rest))
	}
	return SensorReport{
		LocoID:       locoID,
		CheckpointID: checkpointID,
		Sequence:     binary.LittleEndian.Uint64(rest),
	}, nil
}

func decodeBoolPayload(payload []byte, msgType MessageType) (bool, error) {
	if len(payload) != 1 {
		return false, framingErr(errors.ErrMalformedHandshake, "%s payload %d bytes", msgType, len(payload))
	}
	return payload[0] != 0, nil
}

// readString reads a length-prefixed identifier string and returns the
// unconsumed remainder of the payload.
func readString(payload []byte, what string) (string, []byte, error) {
	if len(payload) < 1 {
		return "", nil, framingErr(errors.ErrMalformedHandshake, "missing %s length", what)
	}
	n := int(payload[0])
	if n == 0 || n > MaxIDLen {
		return "", nil, framingErr(errors.ErrMalformedHandshake, "%s length %d", what, n)
	}
	if len(payload) < 1+n {
		return "", nil, framingErr(errors.ErrMalformedHandshake,
			"%s truncated: want %d bytes, have %d", what, n, len(payload)-1)
	}
	return string(payload[1 : 1+n]), payload[1+n:], nil
}

func expectDrained(rest []byte, msgType MessageType) error {
	if len(rest) != 0 {
		return framingErr(errors.ErrMalformedHandshake, "%s trailing %d payload bytes", msgType, len(rest))
	}
	return nil
}

// ReadMessage reads exactly one frame from r, blocking until it is complete.
// Truncated streams surface as io errors; malformed frames as *FramingError.
func ReadMessage(r io.Reader) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	if header[0] != Magic {
		return nil, framingErr(errors.ErrBadMagic, "0x%02x", header[0])
	}

	payloadLen := int(binary.LittleEndian.Uint16(header[2:4]))
	if payloadLen > MaxPayloadSize {
		return nil, framingErr(errors.ErrFrameTooLarge, "payload %d bytes", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	return decodePayload(MessageType(header[1]), payload)
}

// WriteMessage encodes msg and writes the full frame to w.
func WriteMessage(w io.Writer, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// AckTypeFor returns the acknowledgment message type paired with a command
// type, used by the router to correlate responses.
func AckTypeFor(cmd MessageType) (MessageType, bool) {
	switch cmd {
	case TypeLocoCommand:
		return TypeLocoCommandAck, true
	case TypeSwitchCommand:
		return TypeSwitchCommandAck, true
	default:
		return 0, false
	}
}
