// Package fleet manages device connections: one TCP listener per device
// class, a registration handshake, a shared session table with supersession,
// and heartbeat-driven liveness. Frames read from devices are dispatched to
// the loco tracker (sensor reports) and to per-session ack slots (command
// acknowledgments).
package fleet

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/protocol"
)

// SessionState tracks the lifecycle of a device connection.
type SessionState int

// Session states. A session moves Registering -> Active on handshake,
// Active -> Stale when heartbeats stop, Stale -> Closed when they stay
// stopped. Any inbound traffic moves Stale back to Active.
const (
	SessionRegistering SessionState = iota
	SessionActive
	SessionStale
	SessionClosed
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionRegistering:
		return "registering"
	case SessionActive:
		return "active"
	case SessionStale:
		return "stale"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one registered device connection.
type Session struct {
	token    string
	deviceID string
	class    protocol.DeviceClass
	conn     net.Conn

	mu       sync.Mutex
	state    SessionState
	lastSeen time.Time

	// writeMu serializes frame writes on its own so a slow device write
	// never holds up state reads or Touch.
	writeMu sync.Mutex

	pendingMu   sync.Mutex
	pendingType protocol.MessageType
	pendingCh   chan protocol.Message

	closeOnce sync.Once
	closed    chan struct{}

	writeTimeout time.Duration
}

func newSession(token, deviceID string, class protocol.DeviceClass, conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		token:        token,
		deviceID:     deviceID,
		class:        class,
		conn:         conn,
		state:        SessionActive,
		lastSeen:     time.Now(),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// Token returns the session token assigned at registration.
func (s *Session) Token() string { return s.token }

// DeviceID returns the device identifier.
func (s *Session) DeviceID() string { return s.deviceID }

// Class returns the device class.
func (s *Session) Class() protocol.DeviceClass { return s.class }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSeen returns the time of the last inbound frame.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Touch records inbound traffic. A stale session becomes active again.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	if s.state == SessionStale {
		s.state = SessionActive
	}
	s.mu.Unlock()
}

// markStale moves an active session to stale. Returns true on transition.
func (s *Session) markStale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionActive {
		return false
	}
	s.state = SessionStale
	return true
}

// Active reports whether the session can accept commands.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == SessionActive || s.state == SessionStale
}

// Send encodes and writes a message. Frame writes are serialized so two
// dispatches never interleave on the wire; a close during a write surfaces
// as a write error on the closed conn.
func (s *Session) Send(msg protocol.Message) error {
	s.mu.Lock()
	closed := s.state == SessionClosed
	s.mu.Unlock()
	if closed {
		return errors.Wrap(errors.ErrSessionClosed, "Session", "Send",
			fmt.Sprintf("send %s to %s", msg.Type(), s.deviceID))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return errors.WrapTransient(err, "Session", "Send", "set write deadline")
		}
	}
	if err := protocol.WriteMessage(s.conn, msg); err != nil {
		return errors.WrapTransient(err, "Session", "Send",
			fmt.Sprintf("write %s to %s", msg.Type(), s.deviceID))
	}
	return nil
}

// Close terminates the connection and marks the session closed. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = SessionClosed
		s.mu.Unlock()
		close(s.closed)
		_ = s.conn.Close()
	})
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.closed }

// ArmAck installs the pending-ack slot for an outbound command. Only one
// command may be outstanding per session; a second arm fails. The returned
// func releases the slot (on timeout or after the ack arrives).
func (s *Session) ArmAck(ackType protocol.MessageType) (<-chan protocol.Message, func(), error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pendingCh != nil {
		return nil, nil, errors.Wrap(errors.ErrDeviceBusy, "Session", "ArmAck",
			fmt.Sprintf("command already in flight for %s", s.deviceID))
	}

	ch := make(chan protocol.Message, 1)
	s.pendingType = ackType
	s.pendingCh = ch

	release := func() {
		s.pendingMu.Lock()
		if s.pendingCh == ch {
			s.pendingCh = nil
			s.pendingType = 0
		}
		s.pendingMu.Unlock()
	}
	return ch, release, nil
}

// DeliverAck routes an inbound acknowledgment to the armed slot. Returns
// false for unsolicited acks, including acks that arrive after the slot was
// released by a timeout.
func (s *Session) DeliverAck(msg protocol.Message) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pendingCh == nil || msg.Type() != s.pendingType {
		return false
	}

	s.pendingCh <- msg
	s.pendingCh = nil
	s.pendingType = 0
	return true
}
