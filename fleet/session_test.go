package fleet

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/protocol"
)

func newPipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return newSession("token-1", "loco1", protocol.ClassLoco, server, time.Second), client
}

func TestSessionSendAndClose(t *testing.T) {
	sess, client := newPipeSession(t)

	got := make(chan protocol.Message, 1)
	go func() {
		msg, err := protocol.ReadMessage(client)
		if err == nil {
			got <- msg
		}
	}()

	require.NoError(t, sess.Send(protocol.LocoCommand{
		Direction: protocol.DirectionForward,
		Speed:     protocol.SpeedFast,
	}))

	select {
	case msg := <-got:
		assert.Equal(t, protocol.TypeLocoCommand, msg.Type())
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	sess.Close()
	sess.Close() // idempotent

	err := sess.Send(protocol.Heartbeat{})
	assert.ErrorIs(t, err, errors.ErrSessionClosed)
	assert.Equal(t, SessionClosed, sess.State())

	select {
	case <-sess.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestStalledWriteDoesNotBlockStateReads(t *testing.T) {
	// net.Pipe writes block until the far end reads, so Send stalls until
	// its write deadline.
	sess, _ := newPipeSession(t)

	writing := make(chan struct{})
	go func() {
		close(writing)
		_ = sess.Send(protocol.Heartbeat{})
	}()
	<-writing
	time.Sleep(20 * time.Millisecond)

	done := make(chan SessionState, 1)
	go func() {
		sess.Touch()
		done <- sess.State()
	}()

	select {
	case state := <-done:
		assert.Equal(t, SessionActive, state)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("state read blocked behind a stalled write")
	}
}

func TestSessionStateTransitions(t *testing.T) {
	sess, _ := newPipeSession(t)

	assert.Equal(t, SessionActive, sess.State())
	assert.True(t, sess.Active())

	require.True(t, sess.markStale())
	assert.Equal(t, SessionStale, sess.State())
	assert.True(t, sess.Active(), "stale sessions still accept commands")
	assert.False(t, sess.markStale(), "already stale")

	sess.Touch()
	assert.Equal(t, SessionActive, sess.State())

	sess.Close()
	assert.False(t, sess.Active())
	assert.False(t, sess.markStale())
}

func TestAckSlotSingleFlight(t *testing.T) {
	sess, _ := newPipeSession(t)

	ch, release, err := sess.ArmAck(protocol.TypeLocoCommandAck)
	require.NoError(t, err)

	_, _, err = sess.ArmAck(protocol.TypeLocoCommandAck)
	assert.ErrorIs(t, err, errors.ErrDeviceBusy)

	ack := protocol.LocoCommandAck{Success: true}
	require.True(t, sess.DeliverAck(ack))
	assert.Equal(t, protocol.Message(ack), <-ch)

	// Slot is free again once the ack is consumed.
	release()
	_, release2, err := sess.ArmAck(protocol.TypeSwitchCommandAck)
	require.NoError(t, err)
	release2()
}

func TestAckAfterReleaseIsUnsolicited(t *testing.T) {
	sess, _ := newPipeSession(t)

	_, release, err := sess.ArmAck(protocol.TypeLocoCommandAck)
	require.NoError(t, err)

	// Timeout path: the router releases the slot, then the ack arrives.
	release()
	assert.False(t, sess.DeliverAck(protocol.LocoCommandAck{Success: true}))
}

func TestAckTypeMismatchIsUnsolicited(t *testing.T) {
	sess, _ := newPipeSession(t)

	ch, release, err := sess.ArmAck(protocol.TypeLocoCommandAck)
	require.NoError(t, err)
	defer release()

	assert.False(t, sess.DeliverAck(protocol.SwitchCommandAck{Success: true}))
	select {
	case <-ch:
		t.Fatal("mismatched ack delivered")
	default:
	}
}

func TestTableInstallSupersedeRemove(t *testing.T) {
	table := NewTable()

	server1, _ := net.Pipe()
	server2, _ := net.Pipe()
	defer func() { _ = server1.Close(); _ = server2.Close() }()

	s1 := newSession("t1", "loco1", protocol.ClassLoco, server1, time.Second)
	s2 := newSession("t2", "loco1", protocol.ClassLoco, server2, time.Second)

	assert.Nil(t, table.Install(s1))
	superseded := table.Install(s2)
	assert.Same(t, s1, superseded)

	got, ok := table.Lookup("loco1")
	require.True(t, ok)
	assert.Same(t, s2, got)

	// The superseded session must not remove its replacement.
	assert.False(t, table.Remove(s1))
	_, ok = table.Lookup("loco1")
	assert.True(t, ok)

	assert.True(t, table.Remove(s2))
	_, ok = table.Lookup("loco1")
	assert.False(t, ok)
}

func TestTableOfClassAndCount(t *testing.T) {
	table := NewTable()

	server1, _ := net.Pipe()
	server2, _ := net.Pipe()
	defer func() { _ = server1.Close(); _ = server2.Close() }()

	table.Install(newSession("t1", "loco1", protocol.ClassLoco, server1, time.Second))
	table.Install(newSession("t2", "rfid1", protocol.ClassSensor, server2, time.Second))

	assert.Equal(t, 1, table.Count(protocol.ClassLoco))
	assert.Equal(t, 1, table.Count(protocol.ClassSensor))
	assert.Equal(t, 0, table.Count(protocol.ClassActuator))
	assert.Len(t, table.OfClass(protocol.ClassLoco), 1)
}
