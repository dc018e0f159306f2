package fleet

import (
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/dededodu/locoloco/protocol"
)

// NewTestSession builds a registered session around an arbitrary conn,
// bypassing the handshake. Test helper for packages that drive sessions
// directly (the command router's tests pair it with net.Pipe).
func NewTestSession(deviceID string, class protocol.DeviceClass, conn net.Conn) *Session {
	return newSession(uuid.NewString(), deviceID, class, conn, time.Second)
}
