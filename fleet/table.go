package fleet

import (
	"sync"

	"github.com/dededodu/locoloco/protocol"
)

// Table is the session table shared by the three listeners. One entry per
// device id; re-registration supersedes the previous session.
type Table struct {
	mu       sync.RWMutex
	byDevice map[string]*Session
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{byDevice: make(map[string]*Session)}
}

// Install registers a session, returning the session it superseded, if any.
// The caller closes the superseded session outside the table lock.
func (t *Table) Install(s *Session) (superseded *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.byDevice[s.deviceID]
	t.byDevice[s.deviceID] = s
	return old
}

// Remove deletes the entry for this exact session. A session superseded by a
// newer one does not remove its replacement.
func (t *Table) Remove(s *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byDevice[s.deviceID] != s {
		return false
	}
	delete(t.byDevice, s.deviceID)
	return true
}

// Lookup returns the session for a device id.
func (t *Table) Lookup(deviceID string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.byDevice[deviceID]
	return s, ok
}

// OfClass returns the sessions of one device class.
func (t *Table) OfClass(class protocol.DeviceClass) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Session
	for _, s := range t.byDevice {
		if s.class == class {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of sessions of one device class.
func (t *Table) Count(class protocol.DeviceClass) int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, s := range t.byDevice {
		if s.class == class {
			n++
		}
	}
	return n
}
