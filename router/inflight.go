package router

import "sync"

// inflightSet tracks which devices have a command in flight. A second
// command to the same device is refused immediately instead of queued.
type inflightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: make(map[string]struct{})}
}

// acquire claims the in-flight slot for a device. It returns false when
// another command already holds it. The release func must be called once.
func (s *inflightSet) acquire(id string) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.ids[id]; busy {
		return nil, false
	}
	s.ids[id] = struct{}{}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.ids, id)
	}, true
}
