// Package topology models the rail layout as an immutable graph of
// checkpoints joined by segments. Checkpoints are the RFID reader positions,
// segments are the stretches of track between two checkpoints, and switch
// rails select which segment a loco enters at a branching checkpoint.
//
// A Network is built once at startup, either from a JSON description file or
// from the built-in Default layout, and is never mutated afterwards. All
// query methods are safe for concurrent use.
package topology

import (
	"fmt"
	"sort"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/protocol"
)

// CheckpointID names a sensor position on the layout.
type CheckpointID string

// SegmentID names a stretch of track between two checkpoints.
type SegmentID string

// TrackID names a track a checkpoint belongs to. Stations are their own
// tracks so route searches can target them.
type TrackID string

// ActuatorID names a switch rails device.
type ActuatorID string

// Priority orders segments and checkpoints during route search and conflict
// arbitration. Lower values win; the main loop is 0, station branches are 1.
type Priority int

// SwitchSetting is the position a switch rails actuator must hold for a loco
// to traverse the owning segment.
type SwitchSetting struct {
	Actuator ActuatorID
	Position protocol.SwitchPosition
}

// Segment is one edge of the layout graph.
type Segment struct {
	ID        SegmentID
	Ends      [2]CheckpointID
	Priority  Priority
	Switches  []SwitchSetting
	Conflicts []SegmentID
}

type checkpoint struct {
	id       CheckpointID
	track    TrackID
	priority Priority
	next     map[protocol.Direction][]CheckpointID
}

type endpointKey struct {
	a, b CheckpointID
}

func keyFor(a, b CheckpointID) endpointKey {
	if b < a {
		a, b = b, a
	}
	return endpointKey{a: a, b: b}
}

// Network is the immutable layout graph.
type Network struct {
	checkpoints map[CheckpointID]*checkpoint
	segments    map[SegmentID]*Segment
	byEndpoints map[endpointKey]SegmentID
	switchAt    map[CheckpointID]ActuatorID
	actuators   map[ActuatorID]struct{}
	longestPath int
}

// HasCheckpoint reports whether id is a declared checkpoint.
func (n *Network) HasCheckpoint(id CheckpointID) bool {
	_, ok := n.checkpoints[id]
	return ok
}

// Checkpoints returns every declared checkpoint id, sorted.
func (n *Network) Checkpoints() []CheckpointID {
	ids := make([]CheckpointID, 0, len(n.checkpoints))
	for id := range n.checkpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Track returns the track a checkpoint belongs to.
func (n *Network) Track(id CheckpointID) (TrackID, bool) {
	cp, ok := n.checkpoints[id]
	if !ok {
		return "", false
	}
	return cp.track, true
}

// Next returns the checkpoints reachable from id travelling in direction.
// The returned slice is a copy.
func (n *Network) Next(id CheckpointID, direction protocol.Direction) []CheckpointID {
	cp, ok := n.checkpoints[id]
	if !ok {
		return nil
	}
	return append([]CheckpointID(nil), cp.next[direction]...)
}

// Adjacent returns the checkpoints reachable from id in either direction,
// sorted and deduplicated.
func (n *Network) Adjacent(id CheckpointID) []CheckpointID {
	cp, ok := n.checkpoints[id]
	if !ok {
		return nil
	}
	seen := make(map[CheckpointID]struct{})
	var out []CheckpointID
	for _, dir := range []protocol.Direction{protocol.DirectionForward, protocol.DirectionBackward} {
		for _, next := range cp.next[dir] {
			if _, dup := seen[next]; dup {
				continue
			}
			seen[next] = struct{}{}
			out = append(out, next)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SegmentBetween returns the segment whose endpoints are a and b, in either
// order.
func (n *Network) SegmentBetween(a, b CheckpointID) (Segment, bool) {
	id, ok := n.byEndpoints[keyFor(a, b)]
	if !ok {
		return Segment{}, false
	}
	return *n.segments[id], true
}

// Segment returns the segment with the given id.
func (n *Network) Segment(id SegmentID) (Segment, bool) {
	seg, ok := n.segments[id]
	if !ok {
		return Segment{}, false
	}
	return *seg, true
}

// Segments returns every segment id, sorted.
func (n *Network) Segments() []SegmentID {
	ids := make([]SegmentID, 0, len(n.segments))
	for id := range n.segments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SwitchAt returns the switch rails actuator sitting at a branching
// checkpoint, if any.
func (n *Network) SwitchAt(id CheckpointID) (ActuatorID, bool) {
	a, ok := n.switchAt[id]
	return a, ok
}

// HasActuator reports whether id is a switch rails actuator referenced by the
// layout.
func (n *Network) HasActuator(id ActuatorID) bool {
	_, ok := n.actuators[id]
	return ok
}

// Actuators returns every actuator referenced by the layout, sorted.
func (n *Network) Actuators() []ActuatorID {
	ids := make([]ActuatorID, 0, len(n.actuators))
	for id := range n.actuators {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NextToward returns the checkpoint to head for next when travelling from
// `from` in `direction` to reach `target`. The search is depth-bounded by the
// layout's longest path, so it terminates on the cyclic main loop. When a
// branching checkpoint offers several candidates, lower-priority-value
// checkpoints are preferred.
func (n *Network) NextToward(from CheckpointID, direction protocol.Direction, target CheckpointID) (CheckpointID, bool) {
	return n.searchNext(0, from, direction, func(id CheckpointID) bool { return id == target })
}

// NextTowardTrack is NextToward with a track as the destination.
func (n *Network) NextTowardTrack(from CheckpointID, direction protocol.Direction, target TrackID) (CheckpointID, bool) {
	return n.searchNext(0, from, direction, func(id CheckpointID) bool {
		return n.checkpoints[id].track == target
	})
}

func (n *Network) searchNext(depth int, from CheckpointID, direction protocol.Direction, match func(CheckpointID) bool) (CheckpointID, bool) {
	cp, ok := n.checkpoints[from]
	if !ok {
		return "", false
	}

	candidates := append([]CheckpointID(nil), cp.next[direction]...)
	for _, next := range candidates {
		if match(next) {
			return next, true
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return n.checkpoints[candidates[i]].priority < n.checkpoints[candidates[j]].priority
	})

	for _, next := range candidates {
		if depth >= n.longestPath {
			return "", false
		}
		if _, found := n.searchNext(depth+1, next, direction, match); found {
			return next, true
		}
	}
	return "", false
}

// New builds and validates a Network from a Definition.
func New(def Definition) (*Network, error) {
	if len(def.Checkpoints) == 0 {
		return nil, errors.WrapInvalid(fmt.Errorf("no checkpoints declared"),
			"topology", "New", "validate definition")
	}

	n := &Network{
		checkpoints: make(map[CheckpointID]*checkpoint, len(def.Checkpoints)),
		segments:    make(map[SegmentID]*Segment, len(def.Segments)),
		byEndpoints: make(map[endpointKey]SegmentID, len(def.Segments)),
		switchAt:    make(map[CheckpointID]ActuatorID),
		actuators:   make(map[ActuatorID]struct{}),
		longestPath: def.LongestPath,
	}
	if n.longestPath <= 0 {
		n.longestPath = len(def.Checkpoints)
	}

	for _, cd := range def.Checkpoints {
		if cd.ID == "" {
			return nil, errors.WrapInvalid(fmt.Errorf("checkpoint with empty id"),
				"topology", "New", "validate checkpoints")
		}
		id := CheckpointID(cd.ID)
		if _, dup := n.checkpoints[id]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("duplicate checkpoint %q", id),
				"topology", "New", "validate checkpoints")
		}
		n.checkpoints[id] = &checkpoint{
			id:       id,
			track:    TrackID(cd.Track),
			priority: Priority(cd.Priority),
			next: map[protocol.Direction][]CheckpointID{
				protocol.DirectionForward:  toCheckpointIDs(cd.Forward),
				protocol.DirectionBackward: toCheckpointIDs(cd.Backward),
			},
		}
	}

	for id, cp := range n.checkpoints {
		for _, nexts := range cp.next {
			for _, next := range nexts {
				if _, ok := n.checkpoints[next]; !ok {
					return nil, errors.WrapInvalid(
						fmt.Errorf("checkpoint %q references undeclared neighbor %q", id, next),
						"topology", "New", "validate adjacency")
				}
			}
		}
	}

	for _, sd := range def.Segments {
		if sd.ID == "" {
			return nil, errors.WrapInvalid(fmt.Errorf("segment with empty id"),
				"topology", "New", "validate segments")
		}
		id := SegmentID(sd.ID)
		if _, dup := n.segments[id]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("duplicate segment %q", id),
				"topology", "New", "validate segments")
		}
		ends := [2]CheckpointID{CheckpointID(sd.Between[0]), CheckpointID(sd.Between[1])}
		for _, end := range ends {
			if _, ok := n.checkpoints[end]; !ok {
				return nil, errors.WrapInvalid(
					fmt.Errorf("segment %q endpoint %q is not a declared checkpoint", id, end),
					"topology", "New", "validate segments")
			}
		}
		key := keyFor(ends[0], ends[1])
		if other, dup := n.byEndpoints[key]; dup {
			return nil, errors.WrapInvalid(
				fmt.Errorf("segments %q and %q share endpoints %v", id, other, ends),
				"topology", "New", "validate segments")
		}

		seg := &Segment{
			ID:       id,
			Ends:     ends,
			Priority: Priority(sd.Priority),
		}
		for _, sw := range sd.Switches {
			pos, err := protocol.ParseSwitchPosition(sw.Position)
			if err != nil {
				return nil, errors.WrapInvalid(
					fmt.Errorf("segment %q switch %q: %w", id, sw.Actuator, err),
					"topology", "New", "validate switches")
			}
			actuator := ActuatorID(sw.Actuator)
			seg.Switches = append(seg.Switches, SwitchSetting{Actuator: actuator, Position: pos})
			n.actuators[actuator] = struct{}{}
		}
		for _, c := range sd.Conflicts {
			seg.Conflicts = append(seg.Conflicts, SegmentID(c))
		}
		n.segments[id] = seg
		n.byEndpoints[key] = id
	}

	for id, seg := range n.segments {
		for _, c := range seg.Conflicts {
			if _, ok := n.segments[c]; !ok {
				return nil, errors.WrapInvalid(
					fmt.Errorf("segment %q conflicts with undeclared segment %q", id, c),
					"topology", "New", "validate conflicts")
			}
		}
	}

	n.deriveSwitchPositions()
	return n, nil
}

// deriveSwitchPositions locates each actuator on the layout. A switch rails
// device sits at the checkpoint where two of its segments meet: the direct
// and diverted legs of the same branch.
func (n *Network) deriveSwitchPositions() {
	for cpID := range n.checkpoints {
		counts := make(map[ActuatorID]int)
		for key, segID := range n.byEndpoints {
			if key.a != cpID && key.b != cpID {
				continue
			}
			for _, sw := range n.segments[segID].Switches {
				counts[sw.Actuator]++
			}
		}
		for actuator, count := range counts {
			if count >= 2 {
				n.switchAt[cpID] = actuator
			}
		}
	}
}

func toCheckpointIDs(raw []string) []CheckpointID {
	out := make([]CheckpointID, 0, len(raw))
	for _, s := range raw {
		out = append(out, CheckpointID(s))
	}
	return out
}
