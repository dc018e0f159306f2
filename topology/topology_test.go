package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dededodu/locoloco/protocol"
)

func TestDefaultLayout(t *testing.T) {
	n := Default()

	assert.Len(t, n.Checkpoints(), 8)
	assert.Len(t, n.Segments(), 10)
	assert.Equal(t, []ActuatorID{"switchrails1", "switchrails2", "switchrails3", "switchrails4"},
		n.Actuators())

	track, ok := n.Track("station1")
	require.True(t, ok)
	assert.Equal(t, TrackID("station1"), track)

	track, ok = n.Track("checkpoint4")
	require.True(t, ok)
	assert.Equal(t, TrackID("track1"), track)

	_, ok = n.Track("checkpoint9")
	assert.False(t, ok)
}

func TestNextPerDirection(t *testing.T) {
	n := Default()

	assert.Equal(t, []CheckpointID{"checkpoint3"},
		n.Next("checkpoint2", protocol.DirectionForward))
	assert.Equal(t, []CheckpointID{"checkpoint1", "station1"},
		n.Next("checkpoint2", protocol.DirectionBackward))
	assert.Equal(t, []CheckpointID{"checkpoint4", "station2"},
		n.Next("checkpoint3", protocol.DirectionForward))
	assert.Nil(t, n.Next("checkpoint9", protocol.DirectionForward))
}

func TestAdjacentIsUnionOfDirections(t *testing.T) {
	n := Default()

	assert.Equal(t, []CheckpointID{"checkpoint1", "checkpoint3", "station1"},
		n.Adjacent("checkpoint2"))
	assert.Equal(t, []CheckpointID{"checkpoint2", "checkpoint6"},
		n.Adjacent("checkpoint1"))
	assert.Equal(t, []CheckpointID{"checkpoint3", "checkpoint5"},
		n.Adjacent("station2"))
	assert.Nil(t, n.Adjacent("checkpoint9"))
}

func TestSegmentBetween(t *testing.T) {
	n := Default()

	seg, ok := n.SegmentBetween("checkpoint1", "checkpoint2")
	require.True(t, ok)
	assert.Equal(t, SegmentID("segment1"), seg.ID)

	// Endpoint order must not matter.
	reversed, ok := n.SegmentBetween("checkpoint2", "checkpoint1")
	require.True(t, ok)
	assert.Equal(t, seg.ID, reversed.ID)

	seg, ok = n.SegmentBetween("station1", "checkpoint2")
	require.True(t, ok)
	assert.Equal(t, SegmentID("segment8"), seg.ID)
	assert.Equal(t, Priority(1), seg.Priority)
	assert.Equal(t, []SegmentID{"segment1"}, seg.Conflicts)
	require.Len(t, seg.Switches, 1)
	assert.Equal(t, ActuatorID("switchrails2"), seg.Switches[0].Actuator)
	assert.Equal(t, protocol.PositionDiverted, seg.Switches[0].Position)

	_, ok = n.SegmentBetween("checkpoint1", "checkpoint4")
	assert.False(t, ok)
}

func TestSwitchAtBranchingCheckpoints(t *testing.T) {
	n := Default()

	tests := []struct {
		checkpoint CheckpointID
		actuator   ActuatorID
	}{
		{"checkpoint6", "switchrails1"},
		{"checkpoint2", "switchrails2"},
		{"checkpoint3", "switchrails3"},
		{"checkpoint5", "switchrails4"},
	}
	for _, tt := range tests {
		actuator, ok := n.SwitchAt(tt.checkpoint)
		require.True(t, ok, "checkpoint %s", tt.checkpoint)
		assert.Equal(t, tt.actuator, actuator)
	}

	_, ok := n.SwitchAt("checkpoint1")
	assert.False(t, ok)
	_, ok = n.SwitchAt("station1")
	assert.False(t, ok)
}

func TestNextToward(t *testing.T) {
	n := Default()

	// Direct neighbor.
	next, ok := n.NextToward("checkpoint1", protocol.DirectionForward, "checkpoint2")
	require.True(t, ok)
	assert.Equal(t, CheckpointID("checkpoint2"), next)

	// Multi-hop: checkpoint1 -> checkpoint2 -> checkpoint3 -> station2.
	next, ok = n.NextToward("checkpoint1", protocol.DirectionForward, "station2")
	require.True(t, ok)
	assert.Equal(t, CheckpointID("checkpoint2"), next)

	// Backward around the loop into the station spur.
	next, ok = n.NextToward("checkpoint4", protocol.DirectionBackward, "station1")
	require.True(t, ok)
	assert.Equal(t, CheckpointID("checkpoint3"), next)

	// At a branch the main loop is preferred over a station spur.
	next, ok = n.NextToward("checkpoint6", protocol.DirectionForward, "checkpoint3")
	require.True(t, ok)
	assert.Equal(t, CheckpointID("checkpoint1"), next)

	// Unknown targets terminate via the depth bound.
	_, ok = n.NextToward("checkpoint1", protocol.DirectionForward, "checkpoint9")
	assert.False(t, ok)
	_, ok = n.NextToward("checkpoint9", protocol.DirectionForward, "checkpoint1")
	assert.False(t, ok)
}

func TestNextTowardTrack(t *testing.T) {
	n := Default()

	next, ok := n.NextTowardTrack("checkpoint1", protocol.DirectionForward, "station2")
	require.True(t, ok)
	assert.Equal(t, CheckpointID("checkpoint2"), next)

	next, ok = n.NextTowardTrack("checkpoint5", protocol.DirectionBackward, "station2")
	require.True(t, ok)
	assert.Equal(t, CheckpointID("station2"), next)

	_, ok = n.NextTowardTrack("checkpoint1", protocol.DirectionForward, "track9")
	assert.False(t, ok)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	layout := `{
		"longest_path": 2,
		"checkpoints": [
			{"id": "a", "track": "main", "priority": 0, "forward": ["b"], "backward": ["b"]},
			{"id": "b", "track": "main", "priority": 0, "forward": ["a"], "backward": ["a"]}
		],
		"segments": [
			{"id": "ab", "between": ["a", "b"], "priority": 0}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(layout), 0o600))

	n, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []CheckpointID{"a", "b"}, n.Checkpoints())

	seg, ok := n.SegmentBetween("b", "a")
	require.True(t, ok)
	assert.Equal(t, SegmentID("ab"), seg.ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	base := func() Definition {
		return Definition{
			Checkpoints: []CheckpointDefinition{
				{ID: "a", Track: "main", Forward: []string{"b"}, Backward: []string{"b"}},
				{ID: "b", Track: "main", Forward: []string{"a"}, Backward: []string{"a"}},
			},
			Segments: []SegmentDefinition{
				{ID: "ab", Between: [2]string{"a", "b"}},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"no checkpoints", func(d *Definition) { d.Checkpoints = nil }},
		{"undeclared neighbor", func(d *Definition) { d.Checkpoints[0].Forward = []string{"c"} }},
		{"duplicate checkpoint", func(d *Definition) {
			d.Checkpoints = append(d.Checkpoints, CheckpointDefinition{ID: "a"})
		}},
		{"undeclared segment endpoint", func(d *Definition) { d.Segments[0].Between[1] = "c" }},
		{"duplicate segment endpoints", func(d *Definition) {
			d.Segments = append(d.Segments, SegmentDefinition{ID: "ba", Between: [2]string{"b", "a"}})
		}},
		{"undeclared conflict", func(d *Definition) { d.Segments[0].Conflicts = []string{"cd"} }},
		{"invalid switch position", func(d *Definition) {
			d.Segments[0].Switches = []SwitchDefinition{{Actuator: "sw1", Position: "sideways"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := base()
			tt.mutate(&def)
			_, err := New(def)
			assert.Error(t, err)
		})
	}

	_, err := New(base())
	assert.NoError(t, err)
}
