package topology

// DefaultDefinition describes the reference installation: a main loop of six
// checkpoints with two station spurs, ten segments and four switch rails.
// Segments guarded by the same actuator conflict with each other, as do the
// pairs of segments that share physical track.
func DefaultDefinition() Definition {
	return Definition{
		LongestPath: 6,
		Checkpoints: []CheckpointDefinition{
			{
				ID: "checkpoint1", Track: "track1", Priority: 0,
				Forward:  []string{"checkpoint2"},
				Backward: []string{"checkpoint6"},
			},
			{
				ID: "checkpoint2", Track: "track1", Priority: 0,
				Forward:  []string{"checkpoint3"},
				Backward: []string{"checkpoint1", "station1"},
			},
			{
				ID: "checkpoint3", Track: "track1", Priority: 0,
				Forward:  []string{"checkpoint4", "station2"},
				Backward: []string{"checkpoint2"},
			},
			{
				ID: "checkpoint4", Track: "track1", Priority: 0,
				Forward:  []string{"checkpoint5"},
				Backward: []string{"checkpoint3"},
			},
			{
				ID: "checkpoint5", Track: "track1", Priority: 0,
				Forward:  []string{"checkpoint6"},
				Backward: []string{"checkpoint4", "station2"},
			},
			{
				ID: "checkpoint6", Track: "track1", Priority: 0,
				Forward:  []string{"checkpoint1", "station1"},
				Backward: []string{"checkpoint5"},
			},
			{
				ID: "station1", Track: "station1", Priority: 1,
				Forward:  []string{"checkpoint2"},
				Backward: []string{"checkpoint6"},
			},
			{
				ID: "station2", Track: "station2", Priority: 1,
				Forward:  []string{"checkpoint5"},
				Backward: []string{"checkpoint3"},
			},
		},
		Segments: []SegmentDefinition{
			{
				ID: "segment1", Between: [2]string{"checkpoint1", "checkpoint2"}, Priority: 0,
				Switches:  []SwitchDefinition{{Actuator: "switchrails2", Position: "direct"}},
				Conflicts: []string{"segment8"},
			},
			{
				ID: "segment2", Between: [2]string{"checkpoint2", "checkpoint3"}, Priority: 0,
			},
			{
				ID: "segment3", Between: [2]string{"checkpoint3", "checkpoint4"}, Priority: 0,
				Switches:  []SwitchDefinition{{Actuator: "switchrails3", Position: "direct"}},
				Conflicts: []string{"segment9"},
			},
			{
				ID: "segment4", Between: [2]string{"checkpoint4", "checkpoint5"}, Priority: 0,
				Switches:  []SwitchDefinition{{Actuator: "switchrails4", Position: "direct"}},
				Conflicts: []string{"segment10"},
			},
			{
				ID: "segment5", Between: [2]string{"checkpoint5", "checkpoint6"}, Priority: 0,
			},
			{
				ID: "segment6", Between: [2]string{"checkpoint6", "checkpoint1"}, Priority: 0,
				Switches:  []SwitchDefinition{{Actuator: "switchrails1", Position: "direct"}},
				Conflicts: []string{"segment7"},
			},
			{
				ID: "segment7", Between: [2]string{"checkpoint6", "station1"}, Priority: 1,
				Switches:  []SwitchDefinition{{Actuator: "switchrails1", Position: "diverted"}},
				Conflicts: []string{"segment6"},
			},
			{
				ID: "segment8", Between: [2]string{"station1", "checkpoint2"}, Priority: 1,
				Switches:  []SwitchDefinition{{Actuator: "switchrails2", Position: "diverted"}},
				Conflicts: []string{"segment1"},
			},
			{
				ID: "segment9", Between: [2]string{"checkpoint3", "station2"}, Priority: 1,
				Switches:  []SwitchDefinition{{Actuator: "switchrails3", Position: "diverted"}},
				Conflicts: []string{"segment3"},
			},
			{
				ID: "segment10", Between: [2]string{"checkpoint5", "station2"}, Priority: 1,
				Switches:  []SwitchDefinition{{Actuator: "switchrails4", Position: "diverted"}},
				Conflicts: []string{"segment4"},
			},
		},
	}
}

// Default builds the reference layout. It panics on error since the built-in
// definition is validated by tests.
func Default() *Network {
	n, err := New(DefaultDefinition())
	if err != nil {
		panic(err)
	}
	return n
}
