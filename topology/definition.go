package topology

import (
	"encoding/json"
	"os"

	"github.com/dededodu/locoloco/errors"
)

// Definition is the JSON description a Network is built from.
type Definition struct {
	LongestPath int                    `json:"longest_path,omitempty"`
	Checkpoints []CheckpointDefinition `json:"checkpoints"`
	Segments    []SegmentDefinition    `json:"segments"`
}

// CheckpointDefinition declares one checkpoint and its per-direction
// neighbors.
type CheckpointDefinition struct {
	ID       string   `json:"id"`
	Track    string   `json:"track"`
	Priority int      `json:"priority"`
	Forward  []string `json:"forward"`
	Backward []string `json:"backward"`
}

// SegmentDefinition declares one segment between two checkpoints.
type SegmentDefinition struct {
	ID        string             `json:"id"`
	Between   [2]string          `json:"between"`
	Priority  int                `json:"priority"`
	Switches  []SwitchDefinition `json:"switches,omitempty"`
	Conflicts []string           `json:"conflicts,omitempty"`
}

// SwitchDefinition binds an actuator position to a segment: the segment is
// traversable only while the actuator holds this position.
type SwitchDefinition struct {
	Actuator string `json:"actuator"`
	Position string `json:"position"`
}

// Load reads a Definition from a JSON file and builds the Network.
func Load(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "topology", "Load", "read description file")
	}

	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, errors.WrapInvalid(err, "topology", "Load", "parse description file")
	}

	return New(def)
}
