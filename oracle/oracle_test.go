package oracle

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dededodu/locoloco/metric"
	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/router"
	"github.com/dededodu/locoloco/topology"
	"github.com/dededodu/locoloco/tracker"
)

type fakeLocos struct {
	snaps []tracker.Snapshot
}

func (f *fakeLocos) All() []tracker.Snapshot {
	return append([]tracker.Snapshot(nil), f.snaps...)
}

type fakeCommands struct {
	mu       sync.Mutex
	outcome  router.Outcome
	locos    []string
	switches []string
}

func (f *fakeCommands) ControlLoco(_ context.Context, locoID string, direction protocol.Direction, speed protocol.Speed) router.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locos = append(f.locos, locoID+"/"+direction.String()+"/"+speed.String())
	return f.outcome
}

func (f *fakeCommands) DriveSwitch(_ context.Context, actuatorID topology.ActuatorID, position protocol.SwitchPosition) router.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches = append(f.switches, string(actuatorID)+"/"+position.String())
	return f.outcome
}

func (f *fakeCommands) calls() (locos, switches []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.locos...), append([]string(nil), f.switches...)
}

func driving(locoID string, checkpoint topology.CheckpointID, track topology.TrackID) tracker.Snapshot {
	return tracker.Snapshot{
		LocoID:     locoID,
		Checkpoint: checkpoint,
		Speed:      protocol.SpeedNormal,
		Online:     true,
		Intent: tracker.Intent{
			Kind:      tracker.IntentDrive,
			Direction: protocol.DirectionForward,
			Track:     track,
		},
	}
}

func newTestOracle(t *testing.T, locos *fakeLocos, cmds *fakeCommands) *Oracle {
	t.Helper()

	o, err := New(Deps{
		Locos:    locos,
		Commands: cmds,
		Topology: topology.Default(),
		Logger:   slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Registry: metric.NewMetricsRegistry(),
	})
	require.NoError(t, err)
	return o
}

// runTick runs one supervision pass and waits for the dispatched commands.
func runTick(o *Oracle) {
	o.process(context.Background())
	o.wg.Wait()
}

func TestProcessDrivesIntentLoco(t *testing.T) {
	locos := &fakeLocos{snaps: []tracker.Snapshot{
		driving("loco1", "checkpoint1", "station2"),
	}}
	cmds := &fakeCommands{}
	o := newTestOracle(t, locos, cmds)

	runTick(o)

	locoCalls, switchCalls := cmds.calls()
	assert.Equal(t, []string{"loco1/forward/normal"}, locoCalls)
	assert.Equal(t, []string{"switchrails2/direct"}, switchCalls)
}

func TestProcessStopsAtTargetCheckpoint(t *testing.T) {
	locos := &fakeLocos{snaps: []tracker.Snapshot{{
		LocoID:     "loco1",
		Checkpoint: "station2",
		Speed:      protocol.SpeedNormal,
		Online:     true,
		Intent: tracker.Intent{
			Kind:       tracker.IntentStop,
			Direction:  protocol.DirectionForward,
			Checkpoint: "station2",
		},
	}}}
	cmds := &fakeCommands{}
	o := newTestOracle(t, locos, cmds)

	runTick(o)

	locoCalls, switchCalls := cmds.calls()
	assert.Equal(t, []string{"loco1/forward/stop"}, locoCalls)
	assert.Empty(t, switchCalls)
}

func TestProcessRoutesTowardStopCheckpoint(t *testing.T) {
	locos := &fakeLocos{snaps: []tracker.Snapshot{{
		LocoID:     "loco1",
		Checkpoint: "checkpoint3",
		Speed:      protocol.SpeedNormal,
		Online:     true,
		Intent: tracker.Intent{
			Kind:       tracker.IntentStop,
			Direction:  protocol.DirectionForward,
			Checkpoint: "checkpoint5",
		},
	}}}
	cmds := &fakeCommands{}
	o := newTestOracle(t, locos, cmds)

	runTick(o)

	// The main loop route through checkpoint4 wins over the station spur.
	locoCalls, switchCalls := cmds.calls()
	assert.Equal(t, []string{"loco1/forward/normal"}, locoCalls)
	assert.Equal(t, []string{"switchrails3/direct"}, switchCalls)
}

func TestProcessConflictingSegmentStopsLowerPriority(t *testing.T) {
	// loco1 wants segment1 (main loop), loco2 wants segment8 (station exit).
	// The segments share track, so only the higher priority one is granted.
	locos := &fakeLocos{snaps: []tracker.Snapshot{
		driving("loco2", "station1", "track1"),
		driving("loco1", "checkpoint1", "station2"),
	}}
	cmds := &fakeCommands{}
	o := newTestOracle(t, locos, cmds)

	runTick(o)

	locoCalls, switchCalls := cmds.calls()
	assert.ElementsMatch(t, []string{"loco1/forward/normal", "loco2/forward/stop"}, locoCalls)
	assert.Equal(t, []string{"switchrails2/direct"}, switchCalls)
}

func TestProcessParkedCheckpointBlocksRoute(t *testing.T) {
	locos := &fakeLocos{snaps: []tracker.Snapshot{
		driving("loco1", "checkpoint1", "station2"),
		{LocoID: "loco2", Checkpoint: "checkpoint2", Speed: protocol.SpeedStop, Online: true},
	}}
	cmds := &fakeCommands{}
	o := newTestOracle(t, locos, cmds)

	runTick(o)

	// loco2 parks checkpoint2, so loco1 may not enter segment1.
	locoCalls, switchCalls := cmds.calls()
	assert.Equal(t, []string{"loco1/forward/stop"}, locoCalls)
	assert.Empty(t, switchCalls)
}

func TestProcessSharedSegmentLeaderGoesFirst(t *testing.T) {
	// Both locos want segment2. loco2 was already on it last tick, so it is
	// ahead and keeps driving while loco1 waits.
	locos := &fakeLocos{snaps: []tracker.Snapshot{
		driving("loco1", "checkpoint2", "station2"),
		driving("loco2", "checkpoint2", "station2"),
	}}
	cmds := &fakeCommands{}
	o := newTestOracle(t, locos, cmds)
	o.lastSegment["loco2"] = "segment2"

	runTick(o)

	locoCalls, _ := cmds.calls()
	assert.ElementsMatch(t, []string{"loco2/forward/normal", "loco1/forward/stop"}, locoCalls)
}

func TestProcessSkipsUnlocatedAndIntentless(t *testing.T) {
	locos := &fakeLocos{snaps: []tracker.Snapshot{
		{LocoID: "loco1", Online: true, Intent: tracker.Intent{Kind: tracker.IntentDrive, Direction: protocol.DirectionForward, Track: "track1"}},
		{LocoID: "loco2", Checkpoint: "checkpoint1", Speed: protocol.SpeedNormal, Online: true},
	}}
	cmds := &fakeCommands{}
	o := newTestOracle(t, locos, cmds)

	runTick(o)

	locoCalls, switchCalls := cmds.calls()
	assert.Empty(t, locoCalls)
	assert.Empty(t, switchCalls)
}

func TestProcessStopsOnUnreachableTarget(t *testing.T) {
	locos := &fakeLocos{snaps: []tracker.Snapshot{{
		LocoID:     "loco1",
		Checkpoint: "checkpoint1",
		Speed:      protocol.SpeedNormal,
		Online:     true,
		Intent: tracker.Intent{
			Kind:      tracker.IntentDrive,
			Direction: protocol.DirectionForward,
			Track:     "nosuchtrack",
		},
	}}}
	cmds := &fakeCommands{}
	o := newTestOracle(t, locos, cmds)

	runTick(o)

	locoCalls, _ := cmds.calls()
	assert.Equal(t, []string{"loco1/forward/stop"}, locoCalls)
}

func TestModeRoundTrip(t *testing.T) {
	o := newTestOracle(t, &fakeLocos{}, &fakeCommands{})

	assert.Equal(t, ModeOff, o.Mode())
	o.SetMode(ModeAuto)
	assert.Equal(t, ModeAuto, o.Mode())

	mode, err := ParseMode("auto")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, mode)
	mode, err = ParseMode("off")
	require.NoError(t, err)
	assert.Equal(t, ModeOff, mode)
	_, err = ParseMode("sideways")
	require.Error(t, err)

	assert.Equal(t, "off", ModeOff.String())
	assert.Equal(t, "auto", ModeAuto.String())
}

func TestLifecycle(t *testing.T) {
	locos := &fakeLocos{snaps: []tracker.Snapshot{
		driving("loco1", "checkpoint1", "station2"),
	}}
	cmds := &fakeCommands{}
	o := newTestOracle(t, locos, cmds)

	require.Error(t, o.Start(context.Background()))
	require.NoError(t, o.Initialize())
	require.NoError(t, o.Start(context.Background()))
	require.Error(t, o.Start(context.Background()))
	assert.True(t, o.Health().IsHealthy())

	// Off by default: the loop must not drive anything.
	time.Sleep(250 * time.Millisecond)
	locoCalls, _ := cmds.calls()
	assert.Empty(t, locoCalls)

	o.SetMode(ModeAuto)
	require.Eventually(t, func() bool {
		locoCalls, _ := cmds.calls()
		return len(locoCalls) > 0
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, o.Stop(time.Second))
	assert.False(t, o.Health().IsHealthy())
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}
