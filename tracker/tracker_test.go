package tracker

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
	"github.com/dededodu/locoloco/topology"
)

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (c *capturePublisher) Publish(subject string, _ any) {
	c.mu.Lock()
	c.subjects = append(c.subjects, subject)
	c.mu.Unlock()
}

func (c *capturePublisher) captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subjects...)
}

func newTestTracker(t *testing.T) (*Tracker, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	tr, err := New(Deps{
		Topology:       topology.Default(),
		Logger:         slog.New(slog.NewTextHandler(os.Stderr, nil)),
		Registry:       metric.NewMetricsRegistry(),
		Events:         pub,
		SilenceTimeout: time.Minute,
	})
	require.NoError(t, err)
	return tr, pub
}

func TestApplyReportCreatesRecord(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.ApplyReport("loco1", "checkpoint1", 1)

	snap, ok := tr.Get("loco1")
	require.True(t, ok)
	assert.True(t, snap.Located())
	assert.Equal(t, topology.CheckpointID("checkpoint1"), snap.Checkpoint)
	assert.Equal(t, uint64(1), snap.Sequence)
	assert.False(t, snap.Discontinuity)
	assert.Empty(t, snap.Segment)
}

func TestStaleSequenceDiscarded(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.ApplyReport("loco1", "checkpoint1", 5)
	tr.ApplyReport("loco1", "checkpoint2", 4)

	snap, ok := tr.Get("loco1")
	require.True(t, ok)
	assert.Equal(t, topology.CheckpointID("checkpoint1"), snap.Checkpoint)
	assert.Equal(t, uint64(5), snap.Sequence)

	// Replaying the stored sequence is also a no-op.
	tr.ApplyReport("loco1", "checkpoint2", 5)
	snap, _ = tr.Get("loco1")
	assert.Equal(t, topology.CheckpointID("checkpoint1"), snap.Checkpoint)
}

func TestConcurrentApplyReport(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.ApplyReport("loco1", "checkpoint1", 1)

	// Fresh sequences advancing while stale ones replay; run under -race.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for seq := uint64(2); seq < 200; seq++ {
			tr.ApplyReport("loco1", "checkpoint1", seq)
		}
	}()
	go func() {
		defer wg.Done()
		for range 198 {
			tr.ApplyReport("loco1", "checkpoint2", 1)
		}
	}()
	wg.Wait()

	snap, ok := tr.Get("loco1")
	require.True(t, ok)
	assert.Equal(t, topology.CheckpointID("checkpoint1"), snap.Checkpoint)
	assert.Equal(t, uint64(199), snap.Sequence)
}

func TestAdjacentTransitionInfersSegment(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.ApplyReport("loco1", "checkpoint1", 1)
	tr.ApplyReport("loco1", "checkpoint2", 2)

	snap, ok := tr.Get("loco1")
	require.True(t, ok)
	assert.Equal(t, topology.CheckpointID("checkpoint2"), snap.Checkpoint)
	assert.Equal(t, topology.SegmentID("segment1"), snap.Segment)
	assert.False(t, snap.Discontinuity)
}

func TestNonAdjacentJumpFlaggedButAccepted(t *testing.T) {
	tr, pub := newTestTracker(t)

	tr.ApplyReport("loco1", "checkpoint1", 1)
	tr.ApplyReport("loco1", "checkpoint4", 2)

	snap, ok := tr.Get("loco1")
	require.True(t, ok)
	assert.Equal(t, topology.CheckpointID("checkpoint4"), snap.Checkpoint)
	assert.True(t, snap.Discontinuity)
	assert.Contains(t, pub.captured(), "loco.discontinuity.loco1")

	// A following adjacent report clears the flag.
	tr.ApplyReport("loco1", "checkpoint5", 3)
	snap, _ = tr.Get("loco1")
	assert.False(t, snap.Discontinuity)
	assert.Equal(t, topology.SegmentID("segment4"), snap.Segment)
}

func TestUnknownCheckpointAcceptedAndFlagged(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.ApplyReport("loco1", "checkpoint99", 1)

	snap, ok := tr.Get("loco1")
	require.True(t, ok)
	assert.Equal(t, topology.CheckpointID("checkpoint99"), snap.Checkpoint)
	assert.True(t, snap.Discontinuity)
}

func TestEnsureCreatesUnlocatedRecord(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.Ensure("loco1")
	snap, ok := tr.Get("loco1")
	require.True(t, ok)
	assert.False(t, snap.Located())

	// Ensure never clobbers existing state.
	tr.ApplyReport("loco1", "checkpoint1", 1)
	tr.Ensure("loco1")
	snap, _ = tr.Get("loco1")
	assert.True(t, snap.Located())
}

func TestSetMotionAndOnline(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.SetOnline("loco1", true)
	tr.SetMotion("loco1", protocol.DirectionBackward, protocol.SpeedSlow)

	snap, ok := tr.Get("loco1")
	require.True(t, ok)
	assert.True(t, snap.Online)
	assert.Equal(t, protocol.DirectionBackward, snap.Direction)
	assert.Equal(t, protocol.SpeedSlow, snap.Speed)

	// Offline keeps position and motion state.
	tr.ApplyReport("loco1", "checkpoint1", 1)
	tr.SetOnline("loco1", false)
	snap, _ = tr.Get("loco1")
	assert.False(t, snap.Online)
	assert.True(t, snap.Located())
}

func TestSetIntentRequiresKnownLoco(t *testing.T) {
	tr, _ := newTestTracker(t)

	intent := Intent{Kind: IntentDrive, Direction: protocol.DirectionForward, Track: "station1"}
	assert.False(t, tr.SetIntent("loco1", intent))

	tr.Ensure("loco1")
	assert.True(t, tr.SetIntent("loco1", intent))

	snap, _ := tr.Get("loco1")
	assert.Equal(t, intent, snap.Intent)
}

func TestEvictionSweep(t *testing.T) {
	tr, _ := newTestTracker(t)

	base := time.Now()
	tr.now = func() time.Time { return base }

	tr.ApplyReport("silent", "checkpoint1", 1)
	tr.ApplyReport("talking", "checkpoint2", 1)
	tr.SetOnline("registered", true)

	// Past the silence timeout for everyone; only the offline records with
	// no fresh activity go.
	tr.now = func() time.Time { return base.Add(2 * time.Minute) }
	tr.ApplyReport("talking", "checkpoint3", 2)
	tr.sweep()

	_, ok := tr.Get("silent")
	assert.False(t, ok)
	_, ok = tr.Get("talking")
	assert.True(t, ok)
	_, ok = tr.Get("registered")
	assert.True(t, ok, "records with a live session are never evicted")
}

func TestAllReturnsSnapshots(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.ApplyReport("loco1", "checkpoint1", 1)
	tr.ApplyReport("loco2", "checkpoint4", 1)

	all := tr.All()
	assert.Len(t, all, 2)
}

func TestWatchNotifiesOnChange(t *testing.T) {
	tr, _ := newTestTracker(t)

	ch, cancel := tr.Watch()
	defer cancel()

	tr.ApplyReport("loco1", "checkpoint1", 1)
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification after report")
	}

	// Bursts coalesce into a single pending signal.
	tr.ApplyReport("loco1", "checkpoint2", 2)
	tr.ApplyReport("loco1", "checkpoint3", 3)
	<-ch
	select {
	case <-ch:
		t.Fatal("expected coalesced notifications")
	default:
	}

	cancel()
	tr.ApplyReport("loco1", "checkpoint4", 4)
	select {
	case <-ch:
		t.Fatal("notification after cancel")
	default:
	}
}

func TestLifecycle(t *testing.T) {
	tr, _ := newTestTracker(t)

	require.NoError(t, tr.Initialize())
	require.NoError(t, tr.Start(context.Background()))
	assert.Error(t, tr.Start(context.Background()))
	assert.True(t, tr.Health().Healthy)

	require.NoError(t, tr.Stop(time.Second))
	assert.False(t, tr.Health().Healthy)
}
