// Package tracker maintains the last known state of every loco: position,
// motion, session liveness and automation intent. Sensor reports are the
// ground truth; the tracker never rejects one, it only discards stale
// sequence numbers and flags jumps the layout cannot explain.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dededodu/locoloco/component"
	"github.com/dededodu/locoloco/events"
	"github.com/dededodu/locoloco/health"
	"github.com/dededodu/locoloco/metric"
	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/topology"
)

var _ component.Component = (*Tracker)(nil)

// IntentKind selects the automation intent stored for a loco.
type IntentKind int

// Intent kinds.
const (
	IntentNone IntentKind = iota
	IntentDrive
	IntentStop
)

// String returns the string representation of the intent kind.
func (k IntentKind) String() string {
	switch k {
	case IntentNone:
		return "none"
	case IntentDrive:
		return "drive"
	case IntentStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Intent is what the automation supervisor wants a loco to do: keep driving
// in a direction (optionally toward a target track) or stop at a checkpoint.
type Intent struct {
	Kind       IntentKind            `json:"kind"`
	Direction  protocol.Direction    `json:"direction,omitempty"`
	Track      topology.TrackID      `json:"track,omitempty"`
	Checkpoint topology.CheckpointID `json:"checkpoint,omitempty"`
}

// Snapshot is a consistent copy of one loco's state.
type Snapshot struct {
	LocoID        string
	Checkpoint    topology.CheckpointID // empty while unlocated
	Segment       topology.SegmentID    // empty until two adjacent reports
	Direction     protocol.Direction    // zero until a command is confirmed
	Speed         protocol.Speed
	Online        bool
	Intent        Intent
	Discontinuity bool
	Sequence      uint64
	LastReport    time.Time
}

// Located reports whether the loco has a known position.
func (s Snapshot) Located() bool { return s.Checkpoint != "" }

type record struct {
	checkpoint    topology.CheckpointID
	segment       topology.SegmentID
	direction     protocol.Direction
	speed         protocol.Speed
	online        bool
	intent        Intent
	discontinuity bool
	sequence      uint64
	hasReport     bool
	lastReport    time.Time
	lastActivity  time.Time
}

// Deps holds the dependencies for a Tracker.
type Deps struct {
	Topology *topology.Network
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
	Events   events.Publisher

	// SilenceTimeout evicts records with no live session and no report for
	// this long. Zero disables eviction.
	SilenceTimeout time.Duration
}

// Tracker is the loco state table. It is a lifecycle component so its
// eviction sweeper is managed with the rest of the controller.
type Tracker struct {
	name    string
	topo    *topology.Network
	logger  *slog.Logger
	metrics *trackerMetrics
	events  events.Publisher
	silence time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	locos    map[string]*record
	watchers map[int]chan struct{}
	watchSeq int

	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New creates a Tracker.
func New(deps Deps) (*Tracker, error) {
	if deps.Topology == nil || deps.Logger == nil || deps.Registry == nil {
		return nil, errMissingDeps
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}

	name := "tracker"
	metrics, err := newTrackerMetrics(deps.Registry, name)
	if err != nil {
		return nil, err
	}

	return &Tracker{
		name:     name,
		topo:     deps.Topology,
		logger:   deps.Logger.With("component", name),
		metrics:  metrics,
		events:   deps.Events,
		silence:  deps.SilenceTimeout,
		now:      time.Now,
		locos:    make(map[string]*record),
		watchers: make(map[int]chan struct{}),
		shutdown: make(chan struct{}),
	}, nil
}

// Name returns the component name.
func (t *Tracker) Name() string { return t.name }

// Initialize is a no-op; the table is ready at construction.
func (t *Tracker) Initialize() error { return nil }

// Start launches the eviction sweeper.
func (t *Tracker) Start(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}

	if t.silence > 0 {
		t.wg.Add(1)
		go t.sweepLoop(ctx)
	}
	return nil
}

// Stop terminates the sweeper.
func (t *Tracker) Stop(timeout time.Duration) error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}

	close(t.shutdown)
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errStopTimeout
	}
}

// Health reports the table size.
func (t *Tracker) Health() health.Status {
	t.mu.RLock()
	count := len(t.locos)
	t.mu.RUnlock()

	if !t.running.Load() {
		return health.NewUnhealthy(t.name, "tracker not running")
	}
	return health.NewHealthy(t.name, "tracking").WithMetrics(&health.Metrics{
		Sessions: count,
	})
}

func (t *Tracker) sweepLoop(ctx context.Context) {
	defer t.wg.Done()

	interval := t.silence / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-ctx.Done():
			return
		case <-t.shutdown:
			return
		}
	}
}

// sweep removes records that have no live session and have been silent past
// the timeout.
func (t *Tracker) sweep() {
	cutoff := t.now().Add(-t.silence)

	t.mu.Lock()
	var evicted []string
	for id, rec := range t.locos {
		if !rec.online && rec.lastActivity.Before(cutoff) {
			delete(t.locos, id)
			evicted = append(evicted, id)
		}
	}
	count := len(t.locos)
	t.mu.Unlock()

	for _, id := range evicted {
		t.metrics.evictions.Inc()
		t.logger.Info("loco record evicted after silence", "loco_id", id)
	}
	if len(evicted) > 0 {
		t.metrics.locos.Set(float64(count))
		t.notifyWatchers()
	}
}

// Ensure creates an unlocated record for a loco if none exists. Called when
// a loco session registers before any sensor has seen it.
func (t *Tracker) Ensure(locoID string) {
	t.mu.Lock()
	if _, ok := t.locos[locoID]; !ok {
		t.locos[locoID] = &record{lastActivity: t.now()}
		t.metrics.locos.Set(float64(len(t.locos)))
	}
	t.mu.Unlock()
}

// ApplyReport applies a sensor report. Reports are never rejected: stale
// sequence numbers are discarded silently, and a checkpoint the layout says
// is unreachable from the previous one flags a discontinuity but is applied
// anyway. The sensors see the physical world; the model does not overrule
// them.
func (t *Tracker) ApplyReport(locoID string, checkpointID topology.CheckpointID, sequence uint64) {
	now := t.now()

	t.mu.Lock()
	rec, ok := t.locos[locoID]
	if !ok {
		rec = &record{}
		t.locos[locoID] = rec
		t.metrics.locos.Set(float64(len(t.locos)))
	}

	if rec.hasReport && sequence <= rec.sequence {
		stored := rec.sequence
		t.mu.Unlock()
		t.metrics.staleReports.Inc()
		t.logger.Debug("stale sensor report discarded",
			"loco_id", locoID, "sequence", sequence, "stored", stored)
		return
	}

	discontinuity := false
	segment := topology.SegmentID("")
	if rec.checkpoint != "" && rec.checkpoint != checkpointID {
		if seg, adjacent := t.topo.SegmentBetween(rec.checkpoint, checkpointID); adjacent {
			segment = seg.ID
		} else {
			discontinuity = true
		}
	}
	if !t.topo.HasCheckpoint(checkpointID) {
		discontinuity = true
	}

	rec.checkpoint = checkpointID
	if segment != "" {
		rec.segment = segment
	}
	rec.discontinuity = discontinuity
	rec.sequence = sequence
	rec.hasReport = true
	rec.lastReport = now
	rec.lastActivity = now
	t.mu.Unlock()

	t.metrics.reportsApplied.Inc()
	if discontinuity {
		t.metrics.discontinuities.Inc()
		t.logger.Warn("position discontinuity observed",
			"loco_id", locoID, "checkpoint", checkpointID, "sequence", sequence)
		t.events.Publish(events.SubjectLocoDiscontinuity(locoID), events.PositionEvent{
			LocoID:        locoID,
			Checkpoint:    string(checkpointID),
			Sequence:      sequence,
			Discontinuity: true,
			Time:          now,
		})
	}
	t.events.Publish(events.SubjectLocoPosition(locoID), events.PositionEvent{
		LocoID:        locoID,
		Checkpoint:    string(checkpointID),
		Segment:       string(segment),
		Sequence:      sequence,
		Discontinuity: discontinuity,
		Time:          now,
	})
	t.notifyWatchers()
}

// SetMotion records the confirmed motion state of a loco. Called by the
// command router after a device acknowledges a command.
func (t *Tracker) SetMotion(locoID string, direction protocol.Direction, speed protocol.Speed) {
	t.mu.Lock()
	rec, ok := t.locos[locoID]
	if !ok {
		rec = &record{}
		t.locos[locoID] = rec
		t.metrics.locos.Set(float64(len(t.locos)))
	}
	rec.direction = direction
	rec.speed = speed
	rec.lastActivity = t.now()
	t.mu.Unlock()

	t.notifyWatchers()
}

// SetIntent stores the automation intent for a known loco.
func (t *Tracker) SetIntent(locoID string, intent Intent) bool {
	t.mu.Lock()
	rec, ok := t.locos[locoID]
	if ok {
		rec.intent = intent
		rec.lastActivity = t.now()
	}
	t.mu.Unlock()

	if ok {
		t.notifyWatchers()
	}
	return ok
}

// SetOnline marks a loco's session liveness. Going offline keeps the last
// known position; the record only leaves the table via eviction.
func (t *Tracker) SetOnline(locoID string, online bool) {
	t.mu.Lock()
	rec, ok := t.locos[locoID]
	if !ok {
		rec = &record{}
		t.locos[locoID] = rec
		t.metrics.locos.Set(float64(len(t.locos)))
	}
	rec.online = online
	rec.lastActivity = t.now()
	t.mu.Unlock()

	t.notifyWatchers()
}

// Get returns a snapshot of one loco.
func (t *Tracker) Get(locoID string) (Snapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.locos[locoID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(locoID, rec), true
}

// All returns snapshots of every tracked loco.
func (t *Tracker) All() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Snapshot, 0, len(t.locos))
	for id, rec := range t.locos {
		out = append(out, snapshotOf(id, rec))
	}
	return out
}

func snapshotOf(locoID string, rec *record) Snapshot {
	return Snapshot{
		LocoID:        locoID,
		Checkpoint:    rec.checkpoint,
		Segment:       rec.segment,
		Direction:     rec.direction,
		Speed:         rec.speed,
		Online:        rec.online,
		Intent:        rec.intent,
		Discontinuity: rec.discontinuity,
		Sequence:      rec.sequence,
		LastReport:    rec.lastReport,
	}
}

// Watch registers a change notification channel. The channel coalesces
// bursts: it carries at most one pending signal. The returned func
// unregisters the watcher.
func (t *Tracker) Watch() (<-chan struct{}, func()) {
	t.mu.Lock()
	id := t.watchSeq
	t.watchSeq++
	ch := make(chan struct{}, 1)
	t.watchers[id] = ch
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		delete(t.watchers, id)
		t.mu.Unlock()
	}
}

func (t *Tracker) notifyWatchers() {
	t.mu.RLock()
	for _, ch := range t.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	t.mu.RUnlock()
}
