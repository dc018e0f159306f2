// Package oracle is the automation supervisor. When enabled it drives every
// loco with an intent toward its target, granting one loco per segment and
// stopping the rest at their checkpoints.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dededodu/locoloco/component"
	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/health"
	"github.com/dededodu/locoloco/metric"
	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/router"
	"github.com/dededodu/locoloco/topology"
	"github.com/dededodu/locoloco/tracker"
)

var _ component.Component = (*Oracle)(nil)

// Mode selects whether the supervisor is driving the layout.
type Mode int32

// Supervisor modes.
const (
	ModeOff Mode = iota
	ModeAuto
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// ParseMode parses the lowercase mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "off":
		return ModeOff, nil
	case "auto":
		return ModeAuto, nil
	default:
		return ModeOff, errors.WrapInvalid(fmt.Errorf("oracle mode %q", s),
			"oracle", "ParseMode", "mode parsing")
	}
}

// Locos is the tracker surface the supervisor reads.
type Locos interface {
	All() []tracker.Snapshot
}

// Commands is the router surface the supervisor drives.
type Commands interface {
	ControlLoco(ctx context.Context, locoID string, direction protocol.Direction, speed protocol.Speed) router.Outcome
	DriveSwitch(ctx context.Context, actuatorID topology.ActuatorID, position protocol.SwitchPosition) router.Outcome
}

// Deps holds the dependencies for an Oracle.
type Deps struct {
	Locos    Locos
	Commands Commands
	Topology *topology.Network
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry

	// Tick is the supervision loop period. Defaults to 100ms.
	Tick time.Duration
}

// plan is one loco's decision for a tick: drive onto a segment, or stop.
type plan struct {
	locoID    string
	direction protocol.Direction
	segment   topology.Segment
	drive     bool
}

// Oracle runs the supervision loop as a lifecycle component.
type Oracle struct {
	name    string
	locos   Locos
	cmds    Commands
	topo    *topology.Network
	logger  *slog.Logger
	metrics *oracleMetrics
	tick    time.Duration

	mode atomic.Int32

	// lastSegment orders two locos sharing an active segment: the one that
	// was already on it last tick is ahead.
	lastSegment map[string]topology.SegmentID

	mu          sync.Mutex
	initialized bool
	running     bool
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

// New creates an Oracle in mode off.
func New(deps Deps) (*Oracle, error) {
	if deps.Locos == nil || deps.Commands == nil || deps.Topology == nil ||
		deps.Logger == nil || deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Oracle", "New", "locos, commands, topology, logger and registry required")
	}
	if deps.Tick <= 0 {
		deps.Tick = 100 * time.Millisecond
	}

	metrics, err := newOracleMetrics(deps.Registry, "oracle")
	if err != nil {
		return nil, err
	}

	return &Oracle{
		name:        "oracle",
		locos:       deps.Locos,
		cmds:        deps.Commands,
		topo:        deps.Topology,
		logger:      deps.Logger.With("component", "oracle"),
		metrics:     metrics,
		tick:        deps.Tick,
		lastSegment: make(map[string]topology.SegmentID),
	}, nil
}

// Name implements component.Component.
func (o *Oracle) Name() string { return o.name }

// Initialize implements component.Component.
func (o *Oracle) Initialize() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.initialized = true
	o.shutdown = make(chan struct{})
	return nil
}

// Start launches the supervision loop. The loop runs regardless of mode and
// does nothing while the mode is off.
func (o *Oracle) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.initialized {
		return errors.Wrap(errors.ErrNotStarted, "Oracle", "Start", "initialize first")
	}
	if o.running {
		return errors.Wrap(errors.ErrAlreadyStarted, "Oracle", "Start", "start oracle")
	}
	o.running = true

	o.wg.Add(1)
	go o.loop(ctx)
	return nil
}

// Stop implements component.Component.
func (o *Oracle) Stop(timeout time.Duration) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.shutdown)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("tick loop still running"),
			"Oracle", "Stop", "stop oracle")
	}
}

// Health implements component.Component.
func (o *Oracle) Health() health.Status {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()
	if !running {
		return health.NewUnhealthy(o.name, "not running")
	}
	return health.NewHealthy(o.name, "mode "+o.Mode().String())
}

// Mode returns the current supervision mode.
func (o *Oracle) Mode() Mode { return Mode(o.mode.Load()) }

// SetMode switches the supervisor on or off. Switching off leaves locos in
// their last commanded state.
func (o *Oracle) SetMode(mode Mode) {
	o.mode.Store(int32(mode))
	o.logger.Info("mode changed", "mode", mode.String())
}

func (o *Oracle) loop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-o.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if o.Mode() != ModeAuto {
				continue
			}
			o.process(ctx)
		}
	}
}

// process runs one supervision tick: plan each loco's next segment, grant
// segments in priority order, then dispatch the resulting commands.
func (o *Oracle) process(ctx context.Context) {
	o.metrics.ticks.Inc()

	plans := o.planSegments()
	plans = o.orderPlans(plans)
	switchCmds, locoCmds := o.arbitrate(plans)
	o.dispatch(ctx, switchCmds, locoCmds)
}

type switchCommand struct {
	actuator topology.ActuatorID
	position protocol.SwitchPosition
}

type locoCommand struct {
	locoID    string
	direction protocol.Direction
	speed     protocol.Speed
}

// planSegments computes the segment each intent-driven loco wants next. A
// loco whose route is blocked, finished or unknown gets a stop plan.
func (o *Oracle) planSegments() []plan {
	snaps := o.locos.All()

	// A stopped loco parks its checkpoint: nobody is routed into it.
	busy := make(map[topology.CheckpointID]struct{})
	for _, snap := range snaps {
		if snap.Located() && snap.Speed == protocol.SpeedStop {
			busy[snap.Checkpoint] = struct{}{}
		}
	}

	var plans []plan
	for _, snap := range snaps {
		if !snap.Located() || snap.Intent.Kind == tracker.IntentNone {
			continue
		}

		direction := snap.Intent.Direction
		var next topology.CheckpointID
		var found bool
		switch snap.Intent.Kind {
		case tracker.IntentDrive:
			next, found = o.topo.NextTowardTrack(snap.Checkpoint, direction, snap.Intent.Track)
		case tracker.IntentStop:
			if snap.Intent.Checkpoint == snap.Checkpoint {
				plans = append(plans, plan{locoID: snap.LocoID, direction: direction})
				continue
			}
			next, found = o.topo.NextToward(snap.Checkpoint, direction, snap.Intent.Checkpoint)
		}
		if !found {
			o.metrics.routeFailures.Inc()
			o.logger.Warn("no route toward intent target",
				"loco_id", snap.LocoID, "checkpoint", string(snap.Checkpoint),
				"intent", snap.Intent.Kind.String())
			plans = append(plans, plan{locoID: snap.LocoID, direction: direction})
			continue
		}

		if _, parked := busy[next]; parked {
			plans = append(plans, plan{locoID: snap.LocoID, direction: direction})
			continue
		}

		segment, ok := o.topo.SegmentBetween(snap.Checkpoint, next)
		if !ok {
			o.metrics.routeFailures.Inc()
			o.logger.Warn("no segment between checkpoints",
				"loco_id", snap.LocoID, "from", string(snap.Checkpoint), "to", string(next))
			plans = append(plans, plan{locoID: snap.LocoID, direction: direction})
			continue
		}

		plans = append(plans, plan{
			locoID:    snap.LocoID,
			direction: direction,
			segment:   segment,
			drive:     true,
		})
	}
	return plans
}

// orderPlans puts the loco already on a shared segment ahead of a follower
// wanting the same segment, then stably orders by segment priority so main
// loop traffic wins over station traffic.
func (o *Oracle) orderPlans(plans []plan) []plan {
	ordered := make([]plan, 0, len(plans))
	for _, p := range plans {
		inserted := false
		if p.drive {
			if last, ok := o.lastSegment[p.locoID]; ok && last == p.segment.ID {
				for i, q := range ordered {
					if q.drive && q.segment.ID == p.segment.ID {
						ordered = append(ordered[:i], append([]plan{p}, ordered[i:]...)...)
						inserted = true
						break
					}
				}
			}
		}
		if !inserted {
			ordered = append(ordered, p)
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return planPriority(ordered[i]) < planPriority(ordered[j])
	})
	return ordered
}

// planPriority ranks stop plans after every drive plan.
func planPriority(p plan) int {
	if !p.drive {
		return int(^uint(0) >> 1)
	}
	return int(p.segment.Priority)
}

// arbitrate grants each segment to at most one loco and refuses segments
// conflicting with an already granted one. Refused locos are stopped.
func (o *Oracle) arbitrate(plans []plan) ([]switchCommand, []locoCommand) {
	var switchCmds []switchCommand
	var locoCmds []locoCommand
	granted := make(map[topology.SegmentID]struct{})

	for _, p := range plans {
		if p.drive {
			if _, taken := granted[p.segment.ID]; !taken {
				conflict := false
				for _, other := range p.segment.Conflicts {
					if _, busy := granted[other]; busy {
						conflict = true
						break
					}
				}
				if !conflict {
					for _, setting := range p.segment.Switches {
						switchCmds = append(switchCmds, switchCommand{
							actuator: setting.Actuator,
							position: setting.Position,
						})
					}
					locoCmds = append(locoCmds, locoCommand{
						locoID:    p.locoID,
						direction: p.direction,
						speed:     protocol.SpeedNormal,
					})
					granted[p.segment.ID] = struct{}{}
					o.lastSegment[p.locoID] = p.segment.ID
					continue
				}
			}
		}
		locoCmds = append(locoCmds, locoCommand{
			locoID:    p.locoID,
			direction: p.direction,
			speed:     protocol.SpeedStop,
		})
		o.metrics.stops.Inc()
	}

	return switchCmds, locoCmds
}

// dispatch sends switch commands then loco commands through the router.
// Each command runs in its own goroutine so one slow device cannot stall
// the tick. Busy outcomes are expected (the previous tick's command is
// still in flight) and simply retried next tick.
func (o *Oracle) dispatch(ctx context.Context, switchCmds []switchCommand, locoCmds []locoCommand) {
	for _, cmd := range switchCmds {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			outcome := o.cmds.DriveSwitch(ctx, cmd.actuator, cmd.position)
			if outcome != router.Accepted && outcome != router.Busy {
				o.logger.Warn("switch command failed",
					"actuator_id", string(cmd.actuator),
					"position", cmd.position.String(), "outcome", outcome.String())
			}
		}()
	}
	for _, cmd := range locoCmds {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			outcome := o.cmds.ControlLoco(ctx, cmd.locoID, cmd.direction, cmd.speed)
			if outcome != router.Accepted && outcome != router.Busy {
				o.logger.Warn("loco command failed",
					"loco_id", cmd.locoID, "speed", cmd.speed.String(),
					"outcome", outcome.String())
			}
		}()
	}
}
