package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dededodu/locoloco/component"
	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/events"
	"github.com/dededodu/locoloco/health"
	"github.com/dededodu/locoloco/metric"
	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/topology"
)

var _ component.Component = (*Listener)(nil)

// ReportSink receives what the fleet learns about locos: sensor reports and
// session liveness. The tracker implements it.
type ReportSink interface {
	ApplyReport(locoID string, checkpointID topology.CheckpointID, sequence uint64)
	Ensure(locoID string)
	SetOnline(locoID string, online bool)
}

// Timeouts groups the connection timing knobs shared by the listeners.
type Timeouts struct {
	// RegisterGrace bounds how long a fresh connection may take to present
	// its Register frame.
	RegisterGrace time.Duration
	// HeartbeatTimeout moves an active session to stale when no frame
	// arrives for this long.
	HeartbeatTimeout time.Duration
	// StaleTimeout closes a stale session after this further interval.
	StaleTimeout time.Duration
	// WriteTimeout bounds each outbound frame write.
	WriteTimeout time.Duration
}

// Deps holds the dependencies for a Listener.
type Deps struct {
	Class    protocol.DeviceClass
	Addr     string
	Table    *Table
	Sink     ReportSink
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
	Events   events.Publisher
	Timeouts Timeouts
}

// Listener accepts device connections of one class, runs the registration
// handshake and owns the per-session read loops.
type Listener struct {
	name     string
	class    protocol.DeviceClass
	addr     string
	table    *Table
	sink     ReportSink
	logger   *slog.Logger
	metrics  *listenerMetrics
	core     *metric.Metrics
	events   events.Publisher
	timeouts Timeouts

	ln       net.Listener
	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewListener creates a listener component for one device class.
func NewListener(deps Deps) (*Listener, error) {
	if !deps.Class.Valid() {
		return nil, errors.WrapInvalid(fmt.Errorf("device class %d", deps.Class),
			"Listener", "NewListener", "validate class")
	}
	if deps.Addr == "" || deps.Table == nil || deps.Logger == nil || deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Listener", "NewListener", "addr, table, logger and registry required")
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}

	name := fmt.Sprintf("fleet-%ss", deps.Class)
	metrics, err := newListenerMetrics(deps.Registry, name)
	if err != nil {
		return nil, err
	}

	return &Listener{
		name:     name,
		class:    deps.Class,
		addr:     deps.Addr,
		table:    deps.Table,
		sink:     deps.Sink,
		logger:   deps.Logger.With("component", name),
		metrics:  metrics,
		core:     deps.Registry.CoreMetrics(),
		events:   deps.Events,
		timeouts: deps.Timeouts,
		shutdown: make(chan struct{}),
	}, nil
}

// Name returns the component name.
func (l *Listener) Name() string { return l.name }

// Initialize binds the TCP listener.
func (l *Listener) Initialize() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return errors.WrapFatal(err, "Listener", "Initialize",
			fmt.Sprintf("listen on %s", l.addr))
	}
	l.ln = ln
	l.logger.Info("listening", "addr", ln.Addr().String(), "class", l.class.String())
	return nil
}

// Start launches the accept loop and the heartbeat sweeper.
func (l *Listener) Start(ctx context.Context) error {
	if l.ln == nil {
		return errors.Wrap(errors.ErrNotStarted, "Listener", "Start", "initialize first")
	}
	if !l.running.CompareAndSwap(false, true) {
		return errors.Wrap(errors.ErrAlreadyStarted, "Listener", "Start", "start listener")
	}

	l.wg.Add(2)
	go l.acceptLoop(ctx)
	go l.sweepLoop(ctx)
	return nil
}

// Stop closes the listener and every session of this class.
func (l *Listener) Stop(timeout time.Duration) error {
	if !l.running.CompareAndSwap(true, false) {
		return nil
	}

	close(l.shutdown)
	_ = l.ln.Close()
	// Closing the conns unblocks the read loops; each loop removes its own
	// session and records the closure.
	for _, s := range l.table.OfClass(l.class) {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("read loops still running"),
			"Listener", "Stop", "stop listener")
	}
}

// Health reports listener liveness and session count.
func (l *Listener) Health() health.Status {
	if !l.running.Load() {
		return health.NewUnhealthy(l.name, "listener not running")
	}
	return health.NewHealthy(l.name, "accepting connections").WithMetrics(&health.Metrics{
		Sessions: l.table.Count(l.class),
	})
}

// Addr returns the bound address, once initialized.
func (l *Listener) Addr() string {
	if l.ln == nil {
		return l.addr
	}
	return l.ln.Addr().String()
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.shutdown:
				return
			case <-ctx.Done():
				return
			default:
			}
			l.logger.Warn("accept failed", "error", err)
			continue
		}

		l.wg.Add(1)
		go l.serveConn(ctx, conn)
	}
}

// serveConn runs the handshake and, on success, the session read loop.
func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()

	sess, err := l.handshake(conn)
	if err != nil {
		l.metrics.handshakeFailures.Inc()
		l.logger.Warn("handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		_ = conn.Close()
		return
	}

	l.metrics.sessionsOpened.Inc()
	l.metrics.sessions.Set(float64(l.table.Count(l.class)))
	l.publishSessionEvent(sess.deviceID, "registered")
	if l.class == protocol.ClassLoco && l.sink != nil {
		l.sink.Ensure(sess.deviceID)
		l.sink.SetOnline(sess.deviceID, true)
	}
	l.logger.Info("device registered",
		"device_id", sess.deviceID, "remote", conn.RemoteAddr().String())

	l.readLoop(ctx, sess)
}

// handshake expects exactly one Register frame of the listener's class
// within the grace period and answers with a RegisterAck carrying the
// session token.
func (l *Listener) handshake(conn net.Conn) (*Session, error) {
	if err := conn.SetReadDeadline(time.Now().Add(l.timeouts.RegisterGrace)); err != nil {
		return nil, errors.WrapTransient(err, "Listener", "handshake", "set read deadline")
	}

	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, errors.Wrap(errors.ErrRegisterTimeout, "Listener", "handshake",
				"wait for register frame")
		}
		return nil, errors.Wrap(err, "Listener", "handshake", "read register frame")
	}

	reg, ok := msg.(protocol.Register)
	if !ok {
		return nil, errors.Wrap(errors.ErrMalformedHandshake, "Listener", "handshake",
			fmt.Sprintf("first frame was %s", msg.Type()))
	}
	if reg.Class != l.class {
		return nil, errors.Wrap(errors.ErrWrongClass, "Listener", "handshake",
			fmt.Sprintf("device %s presented class %s", reg.DeviceID, reg.Class))
	}

	sess := newSession(uuid.NewString(), reg.DeviceID, l.class, conn, l.timeouts.WriteTimeout)

	if superseded := l.table.Install(sess); superseded != nil {
		l.metrics.supersessions.Inc()
		l.publishSessionEvent(superseded.deviceID, "superseded")
		l.logger.Info("session superseded", "device_id", superseded.deviceID)
		superseded.Close()
	}

	if err := sess.Send(protocol.RegisterAck{Token: sess.token}); err != nil {
		l.table.Remove(sess)
		sess.Close()
		return nil, errors.Wrap(err, "Listener", "handshake", "send register ack")
	}
	l.core.RecordFrameSent(l.name, protocol.TypeRegisterAck.String())

	return sess, nil
}

// readLoop decodes frames from a registered session until it closes. Read
// deadlines are short so shutdown is noticed promptly; liveness is judged by
// the sweeper, not by the deadline. A frame whose bytes span deadline ticks
// stays buffered in the reader and resumes on the next pass.
func (l *Listener) readLoop(ctx context.Context, sess *Session) {
	defer func() {
		if l.table.Remove(sess) {
			l.closeSession(sess, "connection closed")
		} else {
			sess.Close()
		}
		l.metrics.sessions.Set(float64(l.table.Count(l.class)))
	}()

	reader := protocol.NewFrameReader(sess.conn)
	for {
		select {
		case <-l.shutdown:
			return
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		default:
		}

		if err := sess.conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return
		}

		msg, err := reader.Next()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			var framing *protocol.FramingError
			if errors.As(err, &framing) {
				l.metrics.framingErrors.Inc()
				l.logger.Warn("framing error, closing session",
					"device_id", sess.deviceID, "error", err)
			}
			return
		}

		sess.Touch()
		l.core.RecordFrameReceived(l.name, msg.Type().String())
		l.dispatch(sess, msg)
	}
}

// dispatch routes one inbound frame.
func (l *Listener) dispatch(sess *Session, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Heartbeat:
		// Touch already recorded the traffic.

	case protocol.SensorReport:
		if l.class != protocol.ClassSensor || l.sink == nil {
			l.metrics.unexpectedFrames.Inc()
			return
		}
		l.sink.ApplyReport(m.LocoID, topology.CheckpointID(m.CheckpointID), m.Sequence)

	case protocol.LocoCommandAck, protocol.SwitchCommandAck:
		if !sess.DeliverAck(msg) {
			l.metrics.unsolicitedAcks.Inc()
			l.logger.Debug("unsolicited ack discarded",
				"device_id", sess.deviceID, "type", msg.Type().String())
		}

	default:
		l.metrics.unexpectedFrames.Inc()
		l.logger.Warn("unexpected frame from registered device",
			"device_id", sess.deviceID, "type", msg.Type().String())
	}
}

// sweepLoop enforces heartbeat liveness: active sessions with no traffic go
// stale, stale ones get closed.
func (l *Listener) sweepLoop(ctx context.Context) {
	defer l.wg.Done()

	interval := l.timeouts.HeartbeatTimeout / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			return
		case <-l.shutdown:
			return
		}
	}
}

func (l *Listener) sweep() {
	now := time.Now()
	for _, sess := range l.table.OfClass(l.class) {
		idle := now.Sub(sess.LastSeen())
		switch sess.State() {
		case SessionActive:
			if idle > l.timeouts.HeartbeatTimeout && sess.markStale() {
				l.publishSessionEvent(sess.deviceID, "stale")
				l.logger.Warn("session stale", "device_id", sess.deviceID, "idle", idle)
			}
		case SessionStale:
			if idle > l.timeouts.HeartbeatTimeout+l.timeouts.StaleTimeout {
				l.table.Remove(sess)
				l.closeSession(sess, "heartbeat timeout")
			}
		}
	}
	l.metrics.sessions.Set(float64(l.table.Count(l.class)))
}

func (l *Listener) closeSession(sess *Session, reason string) {
	sess.Close()
	l.publishSessionEvent(sess.deviceID, "closed")
	if l.class == protocol.ClassLoco && l.sink != nil {
		l.sink.SetOnline(sess.deviceID, false)
	}
	l.logger.Info("session closed", "device_id", sess.deviceID, "reason", reason)
}

func (l *Listener) publishSessionEvent(deviceID, state string) {
	l.events.Publish(events.SubjectFleetSession(deviceID), events.SessionEvent{
		DeviceID: deviceID,
		Class:    l.class.String(),
		State:    state,
		Time:     time.Now(),
	})
}
