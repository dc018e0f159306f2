// Package ws streams controller status snapshots over a websocket. Every
// connected client receives the full loco and switch state whenever it
// changes, throttled so bursts of sensor reports coalesce into one push.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dededodu/locoloco/component"
	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/health"
	"github.com/dededodu/locoloco/metric"
	"github.com/dededodu/locoloco/router"
	"github.com/dededodu/locoloco/tracker"
)

var _ component.Component = (*Stream)(nil)
var _ http.Handler = (*Stream)(nil)

const (
	// minPushInterval coalesces change notifications.
	minPushInterval = 100 * time.Millisecond
	// refreshInterval picks up switch changes, which have no watch channel.
	refreshInterval = time.Second

	pingInterval  = 15 * time.Second
	writeDeadline = 5 * time.Second
	// sendBuffer is per client. A client that falls this far behind starts
	// losing snapshots, never slowing the others down.
	sendBuffer = 8
)

// LocoStates is the tracker surface the stream snapshots.
type LocoStates interface {
	All() []tracker.Snapshot
	Watch() (<-chan struct{}, func())
}

// Switches is the router surface the stream snapshots.
type Switches interface {
	Switches() []router.SwitchSnapshot
}

// Deps holds the dependencies for a Stream.
type Deps struct {
	Locos    LocoStates
	Switches Switches
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
}

// Stream is the websocket broadcaster, mounted by the HTTP gateway.
type Stream struct {
	name     string
	locos    LocoStates
	switches Switches
	logger   *slog.Logger
	metrics  *streamMetrics
	upgrader websocket.Upgrader

	mu          sync.Mutex
	initialized bool
	running     bool
	clients     map[*client]struct{}
	shutdown    chan struct{}
	wg          sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// New creates a Stream.
func New(deps Deps) (*Stream, error) {
	if deps.Locos == nil || deps.Switches == nil || deps.Logger == nil || deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Stream", "New", "locos, switches, logger and registry required")
	}

	metrics, err := newStreamMetrics(deps.Registry, "ws")
	if err != nil {
		return nil, err
	}

	return &Stream{
		name:     "ws",
		locos:    deps.Locos,
		switches: deps.Switches,
		logger:   deps.Logger.With("component", "ws"),
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}, nil
}

// Name implements component.Component.
func (s *Stream) Name() string { return s.name }

// Initialize implements component.Component.
func (s *Stream) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	s.shutdown = make(chan struct{})
	return nil
}

// Start launches the broadcast loop.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errors.Wrap(errors.ErrNotStarted, "Stream", "Start", "initialize first")
	}
	if s.running {
		return errors.Wrap(errors.ErrAlreadyStarted, "Stream", "Start", "start stream")
	}
	s.running = true

	s.wg.Add(1)
	go s.broadcastLoop(ctx)
	return nil
}

// Stop disconnects every client and stops the broadcast loop.
func (s *Stream) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.shutdown)
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShuttingDown, "Stream", "Stop", "stop stream")
	}
}

// Health implements component.Component.
func (s *Stream) Health() health.Status {
	s.mu.Lock()
	running := s.running
	clients := len(s.clients)
	s.mu.Unlock()
	if !running {
		return health.NewUnhealthy(s.name, "not running")
	}
	return health.NewHealthy(s.name, "streaming").WithMetrics(&health.Metrics{Sessions: clients})
}

// ServeHTTP upgrades the connection and registers the client.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		http.Error(w, "status stream not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.metrics.clients.Set(float64(len(s.clients)))
	s.mu.Unlock()

	// Give the new client a snapshot right away.
	if data, err := s.snapshot(); err == nil {
		select {
		case c.send <- data:
		default:
		}
	}

	s.wg.Add(2)
	go s.writeLoop(c)
	go s.readLoop(c)
}

// snapshotMessage is the wire shape of one status push.
type snapshotMessage struct {
	Time     time.Time      `json:"time"`
	Locos    []locoStatus   `json:"locos"`
	Switches []switchStatus `json:"switches"`
}

type locoStatus struct {
	LocoID        string         `json:"loco_id"`
	Checkpoint    string         `json:"checkpoint,omitempty"`
	Segment       string         `json:"segment,omitempty"`
	Direction     string         `json:"direction"`
	Speed         string         `json:"speed"`
	Online        bool           `json:"online"`
	Intent        tracker.Intent `json:"intent"`
	Discontinuity bool           `json:"discontinuity"`
}

type switchStatus struct {
	ActuatorID string `json:"actuator_id"`
	Position   string `json:"position"`
	Pending    bool   `json:"pending"`
	Online     bool   `json:"online"`
}

func (s *Stream) snapshot() ([]byte, error) {
	locos := s.locos.All()
	switches := s.switches.Switches()

	msg := snapshotMessage{
		Time:     time.Now(),
		Locos:    make([]locoStatus, 0, len(locos)),
		Switches: make([]switchStatus, 0, len(switches)),
	}
	for _, snap := range locos {
		msg.Locos = append(msg.Locos, locoStatus{
			LocoID:        snap.LocoID,
			Checkpoint:    string(snap.Checkpoint),
			Segment:       string(snap.Segment),
			Direction:     snap.Direction.String(),
			Speed:         snap.Speed.String(),
			Online:        snap.Online,
			Intent:        snap.Intent,
			Discontinuity: snap.Discontinuity,
		})
	}
	for _, snap := range switches {
		msg.Switches = append(msg.Switches, switchStatus{
			ActuatorID: string(snap.ActuatorID),
			Position:   snap.Position.String(),
			Pending:    snap.Pending,
			Online:     snap.Online,
		})
	}
	return json.Marshal(msg)
}

// broadcastLoop pushes a snapshot to every client on tracker changes and on
// the periodic refresh, never more often than minPushInterval.
func (s *Stream) broadcastLoop(ctx context.Context) {
	defer s.wg.Done()

	notify, cancel := s.locos.Watch()
	defer cancel()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	var lastPush time.Time
	for {
		select {
		case <-s.shutdown:
			return
		case <-ctx.Done():
			return
		case <-notify:
		case <-ticker.C:
		}

		if wait := minPushInterval - time.Since(lastPush); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-s.shutdown:
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		data, err := s.snapshot()
		if err != nil {
			s.logger.Error("snapshot marshal failed", "error", err)
			continue
		}
		lastPush = time.Now()
		s.fanOut(data)
	}
}

func (s *Stream) fanOut(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client is not keeping up. Drop this snapshot for it; the
			// next one carries the full state anyway.
			s.metrics.dropped.Inc()
		}
	}
}

func (s *Stream) writeLoop(c *client) {
	defer s.wg.Done()
	defer s.unregister(c)

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-s.shutdown:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
			s.metrics.pushes.Inc()
		case <-pings.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains control frames and detects the client going away.
func (s *Stream) readLoop(c *client) {
	defer s.wg.Done()
	defer s.unregister(c)

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) unregister(c *client) {
	c.close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		s.metrics.clients.Set(float64(len(s.clients)))
	}
}
