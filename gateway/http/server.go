// Package http is the controller's REST boundary. It exposes loco and
// switch status, manual command endpoints and the operational endpoints
// (health, metrics, websocket status stream).
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dededodu/locoloco/component"
	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/health"
	"github.com/dededodu/locoloco/metric"
	"github.com/dededodu/locoloco/oracle"
	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/router"
	"github.com/dededodu/locoloco/topology"
	"github.com/dededodu/locoloco/tracker"
)

var _ component.Component = (*Gateway)(nil)

// maxRequestSize bounds command request bodies. The JSON commands are tiny.
const maxRequestSize = 64 * 1024

// LocoStates is the tracker surface the gateway reads and writes.
type LocoStates interface {
	Get(locoID string) (tracker.Snapshot, bool)
	SetIntent(locoID string, intent tracker.Intent) bool
}

// Commands is the router surface behind the command endpoints.
type Commands interface {
	ControlLoco(ctx context.Context, locoID string, direction protocol.Direction, speed protocol.Speed) router.Outcome
	DriveSwitch(ctx context.Context, actuatorID topology.ActuatorID, position protocol.SwitchPosition) router.Outcome
	SwitchStatus(actuatorID topology.ActuatorID) (router.SwitchSnapshot, bool)
}

// Supervisor is the oracle surface for the mode endpoint and the manual
// control lockout.
type Supervisor interface {
	Mode() oracle.Mode
	SetMode(mode oracle.Mode)
}

// Deps holds the dependencies for a Gateway.
type Deps struct {
	Addr       string
	Locos      LocoStates
	Commands   Commands
	Supervisor Supervisor
	Monitor    *health.Monitor
	Logger     *slog.Logger
	Registry   *metric.MetricsRegistry

	// StatusStream, when set, is mounted at /ws/status.
	StatusStream http.Handler
}

// Gateway serves the REST API as a lifecycle component.
type Gateway struct {
	name       string
	addr       string
	locos      LocoStates
	cmds       Commands
	supervisor Supervisor
	monitor    *health.Monitor
	logger     *slog.Logger
	metrics    *gatewayMetrics
	stream     http.Handler
	metricsH   http.Handler

	mu          sync.Mutex
	initialized bool
	running     bool
	ln          net.Listener
	server      *http.Server
	wg          sync.WaitGroup
}

// New creates a Gateway.
func New(deps Deps) (*Gateway, error) {
	if deps.Addr == "" || deps.Locos == nil || deps.Commands == nil ||
		deps.Supervisor == nil || deps.Monitor == nil || deps.Logger == nil ||
		deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Gateway", "New", "addr, locos, commands, supervisor, monitor, logger and registry required")
	}

	metrics, err := newGatewayMetrics(deps.Registry, "gateway")
	if err != nil {
		return nil, err
	}

	return &Gateway{
		name:       "gateway",
		addr:       deps.Addr,
		locos:      deps.Locos,
		cmds:       deps.Commands,
		supervisor: deps.Supervisor,
		monitor:    deps.Monitor,
		logger:     deps.Logger.With("component", "gateway"),
		metrics:    metrics,
		stream:     deps.StatusStream,
		metricsH:   deps.Registry.Handler(),
	}, nil
}

// Name implements component.Component.
func (g *Gateway) Name() string { return g.name }

// Initialize binds the listen address.
func (g *Gateway) Initialize() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	ln, err := net.Listen("tcp", g.addr)
	if err != nil {
		return errors.WrapFatal(err, "Gateway", "Initialize", "bind http address")
	}
	g.ln = ln
	g.server = &http.Server{
		Handler:           g.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.initialized = true
	return nil
}

// Start begins serving. It does not block.
func (g *Gateway) Start(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.initialized {
		return errors.Wrap(errors.ErrNotStarted, "Gateway", "Start", "initialize first")
	}
	if g.running {
		return errors.Wrap(errors.ErrAlreadyStarted, "Gateway", "Start", "start gateway")
	}
	g.running = true

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.server.Serve(g.ln); err != nil && err != http.ErrServerClosed {
			g.logger.Error("http server exited", "error", err)
		}
	}()

	g.logger.Info("gateway listening", "addr", g.ln.Addr().String())
	return nil
}

// Stop shuts the server down, draining in-flight requests up to timeout.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	server := g.server
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := server.Shutdown(ctx)
	g.wg.Wait()
	if err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "shutdown http server")
	}
	return nil
}

// Health implements component.Component.
func (g *Gateway) Health() health.Status {
	g.mu.Lock()
	running := g.running
	g.mu.Unlock()
	if !running {
		return health.NewUnhealthy(g.name, "not running")
	}
	return health.NewHealthy(g.name, "serving")
}

// Addr returns the bound listen address.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return g.addr
	}
	return g.ln.Addr().String()
}

func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", g.instrument("root", g.handleRoot))
	mux.HandleFunc("GET /loco_status/{loco_id}", g.instrument("loco_status", g.handleLocoStatus))
	mux.HandleFunc("GET /switch_status/{actuator_id}", g.instrument("switch_status", g.handleSwitchStatus))
	mux.HandleFunc("POST /control_loco", g.instrument("control_loco", g.handleControlLoco))
	mux.HandleFunc("POST /drive_switch_rails", g.instrument("drive_switch_rails", g.handleDriveSwitch))
	mux.HandleFunc("POST /loco_intent", g.instrument("loco_intent", g.handleLocoIntent))
	mux.HandleFunc("POST /oracle_mode", g.instrument("oracle_mode", g.handleOracleMode))
	mux.HandleFunc("GET /healthz", g.instrument("healthz", g.handleHealthz))
	mux.Handle("GET /metrics", g.metricsH)
	if g.stream != nil {
		mux.Handle("GET /ws/status", g.stream)
	}
	return mux
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument tags every request with an id and records route metrics.
func (g *Gateway) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next(rec, r)

		g.metrics.observe(route, rec.code, time.Since(start))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(body)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error":  message,
		"status": status,
	})
}
