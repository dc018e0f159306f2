// Package events exports controller events to NATS for external dashboards.
// Publishing is strictly fire-and-forget: a broker outage degrades the
// export, never the control path.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dededodu/locoloco/component"
	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/health"
	"github.com/dededodu/locoloco/metric"
)

var (
	_ Publisher           = (*NATSPublisher)(nil)
	_ Publisher           = Nop{}
	_ component.Component = (*NATSPublisher)(nil)
)

// Subjects carrying controller events. <id> is the device identifier.
const (
	subjectLocoPosition      = "loco.position.%s"
	subjectLocoDiscontinuity = "loco.discontinuity.%s"
	subjectFleetSession      = "fleet.session.%s"
	subjectSwitchPosition    = "switch.position.%s"
)

// SubjectLocoPosition returns the subject for a loco's position events.
func SubjectLocoPosition(locoID string) string {
	return fmt.Sprintf(subjectLocoPosition, locoID)
}

// SubjectLocoDiscontinuity returns the subject for a loco's discontinuity
// observations.
func SubjectLocoDiscontinuity(locoID string) string {
	return fmt.Sprintf(subjectLocoDiscontinuity, locoID)
}

// SubjectFleetSession returns the subject for a device's session lifecycle
// events.
func SubjectFleetSession(deviceID string) string {
	return fmt.Sprintf(subjectFleetSession, deviceID)
}

// SubjectSwitchPosition returns the subject for a switch's position events.
func SubjectSwitchPosition(actuatorID string) string {
	return fmt.Sprintf(subjectSwitchPosition, actuatorID)
}

// Publisher is the sink components emit events into. Implementations must be
// safe for concurrent use and must never block the caller on broker I/O.
type Publisher interface {
	Publish(subject string, payload any)
}

// Nop discards all events. Used when no NATS URL is configured.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(string, any) {}

// NATSPublisher publishes controller events to a NATS server. It is a
// lifecycle component owned by the component manager.
type NATSPublisher struct {
	name    string
	url     string
	logger  *slog.Logger
	metrics *publisherMetrics
	core    *metric.Metrics

	conn      *nats.Conn
	running   atomic.Bool
	startTime time.Time
}

type publisherMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

func newPublisherMetrics(registry metric.MetricsRegistrar, name string) (*publisherMetrics, error) {
	m := &publisherMetrics{
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "locoloco",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Events published to NATS",
			},
			[]string{"subject"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "locoloco",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events dropped (marshal or publish failure)",
			},
			[]string{"subject"},
		),
	}

	if err := registry.RegisterCounterVec(name, "published_total", m.published); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(name, "dropped_total", m.dropped); err != nil {
		return nil, err
	}
	return m, nil
}

// Deps holds the dependencies for a NATSPublisher.
type Deps struct {
	URL      string
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
}

// NewNATSPublisher creates the publisher component. The connection is opened
// in Initialize.
func NewNATSPublisher(deps Deps) (*NATSPublisher, error) {
	if deps.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"NATSPublisher", "NewNATSPublisher", "nats url required")
	}
	if deps.Logger == nil || deps.Registry == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"NATSPublisher", "NewNATSPublisher", "logger and registry required")
	}

	name := "events"
	metrics, err := newPublisherMetrics(deps.Registry, name)
	if err != nil {
		return nil, errors.WrapFatal(err, "NATSPublisher", "NewNATSPublisher", "register metrics")
	}

	return &NATSPublisher{
		name:    name,
		url:     deps.URL,
		logger:  deps.Logger.With("component", name),
		metrics: metrics,
		core:    deps.Registry.CoreMetrics(),
	}, nil
}

// Name returns the component name.
func (p *NATSPublisher) Name() string { return p.name }

// Initialize connects to the NATS server with reconnect handling.
func (p *NATSPublisher) Initialize() error {
	conn, err := nats.Connect(p.url,
		nats.Name("locoloco-controller"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.core.RecordNATSStatus(false)
			if err != nil {
				p.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.core.RecordNATSStatus(true)
			p.core.RecordNATSReconnect()
			p.logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "NATSPublisher", "Initialize", "connect to nats")
	}

	p.conn = conn
	p.core.RecordNATSStatus(true)
	return nil
}

// Start marks the publisher running.
func (p *NATSPublisher) Start(_ context.Context) error {
	if p.conn == nil {
		return errors.Wrap(errors.ErrNotStarted, "NATSPublisher", "Start", "initialize first")
	}
	if !p.running.CompareAndSwap(false, true) {
		return errors.Wrap(errors.ErrAlreadyStarted, "NATSPublisher", "Start", "start publisher")
	}
	p.startTime = time.Now()
	return nil
}

// Stop flushes and closes the connection.
func (p *NATSPublisher) Stop(timeout time.Duration) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}

	if err := p.conn.FlushTimeout(timeout); err != nil {
		p.logger.Warn("nats flush on shutdown failed", "error", err)
	}
	p.conn.Close()
	p.core.RecordNATSStatus(false)
	return nil
}

// Health reports the connection state.
func (p *NATSPublisher) Health() health.Status {
	if !p.running.Load() {
		return health.NewUnhealthy(p.name, "publisher not running")
	}
	if !p.conn.IsConnected() {
		return health.NewDegraded(p.name, "nats connection down, events dropped")
	}
	return health.NewHealthy(p.name, "connected").WithMetrics(&health.Metrics{
		Uptime: time.Since(p.startTime),
	})
}

// Publish marshals the payload to JSON and publishes it. Failures are
// counted and logged, never returned.
func (p *NATSPublisher) Publish(subject string, payload any) {
	if !p.running.Load() {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.metrics.dropped.WithLabelValues(subject).Inc()
		p.logger.Error("event marshal failed", "subject", subject, "error", err)
		return
	}

	if err := p.conn.Publish(subject, data); err != nil {
		p.metrics.dropped.WithLabelValues(subject).Inc()
		p.logger.Warn("event publish failed", "subject", subject, "error", err)
		return
	}
	p.metrics.published.WithLabelValues(subject).Inc()
}
