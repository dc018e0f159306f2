package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the controller-wide metrics shared across components.
// Components register their domain-specific metrics through the registrar.
type Metrics struct {
	ComponentStatus   *prometheus.GaugeVec
	FramesReceived    *prometheus.CounterVec
	FramesSent        *prometheus.CounterVec
	CommandOutcomes   *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the controller-wide metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "locoloco",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "locoloco",
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Total number of device frames received",
			},
			[]string{"component", "type"},
		),

		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "locoloco",
				Subsystem: "frames",
				Name:      "sent_total",
				Help:      "Total number of device frames sent",
			},
			[]string{"component", "type"},
		),

		CommandOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "locoloco",
				Subsystem: "commands",
				Name:      "outcomes_total",
				Help:      "Command outcomes by device class",
			},
			[]string{"class", "outcome"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "locoloco",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "locoloco",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "locoloco",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "locoloco",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordComponentStatus updates a component's lifecycle status metric.
func (m *Metrics) RecordComponentStatus(component string, status int) {
	m.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordFrameReceived increments the received frame counter.
func (m *Metrics) RecordFrameReceived(component, frameType string) {
	m.FramesReceived.WithLabelValues(component, frameType).Inc()
}

// RecordFrameSent increments the sent frame counter.
func (m *Metrics) RecordFrameSent(component, frameType string) {
	m.FramesSent.WithLabelValues(component, frameType).Inc()
}

// RecordCommandOutcome increments the command outcome counter.
func (m *Metrics) RecordCommandOutcome(class, outcome string) {
	m.CommandOutcomes.WithLabelValues(class, outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordHealthStatus updates a component's health check status.
func (m *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordNATSStatus updates the NATS connection status.
func (m *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnection counter.
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}

// SinceSeconds converts an elapsed duration to seconds for histogram use.
func SinceSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}
