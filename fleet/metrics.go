package fleet

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/metric"
)

type listenerMetrics struct {
	sessions          prometheus.Gauge
	sessionsOpened    prometheus.Counter
	handshakeFailures prometheus.Counter
	supersessions     prometheus.Counter
	framingErrors     prometheus.Counter
	unsolicitedAcks   prometheus.Counter
	unexpectedFrames  prometheus.Counter
}

func newListenerMetrics(registry metric.MetricsRegistrar, name string) (*listenerMetrics, error) {
	counter := func(metricName, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "locoloco",
			Subsystem:   "fleet",
			Name:        metricName,
			Help:        help,
			ConstLabels: prometheus.Labels{"listener": name},
		})
	}

	m := &listenerMetrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "locoloco",
			Subsystem:   "fleet",
			Name:        "sessions",
			Help:        "Registered sessions",
			ConstLabels: prometheus.Labels{"listener": name},
		}),
		sessionsOpened:    counter("sessions_opened_total", "Sessions opened"),
		handshakeFailures: counter("handshake_failures_total", "Connections dropped during handshake"),
		supersessions:     counter("supersessions_total", "Sessions superseded by re-registration"),
		framingErrors:     counter("framing_errors_total", "Sessions closed for malformed frames"),
		unsolicitedAcks:   counter("unsolicited_acks_total", "Acks with no outstanding command"),
		unexpectedFrames:  counter("unexpected_frames_total", "Frames a registered device should not send"),
	}

	for _, reg := range []struct {
		name string
		err  error
	}{
		{"sessions", registry.RegisterGauge(name, "sessions", m.sessions)},
		{"sessions_opened_total", registry.RegisterCounter(name, "sessions_opened_total", m.sessionsOpened)},
		{"handshake_failures_total", registry.RegisterCounter(name, "handshake_failures_total", m.handshakeFailures)},
		{"supersessions_total", registry.RegisterCounter(name, "supersessions_total", m.supersessions)},
		{"framing_errors_total", registry.RegisterCounter(name, "framing_errors_total", m.framingErrors)},
		{"unsolicited_acks_total", registry.RegisterCounter(name, "unsolicited_acks_total", m.unsolicitedAcks)},
		{"unexpected_frames_total", registry.RegisterCounter(name, "unexpected_frames_total", m.unexpectedFrames)},
	} {
		if reg.err != nil {
			return nil, errors.WrapFatal(reg.err, "Listener", "newListenerMetrics",
				fmt.Sprintf("register metric %s", reg.name))
		}
	}

	return m, nil
}
