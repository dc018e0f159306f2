package ws

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/metric"
)

type streamMetrics struct {
	clients prometheus.Gauge
	pushes  prometheus.Counter
	dropped prometheus.Counter
}

func newStreamMetrics(registry metric.MetricsRegistrar, name string) (*streamMetrics, error) {
	m := &streamMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "locoloco",
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Connected status stream clients",
		}),
		pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locoloco",
			Subsystem: "ws",
			Name:      "pushes_total",
			Help:      "Status snapshots written to clients",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locoloco",
			Subsystem: "ws",
			Name:      "dropped_total",
			Help:      "Snapshots dropped for clients that fell behind",
		}),
	}

	for _, reg := range []struct {
		name string
		err  error
	}{
		{"clients", registry.RegisterGauge(name, "clients", m.clients)},
		{"pushes_total", registry.RegisterCounter(name, "pushes_total", m.pushes)},
		{"dropped_total", registry.RegisterCounter(name, "dropped_total", m.dropped)},
	} {
		if reg.err != nil {
			return nil, errors.WrapFatal(reg.err, "Stream", "newStreamMetrics",
				fmt.Sprintf("register metric %s", reg.name))
		}
	}

	return m, nil
}
