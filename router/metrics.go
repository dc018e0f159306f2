package router

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/metric"
)

type routerMetrics struct {
	ackLatency prometheus.Histogram
	timeouts   prometheus.Counter
}

func newRouterMetrics(registry metric.MetricsRegistrar, name string) (*routerMetrics, error) {
	m := &routerMetrics{
		ackLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "locoloco",
			Subsystem: "router",
			Name:      "ack_latency_seconds",
			Help:      "Time from command send to device acknowledgment",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locoloco",
			Subsystem: "router",
			Name:      "command_timeouts_total",
			Help:      "Commands that never received an acknowledgment",
		}),
	}

	for _, reg := range []struct {
		name string
		err  error
	}{
		{"ack_latency_seconds", registry.RegisterHistogram(name, "ack_latency_seconds", m.ackLatency)},
		{"command_timeouts_total", registry.RegisterCounter(name, "command_timeouts_total", m.timeouts)},
	} {
		if reg.err != nil {
			return nil, errors.WrapFatal(reg.err, "Router", "newRouterMetrics",
				fmt.Sprintf("register metric %s", reg.name))
		}
	}

	return m, nil
}
