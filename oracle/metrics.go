package oracle

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/metric"
)

type oracleMetrics struct {
	ticks         prometheus.Counter
	stops         prometheus.Counter
	routeFailures prometheus.Counter
}

func newOracleMetrics(registry metric.MetricsRegistrar, name string) (*oracleMetrics, error) {
	counter := func(metricName, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locoloco",
			Subsystem: "oracle",
			Name:      metricName,
			Help:      help,
		})
	}

	m := &oracleMetrics{
		ticks:         counter("ticks_total", "Supervision ticks processed in auto mode"),
		stops:         counter("stops_total", "Stop commands issued by arbitration"),
		routeFailures: counter("route_failures_total", "Intents with no route to their target"),
	}

	for _, reg := range []struct {
		name string
		err  error
	}{
		{"ticks_total", registry.RegisterCounter(name, "ticks_total", m.ticks)},
		{"stops_total", registry.RegisterCounter(name, "stops_total", m.stops)},
		{"route_failures_total", registry.RegisterCounter(name, "route_failures_total", m.routeFailures)},
	} {
		if reg.err != nil {
			return nil, errors.WrapFatal(reg.err, "Oracle", "newOracleMetrics",
				fmt.Sprintf("register metric %s", reg.name))
		}
	}

	return m, nil
}
