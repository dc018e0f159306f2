package tracker

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/metric"
)

var (
	errMissingDeps    = errors.WrapInvalid(errors.ErrMissingConfig, "Tracker", "New", "topology, logger and registry required")
	errAlreadyStarted = errors.Wrap(errors.ErrAlreadyStarted, "Tracker", "Start", "start tracker")
	errStopTimeout    = errors.WrapTransient(fmt.Errorf("sweeper did not exit in time"), "Tracker", "Stop", "stop tracker")
)

type trackerMetrics struct {
	locos           prometheus.Gauge
	reportsApplied  prometheus.Counter
	staleReports    prometheus.Counter
	discontinuities prometheus.Counter
	evictions       prometheus.Counter
}

func newTrackerMetrics(registry metric.MetricsRegistrar, name string) (*trackerMetrics, error) {
	m := &trackerMetrics{
		locos: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "locoloco",
			Subsystem: "tracker",
			Name:      "locos",
			Help:      "Locos currently tracked",
		}),
		reportsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locoloco",
			Subsystem: "tracker",
			Name:      "reports_applied_total",
			Help:      "Sensor reports applied",
		}),
		staleReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locoloco",
			Subsystem: "tracker",
			Name:      "reports_stale_total",
			Help:      "Sensor reports discarded for stale sequence numbers",
		}),
		discontinuities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locoloco",
			Subsystem: "tracker",
			Name:      "discontinuities_total",
			Help:      "Position jumps the layout cannot explain",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "locoloco",
			Subsystem: "tracker",
			Name:      "evictions_total",
			Help:      "Loco records evicted after silence",
		}),
	}

	for _, reg := range []struct {
		name string
		err  error
	}{
		{"locos", registry.RegisterGauge(name, "locos", m.locos)},
		{"reports_applied_total", registry.RegisterCounter(name, "reports_applied_total", m.reportsApplied)},
		{"reports_stale_total", registry.RegisterCounter(name, "reports_stale_total", m.staleReports)},
		{"discontinuities_total", registry.RegisterCounter(name, "discontinuities_total", m.discontinuities)},
		{"evictions_total", registry.RegisterCounter(name, "evictions_total", m.evictions)},
	} {
		if reg.err != nil {
			return nil, errors.WrapFatal(reg.err, "Tracker", "newTrackerMetrics",
				fmt.Sprintf("register metric %s", reg.name))
		}
	}

	return m, nil
}
