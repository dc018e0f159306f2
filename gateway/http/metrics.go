package http

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/metric"
)

type gatewayMetrics struct {
	requests *prometheus.CounterVec
	duration prometheus.Histogram
}

func newGatewayMetrics(registry metric.MetricsRegistrar, name string) (*gatewayMetrics, error) {
	m := &gatewayMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locoloco",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "locoloco",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "HTTP request handling time",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}

	for _, reg := range []struct {
		name string
		err  error
	}{
		{"requests_total", registry.RegisterCounterVec(name, "requests_total", m.requests)},
		{"request_duration_seconds", registry.RegisterHistogram(name, "request_duration_seconds", m.duration)},
	} {
		if reg.err != nil {
			return nil, errors.WrapFatal(reg.err, "Gateway", "newGatewayMetrics",
				fmt.Sprintf("register metric %s", reg.name))
		}
	}

	return m, nil
}

func (m *gatewayMetrics) observe(route string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.duration.Observe(elapsed.Seconds())
}
