package obs

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the per-service operation instrumentation. Result labels:
// success|validation|conflict|proof|not_final|not_found|already_final|error.
type Metrics struct {
	TransitionsTotal *prometheus.CounterVec   // op, result
	OpLatencyMS      *prometheus.HistogramVec // op
	ProjectionErrors prometheus.Counter
	ResolveRetries   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Record transitions attempted, by operation and result",
			},
			[]string{"op", "result"},
		),
		OpLatencyMS: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "op_latency_ms",
				Help:      "Latency of lifecycle operations (ms)",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"op"},
		),
		ProjectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_errors_total",
			Help:      "Projection upserts that failed after a committed transition",
		}),
		ResolveRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_retries_total",
			Help:      "Counterpart status attempts beyond the first within one resolve call",
		}),
	}
	reg.MustRegister(m.TransitionsTotal, m.OpLatencyMS, m.ProjectionErrors, m.ResolveRetries)
	return m
}
