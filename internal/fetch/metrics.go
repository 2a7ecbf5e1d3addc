package fetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports fetch attempts to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  *prometheus.HistogramVec
	methods  *prometheus.CounterVec
}

// NewMetrics creates the fetch metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartwater",
			Name:      "fetch_attempts_total",
			Help:      "Fetch attempts by order and result.",
		}, []string{"order", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartwater",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of fetch attempts including retry delays.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"order"}),
		retries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "smartwater",
			Name:      "fetch_retries",
			Help:      "Position in the fetch order at which an attempt concluded.",
			Buckets:   []float64{0, 1, 2, 3},
		}, []string{"order"}),
		methods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "smartwater",
			Name:      "fetch_success_total",
			Help:      "Successful fetches by method.",
		}, []string{"method"}),
	}
	reg.MustRegister(m.attempts, m.duration, m.retries, m.methods)
	return m
}

// observe records one concluded attempt.
func (m *Metrics) observe(order Order, retry int, elapsed time.Duration, method Method) {
	if m == nil {
		return
	}
	kind := string(order.Kind)
	result := "failure"
	if method != "" {
		result = "success"
		m.methods.WithLabelValues(string(method)).Inc()
	}
	m.attempts.WithLabelValues(kind, result).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.retries.WithLabelValues(kind).Observe(float64(retry))
}
