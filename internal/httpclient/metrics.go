package httpclient

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts client activity. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	retries  prometheus.Counter
	failures prometheus.Counter
}

// NewMetrics registers the client counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pr_metrics_http_requests_total",
			Help: "API responses by source (network or cache).",
		}, []string{"source"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pr_metrics_http_retries_total",
			Help: "Requests re-issued by the retry policy.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pr_metrics_http_failures_total",
			Help: "Requests that failed after the retry policy gave up.",
		}),
	}
	reg.MustRegister(m.requests, m.retries, m.failures)
	return m
}

func (m *Metrics) request(fromCache bool) {
	if m == nil {
		return
	}
	source := "network"
	if fromCache {
		source = "cache"
	}
	m.requests.WithLabelValues(source).Inc()
}

func (m *Metrics) retry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) failure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
