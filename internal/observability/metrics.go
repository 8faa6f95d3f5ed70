package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics registry and standard meters.
type Metrics struct {
	Registry          *prometheus.Registry
	OperationDuration *prometheus.HistogramVec
	OperationTotal    *prometheus.CounterVec
	BytesProcessed    *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	BackendWrites     *prometheus.CounterVec
	Fallbacks         *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
}

// NewMetrics creates a custom Prometheus registry with the gateway metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "drop_operation_duration_seconds",
		Help:    "Duration of operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	opTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_operation_total",
		Help: "Total number of operations.",
	}, []string{"operation", "status"})

	bytesProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_bytes_processed_total",
		Help: "Total bytes uploaded or served.",
	}, []string{"direction"})

	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_errors_total",
		Help: "Total number of errors.",
	}, []string{"operation", "type"})

	backendWrites := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_backend_writes_total",
		Help: "Backend write attempts by outcome.",
	}, []string{"backend", "status"})

	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_fallbacks_total",
		Help: "Uploads that landed on a lower-precedence backend.",
	}, []string{"from", "to"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	reg.MustRegister(opDuration, opTotal, bytesProcessed, errorsTotal, backendWrites, fallbacks, httpRequests)

	return &Metrics{
		Registry:          reg,
		OperationDuration: opDuration,
		OperationTotal:    opTotal,
		BytesProcessed:    bytesProcessed,
		ErrorsTotal:       errorsTotal,
		BackendWrites:     backendWrites,
		Fallbacks:         fallbacks,
		HTTPRequests:      httpRequests,
	}
}

// BackendWrite counts one write attempt against backend. Safe on a nil receiver.
func (m *Metrics) BackendWrite(backend string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.BackendWrites.WithLabelValues(backend, status).Inc()
}

// Fallback counts an upload that missed its preferred backend. Safe on a nil receiver.
func (m *Metrics) Fallback(from, to string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(from, to).Inc()
}

// Bytes adds n to the bytes counter for direction ("in" or "out"). Safe on a nil receiver.
func (m *Metrics) Bytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesProcessed.WithLabelValues(direction).Add(float64(n))
}
