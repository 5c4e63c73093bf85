package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "connectivity"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	events             *prometheus.CounterVec
	centralizerCalls   *prometheus.CounterVec
	centralizerLatency *prometheus.HistogramVec
	lookups            *prometheus.CounterVec
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return reg
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Deliveries handled by pipeline and final disposition.",
		}, []string{"pipeline", "disposition"}),
		centralizerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "centralizer_requests_total",
			Help:      "Centralizer operations by outcome status code.",
		}, []string{"operation", "status"}),
		centralizerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "centralizer_request_duration_seconds",
			Help:      "Centralizer operation latency including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "citizen_lookups_total",
			Help:      "Citizen existence lookups by HTTP response code.",
		}, []string{"code"}),
	}
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	})
}

func (m *Metrics) ObserveEvent(pipeline, disposition string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(pipeline, disposition).Inc()
}

// ObserveCentralizer records one operation; status is the HTTP code or "transport_error".
func (m *Metrics) ObserveCentralizer(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.centralizerCalls.WithLabelValues(operation, status).Inc()
	m.centralizerLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveLookup(code int) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(strconv.Itoa(code)).Inc()
}
