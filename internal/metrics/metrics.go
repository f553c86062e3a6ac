// Package metrics drží Prometheus metriky služeb brány.
// Všechny metody jsou bezpečné i na nil *Metrics (metriky vypnuté).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iot_gateway"

// Metrics sdružuje kolektory jedné služby ve vlastním registru.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	forwarded    *prometheus.CounterVec
	captures     *prometheus.CounterVec
	uploads      *prometheus.CounterVec
	wsClients    *prometheus.GaugeVec
	readings     *prometheus.CounterVec
}

// New vytvoří a zaregistruje všechny metriky včetně Go a procesních kolektorů.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Počet HTTP požadavků podle routy a status kódu",
		}, []string{"method", "route", "code"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Doba obsluhy HTTP požadavku",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 20},
		}, []string{"route"}),

		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "forwarding",
			Name:      "datapoints_total",
			Help:      "Počet přeposlaných datapointů podle typu cíle a výsledku",
		}, []string{"destination", "result"}),

		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "executions_total",
			Help:      "Počet snímání obrázků podle výsledku",
		}, []string{"result"}),

		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "uploads_total",
			Help:      "Počet uploadů obrázků podle výsledku",
		}, []string{"result"}),

		wsClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "clients",
			Help:      "Počet otevřených WebSocket spojení",
		}, []string{"endpoint"}),

		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persister",
			Name:      "readings_total",
			Help:      "Počet zpracovaných čtení podle výsledku",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.forwarded, m.captures, m.uploads, m.wsClients, m.readings,
	)
	return m
}

// Registry vrací registr (pro testy a vlastní kolektory).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler vrací handler pro /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP zaznamená jeden obsloužený požadavek.
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Forwarded přičte n datapointů odeslaných (nebo neodeslaných) routou.
func (m *Metrics) Forwarded(destination string, n int, err error) {
	if m == nil || n == 0 {
		return
	}
	m.forwarded.WithLabelValues(destination, result(err)).Add(float64(n))
}

// CaptureDone zaznamená jedno snímání.
func (m *Metrics) CaptureDone(err error) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(result(err)).Inc()
}

// UploadDone zaznamená jeden upload.
func (m *Metrics) UploadDone(err error) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(result(err)).Inc()
}

// WSConnected zvýší počet klientů a vrátí funkci, která ho při odpojení sníží.
func (m *Metrics) WSConnected(endpoint string) func() {
	if m == nil {
		return func() {}
	}
	g := m.wsClients.WithLabelValues(endpoint)
	g.Inc()
	return g.Dec
}

// ReadingProcessed zaznamená zpracování jednoho čtení v persisteru.
func (m *Metrics) ReadingProcessed(err error) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
