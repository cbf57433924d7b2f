package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	layerLoads          *prometheus.CounterVec
	layerLoadDuration   *prometheus.HistogramVec
	layerCacheHits      *prometheus.CounterVec
	layerToggles        *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP and layer metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visor",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visor",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	layerLoads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visor",
		Name:      "layer_loads_total",
		Help:      "Layer fetch-and-build attempts by outcome",
	}, []string{"layer", "result"})

	layerLoadDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "visor",
		Name:      "layer_load_duration_seconds",
		Help:      "Duration of layer fetch-and-build attempts",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"layer"})

	layerCacheHits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visor",
		Name:      "layer_cache_hits_total",
		Help:      "Layer requests served from the in-memory cache",
	}, []string{"layer"})

	layerToggles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "visor",
		Name:      "layer_toggles_total",
		Help:      "Layer visibility toggles by requested state and outcome",
	}, []string{"layer", "visible", "result"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		layerLoads,
		layerLoadDuration,
		layerCacheHits,
		layerToggles,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		layerLoads:          layerLoads,
		layerLoadDuration:   layerLoadDuration,
		layerCacheHits:      layerCacheHits,
		layerToggles:        layerToggles,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveLayerLoad records one fetch-and-build attempt; result is "ok" or "error".
func (m *Metrics) ObserveLayerLoad(layer, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.layerLoads.WithLabelValues(layer, result).Inc()
	m.layerLoadDuration.WithLabelValues(layer).Observe(duration.Seconds())
}

func (m *Metrics) IncLayerCacheHit(layer string) {
	if m == nil {
		return
	}
	m.layerCacheHits.WithLabelValues(layer).Inc()
}

// IncLayerToggle counts a visibility toggle; result is "attached", "detached", "skipped"
// or "error".
func (m *Metrics) IncLayerToggle(layer string, visible bool, result string) {
	if m == nil {
		return
	}
	m.layerToggles.WithLabelValues(layer, strconv.FormatBool(visible), result).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
