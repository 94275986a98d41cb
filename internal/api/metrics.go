package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/layerflow/internal/compose"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	rateLimitTokens   *prometheus.CounterVec
	composeDuration   *prometheus.HistogramVec
	composeFailures   *prometheus.CounterVec
	composeLayers     *prometheus.CounterVec
	composePixels     prometheus.Counter
	composeOutBytes   prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerflow_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "layerflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerflow_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		rateLimitTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerflow_api_rate_limit_tokens_total",
			Help: "Rate limit tokens spent by admitted requests.",
		}, []string{"route"}),
		composeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "layerflow_compose_duration_seconds",
			Help:    "Time spent decoding, compositing and encoding one request.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"outcome"}),
		composeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerflow_compose_failures_total",
			Help: "Failed compose requests by error kind.",
		}, []string{"kind"}),
		composeLayers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "layerflow_compose_layers_total",
			Help: "Layers composited, by decoding strategy.",
		}, []string{"strategy"}),
		composePixels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "layerflow_compose_pixels_total",
			Help: "Canvas pixels composited across base and layers.",
		}),
		composeOutBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "layerflow_compose_output_bytes",
			Help:    "Size of encoded JPEG responses.",
			Buckets: prometheus.ExponentialBuckets(4<<10, 4, 8),
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.rateLimitTokens,
		m.composeDuration,
		m.composeFailures,
		m.composeLayers,
		m.composePixels,
		m.composeOutBytes,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func (m *metrics) observeCompose(res compose.Result) {
	m.composeDuration.WithLabelValues("ok").Observe(res.Duration.Seconds())
	m.composeLayers.WithLabelValues("raster").Add(float64(res.Layers - res.VectorLayers))
	m.composeLayers.WithLabelValues("vector").Add(float64(res.VectorLayers))
	m.composePixels.Add(float64(res.Pixels()))
	m.composeOutBytes.Observe(float64(len(res.JPEG)))
}

func (m *metrics) observeComposeFailure(err error, elapsed time.Duration) {
	kind := string(compose.KindOf(err))
	if kind == "" {
		kind = "other"
	}
	m.composeDuration.WithLabelValues("error").Observe(elapsed.Seconds())
	m.composeFailures.WithLabelValues(kind).Inc()
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel keeps metric cardinality bounded to the known routes.
func routeLabel(path string) string {
	switch path {
	case "/", "/v1/compose", "/v1/compose/manifest", "/v1/uploads", "/v1/usage", "/healthz", "/metrics":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
