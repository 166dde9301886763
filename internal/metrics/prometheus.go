// Package metrics provides Prometheus instrumentation for the visibility service.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// HTTP metrics
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	// Broker metrics
	enqueuedTotal   *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	batchSize       *prometheus.HistogramVec
	batchDuration   *prometheus.HistogramVec
	listenersActive prometheus.Gauge

	// Computation metrics
	computationDuration *prometheus.HistogramVec
	computationTotal    prometheus.Counter
	requestsInBatch     prometheus.Gauge

	// Gateway and correlation metrics
	gatewayRequests    *prometheus.CounterVec
	gatewayWait        *prometheus.HistogramVec
	correlationEntries prometheus.Gauge
	correlationEvicted prometheus.Counter

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	healthStatus prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "request_count",
				Help: "Total number of HTTP requests by query type and status",
			},
			[]string{"query_type", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "request_process_duration",
				Help:    "HTTP request processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query_type", "status"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),
		enqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broker_enqueued_total",
				Help: "Total number of items enqueued per queue",
			},
			[]string{"queue"},
		),
		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "broker_queue_depth",
				Help: "Number of items waiting in each queue",
			},
			[]string{"queue"},
		),
		batchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broker_batch_size",
				Help:    "Number of items per drained batch",
				Buckets: prometheus.LinearBuckets(1, 2, 10),
			},
			[]string{"queue"},
		),
		batchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broker_batch_duration_seconds",
				Help:    "Time spent in the consumer callback per batch",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"queue", "status"},
		),
		listenersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "broker_listeners_active",
				Help: "Number of running consumer loops",
			},
		),
		computationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "comic_visibility_computation_duration_seconds",
				Help:    "Time spent computing comic visibilities",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"type", "status"},
		),
		computationTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "comic_visibility_computation_total",
				Help: "Total number of comic visibility computations",
			},
		),
		requestsInBatch: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "comic_visibility_request_count_in_batch",
				Help: "Number of requests in the last drained batch",
			},
		),
		gatewayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of submitted requests by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		gatewayWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_wait_duration_seconds",
				Help:    "Time callers waited for a correlated result",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"kind"},
		),
		correlationEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "correlation_store_entries",
				Help: "Number of entries in the correlation store",
			},
		),
		correlationEvicted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "correlation_store_evicted_total",
				Help: "Total number of correlation entries evicted by TTL",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visibility_cache_hits_total",
				Help: "Total number of visibility cache hits",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "visibility_cache_misses_total",
				Help: "Total number of visibility cache misses",
			},
			[]string{"cache"},
		),
		healthStatus: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "visibility_service_health_status",
				Help: "Health status of the service (1 = healthy, 0 = unhealthy)",
			},
		),
	}
}

// RecordHTTPRequest records metrics for an HTTP request
func (m *Metrics) RecordHTTPRequest(queryType string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(queryType, status).Inc()
	m.requestDuration.WithLabelValues(queryType, status).Observe(duration.Seconds())
}

// RecordEnqueue records an enqueue and the resulting queue depth
func (m *Metrics) RecordEnqueue(queue string, depth int) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(queue).Inc()
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordBatch records one processed batch
func (m *Metrics) RecordBatch(queue string, size, depth int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.batchSize.WithLabelValues(queue).Observe(float64(size))
	m.batchDuration.WithLabelValues(queue, statusLabel(err)).Observe(duration.Seconds())
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ListenerStarted increments the running consumer loop gauge
func (m *Metrics) ListenerStarted() {
	if m == nil {
		return
	}
	m.listenersActive.Inc()
}

// ListenerStopped decrements the running consumer loop gauge
func (m *Metrics) ListenerStopped() {
	if m == nil {
		return
	}
	m.listenersActive.Dec()
}

// RecordComputation records one visibility computation
func (m *Metrics) RecordComputation(computationType string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.computationDuration.WithLabelValues(computationType, statusLabel(err)).Observe(duration.Seconds())
	m.computationTotal.Inc()
}

// SetRequestsInBatch records the number of requests in the current batch
func (m *Metrics) SetRequestsInBatch(n int) {
	if m == nil {
		return
	}
	m.requestsInBatch.Set(float64(n))
}

// RecordGatewayRequest records the outcome of a submitted request
func (m *Metrics) RecordGatewayRequest(kind, outcome string, wait time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(kind, outcome).Inc()
	m.gatewayWait.WithLabelValues(kind).Observe(wait.Seconds())
}

// SetCorrelationEntries records the size of the correlation store
func (m *Metrics) SetCorrelationEntries(n int) {
	if m == nil {
		return
	}
	m.correlationEntries.Set(float64(n))
}

// AddCorrelationEvicted records TTL evictions
func (m *Metrics) AddCorrelationEvicted(n int) {
	if m == nil {
		return
	}
	m.correlationEvicted.Add(float64(n))
}

// RecordCacheLookup records a visibility cache hit or miss
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.WithLabelValues(cache).Inc()
	} else {
		m.cacheMisses.WithLabelValues(cache).Inc()
	}
}

// SetHealthStatus sets the health status
func (m *Metrics) SetHealthStatus(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// MetricsServer provides a separate HTTP server for Prometheus metrics
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a metrics server exposing gatherer on path
func NewMetricsServer(port int, path string, gatherer prometheus.Gatherer, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

// Middleware records request count and latency labelled by route template
func Middleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m != nil {
				m.requestsInFlight.Inc()
				defer m.requestsInFlight.Dec()
			}

			start := time.Now()
			rw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			m.RecordHTTPRequest(queryType(r), rw.statusCode, time.Since(start))
		})
	}
}

func queryType(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
