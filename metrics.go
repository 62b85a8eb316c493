package tangguh

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector exposes Prometheus metrics for the call pipeline and the
// offline queue. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	deduplicationHits *prometheus.CounterVec

	queueDepth     prometheus.Gauge
	queueSyncTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer, so tests can use isolated registries.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_requests_total",
				Help: "Total number of remote calls made",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tangguh_request_duration_seconds",
				Help:    "Duration of remote calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tangguh_requests_in_flight",
				Help: "Number of remote calls currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tangguh_circuit_breaker_state",
				Help: "Circuit breaker state per endpoint (0=closed, 1=open, 2=half-open)",
			},
			[]string{"endpoint"},
		),
		deduplicationHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_deduplication_hits_total",
				Help: "Calls coalesced onto an identical in-flight call",
			},
			[]string{"method", "endpoint"},
		),
		queueDepth: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "tangguh_offline_queue_depth",
				Help: "Pending operations in the offline queue",
			},
		),
		queueSyncTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_offline_queue_sync_total",
				Help: "Replay outcomes of offline queue sync passes",
			},
			[]string{"outcome"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tangguh_errors_total",
				Help: "Failed calls by normalized error code",
			},
			[]string{"code", "method", "endpoint"},
		),
	}
}

// RecordRequestStart marks a call entering the pipeline.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd marks a call leaving the pipeline.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRequest records a settled call with its status and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, status int, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	mc.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRetry counts one retry attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint).Inc()
}

// RecordBreakerState publishes the state of an endpoint's breaker.
func (mc *MetricsCollector) RecordBreakerState(endpoint string, state BreakerState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordDeduplicationHit counts a coalesced call.
func (mc *MetricsCollector) RecordDeduplicationHit(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.deduplicationHits.WithLabelValues(method, endpoint).Inc()
}

// RecordQueueDepth publishes the offline queue size.
func (mc *MetricsCollector) RecordQueueDepth(size int) {
	if mc == nil {
		return
	}
	mc.queueDepth.Set(float64(size))
}

// RecordQueueSync counts one replay outcome: success, retry or failure.
func (mc *MetricsCollector) RecordQueueSync(outcome string) {
	if mc == nil {
		return
	}
	mc.queueSyncTotal.WithLabelValues(outcome).Inc()
}

// RecordError counts a failed call by normalized code.
func (mc *MetricsCollector) RecordError(code ErrorCode, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(string(code), method, endpoint).Inc()
}
