package monitor

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values shared by producers of metrics
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusRejected = "rejected"

	OperationPublish = "publish"
	OperationConsume = "consume"
)

// MetricsCollector holds every collector of a service on its own registry
type MetricsCollector struct {
	registry *prometheus.Registry

	// business metrics
	ordersCreatedTotal      *prometheus.CounterVec
	reservationsTotal       *prometheus.CounterVec
	orderStatusUpdatesTotal *prometheus.CounterVec
	designsCreatedTotal     prometheus.Counter
	tokenIssuedTotal        *prometheus.CounterVec

	// http metrics
	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// bus metrics
	busMessageTotal    *prometheus.CounterVec
	busHandlerDuration *prometheus.HistogramVec
	busSubscriptions   *prometheus.GaugeVec

	// system metrics
	goroutineCount prometheus.Gauge
}

// NewMetricsCollector creates a collector; every metric name is prefixed with namespace
func NewMetricsCollector(namespace string) *MetricsCollector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mc := &MetricsCollector{registry: reg}
	mc.initMetrics(promauto.With(reg), namespace)
	return mc
}

func (mc *MetricsCollector) initMetrics(f promauto.Factory, ns string) {
	mc.ordersCreatedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "orders_created_total",
			Help:      "Total number of order ingress results",
		},
		[]string{"result"}, // created, replayed, invalid, error
	)

	mc.reservationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "stock_reservations_total",
			Help:      "Total number of stock reservation outcomes",
		},
		[]string{"outcome"}, // reserved, out_of_stock, malformed, ignored, error
	)

	mc.orderStatusUpdatesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "order_status_updates_total",
			Help:      "Total number of order status events handled",
		},
		[]string{"status", "result"}, // result: updated, noop, not_found, error
	)

	mc.designsCreatedTotal = f.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "designs_created_total",
			Help:      "Total number of designs created",
		},
	)

	mc.tokenIssuedTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "auth_token_requests_total",
			Help:      "Total number of token requests",
		},
		[]string{"status"},
	)

	mc.httpRequestTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mc.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	mc.busMessageTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "bus_messages_total",
			Help:      "Total number of event bus messages",
		},
		[]string{"topic", "operation", "status"},
	)

	mc.busHandlerDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "bus_handler_duration_seconds",
			Help:      "Duration of event handling",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"topic", "subscription"},
	)

	mc.busSubscriptions = f.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "bus_subscriptions_active",
			Help:      "Number of running subscriptions",
		},
		[]string{"topic", "subscription"},
	)

	mc.goroutineCount = f.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)
}

// RecordOrderCreated records an order ingress result
func (mc *MetricsCollector) RecordOrderCreated(result string) {
	mc.ordersCreatedTotal.WithLabelValues(result).Inc()
}

// RecordReservation records a reservation outcome
func (mc *MetricsCollector) RecordReservation(outcome string) {
	mc.reservationsTotal.WithLabelValues(outcome).Inc()
}

// RecordOrderStatusUpdate records the result of a status event
func (mc *MetricsCollector) RecordOrderStatusUpdate(status, result string) {
	mc.orderStatusUpdatesTotal.WithLabelValues(status, result).Inc()
}

// RecordDesignCreated records a created design
func (mc *MetricsCollector) RecordDesignCreated() {
	mc.designsCreatedTotal.Inc()
}

// RecordTokenRequest records a token request
func (mc *MetricsCollector) RecordTokenRequest(status string) {
	mc.tokenIssuedTotal.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records an HTTP request and its duration
func (mc *MetricsCollector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	mc.httpRequestTotal.WithLabelValues(method, path, status).Inc()
	mc.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBusMessage records a publish or consume on the bus
func (mc *MetricsCollector) RecordBusMessage(topic, operation, status string) {
	mc.busMessageTotal.WithLabelValues(topic, operation, status).Inc()
}

// RecordHandlerDuration records how long a subscription handler ran
func (mc *MetricsCollector) RecordHandlerDuration(topic, subscription string, duration time.Duration) {
	mc.busHandlerDuration.WithLabelValues(topic, subscription).Observe(duration.Seconds())
}

// SubscriptionStarted marks a subscription as running
func (mc *MetricsCollector) SubscriptionStarted(topic, subscription string) {
	mc.busSubscriptions.WithLabelValues(topic, subscription).Inc()
}

// SubscriptionStopped marks a subscription as stopped
func (mc *MetricsCollector) SubscriptionStopped(topic, subscription string) {
	mc.busSubscriptions.WithLabelValues(topic, subscription).Dec()
}

// UpdateSystemMetrics refreshes the runtime gauges
func (mc *MetricsCollector) UpdateSystemMetrics() {
	mc.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// StartSystemMetricsCollection refreshes runtime gauges until ctx is done
func (mc *MetricsCollector) StartSystemMetricsCollection(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	mc.UpdateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.UpdateSystemMetrics()
		}
	}
}

// Handler exposes the registry in the Prometheus text format
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{Registry: mc.registry})
}

// GetRegistry returns the Prometheus registry
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	return mc.registry
}
