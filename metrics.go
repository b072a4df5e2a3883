package telemetry

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "client_telemetry"
)

// metricsCollector implements prometheus.Collector interface
type metricsCollector struct {
	// Atomic counters for thread-safe metric updates
	capturedEvents   *uint64 // Total events accepted into the buffer
	sentEvents       *uint64 // Total events acknowledged by the collector
	failedEvents     *uint64 // Total events in failed delivery attempts
	droppedEvents    *uint64 // Total events evicted under capacity pressure
	retryAttempts    *uint64 // Total scheduled delivery retries
	abandonedBatches *uint64 // Total batches abandoned after max attempts

	// Prometheus metric descriptors
	capturedEventsDesc   *prometheus.Desc
	sentEventsDesc       *prometheus.Desc
	failedEventsDesc     *prometheus.Desc
	droppedEventsDesc    *prometheus.Desc
	retryAttemptsDesc    *prometheus.Desc
	abandonedBatchesDesc *prometheus.Desc

	// Vector metric for events by category
	eventsByCategory *prometheus.CounterVec
}

// newMetricsCollector creates a new metrics collector
func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		capturedEvents:   ptrTo(uint64(0)),
		sentEvents:       ptrTo(uint64(0)),
		failedEvents:     ptrTo(uint64(0)),
		droppedEvents:    ptrTo(uint64(0)),
		retryAttempts:    ptrTo(uint64(0)),
		abandonedBatches: ptrTo(uint64(0)),

		capturedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "captured_events_total"),
			"Total number of events accepted into the buffer",
			nil, nil),

		sentEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sent_events_total"),
			"Total number of events acknowledged by the collector",
			nil, nil),

		failedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "failed_events_total"),
			"Total number of events in failed delivery attempts",
			nil, nil),

		droppedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "dropped_events_total"),
			"Total number of events evicted under capacity pressure",
			nil, nil),

		retryAttemptsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "retry_attempts_total"),
			"Total number of scheduled delivery retries",
			nil, nil),

		abandonedBatchesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "abandoned_batches_total"),
			"Total number of batches abandoned after max attempts",
			nil, nil),

		eventsByCategory: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(namespace, "", "events_by_category_total"),
				Help: "Total number of captured events by category",
			},
			[]string{"category"}),
	}
}

// Public methods for updating metrics (called from business logic)

// IncCapturedEvents records one accepted event and its category
func (mc *metricsCollector) IncCapturedEvents(category Category) {
	atomic.AddUint64(mc.capturedEvents, 1)
	mc.eventsByCategory.WithLabelValues(string(category)).Inc()
}

// AddSentEvents records acknowledged events
func (mc *metricsCollector) AddSentEvents(n int) {
	atomic.AddUint64(mc.sentEvents, uint64(n))
}

// AddFailedEvents records events in a failed delivery attempt
func (mc *metricsCollector) AddFailedEvents(n int) {
	atomic.AddUint64(mc.failedEvents, uint64(n))
}

// IncDroppedEvents increments the eviction counter
func (mc *metricsCollector) IncDroppedEvents() {
	atomic.AddUint64(mc.droppedEvents, 1)
}

// IncRetryAttempts increments the retry counter
func (mc *metricsCollector) IncRetryAttempts() {
	atomic.AddUint64(mc.retryAttempts, 1)
}

// IncAbandonedBatches increments the abandonment counter
func (mc *metricsCollector) IncAbandonedBatches() {
	atomic.AddUint64(mc.abandonedBatches, 1)
}

// Implement prometheus.Collector interface

// Describe sends all metric descriptions to Prometheus
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.capturedEventsDesc
	ch <- mc.sentEventsDesc
	ch <- mc.failedEventsDesc
	ch <- mc.droppedEventsDesc
	ch <- mc.retryAttemptsDesc
	ch <- mc.abandonedBatchesDesc

	// Vector metric handles its own description
	mc.eventsByCategory.Describe(ch)
}

// Collect sends current metric values to Prometheus
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		mc.capturedEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.capturedEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.sentEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.sentEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.failedEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.failedEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.droppedEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.droppedEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.retryAttemptsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.retryAttempts)))

	ch <- prometheus.MustNewConstMetric(
		mc.abandonedBatchesDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.abandonedBatches)))

	// Vector metric collects itself
	mc.eventsByCategory.Collect(ch)
}

// Helper function for pointer creation
func ptrTo[T any](v T) *T {
	return &v
}
