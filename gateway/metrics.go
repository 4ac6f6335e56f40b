/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cartlabs/go-gatewaykit/internal/libinfo"
)

// MetricsCollector represents a collector of metrics about how the orchestration layer is used.
type MetricsCollector interface {
	// IncInFlight increments the number of currently held gate slots.
	IncInFlight()

	// DecInFlight decrements the number of currently held gate slots.
	DecInFlight()

	// IncWaiting increments the number of callers blocked waiting for a slot.
	IncWaiting()

	// DecWaiting decrements the number of callers blocked waiting for a slot.
	DecWaiting()

	// IncRetries increments the total number of retry attempts done.
	IncRetries()

	// ObserveBatchFlush observes the number of distinct keys sent in one batch flush.
	ObserveBatchFlush(keys int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the orchestration layer.
type PrometheusMetrics struct {
	InFlight       prometheus.Gauge
	Waiting        prometheus.Gauge
	RetriesTotal   prometheus.Counter
	BatchFlushKeys prometheus.Histogram
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	opts.ConstLabels = libinfo.AddPrometheusLibVersionLabel(opts.ConstLabels)
	return &PrometheusMetrics{
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "gateway_in_flight_operations",
			Help:        "Number of currently held concurrency gate slots.",
			ConstLabels: opts.ConstLabels,
		}),
		Waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "gateway_waiting_operations",
			Help:        "Number of callers blocked waiting for a concurrency gate slot.",
			ConstLabels: opts.ConstLabels,
		}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "gateway_retries_total",
			Help:        "Total number of retry attempts done by the executor.",
			ConstLabels: opts.ConstLabels,
		}),
		BatchFlushKeys: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "gateway_batch_flush_keys",
			Help:        "Number of distinct keys sent in one batch flush.",
			Buckets:     []float64{1, 2, 5, 10, 20, 30, 50, 100},
			ConstLabels: opts.ConstLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.InFlight,
		pm.Waiting,
		pm.RetriesTotal,
		pm.BatchFlushKeys,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.InFlight)
	prometheus.Unregister(pm.Waiting)
	prometheus.Unregister(pm.RetriesTotal)
	prometheus.Unregister(pm.BatchFlushKeys)
}

// IncInFlight increments the number of currently held gate slots.
func (pm *PrometheusMetrics) IncInFlight() { pm.InFlight.Inc() }

// DecInFlight decrements the number of currently held gate slots.
func (pm *PrometheusMetrics) DecInFlight() { pm.InFlight.Dec() }

// IncWaiting increments the number of callers blocked waiting for a slot.
func (pm *PrometheusMetrics) IncWaiting() { pm.Waiting.Inc() }

// DecWaiting decrements the number of callers blocked waiting for a slot.
func (pm *PrometheusMetrics) DecWaiting() { pm.Waiting.Dec() }

// IncRetries increments the total number of retry attempts done.
func (pm *PrometheusMetrics) IncRetries() { pm.RetriesTotal.Inc() }

// ObserveBatchFlush observes the number of distinct keys sent in one batch flush.
func (pm *PrometheusMetrics) ObserveBatchFlush(keys int) { pm.BatchFlushKeys.Observe(float64(keys)) }

type disabledMetrics struct{}

func (disabledMetrics) IncInFlight()          {}
func (disabledMetrics) DecInFlight()          {}
func (disabledMetrics) IncWaiting()           {}
func (disabledMetrics) DecWaiting()           {}
func (disabledMetrics) IncRetries()           {}
func (disabledMetrics) ObserveBatchFlush(int) {}
