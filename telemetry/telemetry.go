package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector receives events from the store and the service layer. Calls happen
// inline, some of them while the store mutex is held, so implementations must
// not block.
type Collector interface {
	IncDeliveryDropped(path string)
	SetActiveSubscriptions(n int)
	IncSetResult(outcome string)
	IncLockResult(outcome string)
	ObserveRequest(method string, success bool, d time.Duration)
}

const (
	OutcomeOK       = "ok"
	OutcomeLocked   = "locked"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeConflict = "conflict"
)

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncDeliveryDropped(string)                  {}
func (noopCollector) SetActiveSubscriptions(int)                 {}
func (noopCollector) IncSetResult(string)                        {}
func (noopCollector) IncLockResult(string)                       {}
func (noopCollector) ObserveRequest(string, bool, time.Duration) {}

// PrometheusCollector exposes the store and service metrics via Prometheus.
type PrometheusCollector struct {
	deliveryDropped     *prometheus.CounterVec
	activeSubscriptions prometheus.Gauge
	setResults          *prometheus.CounterVec
	lockResults         *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
}

// NewPrometheusCollector registers the metrics with reg, or with the default
// registerer when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		deliveryDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vshadow",
			Name:      "delivery_dropped_total",
			Help:      "Signal updates dropped because a subscriber buffer was full.",
		}, []string{"path"}),
		activeSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vshadow",
			Name:      "active_subscriptions",
			Help:      "Number of registered subscriber channels across all paths.",
		}),
		setResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vshadow",
			Name:      "set_results_total",
			Help:      "Per-item outcomes of Set requests.",
		}, []string{"outcome"}),
		lockResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vshadow",
			Name:      "lock_results_total",
			Help:      "Outcomes of Lock requests.",
		}, []string{"outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vshadow",
			Name:      "request_duration_seconds",
			Help:      "Duration of unary RPC requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "success"}),
	}
}

func (c *PrometheusCollector) IncDeliveryDropped(path string) {
	c.deliveryDropped.WithLabelValues(path).Inc()
}

func (c *PrometheusCollector) SetActiveSubscriptions(n int) {
	c.activeSubscriptions.Set(float64(n))
}

func (c *PrometheusCollector) IncSetResult(outcome string) {
	c.setResults.WithLabelValues(outcome).Inc()
}

func (c *PrometheusCollector) IncLockResult(outcome string) {
	c.lockResults.WithLabelValues(outcome).Inc()
}

func (c *PrometheusCollector) ObserveRequest(method string, success bool, d time.Duration) {
	label := "false"
	if success {
		label = "true"
	}
	c.requestDuration.WithLabelValues(method, label).Observe(d.Seconds())
}
