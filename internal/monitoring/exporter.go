package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var dispatchBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// PrometheusExporter exposes dispatch counters and the collected system
// snapshot as Prometheus metrics.
type PrometheusExporter struct {
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	deadLetters      prometheus.Gauge
	activeSagas      prometheus.Gauge
	storeSize        prometheus.Gauge
	health           *prometheus.GaugeVec
	healthIssues     prometheus.Gauge
	lastCollected    prometheus.Gauge
}

func NewPrometheusExporter(reg prometheus.Registerer) *PrometheusExporter {
	e := &PrometheusExporter{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_bus_dispatch_attempts_total",
			Help: "Handler dispatch attempts by event type and outcome",
		}, []string{"event_type", "outcome"}),

		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventcore_bus_dispatch_duration_seconds",
			Help:    "Handler attempt latency in seconds",
			Buckets: dispatchBuckets,
		}, []string{"event_type"}),

		deadLetters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_dead_letter_queue_size",
			Help: "Events currently dead-lettered",
		}),

		activeSagas: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_active_sagas",
			Help: "Sagas in the active set",
		}),

		storeSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_store_events",
			Help: "Events in the event store",
		}),

		health: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventcore_health_status",
			Help: "1 for the current health status, 0 otherwise",
		}, []string{"status"}),

		healthIssues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_health_issues",
			Help: "Number of breached health thresholds",
		}),

		lastCollected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_metrics_last_collected_timestamp_seconds",
			Help: "Unix time of the last metrics collection",
		}),
	}

	reg.MustRegister(
		e.dispatches,
		e.dispatchDuration,
		e.deadLetters,
		e.activeSagas,
		e.storeSize,
		e.health,
		e.healthIssues,
		e.lastCollected,
	)
	return e
}

func (e *PrometheusExporter) RecordDispatch(eventType string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	e.dispatches.WithLabelValues(eventType, outcome).Inc()
	e.dispatchDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// Observe publishes a collected snapshot.
func (e *PrometheusExporter) Observe(m SystemMetrics) {
	e.deadLetters.Set(float64(m.DeadLetterQueueSize))
	e.activeSagas.Set(float64(m.ActiveSagas))
	if m.StoreSize >= 0 {
		e.storeSize.Set(float64(m.StoreSize))
	}
	for _, s := range []Status{StatusHealthy, StatusWarning, StatusCritical} {
		v := 0.0
		if s == m.Health.Status {
			v = 1
		}
		e.health.WithLabelValues(string(s)).Set(v)
	}
	e.healthIssues.Set(float64(len(m.Health.Issues)))
	e.lastCollected.Set(float64(m.CollectedAt.Unix()))
}
