package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slotwatch"

// Metrics groups the Prometheus collectors shared by the seller API client,
// the difference engine and the monitors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	slotChanges     *prometheus.CounterVec
	cycles          *prometheus.CounterVec
	monitorsRunning prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("metrics: registerer is required")
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Seller API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Seller API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		slotChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timeslot_changes_total",
			Help:      "Timeslots added or removed per comparison key.",
		}, []string{"key", "direction"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_cycles_total",
			Help:      "Monitor cycles by comparison key and outcome.",
		}, []string{"key", "outcome"}),
		monitorsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitors_running",
			Help:      "Monitors currently in the running state.",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.requestDuration, m.slotChanges, m.cycles, m.monitorsRunning} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveRequest records one API call.
func (m *Metrics) ObserveRequest(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// AddSlotChanges records the size of a detected difference.
func (m *Metrics) AddSlotChanges(key string, added, removed int) {
	if m == nil {
		return
	}
	if added > 0 {
		m.slotChanges.WithLabelValues(key, "added").Add(float64(added))
	}
	if removed > 0 {
		m.slotChanges.WithLabelValues(key, "removed").Add(float64(removed))
	}
}

// ObserveCycle records the outcome of a monitor cycle.
func (m *Metrics) ObserveCycle(key, outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(key, outcome).Inc()
}

// MonitorStarted increments the running monitors gauge.
func (m *Metrics) MonitorStarted() {
	if m == nil {
		return
	}
	m.monitorsRunning.Inc()
}

// MonitorStopped decrements the running monitors gauge.
func (m *Metrics) MonitorStopped() {
	if m == nil {
		return
	}
	m.monitorsRunning.Dec()
}
