// Package metrics exposes Prometheus instrumentation for the engine, the
// event store and the WebSocket hub.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "malfunction"

// Collector gathers engine metrics. Build one per registry; tests use a
// fresh prometheus.NewRegistry so runs do not share state.
type Collector struct {
	// Tick metrics
	Ticks       prometheus.Counter
	TickLatency prometheus.Histogram

	// Engine metrics
	FaultsTotal       *prometheus.CounterVec
	FixesTotal        *prometheus.CounterVec
	MaintenancesTotal prometheus.Counter
	ShortfallsTotal   *prometheus.CounterVec
	ActiveFaults      *prometheus.GaugeVec
	WearCondition     *prometheus.GaugeVec

	// Event store metrics
	EventsWritten    prometheus.Counter
	EventWriteErrors prometheus.Counter
	EventWriteLat    prometheus.Histogram

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	WSErrors      prometheus.Counter
}

// New registers the collector's metrics on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Clock pulses processed.",
		}),
		TickLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time to advance every entity for one pulse.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		FaultsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults triggered by fault name and probable cause.",
		}, []string{"fault", "cause"}),
		FixesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixes_total",
			Help:      "Faults fully repaired by fault name.",
		}, []string{"fault"}),
		MaintenancesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_flagged_total",
			Help:      "Maintenance needs raised by inspections.",
		}),
		ShortfallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "part_shortfall_total",
			Help:      "Parts requested but missing from storage.",
		}, []string{"part"}),
		ActiveFaults: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_faults",
			Help:      "Unfixed faults per entity.",
		}, []string{"entity"}),
		WearCondition: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wear_condition_percent",
			Help:      "Remaining wear life per entity.",
		}, []string{"entity"}),
		EventsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_written_total",
			Help:      "Events persisted to the event store.",
		}),
		EventWriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_write_errors_total",
			Help:      "Events the store failed to persist.",
		}),
		EventWriteLat: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_write_duration_seconds",
			Help:      "Event store write latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open WebSocket connections.",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction.",
		}, []string{"direction"}),
		WSErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_errors_total",
			Help:      "WebSocket read or write failures.",
		}),
	}
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	c.Ticks.Inc()
	c.TickLatency.Observe(latency.Seconds())
}

// RecordEventWrite records an event write to the database.
func (c *Collector) RecordEventWrite(latency time.Duration, err error) {
	c.EventsWritten.Inc()
	c.EventWriteLat.Observe(latency.Seconds())
	if err != nil {
		c.EventWriteErrors.Inc()
	}
}

func (c *Collector) RecordFault(fault, cause string) {
	c.FaultsTotal.WithLabelValues(fault, cause).Inc()
}

func (c *Collector) RecordFix(fault string) {
	c.FixesTotal.WithLabelValues(fault).Inc()
}

func (c *Collector) RecordMaintenance() {
	c.MaintenancesTotal.Inc()
}

// RecordShortfall adds missing quantities keyed by part name.
func (c *Collector) RecordShortfall(parts map[string]int) {
	for name, n := range parts {
		c.ShortfallsTotal.WithLabelValues(name).Add(float64(n))
	}
}

// SetEntity updates the per-entity gauges.
func (c *Collector) SetEntity(entity string, activeFaults int, wear float64) {
	c.ActiveFaults.WithLabelValues(entity).Set(float64(activeFaults))
	c.WearCondition.WithLabelValues(entity).Set(wear)
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int) {
	c.WSConnections.Add(float64(delta))
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	dir := "out"
	if incoming {
		dir = "in"
	}
	c.WSMessages.WithLabelValues(dir).Inc()
}

func (c *Collector) RecordWSError() {
	c.WSErrors.Inc()
}

// Handler serves the gathered metrics in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
