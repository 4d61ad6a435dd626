package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "knxlog"

// Metrics holds the pipeline's Prometheus collectors on a private registry.
// It implements ingest.Recorder and persist.Recorder.
//
// Thread Safety: all methods are safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	eventsReceived    *prometheus.CounterVec
	eventsDropped     *prometheus.CounterVec
	decodeFailures    *prometheus.CounterVec
	eventsPersisted   prometheus.Counter
	writeFailures     *prometheus.CounterVec
	tablesCreated     *prometheus.CounterVec
	reconnectAttempts *prometheus.CounterVec
	auditSwept        prometheus.Counter
	mirrorFailures    *prometheus.CounterVec
	connected         prometheus.Gauge
	queueDepth        prometheus.Gauge
}

// New creates and registers all collectors, including the Go runtime and
// process collectors and a build_info gauge carrying version.
func New(version string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Group telegrams accepted into the queue, by event kind.",
		}, []string{"kind"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Group telegrams discarded before queueing, by reason.",
		}, []string{"reason"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Payloads that could not be decoded, by datapoint type.",
		}, []string{"dpt"}),
		eventsPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_persisted_total",
			Help:      "Events written with every storage stage succeeding.",
		}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Storage stage failures that were logged and skipped, by stage.",
		}, []string{"stage"}),
		tablesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tables_created_total",
			Help:      "Tables created by the pipeline, by kind (audit or point).",
		}, []string{"kind"}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_reconnect_attempts_total",
			Help:      "Database reconnect attempts, by result.",
		}, []string{"result"}),
		auditSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_rows_swept_total",
			Help:      "Audit rows deleted by the retention sweep.",
		}),
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_failures_total",
			Help:      "Mirror writes that failed, by mirror.",
		}, []string{"mirror"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connected",
			Help:      "1 while the persistence engine holds a working connection.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Envelopes waiting in the ingest queue.",
		}),
	}

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Build information; the value is always 1.",
		ConstLabels: prometheus.Labels{"version": version},
	})
	buildInfo.Set(1)

	m.registry.MustRegister(
		m.eventsReceived,
		m.eventsDropped,
		m.decodeFailures,
		m.eventsPersisted,
		m.writeFailures,
		m.tablesCreated,
		m.reconnectAttempts,
		m.auditSwept,
		m.mirrorFailures,
		m.connected,
		m.queueDepth,
		buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// EventReceived implements ingest.Recorder.
func (m *Metrics) EventReceived(kind string) { m.eventsReceived.WithLabelValues(kind).Inc() }

// EventDropped implements ingest.Recorder.
func (m *Metrics) EventDropped(reason string) { m.eventsDropped.WithLabelValues(reason).Inc() }

// DecodeFailed implements ingest.Recorder.
func (m *Metrics) DecodeFailed(dpt string) { m.decodeFailures.WithLabelValues(dpt).Inc() }

// QueueDepth implements ingest.Recorder and persist.Recorder.
func (m *Metrics) QueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// EventPersisted implements persist.Recorder.
func (m *Metrics) EventPersisted() { m.eventsPersisted.Inc() }

// WriteFailed implements persist.Recorder.
func (m *Metrics) WriteFailed(stage string) { m.writeFailures.WithLabelValues(stage).Inc() }

// TableCreated implements persist.Recorder.
func (m *Metrics) TableCreated(kind string) { m.tablesCreated.WithLabelValues(kind).Inc() }

// ReconnectAttempt implements persist.Recorder.
func (m *Metrics) ReconnectAttempt(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.reconnectAttempts.WithLabelValues(result).Inc()
}

// SetConnected implements persist.Recorder.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// AuditSwept implements persist.Recorder.
func (m *Metrics) AuditSwept(n int64) { m.auditSwept.Add(float64(n)) }

// MirrorFailed implements persist.Recorder.
func (m *Metrics) MirrorFailed(name string) { m.mirrorFailures.WithLabelValues(name).Inc() }
