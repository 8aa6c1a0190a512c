// Package metrics holds the Prometheus collectors of Pill Fleet Core.
//
// A Metrics value owns its own registry so tests can create as many as they
// need without clashing on the global default registerer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Device command publishing
	CommandsPublished *prometheus.CounterVec
	CommandsFailed    *prometheus.CounterVec
	PublishLatency    prometheus.Histogram
	QueueDepth        *prometheus.GaugeVec

	// Inbound device messages
	MessagesReceived     *prometheus.CounterVec
	AlertsRaised         prometheus.Counter
	NotificationsFailed  *prometheus.CounterVec
	ListenerConnected    prometheus.Gauge
	EventLogWritesFailed prometheus.Counter

	// HTTP API
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		CommandsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_published_total",
			Help:      "Device commands accepted by the broker",
		}, []string{"kind"}),
		CommandsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "commands_failed_total",
			Help:      "Device commands whose single publish attempt failed",
		}, []string{"kind"}),
		PublishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "publish_duration_seconds",
			Help:      "Time spent in one publish attempt",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Commands waiting in a device queue",
		}, []string{"serial"}),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "messages_received_total",
			Help:      "Inbound device messages by topic kind",
		}, []string{"kind"}),
		AlertsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "alerts_raised_total",
			Help:      "Inbound messages classified as alerts",
		}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Alert notifications that could not be delivered",
		}, []string{"channel"}),
		ListenerConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connected",
			Help:      "1 while the device listener is subscribed",
		}),
		EventLogWritesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "log_write_failures_total",
			Help:      "Inbound messages that could not be persisted",
		}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.CommandsPublished,
		m.CommandsFailed,
		m.PublishLatency,
		m.QueueDepth,
		m.MessagesReceived,
		m.AlertsRaised,
		m.NotificationsFailed,
		m.ListenerConnected,
		m.EventLogWritesFailed,
		m.RequestDuration,
		m.RequestsTotal,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, e.g. for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePublish records the outcome of one publish attempt.
// Safe to call on a nil *Metrics.
func (m *Metrics) ObservePublish(kind string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.PublishLatency.Observe(took.Seconds())
	if err != nil {
		m.CommandsFailed.WithLabelValues(kind).Inc()
		return
	}
	m.CommandsPublished.WithLabelValues(kind).Inc()
}

// ObserveMessage records one inbound device message.
func (m *Metrics) ObserveMessage(kind string, alert bool) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(kind).Inc()
	if alert {
		m.AlertsRaised.Inc()
	}
}

// ObserveNotifyFailure records a failed notification on channel.
func (m *Metrics) ObserveNotifyFailure(channel string) {
	if m == nil {
		return
	}
	m.NotificationsFailed.WithLabelValues(channel).Inc()
}

// ObserveLogWriteFailure records an inbound message that was not persisted.
func (m *Metrics) ObserveLogWriteFailure() {
	if m == nil {
		return
	}
	m.EventLogWritesFailed.Inc()
}

// SetListenerConnected flips the listener gauge.
func (m *Metrics) SetListenerConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ListenerConnected.Set(1)
		return
	}
	m.ListenerConnected.Set(0)
}

// SetQueueDepth records the pending commands of one device queue.
func (m *Metrics) SetQueueDepth(serial string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(serial).Set(float64(depth))
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.RequestDuration.WithLabelValues(method, route, code).Observe(took.Seconds())
	m.RequestsTotal.WithLabelValues(method, route, code).Inc()
}
