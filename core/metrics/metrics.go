package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus collectors of the IoT client. All methods are safe to call
// on a nil *Metrics, which disables metrics.
type Metrics struct {
	registry             *prometheus.Registry
	connectAttempts      *prometheus.CounterVec
	publishes            *prometheus.CounterVec
	messagesReceived     prometheus.Counter
	messagesDropped      prometheus.Counter
	discoveryRuns        *prometheus.CounterVec
	discoveryRunDuration prometheus.Histogram
	forwarded            *prometheus.CounterVec
}

// New creates a fresh Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	connectAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "awsiot",
		Name:      "connect_attempts_total",
		Help:      "Count of MQTT connect attempts by result",
	}, []string{"result"})

	publishes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "awsiot",
		Name:      "publishes_total",
		Help:      "Count of MQTT publishes by QoS and result",
	}, []string{"qos", "result"})

	messagesReceived := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "awsiot",
		Name:      "messages_received_total",
		Help:      "Count of MQTT messages received on subscriptions",
	})

	messagesDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "awsiot",
		Name:      "messages_dropped_total",
		Help:      "Count of inbound MQTT messages dropped because the yield queue was full",
	})

	discoveryRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "awsiot",
		Name:      "discovery_runs_total",
		Help:      "Total number of Greengrass discovery runs by source",
	}, []string{"source"})

	discoveryRunDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "awsiot",
		Name:      "discovery_run_duration_seconds",
		Help:      "Duration of Greengrass discovery requests",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	forwarded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "awsiot",
		Name:      "bridge_forwarded_total",
		Help:      "Count of messages forwarded by the bridge by sink and result",
	}, []string{"sink", "result"})

	registry.MustRegister(
		connectAttempts,
		publishes,
		messagesReceived,
		messagesDropped,
		discoveryRuns,
		discoveryRunDuration,
		forwarded,
	)

	return &Metrics{
		registry:             registry,
		connectAttempts:      connectAttempts,
		publishes:            publishes,
		messagesReceived:     messagesReceived,
		messagesDropped:      messagesDropped,
		discoveryRuns:        discoveryRuns,
		discoveryRunDuration: discoveryRunDuration,
		forwarded:            forwarded,
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveConnect records a single connect attempt.
func (m *Metrics) ObserveConnect(err error) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result(err)).Inc()
}

// ObservePublish records a single publish.
func (m *Metrics) ObservePublish(qos string, err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(qos, result(err)).Inc()
}

// IncMessagesReceived increments the received message counter.
func (m *Metrics) IncMessagesReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

// IncMessagesDropped increments the dropped message counter.
func (m *Metrics) IncMessagesDropped() {
	if m == nil {
		return
	}
	m.messagesDropped.Inc()
}

// ObserveDiscovery records a discovery run. source is "cloud" or "cache".
func (m *Metrics) ObserveDiscovery(source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.discoveryRuns.WithLabelValues(source).Inc()
	m.discoveryRunDuration.Observe(duration.Seconds())
}

// ObserveForward records a message forwarded by the bridge.
func (m *Metrics) ObserveForward(sink string, err error) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(sink, result(err)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an http.Handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
