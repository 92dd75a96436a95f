// Package metrics exposes Prometheus collectors for channels: calls issued,
// requests dispatched and live sessions.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"maid/message"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "maid").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for call durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collectors.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "maid",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	callsTotal       *prometheus.CounterVec
	callDuration     *prometheus.HistogramVec
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
	sessionsClosed   *prometheus.CounterVec
}

// New creates and registers the collectors.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "calls_total",
			Help:        "Total number of outbound calls by final status",
			ConstLabels: config.ConstLabels,
		}, []string{"service", "method", "status"}),

		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "call_duration_seconds",
			Help:        "Outbound call latency in seconds, from Call to resolution",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"service", "method"}),

		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_total",
			Help:        "Total number of inbound requests dispatched by status",
			ConstLabels: config.ConstLabels,
		}, []string{"service", "method", "status"}),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Inbound request handling duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"service", "method"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_sessions",
			Help:        "Number of live connection sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_closed_total",
			Help:        "Total number of sessions torn down by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),
	}
}

// statuses are the failure reasons that may appear as a status label. Any
// other reason, such as a user error text or a peer's free-form failure,
// is reported as "error".
var statuses = map[string]bool{
	message.ReasonNotConnected:    true,
	message.ReasonServiceNotExist: true,
	message.ReasonMethodNotExist:  true,
	message.ReasonRequestDecode:   true,
	message.ReasonParseFailed:     true,
	message.ReasonTimeout:         true,
	message.ReasonCanceled:        true,
	message.ReasonConnClosed:      true,
	message.ReasonRequestEncode:   true,
	message.ReasonResponseEncode:  true,
	message.ReasonTableSaturated:  true,
	message.ReasonHandlerTimeout:  true,
	message.ReasonRateLimited:     true,
}

func status(reason string) string {
	switch {
	case reason == "":
		return "ok"
	case statuses[reason]:
		return reason
	case strings.HasPrefix(reason, message.ReasonHandlerPanic+":"):
		return message.ReasonHandlerPanic
	}
	return "error"
}

// ObserveCall records a resolved outbound call. reason is "" on success.
func (m *Metrics) ObserveCall(service, method, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(service, method, status(reason)).Inc()
	m.callDuration.WithLabelValues(service, method).Observe(d.Seconds())
}

// ObserveDispatch records a handled inbound request. reason is "" on success.
func (m *Metrics) ObserveDispatch(service, method, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(service, method, status(reason)).Inc()
	m.dispatchDuration.WithLabelValues(service, method).Observe(d.Seconds())
}

// SessionOpened increments the live session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionClosed decrements the live session gauge and counts the reason
// ("clean", "truncated", "corrupt", "error").
func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}
