// Package metrics defines the daemon's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for payprocd.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge

	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	CommandErrors    *prometheus.CounterVec

	SessionsActive   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsExpired  prometheus.Counter
	AliasesActive    prometheus.Gauge

	GatewayCallsTotal   *prometheus.CounterVec
	GatewayCallDuration *prometheus.HistogramVec
	GatewayBreakerTrips *prometheus.CounterVec

	JournalWritesTotal prometheus.Counter
	JournalWriteErrors prometheus.Counter

	StoreQueryDuration *prometheus.HistogramVec
}

// New creates and registers all metrics against registry. A nil registry
// registers against prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "payproc_connections_total",
			Help: "Total number of accepted client connections",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "payproc_connections_active",
			Help: "Number of currently open client connections",
		}),

		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payproc_commands_total",
			Help: "Total number of commands processed",
		}, []string{"command", "status"}),
		CommandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payproc_command_duration_seconds",
			Help:    "Command handling duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"command"}),
		CommandErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payproc_command_errors_total",
			Help: "Total number of command errors by error code",
		}, []string{"command", "code"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "payproc_sessions_active",
			Help: "Number of currently live sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "payproc_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "payproc_sessions_expired_total",
			Help: "Total number of sessions reaped for expiry",
		}),
		AliasesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "payproc_aliases_active",
			Help: "Number of currently live session aliases",
		}),

		GatewayCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payproc_gateway_calls_total",
			Help: "Total number of calls made to payment gateways",
		}, []string{"gateway", "operation", "status"}),
		GatewayCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payproc_gateway_call_duration_seconds",
			Help:    "Gateway REST call duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"gateway", "operation"}),
		GatewayBreakerTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payproc_gateway_breaker_trips_total",
			Help: "Total number of circuit breaker trips per gateway",
		}, []string{"gateway"}),

		JournalWritesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "payproc_journal_writes_total",
			Help: "Total number of journal records written",
		}),
		JournalWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "payproc_journal_write_errors_total",
			Help: "Total number of journal write failures",
		}),

		StoreQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payproc_store_query_duration_seconds",
			Help:    "SQLite store query duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"store", "operation"}),
	}
}

// ObserveCommand records the outcome of a single protocol command.
func (m *Metrics) ObserveCommand(command string, duration time.Duration, errCode string) {
	status := "ok"
	if errCode != "" {
		status = "error"
		m.CommandErrors.WithLabelValues(command, errCode).Inc()
	}
	m.CommandsTotal.WithLabelValues(command, status).Inc()
	m.CommandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// ObserveGatewayCall records a REST call made to a payment gateway.
func (m *Metrics) ObserveGatewayCall(gateway, operation string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.GatewayCallsTotal.WithLabelValues(gateway, operation, status).Inc()
	m.GatewayCallDuration.WithLabelValues(gateway, operation).Observe(duration.Seconds())
}

// ObserveBreakerTrip records a circuit breaker transition to the open state.
func (m *Metrics) ObserveBreakerTrip(gateway string) {
	m.GatewayBreakerTrips.WithLabelValues(gateway).Inc()
}

// ObserveStoreQuery records a SQLite store query duration.
func (m *Metrics) ObserveStoreQuery(store, operation string, duration time.Duration) {
	m.StoreQueryDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}
