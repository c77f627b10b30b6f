package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the gateway.
var (
	// Connection metrics
	connectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Current number of registered WebSocket connections",
	})

	connectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_connections_rejected_total",
		Help: "Connection attempts refused before upgrade, by reason",
	}, []string{"reason"})

	disconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_disconnects_total",
		Help: "Total disconnections by reason and who initiated",
	}, []string{"reason", "initiated_by"})

	connectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_connection_duration_seconds",
		Help:    "Connection duration before disconnect",
		Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
	})

	// Message metrics
	messagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_messages_received_total",
		Help: "Inbound frames by classification (ping, log, auth, content, violation)",
	}, []string{"kind"})

	messagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_sent_total",
		Help: "Total number of frames written to clients",
	})

	bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_received_total",
		Help: "Total number of bytes received from clients",
	})

	bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bytes_sent_total",
		Help: "Total number of bytes sent to clients",
	})

	// Authentication
	authEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_auth_evaluations_total",
		Help: "Credential evaluations by trigger and result",
	}, []string{"trigger", "result"})

	authLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_auth_callback_duration_seconds",
		Help:    "Latency of the authentication callback",
		Buckets: prometheus.DefBuckets,
	})

	// Reaper
	reaperTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_reaper_ticks_total",
		Help: "Health reaper iterations",
	})

	reaperDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ws_reaper_tick_duration_seconds",
		Help:    "Wall time of one reaper iteration",
		Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30},
	})

	pingFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_ping_failures_total",
		Help: "Connections terminated because a ping was not answered",
	})

	// Event bus
	eventsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_bus_events_total",
		Help: "Events handed to the collaborator bus, by event and outcome",
	}, []string{"event", "outcome"})

	commandsHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_bus_commands_total",
		Help: "Inbound commands handled, by command and outcome",
	}, []string{"command", "outcome"})

	busConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_bus_connected",
		Help: "Event bus transport status (1=connected, 0=disconnected)",
	})

	busReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_bus_reconnects_total",
		Help: "Event bus transport reconnections",
	})

	// Process
	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_memory_bytes",
		Help: "Resident set size of the gateway process",
	})

	cpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_cpu_usage_percent",
		Help: "CPU usage of the gateway process",
	})

	goroutinesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_goroutines_active",
		Help: "Current number of active goroutines",
	})

	panicsRecovered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_panics_recovered_total",
		Help: "Panics recovered per goroutine",
	}, []string{"goroutine"})
)

func init() {
	prometheus.MustRegister(
		connectionsTotal,
		connectionsActive,
		connectionsRejected,
		disconnectsTotal,
		connectionDuration,

		messagesReceived,
		messagesSent,
		bytesReceived,
		bytesSent,

		authEvaluations,
		authLatency,

		reaperTicks,
		reaperDuration,
		pingFailures,

		eventsEmitted,
		commandsHandled,
		busConnected,
		busReconnects,

		memoryUsageBytes,
		cpuUsagePercent,
		goroutinesActive,
		panicsRecovered,
	)
}

// RecordConnect counts an accepted connection and updates the active gauge.
func RecordConnect(active int) {
	connectionsTotal.Inc()
	connectionsActive.Set(float64(active))
}

// RecordRejected counts a connection refused before the upgrade.
func RecordRejected(reason string) {
	connectionsRejected.WithLabelValues(reason).Inc()
}

// RecordDisconnect tracks why a connection ended and how long it lived.
func RecordDisconnect(reason, initiatedBy string, lifetime time.Duration, active int) {
	disconnectsTotal.WithLabelValues(reason, initiatedBy).Inc()
	connectionDuration.Observe(lifetime.Seconds())
	connectionsActive.Set(float64(active))
}

// RecordReceived counts one inbound frame.
func RecordReceived(kind string, size int) {
	messagesReceived.WithLabelValues(kind).Inc()
	bytesReceived.Add(float64(size))
}

// RecordSent counts one outbound frame.
func RecordSent(size int) {
	messagesSent.Inc()
	bytesSent.Add(float64(size))
}

// RecordAuth counts one credential evaluation.
func RecordAuth(trigger, result string, took time.Duration) {
	authEvaluations.WithLabelValues(trigger, result).Inc()
	authLatency.Observe(took.Seconds())
}

// RecordReaperTick tracks one reaper iteration.
func RecordReaperTick(took time.Duration) {
	reaperTicks.Inc()
	reaperDuration.Observe(took.Seconds())
}

// RecordPingFailure counts a connection terminated by the reaper.
func RecordPingFailure() {
	pingFailures.Inc()
}

// RecordEvent counts one bus notification; outcome is "ok" or "error".
func RecordEvent(event, outcome string) {
	eventsEmitted.WithLabelValues(event, outcome).Inc()
}

// RecordCommand counts one inbound command by outcome (ok, invalid, dropped...).
func RecordCommand(command, outcome string) {
	commandsHandled.WithLabelValues(command, outcome).Inc()
}

// SetBusConnected tracks the transport state of the event bus.
func SetBusConnected(connected bool) {
	if connected {
		busConnected.Set(1)
		return
	}
	busConnected.Set(0)
}

// RecordBusReconnect counts one transport reconnection.
func RecordBusReconnect() {
	busReconnects.Inc()
}

// HandleMetrics serves Prometheus metrics endpoint
func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
