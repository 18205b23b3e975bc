package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every prometheus collector the runtime registers. Unlike a
// typical application's metrics struct, the runtime itself never scrapes
// these — it's the façade's caller that wires a /metrics endpoint, so
// Metrics only needs the collectors and a thin set of recorder methods.
type Metrics struct {
	HelpersCreated    *prometheus.CounterVec
	HelpersDeleted    *prometheus.CounterVec
	DispatchTotal     *prometheus.CounterVec
	UnhandledTotal    *prometheus.CounterVec
	ErrorsStarted     *prometheus.CounterVec
	ErrorsEnded       *prometheus.CounterVec
	ReconnectAttempts prometheus.Counter
	ConnectionStatus  prometheus.Gauge
	PauseBufferDepth  *prometheus.GaugeVec
	ReplayedEnvelopes *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
}

// NewMetrics registers and returns the runtime's collectors against reg. A
// nil registry registers against prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HelpersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convruntime",
			Name:      "helpers_created_total",
			Help:      "Helpers created, by kind (session, exchange, message, tool_call, asyncOutputStream, asyncInputStream); async tool calls count as tool_call.",
		}, []string{"kind"}),

		HelpersDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convruntime",
			Name:      "helpers_deleted_total",
			Help:      "Helpers deleted (onDeleted fired), by kind.",
		}, []string{"kind"}),

		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convruntime",
			Name:      "dispatch_total",
			Help:      "Inbound envelopes dispatched, by envelope level (conversation, exchange, message, tool_call, stream).",
		}, []string{"level"}),

		UnhandledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convruntime",
			Name:      "unhandled_total",
			Help:      "Envelopes or errors that reached a Manager unhandled sink, by reason (envelope, error_start, error_end).",
		}, []string{"reason"}),

		ErrorsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convruntime",
			Name:      "errors_started_total",
			Help:      "errorStart events observed, by entity kind.",
		}, []string{"kind"}),

		ErrorsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convruntime",
			Name:      "errors_ended_total",
			Help:      "errorEnd events observed, by entity kind.",
		}, []string{"kind"}),

		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "convruntime",
			Name:      "reconnect_attempts_total",
			Help:      "Transport reconnection attempts made.",
		}),

		ConnectionStatus: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "convruntime",
			Name:      "connection_status",
			Help:      "Current transport connection status: 0=Disconnected, 1=Connecting, 2=Connected.",
		}),

		PauseBufferDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "convruntime",
			Name:      "pause_buffer_depth",
			Help:      "Number of envelopes currently queued for a paused Helper, by helper id.",
		}, []string{"helper_id"}),

		ReplayedEnvelopes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "convruntime",
			Name:      "replayed_envelopes_total",
			Help:      "Synthetic envelopes produced by replay, by entity kind.",
		}, []string{"kind"}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "convruntime",
			Name:      "active_sessions",
			Help:      "Sessions currently tracked by the Manager.",
		}),
	}
}

// HelperCreated records a Helper creation of the given kind.
func (m *Metrics) HelperCreated(kind string) {
	if m == nil {
		return
	}
	m.HelpersCreated.WithLabelValues(kind).Inc()
}

// HelperDeleted records a Helper deletion of the given kind.
func (m *Metrics) HelperDeleted(kind string) {
	if m == nil {
		return
	}
	m.HelpersDeleted.WithLabelValues(kind).Inc()
}

// Dispatched records one envelope dispatched at the given level.
func (m *Metrics) Dispatched(level string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(level).Inc()
}

// Unhandled records one envelope or error reaching an unhandled sink.
func (m *Metrics) Unhandled(reason string) {
	if m == nil {
		return
	}
	m.UnhandledTotal.WithLabelValues(reason).Inc()
}

// ErrorStarted records an errorStart for the given entity kind.
func (m *Metrics) ErrorStarted(kind string) {
	if m == nil {
		return
	}
	m.ErrorsStarted.WithLabelValues(kind).Inc()
}

// ErrorEnded records an errorEnd for the given entity kind.
func (m *Metrics) ErrorEnded(kind string) {
	if m == nil {
		return
	}
	m.ErrorsEnded.WithLabelValues(kind).Inc()
}

// ReconnectAttempted records one reconnection attempt.
func (m *Metrics) ReconnectAttempted() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

// SetConnectionStatus records the transport's current status as a small
// integer gauge (0/1/2); callers pass their own status enum's int value.
func (m *Metrics) SetConnectionStatus(status int) {
	if m == nil {
		return
	}
	m.ConnectionStatus.Set(float64(status))
}

// SetPauseBufferDepth records the current buffer depth for a paused Helper.
func (m *Metrics) SetPauseBufferDepth(helperID string, depth int) {
	if m == nil {
		return
	}
	m.PauseBufferDepth.WithLabelValues(helperID).Set(float64(depth))
}

// ReplayedEnvelope records one synthetic envelope produced by replay.
func (m *Metrics) ReplayedEnvelope(kind string) {
	if m == nil {
		return
	}
	m.ReplayedEnvelopes.WithLabelValues(kind).Inc()
}

// SetActiveSessions records the Manager's current session count.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
