package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// Observe helpers are safe on a nil *Metrics so packages can run without it.
type Metrics struct {
	ActiveSessions       prometheus.Gauge
	SessionEvents        *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	OutboundMessages     *prometheus.CounterVec
	Turns                *prometheus.CounterVec
	Confirmations        *prometheus.CounterVec
	ListeningTransitions *prometheus.CounterVec
	CaptureErrors        *prometheus.CounterVec
	ListeningRestarts    *prometheus.CounterVec
	DroppedFinals        *prometheus.CounterVec
	SpeechRelayErrors    *prometheus.CounterVec
	ClientControls       *prometheus.CounterVec
	StageBudgetBreaches  *prometheus.CounterVec
	TurnLatency          prometheus.Histogram

	stages *stageRecorder
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active co-pilot sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		OutboundMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_messages_total",
			Help:      "Outbound queue results by message type.",
		}, []string{"type", "result"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Dialogue turns by intent and final status.",
		}, []string{"intent", "status"}),
		Confirmations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirmations_total",
			Help:      "Confirmation prompts by outcome.",
		}, []string{"outcome"}),
		ListeningTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listening_transitions_total",
			Help:      "Listening session state transitions by target state.",
		}, []string{"to"}),
		CaptureErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_errors_total",
			Help:      "Speech capture errors by kind.",
		}, []string{"kind", "terminal"}),
		ListeningRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listening_restarts_total",
			Help:      "Automatic capture restarts by reason.",
		}, []string{"reason"}),
		DroppedFinals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_finals_total",
			Help:      "Final transcripts not processed because a turn was in flight.",
		}, []string{"result"}),
		SpeechRelayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_relay_errors_total",
			Help:      "Speech relay failures by code.",
		}, []string{"code"}),
		ClientControls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_controls_total",
			Help:      "Client control messages by action.",
		}, []string{"action"}),
		StageBudgetBreaches: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_budget_breaches_total",
			Help:      "Turn stage samples slower than the stage budget.",
		}, []string{"stage"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Utterance to result latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}),
		stages: newStageRecorder(256),
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ObserveWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveOutboundMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(msgType, result).Inc()
}

func (m *Metrics) ObserveTurn(intent, status string, total time.Duration) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(intent, status).Inc()
	m.TurnLatency.Observe(float64(total.Microseconds()) / 1000)
	m.ObserveTurnStage(StageTurnTotal, total)
}

// ObserveTurnStage records one stage duration and counts it against the
// stage budget.
func (m *Metrics) ObserveTurnStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	if m.stages.record(stage, d) {
		m.StageBudgetBreaches.WithLabelValues(string(stage)).Inc()
	}
}

func (m *Metrics) ObserveClientControl(action string) {
	if m == nil {
		return
	}
	m.ClientControls.WithLabelValues(action).Inc()
}

func (m *Metrics) ObserveConfirmation(outcome string) {
	if m == nil {
		return
	}
	m.Confirmations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveListeningTransition(to string) {
	if m == nil {
		return
	}
	m.ListeningTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) ObserveCaptureError(kind string, terminal bool) {
	if m == nil {
		return
	}
	m.CaptureErrors.WithLabelValues(kind, strconv.FormatBool(terminal)).Inc()
}

func (m *Metrics) ObserveListeningRestart(reason string) {
	if m == nil {
		return
	}
	m.ListeningRestarts.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveFinalNotProcessed(result string) {
	if m == nil {
		return
	}
	m.DroppedFinals.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSpeechRelayError(code string) {
	if m == nil {
		return
	}
	m.SpeechRelayErrors.WithLabelValues(code).Inc()
}

// LatencyReport summarizes the recent samples of every stage seen so far.
func (m *Metrics) LatencyReport() LatencyReport {
	if m == nil {
		return newStageRecorder(0).report()
	}
	return m.stages.report()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
