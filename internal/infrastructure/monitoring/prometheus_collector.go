package monitoring

import (
	"rillcall/internal/core/domain"
	"rillcall/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports call lifecycle metrics.
type PrometheusCollector struct {
	// Counters
	callsStartedTotal  *prometheus.CounterVec
	callsEndedTotal    *prometheus.CounterVec
	stateChangesTotal  *prometheus.CounterVec
	invitesSentTotal   *prometheus.CounterVec
	invitesRecvTotal   *prometheus.CounterVec
	mediaAcquireTotal  *prometheus.CounterVec
	historyWritesTotal *prometheus.CounterVec

	// Histograms
	callDuration prometheus.Histogram

	meshParticipants prometheus.Gauge
}

var _ ports.CallMetrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the call metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		callsStartedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_calls_started_total",
			Help: "Calls started, by direction and media type",
		}, []string{"direction", "type"}),

		callsEndedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_calls_ended_total",
			Help: "Calls ended, by end reason",
		}, []string{"reason"}),

		stateChangesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_call_state_transitions_total",
			Help: "Call state machine transitions, by target state",
		}, []string{"state"}),

		invitesSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_invites_sent_total",
			Help: "Outgoing call invites, by result",
		}, []string{"result"}),

		invitesRecvTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_invites_received_total",
			Help: "Incoming call invites, by result",
		}, []string{"result"}),

		mediaAcquireTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_media_acquisitions_total",
			Help: "Local media acquisitions, by result",
		}, []string{"result"}),

		historyWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_history_writes_total",
			Help: "Call history writes, by result",
		}, []string{"result"}),

		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rillcall_call_duration_seconds",
			Help:    "Duration of connected calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		meshParticipants: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rillcall_mesh_participants",
			Help: "Remote participants in the current group call",
		}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *PrometheusCollector) CallStarted(direction domain.CallDirection, callType domain.CallType) {
	c.callsStartedTotal.WithLabelValues(string(direction), string(callType)).Inc()
}

func (c *PrometheusCollector) CallStateChanged(state domain.CallState) {
	c.stateChangesTotal.WithLabelValues(state.String()).Inc()
}

func (c *PrometheusCollector) CallEnded(reason domain.EndReason, durationSeconds int64) {
	c.callsEndedTotal.WithLabelValues(string(reason)).Inc()
	if durationSeconds > 0 {
		c.callDuration.Observe(float64(durationSeconds))
	}
}

func (c *PrometheusCollector) InviteSent(err error) {
	c.invitesSentTotal.WithLabelValues(result(err)).Inc()
}

func (c *PrometheusCollector) InviteReceived(accepted bool) {
	label := "declined"
	if accepted {
		label = "accepted"
	}
	c.invitesRecvTotal.WithLabelValues(label).Inc()
}

func (c *PrometheusCollector) MediaAcquired(err error) {
	c.mediaAcquireTotal.WithLabelValues(result(err)).Inc()
}

func (c *PrometheusCollector) MeshParticipants(count int) {
	c.meshParticipants.Set(float64(count))
}

func (c *PrometheusCollector) HistoryWritten(err error) {
	c.historyWritesTotal.WithLabelValues(result(err)).Inc()
}
