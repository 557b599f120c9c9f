// Package tripmetrics exposes TRIP location server state as Prometheus
// metrics.
package tripmetrics

import (
	"net/netip"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/trip/internal/trip"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "trip"
	subsystem = "ls"
)

// Label names for TRIP metrics.
const (
	labelPeerAddr    = "peer_addr"
	labelSessionType = "session_type"
	labelFromState   = "from_state"
	labelToState     = "to_state"
	labelNotifCode   = "notif_code"
)

// -------------------------------------------------------------------------
// Collector — Prometheus TRIP Metrics
// -------------------------------------------------------------------------

// Collector holds all TRIP location server Prometheus metrics.
//
//   - Sessions tracks currently active sessions.
//   - Packet counters track TX/RX/drop volumes per peer.
//   - State transition counters record FSM changes for alerting.
//   - NotificationsSent counts outbound Notification messages by code,
//     the signal something went wrong with a peer session.
type Collector struct {
	Sessions          *prometheus.GaugeVec
	PacketsSent       *prometheus.CounterVec
	PacketsReceived   *prometheus.CounterVec
	PacketsDropped    *prometheus.CounterVec
	StateTransitions  *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

// NewCollector creates a Collector with all TRIP metrics registered
// against the provided prometheus.Registerer. If reg is nil,
// prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.PacketsSent,
		c.PacketsReceived,
		c.PacketsDropped,
		c.StateTransitions,
		c.NotificationsSent,
	)

	return c
}

// newMetrics creates all Prometheus metric vectors without registering them.
func newMetrics() *Collector {
	sessionLabels := []string{labelPeerAddr, labelSessionType}
	peerLabels := []string{labelPeerAddr}
	transitionLabels := []string{labelPeerAddr, labelFromState, labelToState}
	notifLabels := []string{labelPeerAddr, labelNotifCode}

	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently active TRIP sessions.",
		}, sessionLabels),

		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_sent_total",
			Help:      "Total TRIP messages transmitted.",
		}, peerLabels),

		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_received_total",
			Help:      "Total TRIP messages received.",
		}, peerLabels),

		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "packets_dropped_total",
			Help:      "Total TRIP messages dropped due to framing or validation failure.",
		}, peerLabels),

		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "state_transitions_total",
			Help:      "Total TRIP session FSM state transitions.",
		}, transitionLabels),

		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_sent_total",
			Help:      "Total TRIP Notification messages sent, by code.",
		}, notifLabels),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active sessions gauge for the given peer.
func (c *Collector) RegisterSession(peer netip.Addr, sessionType string) {
	c.Sessions.WithLabelValues(peer.String(), sessionType).Inc()
}

// UnregisterSession decrements the active sessions gauge for the given peer.
func (c *Collector) UnregisterSession(peer netip.Addr, sessionType string) {
	c.Sessions.WithLabelValues(peer.String(), sessionType).Dec()
}

// -------------------------------------------------------------------------
// Packet Counters
// -------------------------------------------------------------------------

// IncPacketsSent increments the transmitted messages counter for the peer.
func (c *Collector) IncPacketsSent(peer netip.Addr) {
	c.PacketsSent.WithLabelValues(peer.String()).Inc()
}

// IncPacketsReceived increments the received messages counter for the peer.
func (c *Collector) IncPacketsReceived(peer netip.Addr) {
	c.PacketsReceived.WithLabelValues(peer.String()).Inc()
}

// IncPacketsDropped increments the dropped messages counter for the peer.
func (c *Collector) IncPacketsDropped(peer netip.Addr) {
	c.PacketsDropped.WithLabelValues(peer.String()).Inc()
}

// -------------------------------------------------------------------------
// State Transitions
// -------------------------------------------------------------------------

// RecordStateTransition increments the state transition counter with the
// old and new state labels.
func (c *Collector) RecordStateTransition(peer netip.Addr, from, to string) {
	c.StateTransitions.WithLabelValues(peer.String(), from, to).Inc()
}

// -------------------------------------------------------------------------
// Notifications
// -------------------------------------------------------------------------

// IncNotificationSent increments the notifications-sent counter for the
// peer and code.
func (c *Collector) IncNotificationSent(peer netip.Addr, code trip.NotifCode) {
	c.NotificationsSent.WithLabelValues(peer.String(), code.String()).Inc()
}
