package trip

import "net/netip"

// MetricsReporter is the subset of tripmetrics.Collector that the session
// and manager hot paths call into. Defined here, rather than importing
// internal/metrics directly, to keep internal/trip free of a dependency on
// the Prometheus registry — tripmetrics.Collector satisfies this interface
// structurally.
type MetricsReporter interface {
	RegisterSession(peer netip.Addr, sessionType string)
	UnregisterSession(peer netip.Addr, sessionType string)
	IncPacketsSent(peer netip.Addr)
	IncPacketsReceived(peer netip.Addr)
	IncPacketsDropped(peer netip.Addr)
	RecordStateTransition(peer netip.Addr, from, to string)
	IncNotificationSent(peer netip.Addr, code NotifCode)
}

// noopMetrics is the default MetricsReporter when none is configured.
type noopMetrics struct{}

func (noopMetrics) RegisterSession(netip.Addr, string)         {}
func (noopMetrics) UnregisterSession(netip.Addr, string)       {}
func (noopMetrics) IncPacketsSent(netip.Addr)                  {}
func (noopMetrics) IncPacketsReceived(netip.Addr)               {}
func (noopMetrics) IncPacketsDropped(netip.Addr)                {}
func (noopMetrics) RecordStateTransition(netip.Addr, string, string) {}
func (noopMetrics) IncNotificationSent(netip.Addr, NotifCode)   {}
