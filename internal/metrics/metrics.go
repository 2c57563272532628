// Package metrics exposes the Prometheus collectors for the chat relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors updated by the engine and the transport.
type Metrics struct {
	Connections     prometheus.Gauge
	Rooms           prometheus.Gauge
	Messages        prometheus.Counter
	Dropped         prometheus.Counter
	RejectedEvents  *prometheus.CounterVec
	PresenceChanges *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_active_connections",
			Help: "Active websocket connections",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "roomchat_active_rooms",
			Help: "Rooms with at least one member",
		}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_messages_total",
			Help: "Chat messages appended to room history",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_dropped_events_total",
			Help: "Outbound events dropped because a connection queue was full or closed",
		}),
		RejectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_rejected_events_total",
			Help: "Inbound events rejected by a session",
		}, []string{"event"}),
		PresenceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_presence_changes_total",
			Help: "Join and leave transitions applied to rooms",
		}, []string{"kind"}),
		gatherer: reg,
	}
	reg.MustRegister(m.Connections, m.Rooms, m.Messages, m.Dropped, m.RejectedEvents, m.PresenceChanges)
	return m
}

// NewNop returns collectors registered on a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
