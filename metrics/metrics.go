// Package metrics holds the prometheus collectors of the DHCP server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dora"

// Drop reasons.
const (
	ReasonDecode        = "decode"
	ReasonUnknownType   = "unknown_type"
	ReasonExhausted     = "exhausted"
	ReasonOutOfRange    = "out_of_range"
	ReasonAlreadyLeased = "already_leased"
	ReasonNotFound      = "release_not_found"
	ReasonInternal      = "internal"
)

// Metrics is
type Metrics struct {
	Received *prometheus.CounterVec
	Replies  *prometheus.CounterVec
	Dropped  *prometheus.CounterVec
	Leases   prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Received: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "DHCP messages received by message type.",
		}, []string{"type"}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "DHCP replies sent by message type.",
		}, []string{"type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "DHCP messages dropped without a reply by reason.",
		}, []string{"reason"}),
		Leases: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_leases",
			Help:      "Leases currently held by clients.",
		}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
