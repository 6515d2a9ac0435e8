package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Accept paths recorded on trips_accepted_total
const (
	AcceptPathBid    = "bid"
	AcceptPathDirect = "direct"
)

// Metrics collects dispatch counters. A nil *Metrics records nothing, so
// components can be built without a registry in tests.
type Metrics struct {
	bidsSubmitted        prometheus.Counter
	tripsRequested       prometheus.Counter
	tripsAccepted        *prometheus.CounterVec
	acceptConflicts      prometheus.Counter
	tripTransitions      *prometheus.CounterVec
	connectedClients     prometheus.Gauge
	notificationsDropped prometheus.Counter
	pushFallbacks        prometheus.Counter
	paymentFailures      prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bidsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_bids_submitted_total",
			Help: "Bids accepted for a pending trip",
		}),
		tripsRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_trips_requested_total",
			Help: "Trips created by riders",
		}),
		tripsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_trips_accepted_total",
			Help: "Trips that reached accepted, by accept path",
		}, []string{"path"}),
		acceptConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_accept_conflicts_total",
			Help: "Accept attempts that lost to a concurrent accept or cancel",
		}),
		tripTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_trip_transitions_total",
			Help: "Trip status transitions, by target status",
		}, []string{"status"}),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_connected_clients",
			Help: "Open websocket connections",
		}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_notifications_dropped_total",
			Help: "Outbound frames dropped because a client queue was full",
		}),
		pushFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_push_fallbacks_total",
			Help: "Notifications sent as push because the target had no open connection",
		}),
		paymentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_payment_failures_total",
			Help: "Payment attempts rejected by the gateway",
		}),
	}

	reg.MustRegister(
		m.bidsSubmitted,
		m.tripsRequested,
		m.tripsAccepted,
		m.acceptConflicts,
		m.tripTransitions,
		m.connectedClients,
		m.notificationsDropped,
		m.pushFallbacks,
		m.paymentFailures,
	)

	return m
}

func (m *Metrics) RecordBidSubmitted() {
	if m == nil {
		return
	}
	m.bidsSubmitted.Inc()
}

func (m *Metrics) RecordTripRequested() {
	if m == nil {
		return
	}
	m.tripsRequested.Inc()
}

func (m *Metrics) RecordTripAccepted(path string) {
	if m == nil {
		return
	}
	m.tripsAccepted.WithLabelValues(path).Inc()
}

func (m *Metrics) RecordAcceptConflict() {
	if m == nil {
		return
	}
	m.acceptConflicts.Inc()
}

func (m *Metrics) RecordTransition(status string) {
	if m == nil {
		return
	}
	m.tripTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.connectedClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.connectedClients.Dec()
}

func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

func (m *Metrics) RecordPushFallback() {
	if m == nil {
		return
	}
	m.pushFallbacks.Inc()
}

func (m *Metrics) RecordPaymentFailure() {
	if m == nil {
		return
	}
	m.paymentFailures.Inc()
}

// MetricsHandler serves the Prometheus scrape endpoint
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
