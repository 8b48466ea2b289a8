// Package metrics contains the Prometheus collectors of the client.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rtspengine"

// Metrics holds the collectors of a client.
// A nil *Metrics is valid and discards everything.
type Metrics struct {
	raceAttempts     *prometheus.CounterVec
	retries          *prometheus.CounterVec
	stateTransitions *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	discontinuities  *prometheus.CounterVec
	packetsLost      *prometheus.CounterVec
	keepAlives       prometheus.Counter
	sessionsActive   prometheus.Gauge
}

// New allocates Metrics and registers them into reg.
// When reg is nil, a private registry is used.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	f := promauto.With(reg)

	return &Metrics{
		raceAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "racer",
			Name:      "attempts_total",
			Help:      "Connection attempts, by transport protocol and outcome",
		}, []string{"protocol", "outcome"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "retries_total",
			Help:      "Retried negotiation steps, by step",
		}, []string{"step"}),
		stateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),
		decodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "decode_errors_total",
			Help:      "RTP, RTCP and SRTP decode errors, by media",
		}, []string{"media"}),
		discontinuities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "discontinuities_total",
			Help:      "Timestamp discontinuities, by media",
		}, []string{"media"}),
		packetsLost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "packets_lost_total",
			Help:      "Lost RTP packets, by media",
		}, []string{"media"}),
		keepAlives: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "keepalives_total",
			Help:      "Keep-alive requests sent",
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions in the playing state",
		}),
	}
}

// RaceAttempt counts a connection attempt.
func (m *Metrics) RaceAttempt(protocol string, outcome string) {
	if m == nil {
		return
	}
	m.raceAttempts.WithLabelValues(protocol, outcome).Inc()
}

// Retry counts a retried step.
func (m *Metrics) Retry(step string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(step).Inc()
}

// StateTransition counts a state transition.
func (m *Metrics) StateTransition(from string, to string) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(from, to).Inc()

	switch {
	case to == "playing":
		m.sessionsActive.Inc()
	case from == "playing":
		m.sessionsActive.Dec()
	}
}

// DecodeError counts a decode error.
func (m *Metrics) DecodeError(mediaIndex int) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(strconv.Itoa(mediaIndex)).Inc()
}

// Discontinuity counts a discontinuity.
func (m *Metrics) Discontinuity(mediaIndex int) {
	if m == nil {
		return
	}
	m.discontinuities.WithLabelValues(strconv.Itoa(mediaIndex)).Inc()
}

// PacketsLost counts lost packets.
func (m *Metrics) PacketsLost(mediaIndex int, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.packetsLost.WithLabelValues(strconv.Itoa(mediaIndex)).Add(float64(n))
}

// KeepAlive counts a keep-alive request.
func (m *Metrics) KeepAlive() {
	if m == nil {
		return
	}
	m.keepAlives.Inc()
}
