package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	poolTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tagrpc",
			Subsystem: "rxpool",
			Name:      "truncations_total",
			Help:      "Receives that completed truncated and forced a buffer regrow.",
		},
	)
	poolRegrowBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tagrpc",
			Subsystem: "rxpool",
			Name:      "regrow_bytes_total",
			Help:      "Total bytes added to receive buffers by regrows.",
		},
	)
	callsDispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tagrpc",
			Subsystem: "dispatch",
			Name:      "calls_total",
			Help:      "Inbound calls handed to an executor.",
		},
	)
	callsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagrpc",
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Inbound calls dropped before execution.",
		},
		[]string{"reason"},
	)
	callsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tagrpc",
			Subsystem: "dispatch",
			Name:      "completed_total",
			Help:      "Calls whose response was sent back to the peer.",
		},
	)
	wireupHandshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tagrpc",
			Subsystem: "wireup",
			Name:      "handshakes_total",
			Help:      "Completed wireup exchanges by role.",
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			poolTruncations, poolRegrowBytes,
			callsDispatched, callsDropped, callsCompleted,
			wireupHandshakes,
		)
	})
}

func RecordTruncation(oldCap, newCap int) {
	RegisterMetrics()
	poolTruncations.Inc()
	if newCap > oldCap {
		poolRegrowBytes.Add(float64(newCap - oldCap))
	}
}

func RecordDispatch() {
	RegisterMetrics()
	callsDispatched.Inc()
}

func RecordDrop(reason string) {
	RegisterMetrics()
	callsDropped.WithLabelValues(reason).Inc()
}

func RecordCompletion() {
	RegisterMetrics()
	callsCompleted.Inc()
}

func RecordHandshake(role string) {
	RegisterMetrics()
	wireupHandshakes.WithLabelValues(role).Inc()
}
