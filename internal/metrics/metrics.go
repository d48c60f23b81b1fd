// Package metrics holds the Prometheus collectors of the call service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice"

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Rooms with a live router.",
	})

	PeersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "peers_active",
		Help:      "Peer sessions across all rooms.",
	})

	WorkersAlive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "workers_alive",
		Help:      "Media workers currently able to host routers.",
	})

	WorkerRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_restarts_total",
		Help:      "Media workers replaced after dying.",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "signal_connections_active",
		Help:      "Open signaling connections.",
	})

	SignalMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_messages_total",
		Help:      "Signaling requests by event and result code.",
	}, []string{"event", "code"})

	EngineCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "engine_call_duration_seconds",
		Help:      "Latency of media engine calls.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"op"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Call events dropped because the publish queue was full.",
	})

	SlowConsumers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_backpressure_total",
		Help:      "Pushes that hit a full connection send buffer.",
	})
)
