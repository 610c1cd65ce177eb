// Package metrics holds the Prometheus collectors for threads and realtime fan-out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incident_desk"

var (
	MessagesAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "thread",
			Name:      "messages_appended_total",
			Help:      "Messages durably appended to report threads",
		},
		[]string{"sender"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "thread",
			Name:      "status_transitions_total",
			Help:      "Report status changes applied",
		},
		[]string{"from", "to"},
	)

	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscribers",
			Help:      "Live realtime subscriptions",
		},
	)

	Published = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "published_total",
			Help:      "Messages handed to the realtime notifier",
		},
	)

	Delivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "delivered_total",
			Help:      "Messages queued to a subscriber",
		},
	)

	Dropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "dropped_total",
			Help:      "Messages not delivered by the realtime notifier",
		},
		[]string{"reason"},
	)
)
