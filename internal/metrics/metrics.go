// Package metrics holds the prometheus collectors shared by the controller, loader and daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Controller metrics
	Removals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connprune",
			Subsystem: "controller",
			Name:      "removals_total",
			Help:      "Contacts processed by the controller, by action and outcome.",
		},
		[]string{"action", "outcome"}, // outcome: "success" or "failure"
	)

	Attempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connprune",
			Subsystem: "controller",
			Name:      "attempts_total",
			Help:      "Executor attempts, including retries.",
		},
		[]string{"action"},
	)

	Requeues = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "connprune",
			Subsystem: "controller",
			Name:      "requeues_total",
			Help:      "Contacts appended back to the queue after exhausting retries.",
		},
	)

	SessionsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connprune",
			Subsystem: "controller",
			Name:      "sessions_running",
			Help:      "1 while a removal session is running.",
		},
	)

	SessionStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connprune",
			Subsystem: "controller",
			Name:      "session_stops_total",
			Help:      "Sessions that returned to idle, by reason.",
		},
		[]string{"reason"},
	)

	QueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connprune",
			Subsystem: "controller",
			Name:      "queue_length",
			Help:      "Contacts waiting in the current session queue.",
		},
	)

	// Loader metrics
	LoaderIterations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "connprune",
			Subsystem: "loader",
			Name:      "iterations_total",
			Help:      "Bulk loader scan iterations.",
		},
	)

	LoaderFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "connprune",
			Subsystem: "loader",
			Name:      "fallbacks_total",
			Help:      "Iterations that used fallback discovery because the source looked stuck.",
		},
	)

	LoaderContacts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connprune",
			Subsystem: "loader",
			Name:      "contacts",
			Help:      "Contacts accumulated by the current or last load.",
		},
	)

	// Transport metrics
	EventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connprune",
			Subsystem: "events",
			Name:      "sent_total",
			Help:      "Progress events delivered to stream subscribers.",
		},
		[]string{"kind"}, // "progress", "chunk" or "dropped"
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connprune",
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Connected progress stream subscribers.",
		},
	)
)
