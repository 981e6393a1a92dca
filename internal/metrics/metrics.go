// Package metrics exposes the authority's operational counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive tracks currently open websocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tableflow_ws_connections_active",
		Help: "Currently connected websocket clients.",
	})

	// RoomJoins counts join requests by event name and outcome.
	RoomJoins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tableflow_room_joins_total",
		Help: "Room join requests by event and outcome.",
	}, []string{"event", "outcome"})

	// Broadcasts counts fanned-out events by name.
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tableflow_broadcasts_total",
		Help: "Events broadcast to rooms, by event name.",
	}, []string{"event"})

	// OrdersCreated counts accepted order submissions.
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tableflow_orders_created_total",
		Help: "Orders accepted by the authority.",
	})

	// Transitions counts applied lifecycle transitions by target state.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tableflow_order_transitions_total",
		Help: "Applied order state transitions, by target state.",
	}, []string{"state"})

	// RejectedTransitions counts update requests refused by the
	// lifecycle table or the actor check.
	RejectedTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tableflow_order_transitions_rejected_total",
		Help: "State change requests rejected by the lifecycle rules.",
	})
)
