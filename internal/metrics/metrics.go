// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "responses_relay_turn_duration_seconds",
			Help:    "Total time taken to relay a turn in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 300},
		},
		[]string{"model", "status"},
	)

	TimeToFirstEvent = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "responses_relay_time_to_first_event_seconds",
			Help:    "Time from request to the first upstream stream event in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30},
		},
		[]string{"model"},
	)

	TurnCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responses_relay_turn_count_total",
			Help: "Total number of turns processed",
		},
		[]string{"model", "status"},
	)

	InputTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responses_relay_input_tokens_total",
			Help: "Total number of counted input tokens sent upstream",
		},
		[]string{"model"},
	)

	EventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responses_relay_events_total",
			Help: "Total number of stream events relayed to clients",
		},
		[]string{"type"},
	)

	VectorStoreRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responses_relay_vector_store_requests_total",
			Help: "Total number of vector store proxy requests",
		},
		[]string{"operation", "status"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "responses_relay_active_streams",
			Help: "Number of turn streams currently open",
		},
	)
)
