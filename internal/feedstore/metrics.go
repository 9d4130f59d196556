package feedstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var providerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classfeed_provider_calls_total",
	Help: "Calls made to the ranking provider by operation and result",
}, []string{"op", "result"})

var providerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "classfeed_provider_call_duration_seconds",
	Help:    "A histogram of ranking provider call latencies",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
}, []string{"op"})

var staleResponses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classfeed_stale_responses_total",
	Help: "Provider responses discarded because a newer load replaced them",
}, []string{"op"})

var realtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classfeed_realtime_events_total",
	Help: "Push events handled by type and whether they touched the visible list",
}, []string{"type", "outcome"})

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
