package ttlcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classfeed_cache_hits_total",
	Help: "The number of lookups that found a fresh entry",
}, []string{"cache"})

var cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classfeed_cache_misses_total",
	Help: "The number of lookups that found nothing or an expired entry",
}, []string{"cache"})

var cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classfeed_cache_evictions_total",
	Help: "The number of entries removed, by reason",
}, []string{"cache", "reason"})
