// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_cache_lookups_total",
		Help: "Cache index lookups by result",
	}, []string{"result"}) // result=hit|miss|stale

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "streamcache_cache_entries",
		Help: "Number of entries currently held by the cache index",
	})

	cacheRebuildSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_cache_rebuild_skipped_total",
		Help: "Artifact directories skipped while rebuilding the cache index",
	}, []string{"reason"})

	cacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_cache_evictions_total",
		Help: "Cache entries dropped because their artifact directory disappeared",
	}, []string{"trigger"}) // trigger=lookup|watch
)

// RecordCacheLookup counts a lookup by result (hit, miss or stale).
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// SetCacheEntries publishes the current index size.
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// IncCacheRebuildSkipped counts a directory ignored during rebuild.
func IncCacheRebuildSkipped(reason string) {
	cacheRebuildSkipped.WithLabelValues(reason).Inc()
}

// IncCacheEviction counts an evicted entry by what triggered the eviction.
func IncCacheEviction(trigger string) {
	cacheEvictions.WithLabelValues(trigger).Inc()
}
