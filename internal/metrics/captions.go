// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_captions_total",
		Help: "Caption generation requests by outcome",
	}, []string{"outcome"}) // outcome=generated|cached|error

	providerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_caption_provider_calls_total",
		Help: "Calls to the captioning provider by endpoint and result",
	}, []string{"endpoint", "result"})

	artifactRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "streamcache_artifact_requests_total",
		Help: "Artifact file requests by result",
	}, []string{"result"})
)

// IncCaptions counts a caption request outcome.
func IncCaptions(outcome string) {
	captionsTotal.WithLabelValues(outcome).Inc()
}

// IncProviderCall counts a captioning provider call.
func IncProviderCall(endpoint, result string) {
	providerCalls.WithLabelValues(endpoint, result).Inc()
}

// IncArtifactRequest counts an artifact request by result (served, not_modified, not_found, denied, error).
func IncArtifactRequest(result string) {
	artifactRequests.WithLabelValues(result).Inc()
}
