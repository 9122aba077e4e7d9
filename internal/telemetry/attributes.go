// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by the daemon's spans.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	SourcePathKey    = "media.source_path"
	ArtifactDirKey   = "media.artifact_dir"
	DurationKey      = "media.duration_s"
	CacheHitKey      = "cache.hit"
	StrategyKey      = "transcode.strategy"
	CompleteKey      = "transcode.complete"
	CaptionCuesKey   = "captions.cues"
	ProviderJobIDKey = "captions.provider_job_id"

	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates request span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// SourceAttributes identifies the media a span works on. Empty values are omitted.
func SourceAttributes(sourcePath, artifactDir string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if sourcePath != "" {
		attrs = append(attrs, attribute.String(SourcePathKey, sourcePath))
	}
	if artifactDir != "" {
		attrs = append(attrs, attribute.String(ArtifactDirKey, artifactDir))
	}
	return attrs
}

// TranscodeAttributes describes the result of a transcode.
func TranscodeAttributes(strategy string, cached, complete bool, durationSeconds float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StrategyKey, strategy),
		attribute.Bool(CacheHitKey, cached),
		attribute.Bool(CompleteKey, complete),
		attribute.Float64(DurationKey, durationSeconds),
	}
}

// CaptionAttributes describes a caption generation.
func CaptionAttributes(providerJobID string, cues int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ProviderJobIDKey, providerJobID),
		attribute.Int(CaptionCuesKey, cues),
	}
}

// ErrorAttributes tags a span with an error class.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ErrorTypeKey, errorType),
	}
}
