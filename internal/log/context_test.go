// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// logLine writes one line through a buffered logger and returns its fields.
func logLine(t *testing.T, write func(zerolog.Logger)) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	write(zerolog.New(&buf))
	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	return fields
}

func TestCorrelationIDsRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(nil, "req-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Empty(t, JobIDFromContext(ctx))

	ctx = ContextWithJobID(ctx, "L21lZGlhL2EubXA0")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "L21lZGlhL2EubXA0", JobIDFromContext(ctx))

	assert.Empty(t, RequestIDFromContext(nil))
	assert.Empty(t, RequestIDFromContext(context.WithValue(context.Background(), requestIDKey, 7)))
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	ctx := ContextWithJobID(ContextWithRequestID(context.Background(), "req-9"), "L21lZGlhL2IubWt2")

	fields := logLine(t, func(l zerolog.Logger) {
		logger := WithContext(ctx, l)
		logger.Info().Str(FieldSourcePath, "/media/b.mkv").Msg("transcoding source")
	})

	assert.Equal(t, "req-9", fields[FieldRequestID])
	assert.Equal(t, "L21lZGlhL2IubWt2", fields[FieldJobID])
	assert.Equal(t, "/media/b.mkv", fields[FieldSourcePath])
	assert.NotContains(t, fields, FieldTraceID)
}

func TestWithContextAddsSpanIDs(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := logLine(t, func(l zerolog.Logger) {
		logger := WithContext(ctx, l)
		logger.Info().Msg("playlist ready")
	})

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields[FieldTraceID])
	assert.Equal(t, "00f067aa0ba902b7", fields[FieldSpanID])
}

func TestWithContextIgnoresNoopSpan(t *testing.T) {
	ctx, span := noop.NewTracerProvider().Tracer("test").Start(context.Background(), "transcode.ensure")
	defer span.End()

	fields := logLine(t, func(l zerolog.Logger) {
		logger := WithContext(ctx, l)
		logger.Info().Msg("cache hit")
	})
	assert.NotContains(t, fields, FieldTraceID)
	assert.NotContains(t, fields, FieldSpanID)
}

func TestWithComponentFromContextPrefersAttachedLogger(t *testing.T) {
	var buf bytes.Buffer
	attached := zerolog.New(&buf).With().Str("attached", "yes").Logger()
	ctx := ContextWithRequestID(attached.WithContext(context.Background()), "req-3")

	logger := WithComponentFromContext(ctx, "captions")
	logger.Info().Msg("subtitle written")

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "yes", fields["attached"])
	assert.Equal(t, "captions", fields[FieldComponent])
	assert.Equal(t, "req-3", fields[FieldRequestID])
}

func TestWithComponentFromContextFallsBackToBase(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Level: "info", Service: "streamcache", Version: "test"})
	t.Cleanup(func() { Configure(Config{}) })

	logger := WithComponentFromContext(context.Background(), "cacheindex")
	logger.Info().Msg("rebuilt")

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "cacheindex", fields[FieldComponent])
	assert.Equal(t, "streamcache", fields["service"])
}
