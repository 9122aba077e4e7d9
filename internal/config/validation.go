// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/rs/zerolog"
)

// ValidationError names the offending key.
type ValidationError struct {
	Field string
	Value any
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Msg, e.Value)
}

// Validate checks cfg and reports every problem found.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Msg: msg})
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil || cfg.LogLevel == "" {
		add("logLevel", cfg.LogLevel, "unknown log level")
	}
	if strings.TrimSpace(cfg.ArtifactRoot) == "" {
		add("artifactRoot", cfg.ArtifactRoot, "must not be empty")
	}
	if _, _, err := net.SplitHostPort(cfg.ListenAddr); err != nil {
		add("listenAddr", cfg.ListenAddr, "must be host:port")
	}
	if u, err := url.Parse(cfg.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("publicBaseURL", cfg.PublicBaseURL, "must be an absolute URL")
	}
	if !strings.HasPrefix(cfg.URLPrefix, "/") {
		add("urlPrefix", cfg.URLPrefix, "must start with /")
	}
	switch cfg.Strategy {
	case StrategyProcess, StrategyFrame:
	default:
		add("strategy", cfg.Strategy, "must be process or frame")
	}

	if cfg.FFmpeg.Bin == "" {
		add("ffmpeg.bin", cfg.FFmpeg.Bin, "must not be empty")
	}
	if cfg.FFmpeg.VideoEncoder == "" {
		add("ffmpeg.videoEncoder", cfg.FFmpeg.VideoEncoder, "must not be empty")
	}
	if _, err := transcode.ParseOptions(cfg.FFmpeg.EncoderOptions); err != nil {
		add("ffmpeg.encoderOptions", cfg.FFmpeg.EncoderOptions, err.Error())
	}
	if cfg.FFmpeg.SegmentSeconds <= 0 {
		add("ffmpeg.segmentSeconds", cfg.FFmpeg.SegmentSeconds, "must be positive")
	}
	if cfg.FFmpeg.AudioSampleRate <= 0 {
		add("ffmpeg.audioSampleRate", cfg.FFmpeg.AudioSampleRate, "must be positive")
	}
	if cfg.FFmpeg.AudioChannels <= 0 {
		add("ffmpeg.audioChannels", cfg.FFmpeg.AudioChannels, "must be positive")
	}

	if u, err := url.Parse(cfg.Captions.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		add("captions.endpoint", cfg.Captions.Endpoint, "must be an absolute URL")
	}
	if cfg.Captions.PollInterval <= 0 {
		add("captions.pollInterval", cfg.Captions.PollInterval, "must be positive")
	}
	if cfg.Captions.Timeout <= 0 {
		add("captions.timeout", cfg.Captions.Timeout, "must be positive")
	}
	if cfg.Captions.MaxLines <= 0 {
		add("captions.maxLines", cfg.Captions.MaxLines, "must be positive")
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RPM <= 0 {
		add("rateLimit.rpm", cfg.RateLimit.RPM, "must be positive when enabled")
	}

	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.Exporter != "grpc" && cfg.Telemetry.Exporter != "http" {
			add("telemetry.exporter", cfg.Telemetry.Exporter, "must be grpc or http")
		}
		if cfg.Telemetry.Endpoint == "" {
			add("telemetry.endpoint", cfg.Telemetry.Endpoint, "must not be empty")
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate", cfg.Telemetry.SamplingRate, "must be within [0,1]")
		}
	}

	return errors.Join(errs...)
}
