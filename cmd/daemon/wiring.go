// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"fmt"
	"net/http"

	"github.com/ManuGH/streamcache/internal/api"
	"github.com/ManuGH/streamcache/internal/api/middleware"
	"github.com/ManuGH/streamcache/internal/cacheindex"
	"github.com/ManuGH/streamcache/internal/captions"
	"github.com/ManuGH/streamcache/internal/config"
	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/ManuGH/streamcache/internal/transcode/ffmpegproc"
	"github.com/ManuGH/streamcache/internal/transcode/framepipe"
	"github.com/ManuGH/streamcache/internal/vod"
	"github.com/rs/zerolog"
)

// components are the long-lived objects of one daemon.
type components struct {
	index      *cacheindex.Index
	procs      *ffmpegproc.Strategy
	strategy   transcode.Transcoder
	jobs       *vod.Manager
	transcodes *transcode.Service
	captions   *captions.Service
	handler    http.Handler
}

func ffmpegConfig(cfg config.AppConfig) ffmpegproc.Config {
	return ffmpegproc.Config{
		Bin:                 cfg.FFmpeg.Bin,
		HWAccel:             cfg.FFmpeg.HWAccel,
		HWAccelOutputFormat: cfg.FFmpeg.HWAccelOutputFormat,
		VideoEncoder:        cfg.FFmpeg.VideoEncoder,
		AudioCodec:          cfg.FFmpeg.AudioCodec,
		SegmentSeconds:      cfg.FFmpeg.SegmentSeconds,
		AudioSampleRate:     cfg.FFmpeg.AudioSampleRate,
		AudioChannels:       cfg.FFmpeg.AudioChannels,
		KillGrace:           cfg.FFmpeg.KillGrace,
	}
}

// buildStrategy returns the configured transcoder. The process strategy is
// always built because it also extracts the captioning audio.
func buildStrategy(cfg config.AppConfig, backend func() (framepipe.Backend, error), logger zerolog.Logger) (transcode.Transcoder, *ffmpegproc.Strategy, error) {
	procs := ffmpegproc.New(ffmpegConfig(cfg), logger)
	switch cfg.Strategy {
	case config.StrategyProcess:
		return procs, procs, nil
	case config.StrategyFrame:
		b, err := backend()
		if err != nil {
			return nil, nil, fmt.Errorf("frame strategy: %w", err)
		}
		fs := framepipe.NewStrategy(b, framepipe.StrategyConfig{
			VideoEncoder:   cfg.FFmpeg.VideoEncoder,
			SegmentSeconds: cfg.FFmpeg.SegmentSeconds,
		}, procs, logger)
		return fs, procs, nil
	default:
		return nil, nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

func buildComponents(cfg config.AppConfig, logger zerolog.Logger) (*components, error) {
	opts, err := transcode.ParseOptions(cfg.FFmpeg.EncoderOptions)
	if err != nil {
		return nil, err
	}

	c := &components{
		index: cacheindex.New(cfg.ArtifactRoot, cacheindex.Options{ValidateOnLookup: cfg.ValidateOnLookup}, logger),
		jobs:  vod.NewManager(logger),
	}

	c.strategy, c.procs, err = buildStrategy(cfg, framepipe.DefaultBackend, logger)
	if err != nil {
		return nil, err
	}

	c.transcodes = transcode.NewService(c.index, c.strategy, c.jobs, transcode.ServiceConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		URLPrefix:     cfg.URLPrefix,
		Options:       opts,
	}, logger)

	deps := api.Deps{
		Transcodes: c.transcodes,
		Cache:      c.index,
		Logger:     logger,
	}
	if cfg.Captions.Enabled() {
		client := captions.NewClient(captions.ClientConfig{
			Endpoint:     cfg.Captions.Endpoint,
			AppID:        cfg.Captions.AppID,
			AccessToken:  cfg.Captions.AccessToken,
			MaxLines:     cfg.Captions.MaxLines,
			PollInterval: cfg.Captions.PollInterval,
		}, logger)
		c.captions = captions.NewService(c.index, c.procs, client, c.transcodes, captions.ServiceConfig{
			Timeout: cfg.Captions.Timeout,
		}, logger)
		deps.Captions = c.captions
	}

	rpm := 0
	if cfg.RateLimit.Enabled {
		rpm = cfg.RateLimit.RPM
	}
	c.handler = api.New(api.Config{
		Version:      cfg.Version,
		ArtifactRoot: cfg.ArtifactRoot,
		URLPrefix:    cfg.URLPrefix,
		Stack: middleware.StackConfig{
			EnableCORS:     true,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			EnableMetrics:  true,
			EnableTracing:  cfg.Telemetry.Enabled,
			EnableLogging:  true,
		},
		RateLimitRPM: rpm,
	}, deps).Handler()

	return c, nil
}
