// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package framepipe

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"

	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/rs/zerolog"
)

// Name is the strategy name used in config, logs and metrics.
const Name = "frame"

// ErrBackendUnavailable is returned when the binary was built without libav.
var ErrBackendUnavailable = errors.New("built without libav (rebuild with -tags astiav)")

// AudioExtractor starts the captioning audio rendition next to a job.
type AudioExtractor interface {
	ExtractAudio(job transcode.Job) error
}

// StrategyConfig configures the frame strategy.
type StrategyConfig struct {
	VideoEncoder   string
	SegmentSeconds int
}

// Strategy runs a Pipeline per job and implements transcode.Transcoder.
type Strategy struct {
	backend Backend
	cfg     StrategyConfig
	audio   AudioExtractor
	log     zerolog.Logger
}

// NewStrategy returns a frame strategy. audio may be nil.
func NewStrategy(backend Backend, cfg StrategyConfig, audio AudioExtractor, logger zerolog.Logger) *Strategy {
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = 10
	}
	if cfg.VideoEncoder == "" {
		cfg.VideoEncoder = "libx264"
	}
	return &Strategy{backend: backend, cfg: cfg, audio: audio, log: logger}
}

// Name implements transcode.Transcoder.
func (s *Strategy) Name() string { return Name }

// Transcode runs the whole pipeline before returning, so the outcome is
// always complete.
func (s *Strategy) Transcode(ctx context.Context, job transcode.Job) (transcode.Outcome, error) {
	if s.audio != nil {
		if err := s.audio.ExtractAudio(job); err != nil {
			return transcode.Outcome{}, err
		}
	}

	logger := xglog.WithContext(ctx, s.log).With().
		Str(xglog.FieldSourcePath, job.SourcePath).
		Str(xglog.FieldArtifactDir, job.ArtifactDir).
		Logger()

	p := NewPipeline(s.backend, Config{
		VideoEncoder: s.cfg.VideoEncoder,
		Options:      job.Options,
		OutputFormat: "hls",
		MuxerOptions: HLSMuxerOptions(job.ArtifactDir, s.cfg.SegmentSeconds),
	}, logger)

	if err := p.Run(ctx, job.SourcePath, filepath.Join(job.ArtifactDir, transcode.PlaylistName)); err != nil {
		s.Abort(job.ArtifactDir)
		return transcode.Outcome{}, err
	}
	return transcode.Outcome{DurationSeconds: p.DurationSeconds(), Complete: true}, nil
}

// Abort stops the audio extractor of dir when it supports aborting.
func (s *Strategy) Abort(dir string) bool {
	if a, ok := s.audio.(transcode.Aborter); ok {
		return a.Abort(dir)
	}
	return false
}

// HLSMuxerOptions are the hls muxer settings matching the process strategy.
func HLSMuxerOptions(dir string, segmentSeconds int) map[string]string {
	return map[string]string{
		"hls_time":             strconv.Itoa(segmentSeconds),
		"hls_list_size":        "0",
		"hls_segment_filename": filepath.Join(dir, "%03d.ts"),
	}
}
