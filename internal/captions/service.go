// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package captions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/streamcache/internal/cacheindex"
	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/metrics"
	"github.com/ManuGH/streamcache/internal/telemetry"
	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// ErrNotCached is returned for sources without a cached rendition.
var ErrNotCached = errors.New("captions: source has not been transcoded")

// Index resolves sources to artifact directories.
type Index interface {
	Lookup(sourceID string) (cacheindex.Entry, bool)
	ArtifactDir(dirID string) string
}

// AudioWaiter blocks until the audio rendition of an artifact directory is
// complete.
type AudioWaiter interface {
	WaitAudio(ctx context.Context, artifactDir string) error
}

// URLBuilder maps an artifact file to its public URL.
type URLBuilder interface {
	ArtifactURL(dirID, name string) string
}

// Result is a generated or cached caption track.
type Result struct {
	SourcePath   string `json:"source_path"`
	SubtitlePath string `json:"-"`
	SubtitleURL  string `json:"subtitle_url"`
	Cues         int    `json:"cues"`
	Cached       bool   `json:"cached"`
}

// ServiceConfig configures caption generation.
type ServiceConfig struct {
	// Timeout bounds one generation from audio wait to file write.
	Timeout time.Duration
}

// Service generates subtitle.vtt next to a cached rendition.
type Service struct {
	index  Index
	audio  AudioWaiter
	client *Client
	urls   URLBuilder
	cfg    ServiceConfig
	log    zerolog.Logger

	group singleflight.Group
}

// NewService wires a caption service. audio may be nil when nothing tracks
// audio extraction.
func NewService(ix Index, audio AudioWaiter, client *Client, urls URLBuilder, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Service{
		index:  ix,
		audio:  audio,
		client: client,
		urls:   urls,
		cfg:    cfg,
		log:    logger.With().Str(xglog.FieldComponent, "captions").Logger(),
	}
}

// Generate returns the caption track of sourcePath, asking the provider for
// it on first use. Concurrent calls for one source share a single provider
// job; a caller whose ctx ends stops waiting without aborting that job.
func (s *Service) Generate(ctx context.Context, sourcePath string) (res Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "captions.generate")
	defer func() {
		if err != nil {
			span.SetAttributes(telemetry.ErrorAttributes(transcode.KindOf(err))...)
		}
		telemetry.End(span, err)
	}()

	entry, ok := s.index.Lookup(sourcePath)
	if !ok {
		metrics.IncCaptions("not_cached")
		return Result{}, ErrNotCached
	}
	span.SetAttributes(telemetry.SourceAttributes(sourcePath, entry.ArtifactDirID)...)

	res = Result{
		SourcePath:   sourcePath,
		SubtitlePath: filepath.Join(s.index.ArtifactDir(entry.ArtifactDirID), transcode.SubtitleName),
		SubtitleURL:  s.urls.ArtifactURL(entry.ArtifactDirID, transcode.SubtitleName),
	}
	if _, err := os.Stat(res.SubtitlePath); err == nil {
		metrics.IncCaptions("cached")
		res.Cached = true
		return res, nil
	}

	logger := xglog.WithContext(ctx, s.log)
	work := context.WithoutCancel(ctx)
	ch := s.group.DoChan(entry.ArtifactDirID, func() (any, error) {
		return s.generate(work, entry, res.SubtitlePath, logger)
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			metrics.IncCaptions("error")
			return Result{}, r.Err
		}
		res.Cues = r.Val.(int)
		metrics.IncCaptions("generated")
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Service) generate(ctx context.Context, e cacheindex.Entry, subtitlePath string, logger zerolog.Logger) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	dir := s.index.ArtifactDir(e.ArtifactDirID)
	logger = logger.With().
		Str(xglog.FieldSourcePath, e.SourceID).
		Str(xglog.FieldArtifactDir, dir).
		Logger()
	start := time.Now()

	if s.audio != nil {
		if err := s.audio.WaitAudio(ctx, dir); err != nil {
			return 0, err
		}
	}
	audio, err := os.ReadFile(filepath.Join(dir, transcode.AudioName))
	if err != nil {
		return 0, transcode.NewError(transcode.ErrIO, "read audio rendition", err)
	}

	id, err := s.client.Submit(ctx, audio)
	if err != nil {
		return 0, err
	}
	logger = logger.With().Str(xglog.FieldJobID, id).Logger()

	cues, err := s.client.Await(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := writeVTTFile(subtitlePath, cues); err != nil {
		return 0, transcode.NewError(transcode.ErrIO, "write captions", err)
	}
	trace.SpanFromContext(ctx).SetAttributes(telemetry.CaptionAttributes(id, len(cues))...)

	logger.Info().
		Str(xglog.FieldEvent, "captions.generated").
		Int("cues", len(cues)).
		Dur("elapsed", time.Since(start)).
		Msg("captions generated")
	return len(cues), nil
}

func writeVTTFile(path string, cues []Utterance) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if err := WriteVTT(pending, cues); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}
