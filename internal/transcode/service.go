// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ManuGH/streamcache/internal/cacheindex"
	"github.com/ManuGH/streamcache/internal/keycodec"
	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/metrics"
	"github.com/ManuGH/streamcache/internal/telemetry"
	"github.com/ManuGH/streamcache/internal/vod"
	"github.com/rs/zerolog"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// PublicBaseURL is the scheme and host players use, e.g. "http://localhost:3117".
	PublicBaseURL string
	// URLPrefix is the path the artifact root is served under, e.g. "/hls".
	URLPrefix string
	Options   Options
}

// Result is what a caller gets back for a source.
type Result struct {
	SourcePath      string  `json:"source_path"`
	ArtifactDirID   string  `json:"artifact_dir_id"`
	PlaylistPath    string  `json:"playlist_path"`
	PlaylistURL     string  `json:"playlist_url"`
	DurationSeconds float64 `json:"duration"`
	Cached          bool    `json:"cached"`
}

// Service answers "give me a playlist for this source", transcoding at most
// once per source. Concurrent first requests share one job.
type Service struct {
	index *cacheindex.Index
	tc    Transcoder
	jobs  *vod.Manager
	cfg   ServiceConfig
	log   zerolog.Logger
}

// NewService wires a Service.
func NewService(ix *cacheindex.Index, tc Transcoder, mgr *vod.Manager, cfg ServiceConfig, logger zerolog.Logger) *Service {
	if cfg.URLPrefix == "" {
		cfg.URLPrefix = "/hls"
	}
	cfg.URLPrefix = "/" + strings.Trim(cfg.URLPrefix, "/")
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Service{
		index: ix,
		tc:    tc,
		jobs:  mgr,
		cfg:   cfg,
		log:   logger.With().Str(xglog.FieldComponent, "transcode").Str(xglog.FieldStrategy, tc.Name()).Logger(),
	}
}

// Strategy names the configured transcoder.
func (s *Service) Strategy() string {
	return s.tc.Name()
}

// Ensure returns the cached rendition of sourcePath, transcoding it first on
// a miss. If ctx ends while a job is running the caller stops waiting but the
// job carries on for other callers; use Cancel to stop it.
func (s *Service) Ensure(ctx context.Context, sourcePath string) (res Result, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "transcode.ensure")
	span.SetAttributes(telemetry.SourceAttributes(sourcePath, "")...)
	defer func() {
		if err == nil {
			span.SetAttributes(telemetry.TranscodeAttributes(s.tc.Name(), res.Cached, true, res.DurationSeconds)...)
		} else {
			span.SetAttributes(telemetry.ErrorAttributes(KindOf(err))...)
		}
		telemetry.End(span, err)
	}()

	if err := validateSource(sourcePath); err != nil {
		return Result{}, err
	}

	if e, ok := s.index.Lookup(sourcePath); ok {
		return s.result(e, true), nil
	}

	dirID := keycodec.Encode(sourcePath)
	logger := xglog.WithContext(ctx, s.log)
	run, isNew := s.jobs.Ensure(ctx, vod.JobSpec{ID: dirID, SourcePath: sourcePath, Kind: "transcode"}, s.build)
	if run == nil {
		return Result{}, ctx.Err()
	}
	if !isNew {
		logger.Debug().Str(xglog.FieldSourcePath, sourcePath).Msg("joining in-flight transcode")
	}

	if err := run.Wait(ctx); err != nil {
		return Result{}, err
	}

	e, ok := s.index.Lookup(sourcePath)
	if !ok {
		return Result{}, NewError(ErrIO, "lookup after transcode", fmt.Errorf("artifact directory for %s vanished", sourcePath))
	}
	return s.result(e, false), nil
}

// Cancel stops the job for sourcePath, including work a transcoder keeps
// doing in the background. It reports whether anything was stopped. A
// rendition whose encoder is stopped after it was published is incomplete,
// so its entry and artifact directory are removed as well.
func (s *Service) Cancel(sourcePath string) bool {
	dirID := keycodec.Encode(sourcePath)
	dir := s.index.ArtifactDir(dirID)
	inFlight := s.jobs.Cancel(dirID)
	background := false
	if a, ok := s.tc.(Aborter); ok {
		background = a.Abort(dir)
	}
	if !inFlight && !background {
		return false
	}

	logger := s.log.With().Str(xglog.FieldSourcePath, sourcePath).Logger()
	// An in-flight job cleans up after itself when its build returns.
	if !inFlight {
		s.index.Remove(sourcePath)
		if err := removeArtifactDir(s.index.Root(), dir); err != nil {
			logger.Warn().Err(err).Msg("failed to remove artifact directory of canceled rendition")
		}
		metrics.IncCacheEviction("cancel")
	}
	logger.Info().
		Str(xglog.FieldEvent, "transcode.cancel").
		Bool("published", !inFlight).
		Msg("transcode canceled")
	return true
}

// PlaylistURL is the player-facing URL of the playlist in dirID.
func (s *Service) PlaylistURL(dirID string) string {
	return s.ArtifactURL(dirID, PlaylistName)
}

// ArtifactURL is the player-facing URL of name inside dirID.
func (s *Service) ArtifactURL(dirID, name string) string {
	segs := strings.Split(dirID, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.cfg.PublicBaseURL + s.cfg.URLPrefix + "/" + strings.Join(segs, "/") + "/" + url.PathEscape(name)
}

// build runs inside the job manager, once per artifact directory at a time.
func (s *Service) build(ctx context.Context, spec vod.JobSpec) (err error) {
	// A job that finished between the caller's lookup and this run.
	if _, ok := s.index.Lookup(spec.SourcePath); ok {
		return nil
	}

	logger := xglog.WithContext(ctx, s.log).With().
		Str(xglog.FieldSourcePath, spec.SourcePath).
		Str(xglog.FieldArtifactDir, spec.ID).
		Logger()

	dir := s.index.ArtifactDir(spec.ID)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return NewError(ErrIO, "create artifact dir", err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return NewError(ErrIO, "create artifact dir", err)
		}
		logger.Info().Msg("reusing existing artifact directory")
	}

	start := time.Now()
	metrics.TranscodesInFlight.Inc()
	defer metrics.TranscodesInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcode panicked: %v", r)
		}
		if err == nil {
			return
		}
		outcome := "error"
		if errors.Is(err, context.Canceled) {
			outcome = "canceled"
		}
		metrics.ObserveTranscode(s.tc.Name(), outcome, time.Since(start))
		if a, ok := s.tc.(Aborter); ok {
			a.Abort(dir)
		}
		if rmErr := removeArtifactDir(s.index.Root(), dir); rmErr != nil {
			logger.Warn().Err(rmErr).Msg("failed to remove artifact directory of failed job")
		}
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "transcode.failed").
			Str("kind", KindOf(err)).
			Msg("transcode failed")
	}()

	logger.Info().Str(xglog.FieldEvent, "transcode.start").Msg("transcoding source")

	out, err := s.tc.Transcode(ctx, Job{
		SourcePath:  spec.SourcePath,
		ArtifactDir: dir,
		Options:     s.cfg.Options,
	})
	if err != nil {
		return err
	}

	if err := s.index.Insert(spec.SourcePath, cacheindex.Entry{
		SourceID:        spec.SourcePath,
		ArtifactDirID:   spec.ID,
		DurationSeconds: out.DurationSeconds,
	}); err != nil && !errors.Is(err, cacheindex.ErrExists) {
		return NewError(ErrIO, "insert cache entry", err)
	}

	outcome := "success"
	if !out.Complete {
		outcome = "lenient"
		logger.Warn().
			Str(xglog.FieldEvent, "transcode.lenient").
			Float64(xglog.FieldDuration, out.DurationSeconds).
			Msg("encoder output ended before the playlist was confirmed, serving what exists")
	}
	metrics.ObserveTranscode(s.tc.Name(), outcome, time.Since(start))
	logger.Info().
		Str(xglog.FieldEvent, "transcode.ready").
		Float64(xglog.FieldDuration, out.DurationSeconds).
		Dur("elapsed", time.Since(start)).
		Msg("playlist ready")
	return nil
}

func (s *Service) result(e cacheindex.Entry, cached bool) Result {
	return Result{
		SourcePath:      e.SourceID,
		ArtifactDirID:   e.ArtifactDirID,
		PlaylistPath:    filepath.Join(s.index.ArtifactDir(e.ArtifactDirID), PlaylistName),
		PlaylistURL:     s.PlaylistURL(e.ArtifactDirID),
		DurationSeconds: e.DurationSeconds,
		Cached:          cached,
	}
}

func validateSource(p string) error {
	if strings.TrimSpace(p) == "" {
		return NewError(ErrInvalidSource, "validate", errors.New("empty path"))
	}
	if !utf8.ValidString(p) {
		return NewError(ErrInvalidSource, "validate", errors.New("path is not valid UTF-8"))
	}
	if strings.ContainsRune(p, 0) {
		return NewError(ErrInvalidSource, "validate", errors.New("path contains NUL"))
	}
	return nil
}

// removeArtifactDir deletes dir and then any continuation directories of a
// split key that it leaves empty, stopping at root.
func removeArtifactDir(root, dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	root = filepath.Clean(root)
	for parent := filepath.Dir(dir); parent != root && keycodec.IsContinuation(filepath.Base(parent)); parent = filepath.Dir(parent) {
		if err := os.Remove(parent); err != nil {
			// Not empty: another split key shares this prefix.
			break
		}
	}
	return nil
}
