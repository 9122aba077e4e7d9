// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpegproc transcodes by driving an external ffmpeg process and
// recovering duration and readiness from its diagnostic output.
package ffmpegproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/metrics"
	"github.com/ManuGH/streamcache/internal/procgroup"
	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Name is the strategy name used in config, logs and metrics.
const Name = "process"

const diagnosticTail = 20

// child is one spawned process and the result of its Wait.
type child struct {
	role string // "encoder" or "audio"
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (c *child) running() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// waitCh adapts done/err to the channel procgroup.Terminate consumes.
func (c *child) waitCh() <-chan error {
	ch := make(chan error, 1)
	go func() {
		<-c.done
		ch <- c.err
	}()
	return ch
}

// jobProcs are the children working on one artifact directory.
type jobProcs struct {
	encoder *child
	audio   *child
}

// Strategy runs ffmpeg for segmenting plus a second ffmpeg extracting the
// audio track. It implements transcode.Transcoder and transcode.Aborter.
type Strategy struct {
	cfg Config
	log zerolog.Logger

	newCmd func(name string, args ...string) *exec.Cmd

	mu   sync.Mutex
	jobs map[string]*jobProcs // by artifact dir
	// audioErrs keeps failed extractions after their job record is gone,
	// until the directory is transcoded again.
	audioErrs map[string]error
	wg        sync.WaitGroup
}

// New returns a strategy using cfg.
func New(cfg Config, logger zerolog.Logger) *Strategy {
	if cfg.Bin == "" {
		cfg.Bin = "ffmpeg"
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 2 * time.Second
	}
	return &Strategy{
		cfg:    cfg,
		log:    logger.With().Str(xglog.FieldComponent, "ffmpegproc").Logger(),
		newCmd:    exec.Command,
		jobs:      make(map[string]*jobProcs),
		audioErrs: make(map[string]error),
	}
}

// Name implements transcode.Transcoder.
func (s *Strategy) Name() string { return Name }

// Transcode starts the audio extractor and the segmenting encoder, then
// blocks until the encoder reports the playlist open, its diagnostics end,
// or ctx is canceled. The encoder keeps muxing after a successful return.
func (s *Strategy) Transcode(ctx context.Context, job transcode.Job) (transcode.Outcome, error) {
	logger := xglog.WithContext(ctx, s.log).With().
		Str(xglog.FieldSourcePath, job.SourcePath).
		Str(xglog.FieldArtifactDir, job.ArtifactDir).
		Logger()

	jp := s.begin(job.ArtifactDir)
	audio, err := s.startAudio(job, jp, logger)
	if err != nil {
		s.release(job.ArtifactDir, jp)
		return transcode.Outcome{}, err
	}

	args := BuildSegmentArgs(s.cfg, job)
	cmd := s.newCmd(s.cfg.Bin, args...)
	procgroup.Set(cmd)
	pr, pw := io.Pipe()
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		s.terminate(audio)
		s.release(job.ArtifactDir, jp)
		_ = pr.Close()
		return transcode.Outcome{}, transcode.NewError(transcode.ErrProcessSpawn, "start encoder", err)
	}
	metrics.EncoderProcesses.Inc()
	encoder := s.watch("encoder", cmd, logger, func() { _ = pw.Close() })
	s.mu.Lock()
	jp.encoder = encoder
	s.mu.Unlock()
	s.release(job.ArtifactDir, jp)

	logger.Info().
		Int(xglog.FieldPID, cmd.Process.Pid).
		Str(xglog.FieldEncoder, s.cfg.VideoEncoder).
		Str("args", strings.Join(args, " ")).
		Msg("encoder started")

	stopKill := context.AfterFunc(ctx, func() {
		s.terminate(encoder)
		s.terminate(audio)
	})

	var tail []string
	out, perr := parseDiagnostics(ctx, pr, func(line string) {
		logger.Trace().Str("line", line).Msg("encoder diagnostics")
		if len(tail) == diagnosticTail {
			tail = tail[1:]
		}
		tail = append(tail, line)
	})

	// Keep draining so ffmpeg never blocks on a full stderr pipe.
	go func() { _, _ = io.Copy(io.Discard, pr) }()

	if ctx.Err() != nil {
		stopKill()
		s.terminate(encoder)
		s.terminate(audio)
		<-encoder.done
		<-audio.done
		logger.Info().Str(xglog.FieldEvent, "transcode.canceled").Msg("encoder stopped before the playlist was ready")
		return transcode.Outcome{}, ctx.Err()
	}
	stopKill()

	if perr != nil {
		logger.Warn().Err(perr).Msg("encoder diagnostics unreadable, serving what exists")
	}
	if !out.Complete {
		logger.Warn().
			Float64(xglog.FieldDuration, out.DurationSeconds).
			Strs("stderr_tail", tail).
			Msg("encoder diagnostics ended without opening the playlist")
	}
	return transcode.Outcome{DurationSeconds: out.DurationSeconds, Complete: out.Complete}, nil
}

// ExtractAudio starts only the audio extractor for job. It is used by
// strategies that segment in-process.
func (s *Strategy) ExtractAudio(job transcode.Job) error {
	logger := s.log.With().Str(xglog.FieldArtifactDir, job.ArtifactDir).Logger()
	jp := s.begin(job.ArtifactDir)
	_, err := s.startAudio(job, jp, logger)
	s.release(job.ArtifactDir, jp)
	return err
}

func (s *Strategy) startAudio(job transcode.Job, jp *jobProcs, logger zerolog.Logger) (*child, error) {
	cmd := s.newCmd(s.cfg.Bin, BuildAudioArgs(s.cfg, job)...)
	procgroup.Set(cmd)
	if err := cmd.Start(); err != nil {
		return nil, transcode.NewError(transcode.ErrProcessSpawn, "start audio extractor", err)
	}
	audio := s.watch("audio", cmd, logger, nil)
	s.mu.Lock()
	jp.audio = audio
	s.mu.Unlock()
	logger.Debug().Int(xglog.FieldPID, cmd.Process.Pid).Msg("audio extractor started")
	return audio, nil
}

// watch reaps cmd in the background and logs its exit. The result never
// reaches a request that was already answered.
func (s *Strategy) watch(role string, cmd *exec.Cmd, logger zerolog.Logger, after func()) *child {
	c := &child{role: role, cmd: cmd, done: make(chan struct{})}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.err = cmd.Wait()
		if after != nil {
			after()
		}
		close(c.done)

		ev := logger.Info()
		if c.err != nil {
			ev = logger.Warn().Err(c.err)
		}
		ev.Str("role", role).
			Int(xglog.FieldPID, cmd.Process.Pid).
			Int("exit_code", cmd.ProcessState.ExitCode()).
			Msg("child process exited")
		if role == "encoder" {
			metrics.EncoderProcesses.Dec()
		}
	}()
	return c
}

// begin registers a fresh record for dir. Children are attached to it before
// release, so a child exiting early never leaves the others unrecorded.
func (s *Strategy) begin(dir string) *jobProcs {
	jp := &jobProcs{}
	s.mu.Lock()
	s.jobs[dir] = jp
	delete(s.audioErrs, dir)
	s.mu.Unlock()
	return jp
}

// release hands jp to a reaper that drops it once every child exited.
func (s *Strategy) release(dir string, jp *jobProcs) {
	s.wg.Add(1)
	go s.forgetWhenDone(dir, jp)
}

func (s *Strategy) forgetWhenDone(dir string, jp *jobProcs) {
	defer s.wg.Done()
	for _, c := range s.children(jp) {
		<-c.done
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[dir] != jp {
		return
	}
	delete(s.jobs, dir)
	if jp.audio != nil && jp.audio.err != nil {
		s.audioErrs[dir] = jp.audio.err
	}
}

func (s *Strategy) children(jp *jobProcs) []*child {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*child
	if jp.encoder != nil {
		out = append(out, jp.encoder)
	}
	if jp.audio != nil {
		out = append(out, jp.audio)
	}
	return out
}

func (s *Strategy) terminate(c *child) {
	if c == nil || !c.running() {
		return
	}
	if err := procgroup.Terminate(c.cmd, c.waitCh(), s.cfg.KillGrace); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			s.log.Warn().Err(err).Str("role", c.role).Msg("terminate child")
		}
	}
}

// WaitAudio blocks until the audio extraction for dir finished and returns
// its failure, if any. Directories without an extraction return immediately.
func (s *Strategy) WaitAudio(ctx context.Context, dir string) error {
	s.mu.Lock()
	var audio *child
	if jp, ok := s.jobs[dir]; ok {
		audio = jp.audio
	}
	kept := s.audioErrs[dir]
	s.mu.Unlock()
	if audio == nil {
		if kept != nil {
			return transcode.NewError(transcode.ErrIO, "extract audio", kept)
		}
		return nil
	}

	select {
	case <-audio.done:
		if audio.err != nil {
			return transcode.NewError(transcode.ErrIO, "extract audio", audio.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort implements transcode.Aborter: it stops every child still working on
// dir and reports whether there was one.
func (s *Strategy) Abort(dir string) bool {
	s.mu.Lock()
	jp, ok := s.jobs[dir]
	s.mu.Unlock()
	if !ok {
		return false
	}
	stopped := false
	for _, c := range s.children(jp) {
		if c.running() {
			stopped = true
			s.terminate(c)
		}
	}
	return stopped
}

// Running returns the number of children still alive.
func (s *Strategy) Running() int {
	s.mu.Lock()
	jobs := make([]*jobProcs, 0, len(s.jobs))
	for _, jp := range s.jobs {
		jobs = append(jobs, jp)
	}
	s.mu.Unlock()

	n := 0
	for _, jp := range jobs {
		for _, c := range s.children(jp) {
			if c.running() {
				n++
			}
		}
	}
	return n
}

// Close terminates every child and waits for the reapers, bounded by ctx.
func (s *Strategy) Close(ctx context.Context) error {
	s.mu.Lock()
	dirs := make([]string, 0, len(s.jobs))
	for dir := range s.jobs {
		dirs = append(dirs, dir)
	}
	s.mu.Unlock()

	var g errgroup.Group
	for _, dir := range dirs {
		g.Go(func() error {
			s.Abort(dir)
			return nil
		})
	}
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for encoder processes: %w", ctx.Err())
	}
}
