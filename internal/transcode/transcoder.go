// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcode turns a source media file into a cached HLS rendition.
// The actual transform is pluggable: an external ffmpeg process or the
// in-process frame pipeline, both behind Transcoder.
package transcode

import "context"

// File names inside an artifact directory.
const (
	PlaylistName = "playlist.m3u8"
	AudioName    = "audio.aac"
	SubtitleName = "subtitle.vtt"
	SegmentGlob  = "*.ts"
)

// Job is one transform request handed to a Transcoder.
type Job struct {
	SourcePath  string
	ArtifactDir string
	Options     Options
}

// Outcome is what a Transcoder learned about the rendition.
type Outcome struct {
	DurationSeconds float64
	// Complete is false when the transform ended without confirming the
	// playlist. The job is still treated as a success since segments may
	// already be playable.
	Complete bool
}

// Transcoder produces ArtifactDir/playlist.m3u8 and its segments for a job.
// Implementations must stop their work and return ctx.Err() when ctx is
// canceled before the playlist is ready.
type Transcoder interface {
	Name() string
	Transcode(ctx context.Context, job Job) (Outcome, error)
}

// Aborter is implemented by transcoders that keep working on an artifact
// directory after Transcode returned.
type Aborter interface {
	Abort(artifactDir string) bool
}
