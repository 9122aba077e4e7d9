// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpegproc

import (
	"testing"

	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/stretchr/testify/assert"
)

func TestBuildSegmentArgs(t *testing.T) {
	job := transcode.Job{
		SourcePath:  "/media/in put.mkv",
		ArtifactDir: "hls/L21lZGlh",
		Options:     transcode.Options{"preset": "medium", "crf": "23"},
	}

	t.Run("software", func(t *testing.T) {
		got := BuildSegmentArgs(DefaultConfig(), job)
		want := []string{
			"-hide_banner", "-nostdin", "-y",
			"-i", "/media/in put.mkv",
			"-c:v", "libx264",
			"-crf", "23",
			"-preset", "medium",
			"-c:a", "aac",
			"-f", "hls",
			"-hls_time", "10",
			"-hls_list_size", "0",
			"-hls_segment_filename", "hls/L21lZGlh/%03d.ts",
			"hls/L21lZGlh/playlist.m3u8",
		}
		assert.Equal(t, want, got)
	})

	t.Run("cuda", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.HWAccel = "cuda"
		cfg.HWAccelOutputFormat = "cuda"
		cfg.VideoEncoder = "h264_nvenc"
		cfg.SegmentSeconds = 6

		got := BuildSegmentArgs(cfg, transcode.Job{SourcePath: "a.mp4", ArtifactDir: "d"})
		assert.Equal(t, []string{
			"-hide_banner", "-nostdin", "-y",
			"-hwaccel", "cuda", "-hwaccel_output_format", "cuda",
			"-i", "a.mp4",
			"-c:v", "h264_nvenc",
			"-c:a", "aac",
			"-f", "hls",
			"-hls_time", "6",
			"-hls_list_size", "0",
			"-hls_segment_filename", "d/%03d.ts",
			"d/playlist.m3u8",
		}, got)
	})

	t.Run("output format ignored without hwaccel", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.HWAccelOutputFormat = "cuda"
		assert.NotContains(t, BuildSegmentArgs(cfg, job), "-hwaccel_output_format")
	})
}

func TestBuildAudioArgs(t *testing.T) {
	got := BuildAudioArgs(DefaultConfig(), transcode.Job{SourcePath: "a.mp4", ArtifactDir: "d"})
	assert.Equal(t, []string{
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", "error",
		"-i", "a.mp4",
		"-map", "0:a",
		"-c:a", "aac",
		"-ar", "16000",
		"-ac", "2",
		"d/audio.aac",
	}, got)
}
