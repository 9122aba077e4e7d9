// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpegproc

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/ManuGH/streamcache/internal/transcode"
)

// Config describes how the external encoder is invoked.
type Config struct {
	Bin                 string
	HWAccel             string // e.g. "cuda"; empty for software decoding
	HWAccelOutputFormat string
	VideoEncoder        string // e.g. "libx264", "h264_nvenc"
	AudioCodec          string
	SegmentSeconds      int
	AudioSampleRate     int
	AudioChannels       int
	// KillGrace is how long a child gets between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

// DefaultConfig is a software x264 setup.
func DefaultConfig() Config {
	return Config{
		Bin:             "ffmpeg",
		VideoEncoder:    "libx264",
		AudioCodec:      "aac",
		SegmentSeconds:  10,
		AudioSampleRate: 16000,
		AudioChannels:   2,
		KillGrace:       2 * time.Second,
	}
}

// BuildSegmentArgs returns the encoder arguments producing
// DIR/playlist.m3u8 and DIR/NNN.ts. Encoder options are passed as private
// options of the video encoder in sorted order. Log level stays at info
// because the playlist-opened line is logged there.
func BuildSegmentArgs(cfg Config, job transcode.Job) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if cfg.HWAccel != "" {
		args = append(args, "-hwaccel", cfg.HWAccel)
		if cfg.HWAccelOutputFormat != "" {
			args = append(args, "-hwaccel_output_format", cfg.HWAccelOutputFormat)
		}
	}
	args = append(args,
		"-i", job.SourcePath,
		"-c:v", cfg.VideoEncoder,
	)
	for _, k := range job.Options.Keys() {
		args = append(args, "-"+k, job.Options[k])
	}
	args = append(args,
		"-c:a", cfg.AudioCodec,
		"-f", "hls",
		"-hls_time", strconv.Itoa(cfg.SegmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(job.ArtifactDir, "%03d.ts"),
		filepath.Join(job.ArtifactDir, transcode.PlaylistName),
	)
	return args
}

// BuildAudioArgs returns the arguments of the audio-only extraction used
// for captioning.
func BuildAudioArgs(cfg Config, job transcode.Job) []string {
	return []string{
		"-hide_banner", "-nostdin", "-y",
		"-loglevel", "error",
		"-i", job.SourcePath,
		"-map", "0:a",
		"-c:a", "aac",
		"-ar", strconv.Itoa(cfg.AudioSampleRate),
		"-ac", strconv.Itoa(cfg.AudioChannels),
		filepath.Join(job.ArtifactDir, transcode.AudioName),
	}
}
