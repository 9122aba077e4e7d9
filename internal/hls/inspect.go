// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hls reads the media playlists written by the transcoders.
package hls

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Segment is one media segment of a playlist.
type Segment struct {
	URI      string
	Duration time.Duration
}

// PlaylistInfo summarises a media playlist.
type PlaylistInfo struct {
	TargetDuration time.Duration
	Segments       []Segment
	TotalDuration  time.Duration
	// Ended is set by #EXT-X-ENDLIST, i.e. the muxer finished.
	Ended bool
	// VOD is set by #EXT-X-PLAYLIST-TYPE:VOD or Ended.
	VOD bool
}

// Inspect parses a media playlist. Segments without a preceding #EXTINF
// count with zero duration.
func Inspect(r io.Reader) (PlaylistInfo, error) {
	var (
		info         PlaylistInfo
		nextDuration time.Duration
		sawHeader    bool
		lineNo       int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if line != "#EXTM3U" {
				return PlaylistInfo{}, fmt.Errorf("line %d: missing #EXTM3U header", lineNo)
			}
			sawHeader = true
			continue
		}

		switch {
		case line == "#EXT-X-ENDLIST":
			info.Ended = true

		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:"):
			info.VOD = strings.TrimPrefix(line, "#EXT-X-PLAYLIST-TYPE:") == "VOD"

		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v := strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")
			secs, err := strconv.Atoi(v)
			if err != nil {
				return PlaylistInfo{}, fmt.Errorf("line %d: invalid target duration %q", lineNo, v)
			}
			info.TargetDuration = time.Duration(secs) * time.Second

		case strings.HasPrefix(line, "#EXTINF:"):
			// #EXTINF:10.000000,
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil || secs < 0 {
				return PlaylistInfo{}, fmt.Errorf("line %d: invalid EXTINF duration %q", lineNo, durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))

		case strings.HasPrefix(line, "#"):
			// other tags and comments

		default:
			info.Segments = append(info.Segments, Segment{URI: line, Duration: nextDuration})
			info.TotalDuration += nextDuration
			nextDuration = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return PlaylistInfo{}, err
	}
	if !sawHeader {
		return PlaylistInfo{}, fmt.Errorf("empty playlist")
	}

	info.VOD = info.VOD || info.Ended
	return info, nil
}

// InspectFile parses the playlist at path.
func InspectFile(path string) (PlaylistInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return PlaylistInfo{}, err
	}
	defer func() { _ = f.Close() }()
	return Inspect(f)
}
