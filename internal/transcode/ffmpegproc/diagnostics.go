// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpegproc

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"regexp"
	"strconv"

	"github.com/ManuGH/streamcache/internal/transcode"
)

var (
	durationRe       = regexp.MustCompile(`Duration: (\d{2,}):(\d{2}):(\d{2}(?:\.\d+)?)`)
	playlistOpenedRe = regexp.MustCompile(`Opening '.+?m3u8\.tmp' for writing`)
)

const maxDiagnosticLine = 1 << 20

// ParseDiagnostics reads ffmpeg's stderr until the HLS muxer opens the
// playlist for writing. It then returns Complete=true with the last
// announced duration, leaving the rest of r unread. If r ends first the
// outcome has Complete=false. ctx is checked between lines.
func ParseDiagnostics(ctx context.Context, r io.Reader) (transcode.Outcome, error) {
	return parseDiagnostics(ctx, r, nil)
}

func parseDiagnostics(ctx context.Context, r io.Reader, onLine func(string)) (transcode.Outcome, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxDiagnosticLine)
	sc.Split(scanLinesCR)

	var out transcode.Outcome
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		line := sc.Text()
		if onLine != nil {
			onLine(line)
		}
		if d, ok := parseDuration(line); ok {
			out.DurationSeconds = d
		}
		if playlistOpenedRe.MatchString(line) {
			out.Complete = true
			return out, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if err := sc.Err(); err != nil {
		return out, transcode.NewError(transcode.ErrIO, "read encoder diagnostics", err)
	}
	return out, nil
}

// parseDuration extracts HH:MM:SS.ff from a "Duration:" line as seconds.
func parseDuration(line string) (float64, bool) {
	m := durationRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	h, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseUint(m[2], 10, 64)
	if err != nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return float64(h*3600+mins*60) + secs, true
}

// scanLinesCR splits on '\n' or '\r'; ffmpeg redraws its progress line with
// carriage returns only.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
