// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package captions

import (
	"bufio"
	"fmt"
	"io"
)

// FormatTimestamp renders ms as HH:MM:SS.mmm. Hours are not wrapped.
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// WriteVTT writes a WebVTT document with one cue per utterance, in order.
func WriteVTT(w io.Writer, cues []Utterance) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("WEBVTT\n\n"); err != nil {
		return err
	}
	for _, c := range cues {
		if _, err := fmt.Fprintf(bw, "%s --> %s\n%s\n\n", FormatTimestamp(c.StartTime), FormatTimestamp(c.EndTime), c.Text); err != nil {
			return err
		}
	}
	return bw.Flush()
}
