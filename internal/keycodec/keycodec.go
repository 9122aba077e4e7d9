// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package keycodec maps source paths to artifact directory names and back.
//
// The artifact tree is the only record of what has been transcoded, so both
// encodings must be exactly reversible: a directory name is decoded into the
// source path it was produced from, and the duration of the rendition is
// carried in the name of an empty marker directory inside it.
package keycodec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrDecode is returned for names that were not produced by Encode.
var ErrDecode = errors.New("keycodec: malformed key")

// URL-safe alphabet with padding; keeps names compatible with existing caches.
// Decoding is strict so every path has exactly one accepted name.
var (
	encoding = base64.URLEncoding
	strict   = base64.URLEncoding.Strict()
)

var durationPattern = regexp.MustCompile(`\[duration=(\d+(?:\.\d+)?(?:[eE][+-]?\d+)?)\]`)

// Long keys are split into nested directories so no path element exceeds
// the usual NAME_MAX of 255 bytes. Every element but the last carries exactly
// SegmentLen encoded characters followed by ContinuationSuffix, which is not
// part of the base64 alphabet.
const (
	MaxNameLen         = 255
	SegmentLen         = 252
	ContinuationSuffix = "~"
)

// Encode returns the directory key for path. Short keys are a single
// directory name; longer ones are slash-separated elements.
func Encode(path string) string {
	enc := encoding.EncodeToString([]byte(path))
	if len(enc) <= MaxNameLen {
		return enc
	}
	var b strings.Builder
	for len(enc) > SegmentLen {
		b.WriteString(enc[:SegmentLen])
		b.WriteString(ContinuationSuffix)
		b.WriteByte('/')
		enc = enc[SegmentLen:]
	}
	b.WriteString(enc)
	return b.String()
}

// Decode reverses Encode. Keys Encode would not produce, including
// needlessly split ones, are rejected.
func Decode(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrDecode)
	}
	joined := name
	if strings.Contains(name, "/") {
		parts := strings.Split(name, "/")
		for _, p := range parts[:len(parts)-1] {
			if len(p) != SegmentLen+len(ContinuationSuffix) || !IsContinuation(p) {
				return "", fmt.Errorf("%w: %q: bad segment %q", ErrDecode, name, p)
			}
		}
		var b strings.Builder
		for _, p := range parts[:len(parts)-1] {
			b.WriteString(strings.TrimSuffix(p, ContinuationSuffix))
		}
		b.WriteString(parts[len(parts)-1])
		joined = b.String()
	}
	raw, err := strict.DecodeString(joined)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrDecode, name, err)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: %q: not valid UTF-8", ErrDecode, name)
	}
	if Encode(string(raw)) != name {
		return "", fmt.Errorf("%w: %q: not in canonical form", ErrDecode, name)
	}
	return string(raw), nil
}

// IsContinuation reports whether a directory name is an inner element of a
// split key rather than a complete one.
func IsContinuation(name string) bool {
	return strings.HasSuffix(name, ContinuationSuffix)
}

// DurationToken renders the clear-text marker for seconds, e.g. "[duration=65.2]".
// The shortest decimal representation is used so parsing it yields seconds exactly.
func DurationToken(seconds float64) string {
	return "[duration=" + strconv.FormatFloat(seconds, 'f', -1, 64) + "]"
}

// EncodeDuration returns the marker directory name carrying seconds.
func EncodeDuration(seconds float64) (string, error) {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "", fmt.Errorf("keycodec: invalid duration %v", seconds)
	}
	return Encode(DurationToken(seconds)), nil
}

// DecodeDuration extracts the duration from a marker directory name. It reports
// false when name does not decode or carries no duration token; text around
// the token is ignored.
func DecodeDuration(name string) (float64, bool) {
	text, err := Decode(name)
	if err != nil {
		return 0, false
	}
	return ParseDurationToken(text)
}

// ParseDurationToken finds a duration token in clear text.
func ParseDurationToken(text string) (float64, bool) {
	m := durationPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
