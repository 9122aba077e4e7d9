// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package keycodec

import (
	"errors"
	"math"
	"strings"
	"testing"
	"testing/quick"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	paths := []string{
		"/home/user/Videos/movie.mkv",
		`C:\Users\Logosw\Desktop\test\input.mp4`,
		"/media/with spaces/and  double  spaces.mp4",
		"/médias/エピソード 01/字幕?.mkv",
		"relative/../path/./file.ts",
		"a",
		"emoji 🎬 clip.webm",
		"trailing/slash/",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			name := Encode(p)
			assert.NotContains(t, name, "/")
			assert.NotContains(t, name, `\`)
			assert.NotContains(t, name, "+")

			got, err := Decode(name)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestEncodeDecode_RoundTripProperty(t *testing.T) {
	f := func(s string) bool {
		if s == "" || !utf8.ValidString(s) {
			return true
		}
		got, err := Decode(Encode(s))
		return err == nil && got == s
	}
	require.NoError(t, quick.Check(f, &quick.Config{MaxCount: 2000}))
}

func TestEncode_Deterministic(t *testing.T) {
	p := "/srv/media/show/s01e01.mkv"
	assert.Equal(t, Encode(p), Encode(p))
	assert.NotEqual(t, Encode(p), Encode(p+" "))
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"std alphabet":   "a+b/",
		"bad padding":    "YWJj=",
		"garbage":        "%%%%",
		"invalid utf8":   Encode(string([]byte{0xff, 0xfe, 0x41})),
		"truncated quad": "YWJ",
		"trailing bits":  "YWJjZB==",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode), "want ErrDecode, got %v", err)
		})
	}
}

func TestEncode_LongPathSplitsIntoNestedNames(t *testing.T) {
	for _, n := range []int{150, 189, 190, 400, 1200} {
		src := "/media/" + strings.Repeat("long folder ", n/12+1)[:n]
		key := Encode(src)
		for _, elem := range strings.Split(key, "/") {
			assert.LessOrEqual(t, len(elem), MaxNameLen, "element of %d-byte path", len(src))
		}
		got, err := Decode(key)
		require.NoError(t, err)
		assert.Equal(t, src, got)
	}

	short := Encode("/media/a.mp4")
	assert.NotContains(t, short, "/")
	assert.False(t, IsContinuation(short))

	long := Encode("/" + strings.Repeat("x", 600))
	parts := strings.Split(long, "/")
	require.Len(t, parts, 4)
	assert.True(t, IsContinuation(parts[0]))
	assert.False(t, IsContinuation(parts[3]))
}

func TestDecode_RejectsNonCanonicalSplit(t *testing.T) {
	enc := Encode("/media/clip.mp4")
	cases := map[string]string{
		"short split":        enc[:4] + ContinuationSuffix + "/" + enc[4:],
		"missing suffix":     strings.Repeat("A", SegmentLen+1) + "/" + "QQ==",
		"trailing separator": enc + "/",
		"bare continuation":  enc + ContinuationSuffix,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	for _, d := range []float64{0, 30, 65.2, 65.20, 0.01, 3599.99, 7322.5, 1e-7, 123456789.125} {
		name, err := EncodeDuration(d)
		require.NoError(t, err)

		got, ok := DecodeDuration(name)
		require.True(t, ok, "duration %v", d)
		assert.InDelta(t, d, got, 1e-9)
	}
}

func TestDuration_RoundTripProperty(t *testing.T) {
	f := func(d float64) bool {
		d = math.Abs(d)
		if math.IsInf(d, 0) || math.IsNaN(d) {
			return true
		}
		name, err := EncodeDuration(d)
		if err != nil {
			return false
		}
		got, ok := DecodeDuration(name)
		return ok && got == d
	}
	require.NoError(t, quick.Check(f, nil))
}

func TestEncodeDuration_Rejects(t *testing.T) {
	for _, d := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := EncodeDuration(d)
		assert.Error(t, err, "duration %v", d)
	}
}

func TestDecodeDuration_Tolerant(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"[duration=65.2]", 65.2, true},
		{"prefix [duration=12.50] suffix", 12.5, true},
		{"[duration=30]", 30, true},
		{"[duration=]", 0, false},
		{"duration=5.0", 0, false},
		{"unrelated", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := DecodeDuration(Encode(tt.text))
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestDecodeDuration_NotAMarker(t *testing.T) {
	_, ok := DecodeDuration("not base64 at all!")
	assert.False(t, ok)
	_, ok = DecodeDuration(Encode("/some/source/path.mkv"))
	assert.False(t, ok)
}

func TestDurationToken_Format(t *testing.T) {
	assert.Equal(t, "[duration=65.2]", DurationToken(65.20))
	assert.Equal(t, "[duration=30]", DurationToken(30))
	assert.True(t, strings.HasPrefix(DurationToken(0.5), "[duration=0.5"))
}
