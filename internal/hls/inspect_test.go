// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// thirty seconds of source at a ten second segment length
const finishedPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.000000,
000.ts
#EXTINF:10.000000,
001.ts
#EXTINF:10.000000,
002.ts
#EXT-X-ENDLIST
`

func TestInspectFinishedPlaylist(t *testing.T) {
	info, err := Inspect(strings.NewReader(finishedPlaylist))
	require.NoError(t, err)

	want := PlaylistInfo{
		TargetDuration: 10 * time.Second,
		Segments: []Segment{
			{URI: "000.ts", Duration: 10 * time.Second},
			{URI: "001.ts", Duration: 10 * time.Second},
			{URI: "002.ts", Duration: 10 * time.Second},
		},
		TotalDuration: 30 * time.Second,
		Ended:         true,
		VOD:           true,
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("Inspect mismatch (-want +got):\n%s", diff)
	}
}

func TestInspectGrowingPlaylist(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\n000.ts\n#EXTINF:4.5,\n001.ts\n"
	info, err := Inspect(strings.NewReader(playlist))
	require.NoError(t, err)

	assert.False(t, info.Ended)
	assert.False(t, info.VOD)
	assert.Len(t, info.Segments, 2)
	assert.Equal(t, 14500*time.Millisecond, info.TotalDuration)
}

func TestInspectPlaylistTypeVOD(t *testing.T) {
	info, err := Inspect(strings.NewReader("#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n#EXTINF:2,\na.ts\n"))
	require.NoError(t, err)
	assert.True(t, info.VOD)
	assert.False(t, info.Ended)
}

func TestInspectErrors(t *testing.T) {
	tests := []struct {
		name, playlist, wantErr string
	}{
		{"empty", "", "empty playlist"},
		{"no header", "#EXTINF:10,\n000.ts\n", "missing #EXTM3U"},
		{"bad extinf", "#EXTM3U\n#EXTINF:abc,\n000.ts\n", "invalid EXTINF"},
		{"negative extinf", "#EXTM3U\n#EXTINF:-1,\n000.ts\n", "invalid EXTINF"},
		{"bad target duration", "#EXTM3U\n#EXT-X-TARGETDURATION:ten\n", "invalid target duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Inspect(strings.NewReader(tt.playlist))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInspectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playlist.m3u8")
	require.NoError(t, os.WriteFile(path, []byte(finishedPlaylist), 0o644))

	info, err := InspectFile(path)
	require.NoError(t, err)
	assert.Len(t, info.Segments, 3)

	_, err = InspectFile(filepath.Join(t.TempDir(), "missing.m3u8"))
	assert.True(t, os.IsNotExist(err))
}
