// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cacheindex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ManuGH/streamcache/internal/keycodec"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, opts Options) *Index {
	t.Helper()
	return New(t.TempDir(), opts, zerolog.Nop())
}

// insertWithDir mirrors what the transcode service does: the artifact
// directory exists before the entry is published.
func insertWithDir(t *testing.T, ix *Index, source string, duration float64) Entry {
	t.Helper()
	dirID := keycodec.Encode(source)
	require.NoError(t, os.MkdirAll(ix.ArtifactDir(dirID), 0o755))
	e := Entry{SourceID: source, ArtifactDirID: dirID, DurationSeconds: duration}
	require.NoError(t, ix.Insert(source, e))
	return e
}

func TestInsertAndLookup(t *testing.T) {
	ix := newTestIndex(t, Options{})
	want := insertWithDir(t, ix, "/media/a.mp4", 65.2)

	got, ok := ix.Lookup("/media/a.mp4")
	require.True(t, ok)
	assert.Equal(t, want, got)

	name, err := keycodec.EncodeDuration(65.2)
	require.NoError(t, err)
	info, err := os.Stat(filepath.Join(ix.ArtifactDir(want.ArtifactDirID), name))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, ok = ix.Lookup("/media/missing.mp4")
	assert.False(t, ok)
}

func TestInsertDuplicate(t *testing.T) {
	ix := newTestIndex(t, Options{})
	insertWithDir(t, ix, "/media/a.mp4", 1)

	err := ix.Insert("/media/a.mp4", Entry{DurationSeconds: 2})
	assert.ErrorIs(t, err, ErrExists)

	got, _ := ix.Lookup("/media/a.mp4")
	assert.Equal(t, 1.0, got.DurationSeconds)
}

func TestInsertRejectsMismatchedKey(t *testing.T) {
	ix := newTestIndex(t, Options{})
	err := ix.Insert("/media/a.mp4", Entry{ArtifactDirID: keycodec.Encode("/media/b.mp4")})
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Equal(t, 0, ix.Len())
}

func TestInsertMarkerFailureDoesNotPublish(t *testing.T) {
	ix := newTestIndex(t, Options{})
	// No artifact directory, so the marker cannot be created.
	err := ix.Insert("/media/nodir.mp4", Entry{DurationSeconds: 3})
	require.Error(t, err)

	_, ok := ix.Lookup("/media/nodir.mp4")
	assert.False(t, ok)
	assert.Equal(t, 0, ix.Len())
}

func TestRebuildRoundTrip(t *testing.T) {
	root := t.TempDir()
	ix := New(root, Options{}, zerolog.Nop())

	sources := map[string]float64{
		"/media/movie one.mp4":   5400.04,
		"/media/clip.mkv":        30,
		`C:\videos\Ünïcode.mov`: 0.5,
	}
	for src, d := range sources {
		insertWithDir(t, ix, src, d)
	}

	fresh := New(root, Options{}, zerolog.Nop())
	require.NoError(t, fresh.Rebuild())

	if diff := cmp.Diff(ix.Entries(), fresh.Entries()); diff != "" {
		t.Errorf("rebuilt entries mismatch (-inserted +rebuilt):\n%s", diff)
	}
}

func TestRebuildDeterministic(t *testing.T) {
	root := t.TempDir()
	ix := New(root, Options{}, zerolog.Nop())
	for i := 0; i < 20; i++ {
		insertWithDir(t, ix, fmt.Sprintf("/media/%02d.ts", i), float64(i)+0.25)
	}

	a := New(root, Options{}, zerolog.Nop())
	b := New(root, Options{}, zerolog.Nop())
	require.NoError(t, a.Rebuild())
	require.NoError(t, b.Rebuild())
	assert.Empty(t, cmp.Diff(a.Entries(), b.Entries()))
	assert.Equal(t, 20, a.Len())
}

func TestRebuildSkipsForeignEntries(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "not base64!"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644))

	// Artifact directory without a marker.
	dirID := keycodec.Encode("/media/nomarker.mp4")
	require.NoError(t, os.Mkdir(filepath.Join(root, dirID), 0o755))

	ix := New(root, Options{}, zerolog.Nop())
	require.NoError(t, ix.Rebuild())

	entries := ix.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "/media/nomarker.mp4", entries[0].SourceID)
	assert.Equal(t, 0.0, entries[0].DurationSeconds)
}

func TestRebuildLastMarkerWins(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, keycodec.Encode("/media/two.mp4"))
	m10, err := keycodec.EncodeDuration(10)
	require.NoError(t, err)
	m20, err := keycodec.EncodeDuration(20)
	require.NoError(t, err)
	require.Greater(t, m20, m10, "markers must sort so that 20 is read last")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, m10), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, m20), 0o755))
	// Clear-text names are not markers.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "[duration=99]"), 0o755))

	ix := New(root, Options{}, zerolog.Nop())
	require.NoError(t, ix.Rebuild())

	e, ok := ix.Lookup("/media/two.mp4")
	require.True(t, ok)
	assert.Equal(t, 20.0, e.DurationSeconds)
}

func TestInsertAndRebuildLongSourcePath(t *testing.T) {
	root := t.TempDir()
	ix := New(root, Options{ValidateOnLookup: true}, zerolog.Nop())

	long := "/media/" + strings.Repeat("a very long season folder name/", 12) + "episode.mkv"
	e := insertWithDir(t, ix, long, 42.5)
	require.Contains(t, e.ArtifactDirID, "/")
	for _, elem := range strings.Split(e.ArtifactDirID, "/") {
		assert.LessOrEqual(t, len(elem), keycodec.MaxNameLen)
	}
	insertWithDir(t, ix, "/media/short.mp4", 1)

	_, ok := ix.Lookup(long)
	require.True(t, ok)

	fresh := New(root, Options{}, zerolog.Nop())
	require.NoError(t, fresh.Rebuild())
	if diff := cmp.Diff(ix.Entries(), fresh.Entries()); diff != "" {
		t.Errorf("rebuilt entries mismatch (-inserted +rebuilt):\n%s", diff)
	}
}

func TestHandleRemovedContinuationEvictsNestedKeys(t *testing.T) {
	ix := newTestIndex(t, Options{})
	long := "/media/" + strings.Repeat("x", 400) + ".mkv"
	e := insertWithDir(t, ix, long, 3)
	insertWithDir(t, ix, "/media/keep.mp4", 1)

	first := strings.SplitN(e.ArtifactDirID, "/", 2)[0]
	require.True(t, keycodec.IsContinuation(first))
	ix.handleRemoved(first)

	_, ok := ix.Lookup(long)
	assert.False(t, ok)
	assert.Equal(t, 1, ix.Len())
}

func TestRebuildCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "hls")
	ix := New(root, Options{}, zerolog.Nop())
	require.NoError(t, ix.Rebuild())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, 0, ix.Len())
}

func TestRebuildRootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(root, nil, 0o644))

	ix := New(root, Options{}, zerolog.Nop())
	assert.Error(t, ix.Rebuild())
}

func TestLookupEvictsStaleEntry(t *testing.T) {
	ix := newTestIndex(t, Options{ValidateOnLookup: true})
	e := insertWithDir(t, ix, "/media/gone.mp4", 12)

	require.NoError(t, os.RemoveAll(ix.ArtifactDir(e.ArtifactDirID)))

	_, ok := ix.Lookup("/media/gone.mp4")
	assert.False(t, ok)
	assert.Equal(t, 0, ix.Len())
}

func TestLookupWithoutValidationKeepsEntry(t *testing.T) {
	ix := newTestIndex(t, Options{})
	e := insertWithDir(t, ix, "/media/gone.mp4", 12)
	require.NoError(t, os.RemoveAll(ix.ArtifactDir(e.ArtifactDirID)))

	_, ok := ix.Lookup("/media/gone.mp4")
	assert.True(t, ok)
}

func TestLookupStatErrorKeepsEntry(t *testing.T) {
	ix := newTestIndex(t, Options{ValidateOnLookup: true})
	insertWithDir(t, ix, "/media/a.mp4", 1)
	ix.stat = func(string) (os.FileInfo, error) { return nil, errors.New("EIO") }

	_, ok := ix.Lookup("/media/a.mp4")
	assert.True(t, ok)
}

func TestRemove(t *testing.T) {
	ix := newTestIndex(t, Options{})
	insertWithDir(t, ix, "/media/a.mp4", 1)

	assert.True(t, ix.Remove("/media/a.mp4"))
	assert.False(t, ix.Remove("/media/a.mp4"))
	assert.Equal(t, 0, ix.Len())
}

func TestConcurrentInsertLookup(t *testing.T) {
	ix := newTestIndex(t, Options{ValidateOnLookup: true})

	const n = 32
	for i := 0; i < n; i++ {
		require.NoError(t, os.MkdirAll(ix.ArtifactDir(keycodec.Encode(fmt.Sprintf("/m/%d", i))), 0o755))
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			src := fmt.Sprintf("/m/%d", i)
			assert.NoError(t, ix.Insert(src, Entry{DurationSeconds: float64(i)}))
		}(i)
		go func(i int) {
			defer wg.Done()
			if e, ok := ix.Lookup(fmt.Sprintf("/m/%d", i)); ok {
				assert.Equal(t, float64(i), e.DurationSeconds)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, ix.Len())
}

func TestLockRoot(t *testing.T) {
	root := t.TempDir()
	lock, err := LockRoot(root)
	require.NoError(t, err)
	defer func() { _ = lock.Unlock() }()

	_, err = LockRoot(root)
	assert.ErrorIs(t, err, ErrRootLocked)

	// The lock file is ignored by Rebuild.
	ix := New(root, Options{}, zerolog.Nop())
	require.NoError(t, ix.Rebuild())
	assert.Equal(t, 0, ix.Len())
}
