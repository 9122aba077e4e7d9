// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package captions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/streamcache/internal/cacheindex"
	"github.com/ManuGH/streamcache/internal/keycodec"
	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticURLs struct{}

func (staticURLs) ArtifactURL(dirID, name string) string {
	return "http://localhost:3117/hls/" + dirID + "/" + name
}

type fakeWaiter struct {
	mu    sync.Mutex
	dirs  []string
	err   error
	block chan struct{}
}

func (w *fakeWaiter) WaitAudio(ctx context.Context, dir string) error {
	w.mu.Lock()
	w.dirs = append(w.dirs, dir)
	w.mu.Unlock()
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.err
}

const source = "/media/Show S01E01.mkv"

func newCachedSource(t *testing.T) (*cacheindex.Index, string) {
	t.Helper()
	ix := cacheindex.New(t.TempDir(), cacheindex.Options{}, zerolog.Nop())
	dirID := keycodec.Encode(source)
	dir := ix.ArtifactDir(dirID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, transcode.AudioName), []byte("aac-audio"), 0o644))
	require.NoError(t, ix.Insert(source, cacheindex.Entry{DurationSeconds: 3}))
	return ix, dir
}

func TestGenerateWritesVTT(t *testing.T) {
	p, client := newProvider(t)
	ix, dir := newCachedSource(t)
	waiter := &fakeWaiter{}
	svc := NewService(ix, waiter, client, staticURLs{}, ServiceConfig{}, zerolog.Nop())

	res, err := svc.Generate(context.Background(), source)
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.Equal(t, 2, res.Cues)
	assert.Equal(t, filepath.Join(dir, transcode.SubtitleName), res.SubtitlePath)
	assert.Equal(t, "http://localhost:3117/hls/"+keycodec.Encode(source)+"/subtitle.vtt", res.SubtitleURL)
	assert.Equal(t, []string{dir}, waiter.dirs)
	assert.Equal(t, []byte("aac-audio"), p.lastAudio)

	got, err := os.ReadFile(res.SubtitlePath)
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n\n00:00:00.000 --> 00:00:01.500\nhi\n\n00:00:01.500 --> 00:00:03.000\nthere\n\n", string(got))

	again, err := svc.Generate(context.Background(), source)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, res.SubtitleURL, again.SubtitleURL)
	assert.Equal(t, int32(1), p.submitCount(), "an existing track must not be regenerated")
}

func TestGenerateRequiresCachedSource(t *testing.T) {
	_, client := newProvider(t)
	ix := cacheindex.New(t.TempDir(), cacheindex.Options{}, zerolog.Nop())
	svc := NewService(ix, nil, client, staticURLs{}, ServiceConfig{}, zerolog.Nop())

	_, err := svc.Generate(context.Background(), "/media/unknown.mkv")
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestGenerateProviderErrorLeavesNoFile(t *testing.T) {
	p, client := newProvider(t)
	p.queryCode = 1001
	p.queryMsg = "audio format not supported"
	ix, dir := newCachedSource(t)
	svc := NewService(ix, nil, client, staticURLs{}, ServiceConfig{}, zerolog.Nop())

	_, err := svc.Generate(context.Background(), source)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "audio format not supported", perr.Message)

	_, statErr := os.Stat(filepath.Join(dir, transcode.SubtitleName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestGenerateAudioFailure(t *testing.T) {
	p, client := newProvider(t)
	ix, _ := newCachedSource(t)
	audioErr := transcode.NewError(transcode.ErrIO, "extract audio", errors.New("exit status 1"))
	svc := NewService(ix, &fakeWaiter{err: audioErr}, client, staticURLs{}, ServiceConfig{}, zerolog.Nop())

	_, err := svc.Generate(context.Background(), source)
	assert.ErrorIs(t, err, transcode.ErrIO)
	assert.Zero(t, p.submitCount())
}

func TestGenerateMissingAudioFile(t *testing.T) {
	_, client := newProvider(t)
	ix, dir := newCachedSource(t)
	require.NoError(t, os.Remove(filepath.Join(dir, transcode.AudioName)))
	svc := NewService(ix, nil, client, staticURLs{}, ServiceConfig{}, zerolog.Nop())

	_, err := svc.Generate(context.Background(), source)
	assert.Equal(t, "io", transcode.KindOf(err))
}

func TestGenerateConcurrentCallersShareOneJob(t *testing.T) {
	p, client := newProvider(t)
	p.submitGate = make(chan struct{})
	ix, _ := newCachedSource(t)
	svc := NewService(ix, nil, client, staticURLs{}, ServiceConfig{}, zerolog.Nop())

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Generate(context.Background(), source)
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(p.submitGate)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), p.submitCount())
}

func TestGenerateCallerTimeoutDoesNotAbortJob(t *testing.T) {
	p, client := newProvider(t)
	ix, dir := newCachedSource(t)
	waiter := &fakeWaiter{block: make(chan struct{})}
	svc := NewService(ix, waiter, client, staticURLs{}, ServiceConfig{}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Generate(ctx, source)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(waiter.block)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, transcode.SubtitleName))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), p.submitCount())
}
