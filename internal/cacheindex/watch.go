// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cacheindex

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ManuGH/streamcache/internal/keycodec"
	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/metrics"
	"github.com/fsnotify/fsnotify"
)

// Watch evicts entries whose artifact directory is removed or renamed away
// while the daemon runs. It blocks until ctx is done.
func (ix *Index) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(ix.root); err != nil {
		return fmt.Errorf("watch artifact root: %w", err)
	}
	ix.log.Info().
		Str(xglog.FieldEvent, "cache.watcher_started").
		Str(xglog.FieldPath, ix.root).
		Msg("watching artifact root")

	for {
		select {
		case <-ctx.Done():
			ix.log.Info().Str(xglog.FieldEvent, "cache.watcher_stopped").Msg("artifact root watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if filepath.Clean(filepath.Dir(event.Name)) != filepath.Clean(ix.root) {
				continue
			}
			ix.handleRemoved(filepath.Base(event.Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ix.log.Error().
				Err(err).
				Str(xglog.FieldEvent, "cache.watcher_error").
				Msg("artifact root watcher error")
		}
	}
}

func (ix *Index) handleRemoved(name string) {
	if keycodec.IsContinuation(name) {
		ix.mu.RLock()
		var gone []Entry
		for _, e := range ix.entries {
			if strings.HasPrefix(e.ArtifactDirID, name+"/") {
				gone = append(gone, e)
			}
		}
		ix.mu.RUnlock()
		for _, e := range gone {
			ix.evictRemoved(e)
		}
		return
	}

	source, err := keycodec.Decode(name)
	if err != nil {
		return
	}
	ix.mu.RLock()
	e, ok := ix.entries[source]
	ix.mu.RUnlock()
	if !ok || e.ArtifactDirID != name {
		return
	}
	ix.evictRemoved(e)
}

func (ix *Index) evictRemoved(e Entry) {
	if ix.evict(e) {
		metrics.IncCacheEviction("watch")
		ix.log.Info().
			Str(xglog.FieldEvent, "cache.evicted").
			Str(xglog.FieldSourcePath, e.SourceID).
			Str(xglog.FieldArtifactDir, e.ArtifactDirID).
			Msg("artifact directory removed, entry evicted")
	}
}
