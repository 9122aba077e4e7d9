// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cacheindex

import (
	"fmt"
	"os"
	"path"

	"github.com/ManuGH/streamcache/internal/keycodec"
	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/metrics"
)

// Rebuild replaces the in-memory table with one entry per artifact directory
// found under the root. The root is created when missing. Errors reading the
// root or an artifact directory are returned; directories whose name does not
// decode are skipped.
func (ix *Index) Rebuild() error {
	if err := os.MkdirAll(ix.root, 0o755); err != nil {
		return fmt.Errorf("create artifact root: %w", err)
	}

	next := make(map[string]Entry)
	skipped, err := ix.scanLevel("", next)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.entries = next
	ix.mu.Unlock()
	metrics.SetCacheEntries(len(next))

	ix.log.Info().
		Str(xglog.FieldEvent, "cache.rebuilt").
		Str(xglog.FieldPath, ix.root).
		Int("entries", len(next)).
		Int("skipped", skipped).
		Msg("cache index rebuilt from artifact root")
	return nil
}

// scanLevel reads the directory holding keys that start with prefix. Inner
// elements of split keys are descended into.
func (ix *Index) scanLevel(prefix string, into map[string]Entry) (int, error) {
	dirents, err := os.ReadDir(ix.ArtifactDir(prefix))
	if err != nil {
		if prefix == "" {
			return 0, fmt.Errorf("read artifact root: %w", err)
		}
		return 0, fmt.Errorf("read key directory %s: %w", prefix, err)
	}

	skipped := 0
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		name := path.Join(prefix, de.Name())
		if keycodec.IsContinuation(de.Name()) {
			n, err := ix.scanLevel(name, into)
			if err != nil {
				return skipped, err
			}
			skipped += n
			continue
		}
		source, err := keycodec.Decode(name)
		if err != nil {
			skipped++
			metrics.IncCacheRebuildSkipped("undecodable")
			ix.log.Warn().
				Err(err).
				Str(xglog.FieldEvent, "cache.rebuild_skip").
				Str(xglog.FieldArtifactDir, name).
				Msg("skipping directory that is not an artifact key")
			continue
		}

		duration, err := scanDuration(ix.ArtifactDir(name))
		if err != nil {
			return skipped, fmt.Errorf("scan artifact dir %s: %w", name, err)
		}
		into[source] = Entry{
			SourceID:        source,
			ArtifactDirID:   name,
			DurationSeconds: duration,
		}
	}
	return skipped, nil
}

// scanDuration looks for a duration marker among the immediate subdirectories
// of dir. Without a marker the duration is 0. os.ReadDir sorts by name, so
// with several markers the last one in lexical order wins.
func scanDuration(dir string) (float64, error) {
	children, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var duration float64
	for _, c := range children {
		if !c.IsDir() {
			continue
		}
		if d, ok := keycodec.DecodeDuration(c.Name()); ok {
			duration = d
		}
	}
	return duration, nil
}
