// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cacheindex maps source files to the artifact directories produced
// for them. The artifact root is the single source of truth: the index is
// rebuilt from the directory layout at startup and every insertion writes
// its duration marker to disk before the entry becomes visible.
package cacheindex

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ManuGH/streamcache/internal/keycodec"
	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrExists is returned when inserting a source that already has an entry.
	ErrExists = errors.New("cacheindex: entry already exists")
	// ErrInvalidEntry is returned for entries that break the key invariant.
	ErrInvalidEntry = errors.New("cacheindex: invalid entry")
)

// Entry is one cached rendition.
type Entry struct {
	SourceID        string  `json:"source_id"`
	ArtifactDirID   string  `json:"artifact_dir_id"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Options tunes index behaviour.
type Options struct {
	// ValidateOnLookup makes Lookup stat the artifact directory and evict
	// entries whose directory was deleted out of band.
	ValidateOnLookup bool
}

// Index is the process-wide source → artifact table. It is safe for
// concurrent use; its lock is only held for map and marker mutations.
type Index struct {
	root string
	opts Options
	log  zerolog.Logger

	mu      sync.RWMutex
	entries map[string]Entry

	stat func(string) (fs.FileInfo, error)
}

// New returns an empty index over root. Call Rebuild to load existing artifacts.
func New(root string, opts Options, logger zerolog.Logger) *Index {
	return &Index{
		root:    root,
		opts:    opts,
		log:     logger.With().Str(xglog.FieldComponent, "cacheindex").Logger(),
		entries: make(map[string]Entry),
		stat:    os.Stat,
	}
}

// Root returns the artifact root directory.
func (ix *Index) Root() string {
	return ix.root
}

// ArtifactDir returns the absolute-or-root-relative directory of dirID.
// Split keys map to nested directories.
func (ix *Index) ArtifactDir(dirID string) string {
	return filepath.Join(ix.root, filepath.FromSlash(dirID))
}

// Lookup returns the entry for sourceID.
func (ix *Index) Lookup(sourceID string) (Entry, bool) {
	ix.mu.RLock()
	e, ok := ix.entries[sourceID]
	ix.mu.RUnlock()

	if !ok {
		metrics.RecordCacheLookup("miss")
		return Entry{}, false
	}

	if ix.opts.ValidateOnLookup {
		if _, err := ix.stat(ix.ArtifactDir(e.ArtifactDirID)); errors.Is(err, fs.ErrNotExist) {
			if ix.evict(e) {
				metrics.IncCacheEviction("lookup")
			}
			ix.log.Warn().
				Str(xglog.FieldEvent, "cache.stale_entry").
				Str(xglog.FieldSourcePath, sourceID).
				Str(xglog.FieldArtifactDir, e.ArtifactDirID).
				Msg("artifact directory vanished, entry evicted")
			metrics.RecordCacheLookup("stale")
			return Entry{}, false
		}
	}

	metrics.RecordCacheLookup("hit")
	return e, true
}

// Insert publishes e for sourceID. The duration marker directory is created
// first; if that fails the entry is not inserted.
func (ix *Index) Insert(sourceID string, e Entry) error {
	if e.SourceID == "" {
		e.SourceID = sourceID
	}
	want := keycodec.Encode(sourceID)
	if e.ArtifactDirID == "" {
		e.ArtifactDirID = want
	}
	if e.SourceID != sourceID || e.ArtifactDirID != want {
		return fmt.Errorf("%w: %q does not key %q", ErrInvalidEntry, e.ArtifactDirID, sourceID)
	}
	marker, err := keycodec.EncodeDuration(e.DurationSeconds)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	markerPath := filepath.Join(ix.ArtifactDir(e.ArtifactDirID), marker)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.entries[sourceID]; exists {
		return fmt.Errorf("%w: %s", ErrExists, sourceID)
	}
	if err := os.Mkdir(markerPath, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create duration marker: %w", err)
	}
	ix.entries[sourceID] = e
	metrics.SetCacheEntries(len(ix.entries))

	ix.log.Info().
		Str(xglog.FieldEvent, "cache.inserted").
		Str(xglog.FieldSourcePath, sourceID).
		Str(xglog.FieldArtifactDir, e.ArtifactDirID).
		Float64(xglog.FieldDuration, e.DurationSeconds).
		Msg("cache entry inserted")
	return nil
}

// Remove drops the entry for sourceID from memory. The artifact directory is left alone.
func (ix *Index) Remove(sourceID string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.entries[sourceID]; !ok {
		return false
	}
	delete(ix.entries, sourceID)
	metrics.SetCacheEntries(len(ix.entries))
	return true
}

// evict removes e only if it is still the current entry for its source.
func (ix *Index) evict(e Entry) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cur, ok := ix.entries[e.SourceID]
	if !ok || cur != e {
		return false
	}
	delete(ix.entries, e.SourceID)
	metrics.SetCacheEntries(len(ix.entries))
	return true
}

// Entries returns a snapshot sorted by source id.
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

// Len returns the number of entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}
