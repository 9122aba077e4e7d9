// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cacheindex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is the lock file kept in the artifact root. It is a regular
// file, so Rebuild never mistakes it for an artifact directory.
const LockFileName = ".streamcache.lock"

// ErrRootLocked is returned when another process owns the artifact root.
var ErrRootLocked = errors.New("cacheindex: artifact root is locked by another process")

// LockRoot takes an exclusive, non-blocking lock on root so that two daemons
// never mutate the same tree. Release it with Unlock on shutdown.
func LockRoot(root string) (*flock.Flock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	lock := flock.New(filepath.Join(root, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock artifact root: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootLocked, root)
	}
	return lock, nil
}
