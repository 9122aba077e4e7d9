// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vod

import (
	"context"
	"sync"
	"time"
)

// JobSpec describes one background build.
type JobSpec struct {
	ID         string // dedup key, the artifact directory id
	SourcePath string
	Kind       string // e.g. "transcode"
}

// Run represents an active or completed build.
type Run struct {
	ID        string
	StartedAt time.Time

	// Done is closed when the build completes (success or failure).
	Done chan struct{}

	// Cancel stops the build.
	Cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// WorkFunc is the unit of execution for the manager.
type WorkFunc func(ctx context.Context, spec JobSpec) error

// Wait blocks until the run finishes or ctx is done. Abandoning the wait does
// not stop the run.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.Done:
		return r.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Error returns the terminal error. Only meaningful once Done is closed.
func (r *Run) Error() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Run) setError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		r.err = err
	}
}
