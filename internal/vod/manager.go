// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package vod runs keyed background builds with exactly-once semantics:
// concurrent callers asking for the same key share a single Run.
package vod

import (
	"context"
	"fmt"
	"sync"
	"time"

	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/rs/zerolog"
)

// Manager tracks in-flight runs by ID.
type Manager struct {
	mu   sync.Mutex
	runs map[string]*Run
	log  zerolog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		runs: make(map[string]*Run),
		log:  logger.With().Str(xglog.FieldComponent, "vod").Logger(),
	}
}

// Ensure guarantees that a run for spec.ID is active. If one is already
// running its handle is returned with isNew=false; otherwise work is started
// on a context detached from ctx, so that the first caller going away does
// not abort a build other callers are waiting on.
func (m *Manager) Ensure(ctx context.Context, spec JobSpec, work WorkFunc) (*Run, bool) {
	if err := ctx.Err(); err != nil {
		m.log.Debug().Str(xglog.FieldJobID, spec.ID).Err(err).Msg("ensure: context already canceled")
		return nil, false
	}

	m.mu.Lock()

	if run, exists := m.runs[spec.ID]; exists {
		select {
		case <-run.Done:
			// Finished but cleanup has not removed it yet.
			delete(m.runs, spec.ID)
		default:
			m.mu.Unlock()
			m.log.Debug().Str(xglog.FieldJobID, spec.ID).Msg("ensure: joined existing run")
			return run, false
		}
	}

	runCtx, cancel := context.WithCancel(xglog.ContextWithJobID(context.WithoutCancel(ctx), spec.ID))
	run := &Run{
		ID:        spec.ID,
		StartedAt: time.Now(),
		Done:      make(chan struct{}),
		Cancel:    cancel,
	}
	m.runs[spec.ID] = run
	m.mu.Unlock()

	m.log.Info().
		Str(xglog.FieldJobID, spec.ID).
		Str(xglog.FieldSourcePath, spec.SourcePath).
		Str("kind", spec.Kind).
		Msg("started new run")

	go m.execute(runCtx, run, spec, work)
	return run, true
}

// Get returns the active run for id, or nil.
func (m *Manager) Get(id string) *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

// Cancel stops the run for id and reports whether one was active.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	run, exists := m.runs[id]
	m.mu.Unlock()

	if !exists {
		return false
	}
	m.log.Info().Str(xglog.FieldJobID, id).Msg("canceling run")
	run.Cancel()
	return true
}

// CancelAll stops every active run. Used on shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log.Info().Int("count", len(m.runs)).Msg("canceling all runs")
	for _, run := range m.runs {
		run.Cancel()
	}
}

// Active returns the number of runs in flight.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

func (m *Manager) execute(ctx context.Context, run *Run, spec JobSpec, work WorkFunc) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().
				Str(xglog.FieldJobID, run.ID).
				Interface("panic", r).
				Msg("run panicked")
			run.setError(fmt.Errorf("panic: %v", r))
		}

		run.Cancel()
		close(run.Done)

		m.mu.Lock()
		if m.runs[run.ID] == run {
			delete(m.runs, run.ID)
		}
		m.mu.Unlock()

		m.log.Info().
			Str(xglog.FieldJobID, run.ID).
			Dur("elapsed", time.Since(run.StartedAt)).
			Err(run.Error()).
			Msg("run finished")
	}()

	if err := work(ctx, spec); err != nil {
		run.setError(err)
	}
}
