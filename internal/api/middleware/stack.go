// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package middleware holds the HTTP middleware of the API server.
package middleware

import (
	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/go-chi/chi/v5"
)

// StackConfig configures the ingress middleware stack.
type StackConfig struct {
	EnableCORS     bool
	AllowedOrigins []string // empty or "*" allows any origin

	EnableMetrics bool
	EnableTracing bool
	EnableLogging bool
}

// NewRouter constructs a chi router with the stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the stack to r, outermost first.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	if cfg.EnableCORS {
		r.Use(CORS(cfg.AllowedOrigins))
	}
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.EnableTracing {
		r.Use(Tracing())
	}
	if cfg.EnableLogging {
		r.Use(xglog.Middleware())
	}
}
