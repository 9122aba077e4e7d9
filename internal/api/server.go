// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the transcode and caption services over HTTP and
// serves the artifact tree the returned URLs point into.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/streamcache/internal/api/middleware"
	"github.com/ManuGH/streamcache/internal/artifacts"
	"github.com/ManuGH/streamcache/internal/cacheindex"
	"github.com/ManuGH/streamcache/internal/captions"
	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/transcode"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Transcodes is the part of transcode.Service the API uses.
type Transcodes interface {
	Ensure(ctx context.Context, sourcePath string) (transcode.Result, error)
	Cancel(sourcePath string) bool
	PlaylistURL(dirID string) string
	Strategy() string
}

// Captioner is the part of captions.Service the API uses.
type Captioner interface {
	Generate(ctx context.Context, sourcePath string) (captions.Result, error)
}

// Cache lists the cached sources.
type Cache interface {
	Entries() []cacheindex.Entry
	Len() int
}

// Config configures the HTTP surface.
type Config struct {
	Version string

	// ArtifactRoot is served under URLPrefix.
	ArtifactRoot string
	URLPrefix    string

	Stack middleware.StackConfig

	// RateLimitRPM limits /api requests per client IP; zero disables it.
	RateLimitRPM int
}

// Deps are the services behind the routes. Captions may be nil when no
// provider is configured.
type Deps struct {
	Transcodes Transcodes
	Captions   Captioner
	Cache      Cache
	Logger     zerolog.Logger
}

// Server routes API calls to the services.
type Server struct {
	cfg       Config
	deps      Deps
	log       zerolog.Logger
	startTime time.Time
}

// New returns a Server.
func New(cfg Config, deps Deps) *Server {
	if cfg.URLPrefix == "" {
		cfg.URLPrefix = "/hls"
	}
	cfg.URLPrefix = "/" + strings.Trim(cfg.URLPrefix, "/")
	return &Server{
		cfg:       cfg,
		deps:      deps,
		log:       deps.Logger.With().Str(xglog.FieldComponent, "api").Logger(),
		startTime: time.Now(),
	}
}

// Handler returns the router with every route and the middleware stack.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(s.cfg.Stack)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	files := artifacts.Handler(s.cfg.ArtifactRoot, s.cfg.URLPrefix, s.deps.Logger)
	r.Method(http.MethodGet, s.cfg.URLPrefix+"/*", files)
	r.Method(http.MethodHead, s.cfg.URLPrefix+"/*", files)

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitRPM > 0 {
			r.Use(middleware.APIRateLimit(s.cfg.RateLimitRPM))
		}
		r.Post("/hls", s.handleTranscode)
		r.Delete("/hls", s.handleCancel)
		r.Post("/subtitle", s.handleSubtitle)
		r.Get("/cache", s.handleCache)
	})

	return r
}
