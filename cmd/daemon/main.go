// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/streamcache/internal/cacheindex"
	"github.com/ManuGH/streamcache/internal/config"
	"github.com/ManuGH/streamcache/internal/daemon"
	xglog "github.com/ManuGH/streamcache/internal/log"
	"github.com/ManuGH/streamcache/internal/telemetry"
	"github.com/ManuGH/streamcache/internal/version"
	"golang.org/x/sync/errgroup"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "streamcache",
		Version: version.Version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(config.ParseString("STREAMCACHE_CONFIG", ""))
	}
	cfg, err := config.NewLoader(path, version.Version).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "streamcache",
		Version: cfg.Version,
	})
	logger = xglog.WithComponent("daemon")
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("path", path).
		Str(xglog.FieldStrategy, cfg.Strategy).
		Str("artifact_root", cfg.ArtifactRoot).
		Bool("captions", cfg.Captions.Enabled()).
		Msg("configuration loaded")

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
	}
	logger.Info().Msg("daemon stopped")
}

// run owns the process lifetime: it returns once ctx ends and every
// component is shut down, or when startup fails.
func run(ctx context.Context, cfg config.AppConfig) error {
	logger := xglog.WithComponent("daemon")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "streamcache",
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	lock, err := cacheindex.LockRoot(cfg.ArtifactRoot)
	if err != nil {
		return err
	}

	c, err := buildComponents(cfg, xglog.Base())
	if err != nil {
		_ = lock.Unlock()
		return err
	}
	if err := c.index.Rebuild(); err != nil {
		_ = lock.Unlock()
		return fmt.Errorf("rebuild cache index: %w", err)
	}
	logger.Info().
		Str(xglog.FieldEvent, "cache.rebuilt").
		Int("entries", c.index.Len()).
		Msg("cache index rebuilt")

	mgr, err := daemon.NewManager(config.ServerConfigFor(cfg), daemon.Deps{
		Logger:     xglog.Base(),
		APIHandler: c.handler,
	})
	if err != nil {
		_ = lock.Unlock()
		return err
	}

	mgr.RegisterShutdownHook("artifact root lock", func(context.Context) error {
		return lock.Unlock()
	})
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	if c.procs != nil {
		mgr.RegisterShutdownHook("encoder processes", c.procs.Close)
	}
	mgr.RegisterShutdownHook("transcode jobs", func(context.Context) error {
		c.jobs.CancelAll()
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.Start(gctx)
	})
	if cfg.WatchArtifactRoot {
		g.Go(func() error {
			if err := c.index.Watch(gctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("artifact root watcher stopped, relying on lookup validation")
			}
			return nil
		})
	}
	return g.Wait()
}
