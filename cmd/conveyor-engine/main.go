// Copyright 2026 The Conveyor Authors
// SPDX-License-Identifier: Apache-2.0

// conveyor-engine is the long-running orchestrator daemon: it loads
// workflow definitions, listens for events on the control socket and
// the optional webhook listener, fires cron schedules, and executes
// runs until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/conveyor-ci/conveyor/lib/aggregate"
	"github.com/conveyor-ci/conveyor/lib/artifact"
	"github.com/conveyor-ci/conveyor/lib/config"
	"github.com/conveyor-ci/conveyor/lib/control"
	"github.com/conveyor-ci/conveyor/lib/engine"
	"github.com/conveyor-ci/conveyor/lib/runstore"
	"github.com/conveyor-ci/conveyor/lib/version"
	"github.com/conveyor-ci/conveyor/lib/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to conveyor.yaml (default: $CONVEYOR_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("conveyor-engine %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := runstore.Open(runstore.Config{
		Path:   cfg.Paths.Database,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer store.Close()

	artifacts, err := artifact.Open(cfg.Paths.Artifacts)
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}

	var uploader aggregate.Uploader
	if cfg.Upload.Endpoint != "" {
		token := os.Getenv(cfg.Upload.TokenEnv)
		if token == "" {
			return fmt.Errorf("upload endpoint configured but %s is unset", cfg.Upload.TokenEnv)
		}
		uploader = aggregate.NewHTTPUploader(cfg.Upload.Endpoint, token, http.DefaultClient)
	}

	eng, err := engine.New(engine.Options{
		Store:         store,
		Artifacts:     artifacts,
		Uploader:      uploader,
		Logger:        logger,
		Workers:       cfg.Engine.Workers,
		DefaultBranch: cfg.Engine.DefaultBranch,
		RunsDir:       cfg.Paths.Runs,
		StepTimeout:   cfg.StepTimeoutDuration(),
		GracePeriod:   cfg.GracePeriodDuration(),
	})
	if err != nil {
		return err
	}

	// Sweep artifacts orphaned by runs deleted since the last start.
	live, err := store.LiveArtifactRefs(ctx)
	if err != nil {
		return fmt.Errorf("listing live artifacts: %w", err)
	}
	if removed, err := artifacts.GC(live); err != nil {
		logger.Warn("artifact sweep failed", "error", err)
	} else if removed > 0 {
		logger.Info("artifact sweep", "removed", removed)
	}

	loaded, err := eng.LoadDir(cfg.Paths.Workflows)
	if err != nil {
		return fmt.Errorf("loading workflows from %s: %w", cfg.Paths.Workflows, err)
	}
	logger.Info("workflows loaded", "directory", cfg.Paths.Workflows, "count", loaded)

	eng.Start(ctx)

	// Control socket.
	if err := os.MkdirAll(filepath.Dir(cfg.Listen.Socket), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	controlServer := control.NewServer(cfg.Listen.Socket, logger)
	control.RegisterActions(controlServer, eng)

	socketDone := make(chan error, 1)
	go func() {
		socketDone <- controlServer.Serve(ctx)
	}()

	// Optional webhook listener.
	var httpDone chan error
	if cfg.Listen.HTTP != "" {
		var secret []byte
		if cfg.Listen.WebhookSecretEnv != "" {
			secret = []byte(os.Getenv(cfg.Listen.WebhookSecretEnv))
			if len(secret) == 0 {
				return fmt.Errorf("webhook secret env %s is unset", cfg.Listen.WebhookSecretEnv)
			}
		} else {
			logger.Warn("webhook signature verification disabled; " +
				"set listen.webhook_secret_env outside local development")
		}

		httpServer := webhook.NewServer(webhook.ServerConfig{
			Address: cfg.Listen.HTTP,
			Handler: webhook.NewHandler(webhook.HandlerConfig{
				Submitter: eng,
				Secret:    secret,
				Logger:    logger,
			}),
			Logger: logger,
		})
		httpDone = make(chan error, 1)
		go func() {
			httpDone <- httpServer.Serve(ctx)
		}()
	}

	// Cron schedules.
	go eng.RunScheduler(ctx)

	logger.Info("engine running",
		"socket", cfg.Listen.Socket,
		"http", cfg.Listen.HTTP,
		"workers", cfg.Engine.Workers,
		"version", version.Short(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop accepting new work, then let in-flight runs finish as
	// cancelled before closing the store.
	if err := <-socketDone; err != nil {
		logger.Error("control socket error", "error", err)
	}
	if httpDone != nil {
		if err := <-httpDone; err != nil {
			logger.Error("webhook listener error", "error", err)
		}
	}
	eng.Wait()

	return nil
}

// logLevel maps the validated config level to a slog level.
func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
