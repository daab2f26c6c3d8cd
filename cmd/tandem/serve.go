package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/tandem/internal/api"
	"github.com/mattjoyce/tandem/internal/config"
	"github.com/mattjoyce/tandem/internal/controller"
	"github.com/mattjoyce/tandem/internal/events"
	"github.com/mattjoyce/tandem/internal/lock"
	"github.com/mattjoyce/tandem/internal/log"
	"github.com/mattjoyce/tandem/internal/state"
	"github.com/mattjoyce/tandem/internal/storage"
	"github.com/mattjoyce/tandem/internal/tui/preview"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	listen := fs.String("listen", "", "Listen address (overrides api.listen)")
	memory := fs.Bool("memory", false, "Keep sessions in memory only")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("tandem starting", "version", version, "config", *configPath, "flavor", cfg.Engine.Flavor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store api.SessionStore
	if !*memory {
		lockPath := lock.PathFor(cfg.State.Path)
		pidLock, err := lock.Acquire(lockPath)
		if err != nil {
			logger.Error("failed to acquire state lock (another server may be running)", "path", lockPath, "error", err)
			return 1
		}
		defer pidLock.Release()

		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
			return 1
		}
		defer db.Close()
		if err := storage.BootstrapSQLite(ctx, db); err != nil {
			logger.Error("failed to bootstrap database", "path", cfg.State.Path, "error", err)
			return 1
		}
		logger.Info("database opened", "path", cfg.State.Path)
		store = state.NewStore(db)
	}

	hub := events.NewHub(cfg.API.EventBuffer)
	server := api.New(api.Config{
		Listen:          cfg.API.Listen,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
		Token:           cfg.API.Token,
		Engine:          engineOptions(cfg),
	}, store, hub, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("API server stopped with error", "error", err)
			return 1
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("API server failed", "error", err)
			return 1
		}
	}

	logger.Info("tandem stopped")
	return 0
}

func runPreview(args []string) int {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	from := fs.String("from", "", "Source format: jobs or script (default: from file extension)")
	configPath := fs.String("config", "", "Path to configuration file or directory")
	interval := fs.Duration("interval", preview.DefaultInterval, "How often to check the file for changes")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: tandem preview [--from jobs|script] <file>")
		return 1
	}
	path := fs.Arg(0)

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	flavor, err := previewFlavor(*from, path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", path, err)
		return 1
	}

	// The terminal belongs to the preview; only errors are logged.
	log.Setup("error", cfg.Service.LogFormat)

	opts := engineOptions(cfg)
	opts.Flavor = flavor
	if err := preview.Run(path, opts, clampInterval(*interval)); err != nil {
		fmt.Fprintf(os.Stderr, "Preview failed: %v\n", err)
		return 1
	}
	return 0
}

func previewFlavor(from, path string) (controller.Flavor, error) {
	if from == "" {
		from = inferFormat(path)
	}
	switch from {
	case formatJobs:
		return controller.FlavorJobs, nil
	case formatScript:
		return controller.FlavorScript, nil
	default:
		return "", fmt.Errorf("preview cannot follow %s files", from)
	}
}

func clampInterval(d time.Duration) time.Duration {
	if d < 50*time.Millisecond {
		return 50 * time.Millisecond
	}
	return d
}
