package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harunnryd/viva/pkg/config"
	"github.com/harunnryd/viva/pkg/logging"
	"github.com/harunnryd/viva/pkg/observers"
	"github.com/harunnryd/viva/pkg/redact"
	"github.com/harunnryd/viva/pkg/runner"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config; empty uses defaults and VIVA_* env")
	envPath := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("dotenv_load_failed", "path", *envPath, "error", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	if err := run(cfg, logger); err != nil {
		logger.Error("viva_exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(sigCtx, 30*time.Second)
	a, err := newApp(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		return err
	}

	// The controller outlives the signal context so Drain can still reach it.
	ctrlCtx, cancelCtrl := context.WithCancel(context.Background())
	defer cancelCtrl()

	lifecycle := runner.NewLifecycle(a, runner.Hooks{
		OnStart:        func() { logger.Info("viva_started", "session_id", a.sessionID, "addr", cfg.Server.Addr) },
		OnStop:         func() { logger.Info("viva_stopped", "session_id", a.sessionID) },
		OnDrainTimeout: func() { logger.Warn("viva_drain_timeout", "session_id", a.sessionID) },
	}, cfg.DrainTimeout(), runner.WithBanner(os.Stdout, a.sessionID))

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		err := a.ctrl.Run(ctrlCtx)
		stop()
		return err
	})
	g.Go(a.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		err := lifecycle.Run(gctx)
		cancelCtrl()
		return err
	})
	if maxAge := cfg.RetentionMaxAge(); maxAge > 0 {
		for _, dir := range []string{cfg.Observability.ArtifactsDir, cfg.Recording.Dir} {
			if dir == "" {
				continue
			}
			dir := dir
			g.Go(func() error {
				observers.RunRetention(gctx, dir, maxAge, time.Hour, logger)
				return nil
			})
		}
	}
	return g.Wait()
}
