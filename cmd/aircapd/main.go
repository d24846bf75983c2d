// SPDX-License-Identifier: MIT

// Command aircapd is the recording-session daemon: it admits time-triggered
// capture sessions over HTTP, records the configured streams with ffmpeg,
// post-processes them into tagged MP3 artifacts and ships them via SFTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klangwald/aircap/internal/api"
	"github.com/klangwald/aircap/internal/audio"
	"github.com/klangwald/aircap/internal/bus"
	"github.com/klangwald/aircap/internal/capture"
	"github.com/klangwald/aircap/internal/config"
	"github.com/klangwald/aircap/internal/fsutil"
	"github.com/klangwald/aircap/internal/log"
	"github.com/klangwald/aircap/internal/orchestrator"
	"github.com/klangwald/aircap/internal/store"
	"github.com/klangwald/aircap/internal/transfer"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config overlay (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("aircapd", version)
		return
	}

	if err := run(*configPath); err != nil {
		logger := log.WithComponent("main")
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "aircapd", Version: version})
	logger := log.WithComponent("main")
	logger.Info().
		Str("listen", cfg.ListenAddr).
		Int("max_concurrent", cfg.MaxConcurrent).
		Str("data_dir", cfg.DataDir).
		Msg("starting")

	for _, dir := range []string{cfg.DataDir, cfg.RecordingsDir, cfg.ArtworkDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	holder := config.NewHolder(cfg, configPath)
	if configPath != "" {
		if err := holder.StartWatcher(ctx); err != nil {
			logger.Warn().Err(err).Msg("config watcher unavailable, hot reload disabled")
		}
	}

	st, err := store.OpenSQLite(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() { _ = st.Close() }()

	eventBus := bus.NewMemoryBus()
	recorder := store.NewRecorder(st, eventBus)

	captureAgent := &capture.Agent{
		WorkDir:     cfg.DataDir,
		Protocols:   cfg.Protocols,
		Grace:       cfg.CaptureGrace,
		Runner:      &capture.FFmpegRunner{Bin: cfg.FFmpegPath},
		FFprobePath: cfg.FFprobePath,
	}
	processor := &audio.Processor{
		Tool:            &audio.FFmpegToolchain{FFmpegPath: cfg.FFmpegPath, FFprobePath: cfg.FFprobePath},
		OutDir:          cfg.RecordingsDir,
		MaxArtworkBytes: cfg.MaxArtworkBytes,
		Timeout:         cfg.ProcessTimeout,
	}
	transferAgent := &transfer.Agent{
		Dialer:         &transfer.SFTPDialer{Timeout: cfg.TransferTimeout},
		DefaultKeyPath: cfg.SSHKeyPath,
		Timeout:        cfg.TransferTimeout,
	}

	// The holder feeds admission so a config reload reaches future sessions.
	orch := orchestrator.New(holder,
		orchestrator.NewCapturer(captureAgent),
		processor, transferAgent, st, eventBus)

	if err := orch.RecoverInterrupted(ctx); err != nil {
		logger.Warn().Err(err).Msg("recovery of interrupted sessions failed")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(orch, st, captureAgent, version).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := recorder.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info().Str("listen", cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("session drain incomplete")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}
