package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raghavsethi/expo-audio-stream/internal/metrics"
	"github.com/raghavsethi/expo-audio-stream/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger, logCloser := initLogger(cfg.Logging)
	defer logCloser.Close()

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", version),
		slog.String("config_path", path),
	)
	logger.Info("Configuration loaded",
		slog.String("directory", cfg.Recording.Directory),
		slog.String("source", cfg.Source.Type),
		slog.String("emission_mode", cfg.Recording.EmissionMode),
		slog.Int("sample_rate", cfg.Recording.SampleRate),
		slog.Int("channels", cfg.Recording.Channels),
		slog.Int("bit_depth", cfg.Recording.BitDepth),
		slog.String("log_level", cfg.Logging.Level),
	)

	if !cfg.HTTP.Enabled {
		return fmt.Errorf("http is disabled in the configuration, nothing to serve")
	}

	registry := newRegistry()
	appMetrics := metrics.NewMetrics(registry)

	recorder, err := newRecorder(cfg, logger, appMetrics)
	if err != nil {
		return err
	}

	httpServer := server.NewHTTPServer(cfg.HTTP, logger, cfg, recorder, server.Options{
		Gatherer: registry,
		Metrics:  appMetrics,
		Version:  version,
	})
	if err := httpServer.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")
	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeoutDuration())
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	// seal any recording left running so its file stays playable
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Recording.GetStopTimeoutDuration())
	defer stopCancel()
	if err := recorder.Close(stopCtx); err != nil {
		logger.Error("Error stopping recording", slog.String("error", err.Error()))
	}

	logger.Info("Service stopped")
	return nil
}
