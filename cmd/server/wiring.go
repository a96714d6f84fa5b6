package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raghavsethi/expo-audio-stream/internal/capture"
	"github.com/raghavsethi/expo-audio-stream/internal/config"
	"github.com/raghavsethi/expo-audio-stream/internal/metrics"
	"github.com/raghavsethi/expo-audio-stream/internal/source"
)

// newRegistry returns a registry carrying the runtime collectors next to ours
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newSource builds the capture source selected by the configuration
func newSource(cfg config.SourceConfig, logger *slog.Logger, m *metrics.Metrics) (capture.Source, error) {
	switch cfg.Type {
	case "device":
		return source.NewDeviceSource(source.DeviceConfig{
			Period: cfg.Device.GetPeriodDuration(),
			Logger: logger,
		}), nil
	case "udp":
		return source.NewUDPSource(source.UDPConfig{
			BindAddress: cfg.UDP.BindAddress,
			Port:        cfg.UDP.Port,
			BufferSize:  cfg.UDP.BufferSize,
			StreamID:    cfg.UDP.StreamID,
			Logger:      logger,
			Metrics:     m,
		}), nil
	case "tone":
		return source.NewToneSource(source.ToneConfig{
			Frequency:    cfg.Tone.Frequency,
			Amplitude:    cfg.Tone.Amplitude,
			BufferFrames: cfg.Tone.BufferFrames,
			Logger:       logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}

// newRecorder wires the configured source and emission mode into a recorder.
// Chunks go to the log and then to each of extra.
func newRecorder(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, extra ...capture.Consumer) (*capture.Recorder, error) {
	src, err := newSource(cfg.Source, logger, m)
	if err != nil {
		return nil, err
	}

	mode, err := capture.ParseEmissionMode(cfg.Recording.EmissionMode)
	if err != nil {
		return nil, err
	}

	return capture.NewRecorder(capture.RecorderConfig{
		Directory:         cfg.Recording.Directory,
		Source:            src,
		Consumer:          append(capture.MultiConsumer{capture.NewLogConsumer(logger)}, extra...),
		Mode:              mode,
		SinkQueueSize:     cfg.Recording.SinkQueueSize,
		DispatchQueueSize: cfg.Recording.DispatchQueueSize,
		Logger:            logger,
		Metrics:           m,
	}), nil
}
