package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
	"github.com/raghavsethi/expo-audio-stream/internal/capture"
	"github.com/raghavsethi/expo-audio-stream/internal/metrics"
)

var (
	recordDuration   time.Duration
	recordSource     string
	recordSampleRate int
	recordChannels   int
	recordBitDepth   int
	recordIntervalMs int
	recordDirectory  string
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one file and print its result",
	Long:  `Records until --duration elapses or the process is interrupted, then seals the WAV file and prints the recording result as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecord(cmd.Context())
	},
}

func init() {
	flags := recordCmd.Flags()
	flags.DurationVar(&recordDuration, "duration", 10*time.Second, "recording length, 0 records until interrupted")
	flags.StringVar(&recordSource, "source", "", "source type override: device, udp or tone")
	flags.IntVar(&recordSampleRate, "sample-rate", 0, "sample rate override in Hz")
	flags.IntVar(&recordChannels, "channels", 0, "channel count override")
	flags.IntVar(&recordBitDepth, "bit-depth", 0, "bit depth override")
	flags.IntVar(&recordIntervalMs, "interval", 0, "emission interval override in milliseconds")
	flags.StringVar(&recordDirectory, "dir", "", "recording directory override")
}

func runRecord(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if recordSource != "" {
		cfg.Source.Type = recordSource
	}
	if recordDirectory != "" {
		cfg.Recording.Directory = recordDirectory
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logCloser := initLogger(cfg.Logging)
	defer logCloser.Close()

	recorder, err := newRecorder(cfg, logger, metrics.NewMetrics(newRegistry()), progressConsumer(os.Stderr))
	if err != nil {
		return err
	}

	// installed before Start so an early interrupt still seals the file
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := audio.Settings{
		SampleRate: firstNonZero(recordSampleRate, cfg.Recording.SampleRate),
		Channels:   firstNonZero(recordChannels, cfg.Recording.Channels),
		BitDepth:   firstNonZero(recordBitDepth, cfg.Recording.BitDepth),
	}
	intervalMs := firstNonZero(recordIntervalMs, cfg.Recording.IntervalMs)

	return recordOnce(ctx, recorder, logger, settings, intervalMs, recordDuration,
		cfg.Recording.GetStopTimeoutDuration(), os.Stdout)
}

// recordOnce records until ctx is done or duration elapses, then stops the
// recording and writes its result to out as JSON
func recordOnce(ctx context.Context, recorder *capture.Recorder, logger *slog.Logger,
	settings audio.Settings, intervalMs int, duration, stopTimeout time.Duration, out io.Writer) error {

	id, location, err := recorder.Start(settings, intervalMs)
	if err != nil {
		return err
	}
	logger.Info("Recording", slog.String("session_id", id), slog.String("location", location))

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	result, stopErr := recorder.Stop(stopCtx)
	if result != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return stopErr
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// progressConsumer prints one line per emitted chunk
func progressConsumer(w io.Writer) capture.ConsumerFunc {
	return func(chunk capture.Chunk) {
		fmt.Fprintf(w, "recorded %d bytes (+%d)\n", chunk.TotalSize, chunk.DeltaSize)
	}
}
