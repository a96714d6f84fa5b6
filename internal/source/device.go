package source

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
	"github.com/raghavsethi/expo-audio-stream/internal/capture"
)

// DeviceConfig configures capture from the default input device
type DeviceConfig struct {
	Period time.Duration // callback period hint, 0 lets the backend decide
	Logger *slog.Logger
}

// DeviceSource captures from the default input device through miniaudio
type DeviceSource struct {
	config DeviceConfig
	logger *slog.Logger

	mu     sync.Mutex // guards ctx and device
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	cbMu     sync.Mutex // held while a buffer is forwarded
	onBuffer func([]byte)
}

// NewDeviceSource creates an unstarted device source
func NewDeviceSource(config DeviceConfig) *DeviceSource {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceSource{
		config: config,
		logger: logger.With(slog.String("source", "device")),
	}
}

// deviceFormat maps a bit depth to the miniaudio sample format matching WAV PCM
func deviceFormat(bitDepth int) (malgo.FormatType, error) {
	switch bitDepth {
	case 8:
		return malgo.FormatU8, nil
	case 16:
		return malgo.FormatS16, nil
	case 24:
		return malgo.FormatS24, nil
	case 32:
		return malgo.FormatS32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}

// Start opens the default capture device with the requested layout. Some
// backends coerce unsupported sample rates; miniaudio converts to the requested
// format so buffers always match settings.
func (d *DeviceSource) Start(settings audio.Settings, onBuffer func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return &capture.SourceSetupError{Reason: "capture device already started"}
	}

	format, err := deviceFormat(settings.BitDepth)
	if err != nil {
		return &capture.SourceSetupError{Reason: "device format", Err: err}
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		d.logger.Debug("miniaudio", slog.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return &capture.SourceSetupError{Reason: "init audio context", Err: err}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = uint32(settings.Channels)
	deviceConfig.SampleRate = uint32(settings.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(d.config.Period.Milliseconds())

	d.cbMu.Lock()
	d.onBuffer = onBuffer
	d.cbMu.Unlock()

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSample []byte, frameCount uint32) {
			d.cbMu.Lock()
			defer d.cbMu.Unlock()
			if d.onBuffer != nil && len(pInputSample) > 0 {
				d.onBuffer(pInputSample)
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		d.release(ctx, nil)
		return d.setupError("init capture device", err)
	}

	if err := device.Start(); err != nil {
		d.release(ctx, device)
		return d.setupError("start capture device", err)
	}

	d.ctx = ctx
	d.device = device

	if rate := device.SampleRate(); rate != 0 && rate != uint32(settings.SampleRate) {
		d.logger.Warn("Capture device runs at a different sample rate than requested",
			slog.Int("requested", settings.SampleRate),
			slog.Uint64("actual", uint64(rate)),
		)
	}

	d.logger.Info("Capture device started",
		slog.Int("sample_rate", settings.SampleRate),
		slog.Int("channels", settings.Channels),
		slog.Int("bit_depth", settings.BitDepth),
	)
	return nil
}

// setupError maps device failures to the capture error taxonomy
func (d *DeviceSource) setupError(reason string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("%w: %s: %w", capture.ErrPermissionDenied, reason, err)
	}
	return &capture.SourceSetupError{Reason: reason, Err: err}
}

// release frees a partially started device and context
func (d *DeviceSource) release(ctx *malgo.AllocatedContext, device *malgo.Device) {
	if device != nil {
		device.Uninit()
	}
	d.cbMu.Lock()
	d.onBuffer = nil
	d.cbMu.Unlock()
	if ctx != nil {
		if err := ctx.Uninit(); err != nil {
			d.logger.Warn("Failed to release audio context", slog.String("error", err.Error()))
		}
		ctx.Free()
	}
}

// Stop stops the device. No buffer is forwarded once Stop returns.
func (d *DeviceSource) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return nil
	}

	var stopErr error
	if err := d.device.Stop(); err != nil {
		stopErr = fmt.Errorf("failed to stop capture device: %w", err)
	}

	d.release(d.ctx, d.device)
	d.device = nil
	d.ctx = nil

	d.logger.Info("Capture device stopped")
	return stopErr
}
