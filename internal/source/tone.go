package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
	"github.com/raghavsethi/expo-audio-stream/internal/capture"
)

// ToneConfig configures the synthetic tone generator
type ToneConfig struct {
	Frequency    float64 // Hz
	Amplitude    float64 // 0..1 of full scale
	BufferFrames int     // frames per delivered buffer
	Logger       *slog.Logger
}

// ToneSource generates a sine wave in real time, one buffer every
// BufferFrames / SampleRate seconds
type ToneSource struct {
	config ToneConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewToneSource creates an unstarted tone source
func NewToneSource(config ToneConfig) *ToneSource {
	if config.Frequency <= 0 {
		config.Frequency = 440
	}
	if config.Amplitude <= 0 || config.Amplitude > 1 {
		config.Amplitude = 0.5
	}
	if config.BufferFrames <= 0 {
		config.BufferFrames = 1024
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ToneSource{
		config: config,
		logger: logger.With(slog.String("source", "tone")),
	}
}

// Start begins generating buffers on a dedicated goroutine
func (t *ToneSource) Start(settings audio.Settings, onBuffer func([]byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return &capture.SourceSetupError{Reason: "tone generator already started"}
	}

	gen, err := newToneGenerator(t.config, settings)
	if err != nil {
		return &capture.SourceSetupError{Reason: "tone format", Err: err}
	}

	period := time.Duration(float64(t.config.BufferFrames) / float64(settings.SampleRate) * float64(time.Second))
	if period <= 0 {
		period = time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				onBuffer(gen.next())
			}
		}
	}()

	t.logger.Info("Tone generator started",
		slog.Float64("frequency", t.config.Frequency),
		slog.Duration("period", period),
	)
	return nil
}

// Stop halts generation and waits for the last buffer to be delivered
func (t *ToneSource) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel == nil {
		return nil
	}
	t.cancel()
	t.wg.Wait()
	t.cancel = nil
	return nil
}

// toneGenerator renders consecutive buffers of a continuous sine wave
type toneGenerator struct {
	settings audio.Settings
	frames   int
	step     float64 // phase advance per frame
	phase    float64
	scale    float64
	buf      []byte
}

func newToneGenerator(config ToneConfig, settings audio.Settings) (*toneGenerator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.BitDepth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", settings.BitDepth)
	}

	fullScale := math.Pow(2, float64(settings.BitDepth-1)) - 1
	return &toneGenerator{
		settings: settings,
		frames:   config.BufferFrames,
		step:     2 * math.Pi * config.Frequency / float64(settings.SampleRate),
		scale:    fullScale * config.Amplitude,
		buf:      make([]byte, config.BufferFrames*int(settings.BlockAlign())),
	}, nil
}

// next renders one buffer. The returned slice is reused by the following call.
func (g *toneGenerator) next() []byte {
	bytesPerSample := g.settings.BitDepth / 8
	off := 0
	for i := 0; i < g.frames; i++ {
		sample := int32(math.Round(math.Sin(g.phase) * g.scale))
		g.phase += g.step
		if g.phase >= 2*math.Pi {
			g.phase -= 2 * math.Pi
		}
		for c := 0; c < g.settings.Channels; c++ {
			putSample(g.buf[off:off+bytesPerSample], sample)
			off += bytesPerSample
		}
	}
	return g.buf
}

// putSample writes a little-endian PCM sample; 8-bit PCM is unsigned in WAV
func putSample(dst []byte, sample int32) {
	switch len(dst) {
	case 1:
		dst[0] = byte(sample + 128)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(int16(sample)))
	case 3:
		v := uint32(sample)
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(sample))
	}
}
