package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxIntervalMs is the longest emission interval a configuration may request
const MaxIntervalMs = 60000

// Config represents the complete service configuration
type Config struct {
	Recording RecordingConfig `yaml:"recording" json:"recording"`
	Source    SourceConfig    `yaml:"source" json:"source"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// RecordingConfig contains recording defaults and queue sizes
type RecordingConfig struct {
	Directory         string `yaml:"directory" json:"directory"`
	SampleRate        int    `yaml:"sample_rate" json:"sample_rate"`
	Channels          int    `yaml:"channels" json:"channels"`
	BitDepth          int    `yaml:"bit_depth" json:"bit_depth"`
	IntervalMs        int    `yaml:"interval_ms" json:"interval_ms"`
	EmissionMode      string `yaml:"emission_mode" json:"emission_mode"` // accumulate or latest
	SinkQueueSize     int    `yaml:"sink_queue_size" json:"sink_queue_size"`
	DispatchQueueSize int    `yaml:"dispatch_queue_size" json:"dispatch_queue_size"`
	StopTimeout       int    `yaml:"stop_timeout" json:"stop_timeout"` // seconds
}

// SourceConfig selects and configures the capture source
type SourceConfig struct {
	Type   string             `yaml:"type" json:"type"` // device, udp or tone
	Device DeviceSourceConfig `yaml:"device" json:"device"`
	UDP    UDPSourceConfig    `yaml:"udp" json:"udp"`
	Tone   ToneSourceConfig   `yaml:"tone" json:"tone"`
}

// DeviceSourceConfig configures the default input device
type DeviceSourceConfig struct {
	PeriodMs int `yaml:"period_ms" json:"period_ms"`
}

// UDPSourceConfig configures the UDP PCM receiver
type UDPSourceConfig struct {
	BindAddress string `yaml:"bind_address" json:"bind_address"`
	Port        int    `yaml:"port" json:"port"`
	BufferSize  int    `yaml:"buffer_size" json:"buffer_size"`
	StreamID    uint32 `yaml:"stream_id" json:"stream_id"`
}

// ToneSourceConfig configures the synthetic tone generator
type ToneSourceConfig struct {
	Frequency    float64 `yaml:"frequency" json:"frequency"`
	Amplitude    float64 `yaml:"amplitude" json:"amplitude"`
	BufferFrames int     `yaml:"buffer_frames" json:"buffer_frames"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port            int    `yaml:"port" json:"port"`
	Address         string `yaml:"address" json:"address"`
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	ReadTimeout     int    `yaml:"read_timeout" json:"read_timeout"`         // seconds
	WriteTimeout    int    `yaml:"write_timeout" json:"write_timeout"`       // seconds
	ShutdownTimeout int    `yaml:"shutdown_timeout" json:"shutdown_timeout"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"` // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Default returns the configuration used for keys missing from the file
func Default() Config {
	return Config{
		Recording: RecordingConfig{
			Directory:         "./recordings",
			SampleRate:        16000,
			Channels:          1,
			BitDepth:          16,
			IntervalMs:        1000,
			EmissionMode:      "accumulate",
			SinkQueueSize:     64,
			DispatchQueueSize: 32,
			StopTimeout:       5,
		},
		Source: SourceConfig{
			Type:   "device",
			Device: DeviceSourceConfig{PeriodMs: 20},
			UDP: UDPSourceConfig{
				BindAddress: "0.0.0.0",
				Port:        4444,
				BufferSize:  65535,
			},
			Tone: ToneSourceConfig{
				Frequency:    440,
				Amplitude:    0.5,
				BufferFrames: 1024,
			},
		},
		HTTP: HTTPConfig{
			Port:            8080,
			Address:         "0.0.0.0",
			Enabled:         true,
			ReadTimeout:     10,
			WriteTimeout:    10,
			ShutdownTimeout: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates recording configuration. Audio settings are checked
// again against the WAV header limits when a recording starts.
func (r *RecordingConfig) Validate() error {
	if r.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	if r.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", r.SampleRate)
	}

	if r.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", r.Channels)
	}

	if r.BitDepth <= 0 || r.BitDepth%8 != 0 {
		return fmt.Errorf("bit_depth must be a positive multiple of 8, got %d", r.BitDepth)
	}

	if r.IntervalMs < 0 || r.IntervalMs > MaxIntervalMs {
		return fmt.Errorf("interval_ms must be between 0 and %d, got %d", MaxIntervalMs, r.IntervalMs)
	}

	if r.EmissionMode != "accumulate" && r.EmissionMode != "latest" {
		return fmt.Errorf("emission_mode must be 'accumulate' or 'latest', got '%s'", r.EmissionMode)
	}

	if r.SinkQueueSize < 1 {
		return fmt.Errorf("sink_queue_size must be at least 1, got %d", r.SinkQueueSize)
	}

	if r.DispatchQueueSize < 1 {
		return fmt.Errorf("dispatch_queue_size must be at least 1, got %d", r.DispatchQueueSize)
	}

	if r.StopTimeout < 1 {
		return fmt.Errorf("stop_timeout must be at least 1 second, got %d", r.StopTimeout)
	}

	return nil
}

// Validate validates source configuration
func (s *SourceConfig) Validate() error {
	switch s.Type {
	case "device":
		if s.Device.PeriodMs < 0 {
			return fmt.Errorf("device period_ms cannot be negative, got %d", s.Device.PeriodMs)
		}
	case "udp":
		if s.UDP.Port < 0 || s.UDP.Port > 65535 {
			return fmt.Errorf("udp port must be between 0 and 65535, got %d", s.UDP.Port)
		}
		if s.UDP.BindAddress == "" {
			return fmt.Errorf("udp bind_address cannot be empty")
		}
		if s.UDP.BufferSize < 1024 {
			return fmt.Errorf("udp buffer_size must be at least 1024 bytes, got %d", s.UDP.BufferSize)
		}
	case "tone":
		if s.Tone.Frequency <= 0 {
			return fmt.Errorf("tone frequency must be positive, got %f", s.Tone.Frequency)
		}
		if s.Tone.Amplitude <= 0 || s.Tone.Amplitude > 1 {
			return fmt.Errorf("tone amplitude must be in (0, 1], got %f", s.Tone.Amplitude)
		}
		if s.Tone.BufferFrames < 1 {
			return fmt.Errorf("tone buffer_frames must be at least 1, got %d", s.Tone.BufferFrames)
		}
	default:
		return fmt.Errorf("type must be one of [device, udp, tone], got '%s'", s.Type)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty when HTTP is enabled")
	}

	if h.ReadTimeout < 0 || h.WriteTimeout < 0 || h.ShutdownTimeout < 0 {
		return fmt.Errorf("http timeouts cannot be negative")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	if l.IsFile() && l.MaxSizeMB < 1 {
		return fmt.Errorf("max_size_mb must be at least 1 for file output, got %d", l.MaxSizeMB)
	}

	return nil
}

// IsFile reports whether logs go to a file rather than a standard stream
func (l *LoggingConfig) IsFile() bool {
	return l.Output != "stdout" && l.Output != "stderr"
}

// GetStopTimeoutDuration returns the stop timeout as a time.Duration
func (r *RecordingConfig) GetStopTimeoutDuration() time.Duration {
	return time.Duration(r.StopTimeout) * time.Second
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetShutdownTimeoutDuration returns the shutdown timeout as a time.Duration
func (h *HTTPConfig) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(h.ShutdownTimeout) * time.Second
}

// GetPeriodDuration returns the device period as a time.Duration
func (d *DeviceSourceConfig) GetPeriodDuration() time.Duration {
	return time.Duration(d.PeriodMs) * time.Millisecond
}
