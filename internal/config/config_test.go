package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	config := Default()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default configuration is invalid: %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "empty directory",
			mutate:   func(c *Config) { c.Recording.Directory = "" },
			errorMsg: "directory cannot be empty",
		},
		{
			name:     "odd bit depth",
			mutate:   func(c *Config) { c.Recording.BitDepth = 12 },
			errorMsg: "bit_depth must be a positive multiple of 8",
		},
		{
			name:     "unknown emission mode",
			mutate:   func(c *Config) { c.Recording.EmissionMode = "every" },
			errorMsg: "emission_mode must be",
		},
		{
			name:     "interval above one minute",
			mutate:   func(c *Config) { c.Recording.IntervalMs = 3_600_000 },
			errorMsg: "interval_ms must be between 0 and 60000",
		},
		{
			name:   "interval at one minute",
			mutate: func(c *Config) { c.Recording.IntervalMs = MaxIntervalMs },
		},
		{
			name:     "zero sink queue",
			mutate:   func(c *Config) { c.Recording.SinkQueueSize = 0 },
			errorMsg: "sink_queue_size must be at least 1",
		},
		{
			name:     "unknown source type",
			mutate:   func(c *Config) { c.Source.Type = "file" },
			errorMsg: "type must be one of [device, udp, tone]",
		},
		{
			name: "invalid udp port",
			mutate: func(c *Config) {
				c.Source.Type = "udp"
				c.Source.UDP.Port = 70000
			},
			errorMsg: "udp port must be between 0 and 65535",
		},
		{
			name: "udp port ignored for device source",
			mutate: func(c *Config) {
				c.Source.UDP.Port = 70000
			},
		},
		{
			name: "tone amplitude above full scale",
			mutate: func(c *Config) {
				c.Source.Type = "tone"
				c.Source.Tone.Amplitude = 1.5
			},
			errorMsg: "tone amplitude must be in (0, 1]",
		},
		{
			name:     "invalid http port",
			mutate:   func(c *Config) { c.HTTP.Port = 0 },
			errorMsg: "http port must be between 1 and 65535",
		},
		{
			name: "disabled http skips checks",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "level must be one of",
		},
		{
			name: "file output without rotation size",
			mutate: func(c *Config) {
				c.Logging.Output = "/var/log/capture.log"
				c.Logging.MaxSizeMB = 0
			},
			errorMsg: "max_size_mb must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(&config)

			err := config.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name       string
		configYAML string
		errorMsg   string
		check      func(t *testing.T, c *Config)
	}{
		{
			name: "full config file",
			configYAML: `
recording:
  directory: "/tmp/recordings"
  sample_rate: 48000
  channels: 2
  bit_depth: 24
  interval_ms: 500
  emission_mode: "latest"
  sink_queue_size: 128
  dispatch_queue_size: 16
  stop_timeout: 3
source:
  type: "udp"
  udp:
    bind_address: "127.0.0.1"
    port: 5000
    buffer_size: 65535
    stream_id: 42
http:
  enabled: true
  address: "127.0.0.1"
  port: 9090
logging:
  level: "debug"
  format: "text"
  output: "stderr"
`,
			check: func(t *testing.T, c *Config) {
				if c.Recording.SampleRate != 48000 || c.Recording.Channels != 2 || c.Recording.BitDepth != 24 {
					t.Errorf("Unexpected recording settings: %+v", c.Recording)
				}
				if c.Source.Type != "udp" || c.Source.UDP.StreamID != 42 || c.Source.UDP.Port != 5000 {
					t.Errorf("Unexpected source config: %+v", c.Source)
				}
				if c.HTTP.Port != 9090 {
					t.Errorf("HTTP port = %d, want 9090", c.HTTP.Port)
				}
			},
		},
		{
			name: "partial file keeps defaults",
			configYAML: `
recording:
  directory: "/data/audio"
`,
			check: func(t *testing.T, c *Config) {
				if c.Recording.Directory != "/data/audio" {
					t.Errorf("Directory = %q, want /data/audio", c.Recording.Directory)
				}
				if c.Recording.SampleRate != 16000 || c.Recording.EmissionMode != "accumulate" {
					t.Errorf("Defaults not applied: %+v", c.Recording)
				}
				if c.Source.Type != "device" || c.HTTP.Port != 8080 || c.Logging.Level != "info" {
					t.Errorf("Defaults not applied: %+v", c)
				}
			},
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
recording:
  sample_rate: invalid_number
`,
			errorMsg: "failed to parse",
		},
		{
			name: "invalid value",
			configYAML: `
source:
  type: "microphone"
`,
			errorMsg: "source config: type must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.errorMsg != "" {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			tt.check(t, config)
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	recording := RecordingConfig{StopTimeout: 5}

	if recording.GetStopTimeoutDuration() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", recording.GetStopTimeoutDuration())
	}

	httpConfig := HTTPConfig{ReadTimeout: 10, WriteTimeout: 20, ShutdownTimeout: 30}
	if httpConfig.GetReadTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", httpConfig.GetReadTimeoutDuration())
	}
	if httpConfig.GetWriteTimeoutDuration() != 20*time.Second {
		t.Errorf("Expected 20 seconds, got %v", httpConfig.GetWriteTimeoutDuration())
	}
	if httpConfig.GetShutdownTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", httpConfig.GetShutdownTimeoutDuration())
	}

	device := DeviceSourceConfig{PeriodMs: 20}
	if device.GetPeriodDuration() != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", device.GetPeriodDuration())
	}
}

func TestLoggingIsFile(t *testing.T) {
	tests := []struct {
		output string
		isFile bool
	}{
		{"stdout", false},
		{"stderr", false},
		{"/var/log/capture.log", true},
		{"capture.log", true},
	}

	for _, tt := range tests {
		l := LoggingConfig{Output: tt.output}
		if l.IsFile() != tt.isFile {
			t.Errorf("IsFile(%q) = %v, want %v", tt.output, l.IsFile(), tt.isFile)
		}
	}
}
