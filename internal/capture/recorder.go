package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
	"github.com/raghavsethi/expo-audio-stream/internal/metrics"
)

// RecorderConfig contains configuration for the recorder
type RecorderConfig struct {
	Directory         string
	Source            Source
	Consumer          Consumer
	Mode              EmissionMode
	SinkQueueSize     int
	DispatchQueueSize int
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// FileInfo describes a recording file on disk
type FileInfo struct {
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	Location  string         `json:"location"`
	SizeBytes int64          `json:"size_bytes"`
	ModTime   time.Time      `json:"modified_at"`
	Active    bool           `json:"active"`
	WAV       *audio.WAVInfo `json:"wav,omitempty"`
}

// Recorder owns at most one recording at a time and manages the recording directory
type Recorder struct {
	cfg    RecorderConfig
	logger *slog.Logger

	mu      sync.Mutex // serializes Start and Stop
	current atomic.Pointer[Session]
}

// NewRecorder creates a recorder writing into cfg.Directory
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Directory returns the directory recordings are written to
func (r *Recorder) Directory() string {
	return r.cfg.Directory
}

// Start begins a new recording in a fresh session and returns its id and file location
func (r *Recorder) Start(settings audio.Settings, intervalMs int) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur := r.current.Load(); cur != nil && cur.State() == StateRecording {
		return "", "", ErrAlreadyRecording
	}

	session := NewSession(SessionConfig{
		Directory:         r.cfg.Directory,
		Source:            r.cfg.Source,
		Consumer:          r.cfg.Consumer,
		Mode:              r.cfg.Mode,
		SinkQueueSize:     r.cfg.SinkQueueSize,
		DispatchQueueSize: r.cfg.DispatchQueueSize,
		Logger:            r.logger,
		Metrics:           r.cfg.Metrics,
		Now:               r.cfg.Now,
	})

	id, location, err := session.Start(settings, intervalMs)
	if err != nil {
		r.logger.Warn("Failed to start recording",
			slog.String("directory", r.cfg.Directory),
			slog.String("error", err.Error()),
		)
		return "", "", err
	}

	r.current.Store(session)
	return id, location, nil
}

// Stop ends the active recording. It returns nil, nil when nothing is recording.
func (r *Recorder) Stop(ctx context.Context) (*RecordingResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	if cur == nil {
		return nil, nil
	}
	return cur.Stop(ctx)
}

// Status returns the snapshot of the most recent session, or an idle status
func (r *Recorder) Status() Status {
	if cur := r.current.Load(); cur != nil {
		return cur.Status()
	}
	return Status{State: StateIdle.String(), MimeType: audio.MimeType}
}

// Session returns the most recent session, or nil
func (r *Recorder) Session() *Session {
	return r.current.Load()
}

// activePath returns the file of the recording in progress, or ""
func (r *Recorder) activePath() string {
	if cur := r.current.Load(); cur != nil && cur.State() == StateRecording {
		return cur.Path()
	}
	return ""
}

// ListFiles returns the WAV files in the recording directory sorted by name
func (r *Recorder) ListFiles() ([]FileInfo, error) {
	entries, err := os.ReadDir(r.cfg.Directory)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []FileInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list recordings in %s: %w", r.cfg.Directory, err)
	}

	active := r.activePath()
	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isWAV(entry.Name()) {
			continue
		}

		path := filepath.Join(r.cfg.Directory, entry.Name())
		stat, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}

		location, err := FileURI(path)
		if err != nil {
			return nil, err
		}

		file := FileInfo{
			Name:      entry.Name(),
			Path:      path,
			Location:  location,
			SizeBytes: stat.Size(),
			ModTime:   stat.ModTime(),
			Active:    path == active,
		}
		if info, err := audio.ReadFileInfo(path); err == nil {
			file.WAV = info
		} else {
			r.logger.Debug("Unreadable WAV header",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}

		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// ClearFiles removes every WAV file in the recording directory except the one
// being recorded, and returns how many were removed
func (r *Recorder) ClearFiles() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.cfg.Directory)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list recordings in %s: %w", r.cfg.Directory, err)
	}

	active := r.activePath()
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !isWAV(entry.Name()) {
			continue
		}
		path := filepath.Join(r.cfg.Directory, entry.Name())
		if path == active {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
			continue
		}
		removed++
	}

	r.logger.Info("Recordings cleared",
		slog.String("directory", r.cfg.Directory),
		slog.Int("removed", removed),
		slog.Int("failed", len(errs)),
	)

	return removed, errors.Join(errs...)
}

// Close stops any active recording
func (r *Recorder) Close(ctx context.Context) error {
	result, err := r.Stop(ctx)
	if result != nil {
		r.logger.Info("Active recording stopped on shutdown",
			slog.String("session_id", result.SessionID),
			slog.String("path", result.Path),
		)
	}
	return err
}

func isWAV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".wav")
}
