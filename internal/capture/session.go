package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
	"github.com/raghavsethi/expo-audio-stream/internal/metrics"
)

// dropLogEvery limits queue-full warnings on the capture path
const dropLogEvery = 100

// State is the lifecycle state of a Session
type State int32

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Source pushes raw PCM buffers into a session. onBuffer is called from a
// single goroutine at a time, in capture order. Stop must not return before
// the last onBuffer call has returned.
type Source interface {
	Start(settings audio.Settings, onBuffer func([]byte)) error
	Stop() error
}

// SessionConfig holds everything a session needs for one recording
type SessionConfig struct {
	Directory string // where recording files are created
	Source    Source
	Consumer  Consumer // nil discards chunks
	Mode      EmissionMode

	SinkQueueSize     int
	DispatchQueueSize int

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// RecordingResult describes a finished recording
type RecordingResult struct {
	SessionID  string         `json:"session_id"`
	Location   string         `json:"location"`
	Path       string         `json:"path"`
	MimeType   string         `json:"mime_type"`
	DurationMs int64          `json:"duration_ms"`
	SizeBytes  int64          `json:"size_bytes"`
	Settings   audio.Settings `json:"settings"`
}

// Status is a point-in-time view of a session
type Status struct {
	State           string          `json:"state"`
	SessionID       string          `json:"session_id,omitempty"`
	Location        string          `json:"location,omitempty"`
	ElapsedMs       int64           `json:"elapsed_ms"`
	SizeBytes       int64           `json:"size_bytes"`
	RecordedMs      int64           `json:"recorded_ms"` // playback length of the bytes on disk
	MimeType        string          `json:"mime_type"`
	IntervalMs      int64           `json:"interval_ms,omitempty"`
	Settings        *audio.Settings `json:"settings,omitempty"`
	BuffersReceived uint64          `json:"buffers_received"`
	BuffersDropped  uint64          `json:"buffers_dropped"`
	WriteFailures   uint64          `json:"write_failures"`
	Emissions       uint64          `json:"emissions"`
}

// recording holds what a successful Start produced. It is immutable once
// published, except for the emitter which only the sink writer goroutine touches.
type recording struct {
	id         string
	path       string
	location   string
	settings   audio.Settings
	interval   time.Duration
	startedAt  time.Time
	sink       *audio.FileSink
	dispatcher *Dispatcher
	emitter    *emitter
}

// Session is one start-to-stop recording. A stopped session cannot be restarted.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex // serializes Start and Stop
	state  atomic.Int32
	rec    atomic.Pointer[recording]
	result atomic.Pointer[RecordingResult]

	buffersReceived atomic.Uint64
	buffersDropped  atomic.Uint64
	writeFailures   atomic.Uint64
	emissions       atomic.Uint64
}

// NewSession creates an idle session
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Consumer == nil {
		cfg.Consumer = ConsumerFunc(func(Chunk) {})
	}
	if cfg.Mode == "" {
		cfg.Mode = EmitAccumulated
	}

	return &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// ID returns the session id, or "" before a successful Start
func (s *Session) ID() string {
	if rec := s.rec.Load(); rec != nil {
		return rec.id
	}
	return ""
}

// Path returns the backing file path, or "" before a successful Start
func (s *Session) Path() string {
	if rec := s.rec.Load(); rec != nil {
		return rec.path
	}
	return ""
}

// Start creates the recording file and starts the audio source. Setup failures
// leave the session Idle.
func (s *Session) Start(settings audio.Settings, intervalMs int) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateRecording:
		return "", "", ErrAlreadyRecording
	case StateStopped:
		return "", "", ErrSessionStopped
	}

	if err := settings.Validate(); err != nil {
		s.cfg.Metrics.RecordRecordingFailure("invalid_format")
		return "", "", err
	}
	if s.cfg.Source == nil {
		s.cfg.Metrics.RecordRecordingFailure("source")
		return "", "", &SourceSetupError{Reason: "no audio source configured"}
	}

	interval := ClampInterval(intervalMs)
	if interval != time.Duration(intervalMs)*time.Millisecond {
		s.logger.Debug("Emission interval clamped",
			slog.Int("requested_ms", intervalMs),
			slog.Int64("interval_ms", interval.Milliseconds()),
		)
	}

	id := uuid.NewString()
	startedAt := s.now()

	if err := os.MkdirAll(s.cfg.Directory, 0755); err != nil {
		s.cfg.Metrics.RecordRecordingFailure("file")
		return "", "", &FileCreationError{Location: s.cfg.Directory, Err: err}
	}

	path := filepath.Join(s.cfg.Directory, RecordingFileName(startedAt, id))
	location, err := FileURI(path)
	if err != nil {
		s.cfg.Metrics.RecordRecordingFailure("file")
		return "", "", &FileCreationError{Location: path, Err: err}
	}

	rec := &recording{
		id:         id,
		path:       path,
		location:   location,
		settings:   settings,
		interval:   interval,
		startedAt:  startedAt,
		emitter:    newEmitter(s.cfg.Mode, interval, startedAt),
		dispatcher: NewDispatcher(s.cfg.Consumer, s.cfg.DispatchQueueSize, s.logger),
	}

	sink, err := audio.CreateSink(path, settings, audio.SinkOptions{
		QueueSize: s.cfg.SinkQueueSize,
		Logger:    s.logger,
		OnWritten: func(block audio.Block, total uint64) {
			s.onBlockWritten(rec, block, total)
		},
		OnError: func(err error) {
			s.writeFailures.Add(1)
			s.cfg.Metrics.RecordWriteFailure()
		},
	})
	if err != nil {
		rec.dispatcher.Drain(context.Background())
		s.cfg.Metrics.RecordRecordingFailure("file")
		return "", "", err
	}
	rec.sink = sink

	// Publish before starting the source: it may deliver buffers from inside Start
	s.rec.Store(rec)
	s.state.Store(int32(StateRecording))

	if err := s.cfg.Source.Start(settings, s.OnBufferReceived); err != nil {
		s.state.Store(int32(StateIdle))
		s.rec.Store(nil)
		if derr := sink.Discard(); derr != nil {
			s.logger.Warn("Failed to remove recording file after source failure",
				slog.String("path", path),
				slog.String("error", derr.Error()),
			)
		}
		rec.dispatcher.Drain(context.Background())
		s.cfg.Metrics.RecordRecordingFailure("source")
		return "", "", sourceError(settings, err)
	}

	s.cfg.Metrics.RecordRecordingStarted()
	s.logger.Info("Recording started",
		slog.String("session_id", id),
		slog.String("path", path),
		slog.Int("sample_rate", settings.SampleRate),
		slog.Int("channels", settings.Channels),
		slog.Int("bit_depth", settings.BitDepth),
		slog.Int64("interval_ms", interval.Milliseconds()),
		slog.String("emission_mode", string(s.cfg.Mode)),
	)

	return id, location, nil
}

// sourceError classifies a source start failure
func sourceError(settings audio.Settings, err error) error {
	if errors.Is(err, ErrPermissionDenied) {
		return err
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	var setupErr *SourceSetupError
	if errors.As(err, &setupErr) {
		return err
	}
	return &SourceSetupError{
		Reason: fmt.Sprintf("cannot capture %d Hz, %d channel(s), %d-bit", settings.SampleRate, settings.Channels, settings.BitDepth),
		Err:    err,
	}
}

// OnBufferReceived hands one captured buffer to the sink. It never blocks on
// disk or on the consumer and is a no-op unless the session is recording.
func (s *Session) OnBufferReceived(raw []byte) {
	if s.State() != StateRecording || len(raw) == 0 {
		return
	}
	rec := s.rec.Load()
	if rec == nil {
		return
	}

	receivedAt := s.now()
	data := make([]byte, len(raw))
	copy(data, raw)

	s.buffersReceived.Add(1)
	s.cfg.Metrics.RecordBufferReceived(len(data))

	err := rec.sink.Append(audio.Block{Data: data, ReceivedAt: receivedAt})
	switch {
	case err == nil:
	case errors.Is(err, audio.ErrSinkQueueFull):
		dropped := s.buffersDropped.Add(1)
		s.cfg.Metrics.RecordBufferDropped()
		if dropped == 1 || dropped%dropLogEvery == 0 {
			s.logger.Warn("Write queue full, audio buffer dropped",
				slog.String("session_id", rec.id),
				slog.Int("buffer_size", len(data)),
				slog.Uint64("dropped_total", dropped),
			)
		}
	case errors.Is(err, audio.ErrSinkClosed):
		// Stop is finalizing; the buffer arrived after the source was told to stop
	default:
		s.logger.Error("Failed to queue audio buffer",
			slog.String("session_id", rec.id),
			slog.String("error", err.Error()),
		)
	}
}

// onBlockWritten runs on the sink writer goroutine after each successful write
func (s *Session) onBlockWritten(rec *recording, block audio.Block, total uint64) {
	s.cfg.Metrics.RecordBlockWritten(len(block.Data))

	chunk, ok := rec.emitter.observe(block, total)
	if !ok {
		return
	}

	chunk.Location = rec.location
	chunk.MimeType = audio.MimeType
	chunk.SessionID = rec.id
	chunk.EmittedAt = s.now()

	s.emissions.Add(1)
	if rec.dispatcher.Submit(chunk) {
		s.cfg.Metrics.RecordChunkEmitted(len(chunk.Payload))
	} else {
		s.cfg.Metrics.RecordChunkDropped()
	}
}

// Stop stops the source, seals the file and waits for pending chunks to reach
// the consumer, bounded by ctx. It returns nil, nil when the session is not
// recording. On a finalize failure the result is still returned with the error.
func (s *Session) Stop(ctx context.Context) (*RecordingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateRecording {
		return nil, nil
	}
	rec := s.rec.Load()

	stopBegan := s.now()

	// No buffer may arrive once the sizes are computed
	if err := s.cfg.Source.Stop(); err != nil {
		s.logger.Warn("Audio source did not stop cleanly",
			slog.String("session_id", rec.id),
			slog.String("error", err.Error()),
		)
	}
	duration := stopBegan.Sub(rec.startedAt)

	fileSize, dataSize, finalizeErr := rec.sink.Finalize()
	if finalizeErr != nil {
		s.cfg.Metrics.RecordRecordingFailure("finalize")
		s.logger.Error("Failed to finalize recording",
			slog.String("session_id", rec.id),
			slog.String("path", rec.path),
			slog.String("error", finalizeErr.Error()),
		)
	}

	if err := rec.dispatcher.Drain(ctx); err != nil {
		s.logger.Warn("Pending chunks discarded on stop",
			slog.String("session_id", rec.id),
			slog.String("error", err.Error()),
		)
	}

	if duration < 0 {
		duration = 0
	}
	result := &RecordingResult{
		SessionID:  rec.id,
		Location:   rec.location,
		Path:       rec.path,
		MimeType:   audio.MimeType,
		DurationMs: duration.Milliseconds(),
		SizeBytes:  fileSize,
		Settings:   rec.settings,
	}
	s.result.Store(result)
	s.state.Store(int32(StateStopped))

	s.cfg.Metrics.RecordRecordingFinished(duration.Seconds(), fileSize, s.now().Sub(stopBegan).Seconds())
	s.logger.Info("Recording stopped",
		slog.String("session_id", rec.id),
		slog.String("path", rec.path),
		slog.Int64("duration_ms", result.DurationMs),
		slog.Int64("size_bytes", fileSize),
		slog.Uint64("data_bytes", dataSize),
		slog.Uint64("buffers_received", s.buffersReceived.Load()),
		slog.Uint64("buffers_dropped", s.buffersDropped.Load()),
		slog.Uint64("write_failures", s.writeFailures.Load()),
		slog.Uint64("emissions", s.emissions.Load()),
	)

	return result, finalizeErr
}

// Status returns a snapshot without taking the lifecycle lock
func (s *Session) Status() Status {
	state := s.State()
	status := Status{
		State:           state.String(),
		MimeType:        audio.MimeType,
		BuffersReceived: s.buffersReceived.Load(),
		BuffersDropped:  s.buffersDropped.Load(),
		WriteFailures:   s.writeFailures.Load(),
		Emissions:       s.emissions.Load(),
	}

	rec := s.rec.Load()
	if state == StateIdle || rec == nil {
		return status
	}

	settings := rec.settings
	status.SessionID = rec.id
	status.Location = rec.location
	status.IntervalMs = rec.interval.Milliseconds()
	status.Settings = &settings

	if result := s.result.Load(); state == StateStopped && result != nil {
		status.ElapsedMs = result.DurationMs
		status.SizeBytes = result.SizeBytes
		if result.SizeBytes > audio.HeaderSize {
			status.RecordedMs = settings.BytesToDuration(uint64(result.SizeBytes - audio.HeaderSize)).Milliseconds()
		}
		return status
	}

	elapsed := s.now().Sub(rec.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	status.ElapsedMs = elapsed.Milliseconds()
	written := rec.sink.Written()
	status.SizeBytes = int64(audio.HeaderSize) + int64(written)
	status.RecordedMs = settings.BytesToDuration(written).Milliseconds()
	return status
}

// RecordingFileName names the file of a recording started at t
func RecordingFileName(t time.Time, sessionID string) string {
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("recording_%s_%s.wav", t.Format("20060102_150405"), short)
}

// FileURI returns the file:// URI of path
func FileURI(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String(), nil
}
