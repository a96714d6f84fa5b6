package audio

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultSinkQueueSize = 64

// Block is one buffer of raw PCM handed to the sink
type Block struct {
	Data       []byte
	ReceivedAt time.Time
}

// SinkOptions configures a FileSink
type SinkOptions struct {
	QueueSize int // blocks buffered between Append and the writer goroutine
	Logger    *slog.Logger

	// OnWritten runs on the writer goroutine after a block reached the file.
	// total is the payload size including this block.
	OnWritten func(block Block, total uint64)

	// OnError runs on the writer goroutine when a block could not be written
	OnError func(err error)
}

// sinkFile is the subset of *os.File the sink needs
type sinkFile interface {
	io.WriterAt
	Truncate(size int64) error
	Sync() error
	Close() error
}

// FileSink is an append-only WAV writer. Appends are queued and written by a
// dedicated goroutine so callers on real-time threads never wait for the disk.
type FileSink struct {
	path     string
	settings Settings
	file     sinkFile
	opts     SinkOptions
	logger   *slog.Logger

	queue chan Block
	done  chan struct{}

	mu     sync.Mutex
	closed bool

	written atomic.Uint64 // payload bytes on disk
	dropped atomic.Uint64 // blocks rejected by Append
	failed  atomic.Uint64 // blocks the writer could not persist

	finalizeOnce sync.Once
	fileSize     int64
	finalErr     error
}

// CreateSink creates the file at path, writes a placeholder header and starts
// the writer goroutine
func CreateSink(path string, settings Settings, opts SinkOptions) (*FileSink, error) {
	header, err := BuildHeader(settings, 0)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &FileCreationError{Location: path, Err: err}
	}

	if _, err := file.WriteAt(header, 0); err != nil {
		file.Close()
		os.Remove(path)
		return nil, &FileCreationError{Location: path, Err: err}
	}

	return newSink(path, settings, file, opts), nil
}

func newSink(path string, settings Settings, file sinkFile, opts SinkOptions) *FileSink {
	if opts.QueueSize < 1 {
		opts.QueueSize = defaultSinkQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &FileSink{
		path:     path,
		settings: settings,
		file:     file,
		opts:     opts,
		logger:   logger.With(slog.String("file", path)),
		queue:    make(chan Block, opts.QueueSize),
		done:     make(chan struct{}),
	}

	go s.writeLoop()

	return s
}

// Append queues a block for writing without blocking. The sink takes ownership
// of block.Data.
func (s *FileSink) Append(block Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.queue <- block:
		return nil
	default:
		s.dropped.Add(1)
		return ErrSinkQueueFull
	}
}

// writeLoop persists queued blocks in order until the queue is closed
func (s *FileSink) writeLoop() {
	defer close(s.done)

	for block := range s.queue {
		if err := s.writeBlock(block); err != nil {
			s.failed.Add(1)
			s.logger.Error("Failed to write audio block",
				slog.Int("block_size", len(block.Data)),
				slog.Uint64("data_size", s.written.Load()),
				slog.String("error", err.Error()),
			)
			if s.opts.OnError != nil {
				s.opts.OnError(err)
			}
			continue
		}

		total := s.written.Add(uint64(len(block.Data)))
		if s.opts.OnWritten != nil {
			s.opts.OnWritten(block, total)
		}
	}
}

// writeBlock writes one block at the end of the payload. A failed write is
// truncated away so the payload stays a whole number of blocks.
func (s *FileSink) writeBlock(block Block) error {
	current := s.written.Load()
	if current+uint64(len(block.Data)) > MaxDataSize {
		return &IOError{Op: "append", Err: ErrDataLimit}
	}

	offset := int64(HeaderSize) + int64(current)
	n, err := s.file.WriteAt(block.Data, offset)
	if err == nil && n < len(block.Data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if n > 0 {
			if terr := s.file.Truncate(offset); terr != nil {
				s.logger.Warn("Failed to truncate partial write",
					slog.Int64("offset", offset),
					slog.String("error", terr.Error()),
				)
			}
		}
		return &IOError{Op: "append", Err: err}
	}
	return nil
}

// Finalize drains pending writes, patches the header sizes and closes the file.
// It returns the total file size and the payload size. Calling it again returns
// the first result.
func (s *FileSink) Finalize() (int64, uint64, error) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	<-s.done

	s.finalizeOnce.Do(func() {
		dataSize := s.written.Load()
		s.fileSize = int64(HeaderSize) + int64(dataSize)

		if err := s.file.Sync(); err != nil {
			s.finalErr = &IOError{Op: "sync", Err: err}
		}
		if err := PatchSizes(s.file, uint32(dataSize)); err != nil && s.finalErr == nil {
			s.finalErr = &IOError{Op: "patch", Err: err}
		}
		if err := s.file.Close(); err != nil && s.finalErr == nil {
			s.finalErr = &IOError{Op: "close", Err: err}
		}

		s.logger.Debug("Recording file finalized",
			slog.Int64("file_size", s.fileSize),
			slog.Uint64("data_size", dataSize),
			slog.Uint64("dropped_blocks", s.dropped.Load()),
			slog.Uint64("failed_blocks", s.failed.Load()),
		)
	})

	return s.fileSize, s.written.Load(), s.finalErr
}

// Discard closes the sink and removes its file
func (s *FileSink) Discard() error {
	s.Finalize()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", s.path, err)
	}
	return nil
}

// Path returns the location of the backing file
func (s *FileSink) Path() string {
	return s.path
}

// Settings returns the PCM layout written in the header
func (s *FileSink) Settings() Settings {
	return s.settings
}

// Written returns the payload bytes persisted so far
func (s *FileSink) Written() uint64 {
	return s.written.Load()
}

// Dropped returns the number of blocks rejected because the queue was full
func (s *FileSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Failed returns the number of blocks the writer could not persist
func (s *FileSink) Failed() uint64 {
	return s.failed.Load()
}

// QueueLen returns the number of blocks waiting for the writer
func (s *FileSink) QueueLen() int {
	return len(s.queue)
}
