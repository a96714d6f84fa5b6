package audio

import (
	"errors"
	"fmt"
)

var (
	ErrSinkClosed    = errors.New("audio: sink is closed")
	ErrSinkQueueFull = errors.New("audio: sink write queue is full")
	ErrDataLimit     = errors.New("audio: WAV data size limit reached")
)

// FileCreationError reports that the backing file of a recording could not be created
type FileCreationError struct {
	Location string
	Err      error
}

func (e *FileCreationError) Error() string {
	return fmt.Sprintf("failed to create recording file %s: %v", e.Location, e.Err)
}

func (e *FileCreationError) Unwrap() error { return e.Err }

// IOError reports a write, flush or header patch failure on an open recording
type IOError struct {
	Op  string // "append", "sync", "patch", "close"
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("recording I/O failure during %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
