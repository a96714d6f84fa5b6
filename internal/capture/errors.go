package capture

import (
	"errors"
	"fmt"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
)

var (
	ErrPermissionDenied = errors.New("capture: permission to record audio was denied")
	ErrAlreadyRecording = errors.New("capture: a recording is already in progress")
	ErrSessionStopped   = errors.New("capture: session has already been stopped")
)

// Errors defined by the audio package, re-exported so callers of this package
// can match the whole taxonomy from one place
var (
	ErrInvalidFormat = audio.ErrInvalidFormat
	ErrSinkQueueFull = audio.ErrSinkQueueFull
)

type (
	FileCreationError = audio.FileCreationError
	IOError           = audio.IOError
)

// SourceSetupError reports that the audio source rejected the requested configuration
type SourceSetupError struct {
	Reason string
	Err    error
}

func (e *SourceSetupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("audio source setup failed: %s", e.Reason)
	}
	return fmt.Sprintf("audio source setup failed: %s: %v", e.Reason, e.Err)
}

func (e *SourceSetupError) Unwrap() error { return e.Err }
