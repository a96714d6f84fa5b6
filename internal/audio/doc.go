// Package audio writes PCM audio to WAV files.
// It builds and patches the 44-byte RIFF header, validates existing files,
// and runs the asynchronous file sink that appends captured blocks on a
// dedicated writer goroutine.
package audio
