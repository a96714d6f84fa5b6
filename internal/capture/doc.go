// Package capture owns the recording lifecycle: a Session takes PCM buffers
// pushed by an audio Source, streams them into a WAV file through the audio
// sink and periodically hands newly captured audio to a Consumer. Recorder
// keeps a single active session and manages the recording directory.
package capture
