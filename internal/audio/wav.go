package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"
)

const (
	// HeaderSize is the size of the canonical PCM WAV header
	HeaderSize = 44

	// MaxDataSize is the largest payload a RIFF chunk size field can describe
	MaxDataSize = math.MaxUint32 - 36

	// MimeType is the MIME type of every file this package produces
	MimeType = "audio/wav"

	riffSizeOffset = 4
	dataSizeOffset = 40
	pcmFormat      = 1
)

// ErrInvalidFormat is returned for settings that cannot be described by a PCM WAV header
var ErrInvalidFormat = errors.New("invalid audio format")

// Settings describes the PCM layout of a recording
type Settings struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"` // Hz
	Channels   int `json:"channels" yaml:"channels"`
	BitDepth   int `json:"bit_depth" yaml:"bit_depth"` // bits per sample, multiple of 8
}

// Validate checks that the settings fit the WAV header fields
func (s Settings) Validate() error {
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidFormat, s.SampleRate)
	}
	if s.Channels < 1 || s.Channels > math.MaxUint16 {
		return fmt.Errorf("%w: channel count must be between 1 and %d, got %d", ErrInvalidFormat, math.MaxUint16, s.Channels)
	}
	if s.BitDepth <= 0 || s.BitDepth%8 != 0 || s.BitDepth > math.MaxUint16 {
		return fmt.Errorf("%w: bit depth must be a positive multiple of 8, got %d", ErrInvalidFormat, s.BitDepth)
	}
	if uint64(s.SampleRate)*uint64(s.Channels)*uint64(s.BitDepth/8) > math.MaxUint32 {
		return fmt.Errorf("%w: byte rate of %d Hz x %d channels x %d bits overflows 32 bits",
			ErrInvalidFormat, s.SampleRate, s.Channels, s.BitDepth)
	}
	if s.Channels*(s.BitDepth/8) > math.MaxUint16 {
		return fmt.Errorf("%w: block align overflows 16 bits", ErrInvalidFormat)
	}
	return nil
}

// ByteRate returns SampleRate * Channels * BitDepth / 8
func (s Settings) ByteRate() uint32 {
	return uint32(s.SampleRate) * uint32(s.Channels) * uint32(s.BitDepth/8)
}

// BlockAlign returns the size of one frame in bytes
func (s Settings) BlockAlign() uint16 {
	return uint16(s.Channels * s.BitDepth / 8)
}

// BytesToDuration converts a payload size to playback time
func (s Settings) BytesToDuration(n uint64) time.Duration {
	rate := s.ByteRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// BuildHeader encodes the 44-byte header for the given settings and payload size
func BuildHeader(settings Settings, dataSize uint32) ([]byte, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if dataSize > MaxDataSize {
		return nil, fmt.Errorf("data size %d exceeds WAV limit of %d bytes", dataSize, uint32(MaxDataSize))
	}

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   pcmFormat,
		NumChannels:   uint16(settings.Channels),
		SampleRate:    uint32(settings.SampleRate),
		ByteRate:      settings.ByteRate(),
		BlockAlign:    settings.BlockAlign(),
		BitsPerSample: uint16(settings.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return buf.Bytes(), nil
}

// PatchSizes rewrites the RIFF chunk size (offset 4) and the data size (offset 40)
// in place. No other byte is touched.
func PatchSizes(w io.WriterAt, dataSize uint32) error {
	if dataSize > MaxDataSize {
		return fmt.Errorf("data size %d exceeds WAV limit of %d bytes", dataSize, uint32(MaxDataSize))
	}

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], dataSize+36)
	if _, err := w.WriteAt(field[:], riffSizeOffset); err != nil {
		return fmt.Errorf("failed to patch RIFF chunk size: %w", err)
	}

	binary.LittleEndian.PutUint32(field[:], dataSize)
	if _, err := w.WriteAt(field[:], dataSizeOffset); err != nil {
		return fmt.Errorf("failed to patch data chunk size: %w", err)
	}
	return nil
}

// ParseHeader decodes and validates the canonical 44-byte header
func ParseHeader(data []byte) (*WAVHeader, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.AudioFormat != pcmFormat {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid channel count: 0")
	}
	if header.BitsPerSample == 0 || header.BitsPerSample%8 != 0 {
		return nil, fmt.Errorf("unsupported bit depth: %d", header.BitsPerSample)
	}

	return &header, nil
}

// Settings returns the PCM layout described by the header
func (h *WAVHeader) Settings() Settings {
	return Settings{
		SampleRate: int(h.SampleRate),
		Channels:   int(h.NumChannels),
		BitDepth:   int(h.BitsPerSample),
	}
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
	// Finalized reports whether both RIFF and data sizes match the file
	// length. A file without payload always reads as finalized since its
	// placeholder header equals the sealed one.
	Finalized bool `json:"finalized"`
}

// GetWAVInfo extracts metadata from WAV bytes. fileSize is the length of the
// whole file when known, or 0 to use len(data).
func GetWAVInfo(data []byte, fileSize int64) (*WAVInfo, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if fileSize <= 0 {
		fileSize = int64(len(data))
	}

	blockAlign := uint32(header.NumChannels) * uint32(header.BitsPerSample/8)
	numFrames := header.Subchunk2Size / blockAlign

	duration := 0.0
	if header.SampleRate > 0 {
		duration = float64(numFrames) / float64(header.SampleRate)
	}

	finalized := int64(header.Subchunk2Size)+HeaderSize == fileSize &&
		int64(header.ChunkSize)+8 == fileSize

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      duration,
		DataSize:      header.Subchunk2Size,
		NumFrames:     numFrames,
		Finalized:     finalized,
	}, nil
}

// ReadFileInfo reads the header of the WAV file at path
func ReadFileInfo(path string) (*WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}

	return GetWAVInfo(header, stat.Size())
}
