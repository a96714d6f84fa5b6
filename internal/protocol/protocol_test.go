package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid format header",
			data: []byte{
				0x01,       // PacketType: Format
				0x00, 0x10, // PacketLen: 16 (8 + 8)
				0x00, 0x00, 0x30, 0x39, // StreamID: 12345
				0x00, // Flags
			},
			expected: &Header{
				PacketType: PacketTypeFormat,
				PacketLen:  16,
				StreamID:   12345,
				Flags:      0,
			},
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x01, 0x00, // PacketLen: 256
				0x12, 0x34, 0x56, 0x78, // StreamID: 305419896
				0x01, // Flags: little-endian
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  256,
				StreamID:   305419896,
				Flags:      FlagLittleEndian,
			},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != *tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseFormatPayload(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0xBB, 0x80, // 48000
		0x00, 0x02, // 2 channels
		0x00, 0x18, // 24 bits
	}

	payload, err := ParseFormatPayload(data)
	if err != nil {
		t.Fatalf("ParseFormatPayload failed: %v", err)
	}
	if payload.SampleRate != 48000 || payload.Channels != 2 || payload.BitDepth != 24 {
		t.Errorf("Unexpected payload: %s", payload)
	}

	if _, err := ParseFormatPayload(data[:5]); err == nil {
		t.Error("Expected error for short format payload")
	}
}

func TestParseAudioPayload(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectError bool
		sequence    uint32
		audio       []byte
	}{
		{
			name:     "sequence and samples",
			data:     []byte{0x00, 0x00, 0x00, 0x2A, 0x01, 0x02, 0x03, 0x04},
			sequence: 42,
			audio:    []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name:     "sequence only",
			data:     []byte{0xFF, 0xFF, 0xFF, 0xFF},
			sequence: 0xFFFFFFFF,
		},
		{
			name:        "too short",
			data:        []byte{0x00, 0x01},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := ParseAudioPayload(tt.data)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if payload.Sequence != tt.sequence {
				t.Errorf("Sequence = %d, want %d", payload.Sequence, tt.sequence)
			}
			if !bytes.Equal(payload.AudioData, tt.audio) {
				t.Errorf("AudioData = %v, want %v", payload.AudioData, tt.audio)
			}
		})
	}
}

func TestParseAudioPayloadCopiesData(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0xAA, 0xBB}
	payload, err := ParseAudioPayload(data)
	if err != nil {
		t.Fatalf("ParseAudioPayload failed: %v", err)
	}

	data[4] = 0x00
	if payload.AudioData[0] != 0xAA {
		t.Error("AudioData aliases the receive buffer")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x10, 0x20}, 160)

	audioPacket, err := EncodeAudioPacket(7, 99, pcm)
	if err != nil {
		t.Fatalf("EncodeAudioPacket failed: %v", err)
	}

	parsed, err := ParsePacket(audioPacket)
	if err != nil {
		t.Fatalf("ParsePacket(audio) failed: %v", err)
	}
	if parsed.Header.PacketType != PacketTypeAudio || parsed.Header.StreamID != 7 {
		t.Errorf("Unexpected header: %s", parsed.Header)
	}
	if parsed.Audio.Sequence != 99 || !bytes.Equal(parsed.Audio.AudioData, pcm) {
		t.Errorf("Unexpected audio payload: %s", parsed.Audio)
	}

	format := FormatPayload{SampleRate: 16000, Channels: 1, BitDepth: 16}
	parsed, err = ParsePacket(EncodeFormatPacket(7, format))
	if err != nil {
		t.Fatalf("ParsePacket(format) failed: %v", err)
	}
	if parsed.Format == nil || *parsed.Format != format {
		t.Errorf("Format = %v, want %v", parsed.Format, format)
	}

	parsed, err = ParsePacket(EncodeEndPacket(7))
	if err != nil {
		t.Fatalf("ParsePacket(end) failed: %v", err)
	}
	if parsed.Header.PacketType != PacketTypeEnd || parsed.Audio != nil || parsed.Format != nil {
		t.Errorf("Unexpected end packet: %+v", parsed)
	}
}

func TestEncodeAudioPacketTooLarge(t *testing.T) {
	if _, err := EncodeAudioPacket(1, 1, make([]byte, MaxAudioDataSize+1)); err == nil {
		t.Error("Expected error for oversized audio data")
	}
	if _, err := EncodeAudioPacket(1, 1, make([]byte, MaxAudioDataSize)); err != nil {
		t.Errorf("Largest audio packet rejected: %v", err)
	}
}

func TestParsePacketErrors(t *testing.T) {
	valid, _ := EncodeAudioPacket(1, 1, []byte{1, 2})

	lengthMismatch := append([]byte(nil), valid...)
	lengthMismatch = append(lengthMismatch, 0xFF)

	bigEndian := append([]byte(nil), valid...)
	bigEndian[7] = 0x00

	unknownType := append([]byte(nil), valid...)
	unknownType[0] = 0x09

	endWithPayload := []byte{PacketTypeEnd, 0x00, 0x0A, 0, 0, 0, 1, 0, 0xAA, 0xBB}

	shortFormat := []byte{PacketTypeFormat, 0x00, 0x0C, 0, 0, 0, 1, 0, 0, 0, 0x3E, 0x80}

	tests := []struct {
		name     string
		data     []byte
		errorMsg string
	}{
		{"too short", []byte{0x02}, "packet too short"},
		{"length mismatch", lengthMismatch, "packet length mismatch"},
		{"big-endian samples", bigEndian, "little-endian"},
		{"unknown type", unknownType, "invalid packet type"},
		{"end with payload", endWithPayload, "must not carry a payload"},
		{"short format", shortFormat, "format packet payload size mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.data)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestValidateHeader(t *testing.T) {
	if err := ValidateHeader(&Header{PacketType: PacketTypeAudio, PacketLen: 4, Flags: FlagLittleEndian}); err == nil {
		t.Error("Expected error for packet length below header size")
	}
	if err := ValidateHeader(&Header{PacketType: PacketTypeAudio, PacketLen: 10, Flags: FlagLittleEndian}); err == nil {
		t.Error("Expected error for audio packet without full sequence number")
	}
	if err := ValidateHeader(&Header{PacketType: PacketTypeAudio, PacketLen: 12, Flags: FlagLittleEndian}); err != nil {
		t.Errorf("Unexpected error for empty audio packet: %v", err)
	}
}

func TestHeaderString(t *testing.T) {
	h := &Header{PacketType: PacketTypeEnd, PacketLen: 8, StreamID: 5}
	if got := h.String(); got != "Header{Type:End, Len:8, StreamID:5, Flags:0x00}" {
		t.Errorf("String() = %q", got)
	}
}
