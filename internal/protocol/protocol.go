package protocol

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants
const (
	// Packet types
	PacketTypeFormat = 0x01 // announces the PCM layout of a stream
	PacketTypeAudio  = 0x02
	PacketTypeEnd    = 0x03

	// Flags
	FlagLittleEndian = 0x01 // PCM samples are little-endian, as WAV requires

	// Packet structure sizes
	HeaderSize             = 8 // 1 + 2 + 4 + 1 bytes
	FormatPayloadSize      = 8 // 4 + 2 + 2 bytes
	AudioPayloadHeaderSize = 4 // Sequence number (4 bytes)

	// MaxPacketSize is the largest packet PacketLen can describe
	MaxPacketSize = 0xFFFF
	// MaxAudioDataSize is the largest PCM payload of one audio packet
	MaxAudioDataSize = MaxPacketSize - HeaderSize - AudioPayloadHeaderSize
)

// Header represents the 8-byte packet header
// Layout: [PacketType:1][PacketLen:2][StreamID:4][Flags:1]
type Header struct {
	PacketType uint8  // 0x01=Format, 0x02=Audio, 0x03=End
	PacketLen  uint16 // Total packet size (header + payload)
	StreamID   uint32 // Unique stream identifier
	Flags      uint8
}

// FormatPayload represents the 8-byte format packet payload
// Layout: [SampleRate:4][Channels:2][BitDepth:2]
type FormatPayload struct {
	SampleRate uint32
	Channels   uint16
	BitDepth   uint16
}

// AudioPayload represents the audio packet payload
// Layout: [Sequence:4][AudioData:N]
type AudioPayload struct {
	Sequence  uint32 // Packet sequence number
	AudioData []byte // PCM audio data (variable length)
}

// ParsedPacket represents a fully parsed packet
type ParsedPacket struct {
	Header *Header
	Format *FormatPayload // Only set for format packets
	Audio  *AudioPayload  // Only set for audio packets
}

// ParseHeader parses the 8-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		StreamID:   binary.BigEndian.Uint32(data[3:7]),
		Flags:      data[7],
	}

	return header, nil
}

// ParseFormatPayload parses the 8-byte format packet payload
func ParseFormatPayload(data []byte) (*FormatPayload, error) {
	if len(data) < FormatPayloadSize {
		return nil, fmt.Errorf("format payload too short: expected %d bytes, got %d",
			FormatPayloadSize, len(data))
	}

	return &FormatPayload{
		SampleRate: binary.BigEndian.Uint32(data[0:4]),
		Channels:   binary.BigEndian.Uint16(data[4:6]),
		BitDepth:   binary.BigEndian.Uint16(data[6:8]),
	}, nil
}

// ParseAudioPayload parses the audio packet payload (4-byte sequence + audio data)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		Sequence: binary.BigEndian.Uint32(data[0:4]),
	}

	// Copy audio data (remaining bytes after sequence)
	if len(data) > AudioPayloadHeaderSize {
		payload.AudioData = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.AudioData, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	switch header.PacketType {
	case PacketTypeFormat:
		payload, err := ParseFormatPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse format payload: %w", err)
		}
		packet.Format = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	case PacketTypeEnd:
		// no payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	expectedPayloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeFormat:
		if expectedPayloadSize != FormatPayloadSize {
			return fmt.Errorf("format packet payload size mismatch: expected %d, got %d",
				FormatPayloadSize, expectedPayloadSize)
		}
	case PacketTypeAudio:
		if expectedPayloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, expectedPayloadSize)
		}
		if header.Flags&FlagLittleEndian == 0 {
			return fmt.Errorf("audio packet samples must be little-endian (flags 0x%02x)", header.Flags)
		}
	case PacketTypeEnd:
		if expectedPayloadSize != 0 {
			return fmt.Errorf("end packet must not carry a payload, got %d bytes", expectedPayloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeFormat || ptype == PacketTypeAudio || ptype == PacketTypeEnd
}

func putHeader(buf []byte, packetType uint8, streamID uint32, flags uint8) {
	buf[0] = packetType
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(buf)))
	binary.BigEndian.PutUint32(buf[3:7], streamID)
	buf[7] = flags
}

// EncodeFormatPacket builds a format packet
func EncodeFormatPacket(streamID uint32, format FormatPayload) []byte {
	buf := make([]byte, HeaderSize+FormatPayloadSize)
	putHeader(buf, PacketTypeFormat, streamID, 0)
	binary.BigEndian.PutUint32(buf[8:12], format.SampleRate)
	binary.BigEndian.PutUint16(buf[12:14], format.Channels)
	binary.BigEndian.PutUint16(buf[14:16], format.BitDepth)
	return buf
}

// EncodeAudioPacket builds an audio packet carrying little-endian PCM
func EncodeAudioPacket(streamID, sequence uint32, pcm []byte) ([]byte, error) {
	if len(pcm) > MaxAudioDataSize {
		return nil, fmt.Errorf("audio data too large: %d bytes (maximum %d)", len(pcm), MaxAudioDataSize)
	}

	buf := make([]byte, HeaderSize+AudioPayloadHeaderSize+len(pcm))
	putHeader(buf, PacketTypeAudio, streamID, FlagLittleEndian)
	binary.BigEndian.PutUint32(buf[8:12], sequence)
	copy(buf[12:], pcm)
	return buf, nil
}

// EncodeEndPacket builds an end-of-stream packet
func EncodeEndPacket(streamID uint32) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, PacketTypeEnd, streamID, 0)
	return buf
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeFormat:
		packetType = "Format"
	case PacketTypeAudio:
		packetType = "Audio"
	case PacketTypeEnd:
		packetType = "End"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, StreamID:%d, Flags:0x%02x}",
		packetType, h.PacketLen, h.StreamID, h.Flags)
}

// String returns a human-readable representation of the format payload
func (f *FormatPayload) String() string {
	return fmt.Sprintf("FormatPayload{SampleRate:%d, Channels:%d, BitDepth:%d}", f.SampleRate, f.Channels, f.BitDepth)
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{Sequence:%d, AudioDataLen:%d}", a.Sequence, len(a.AudioData))
}
