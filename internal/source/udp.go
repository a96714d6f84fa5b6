package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
	"github.com/raghavsethi/expo-audio-stream/internal/capture"
	"github.com/raghavsethi/expo-audio-stream/internal/metrics"
	"github.com/raghavsethi/expo-audio-stream/internal/protocol"
)

const (
	udpSourceName   = "udp"
	udpReadDeadline = 250 * time.Millisecond
)

// UDPConfig configures the UDP audio source
type UDPConfig struct {
	BindAddress string
	Port        int    // 0 picks a free port
	BufferSize  int    // socket read buffer and max datagram size
	StreamID    uint32 // accept only this stream, 0 locks onto the first stream seen
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// UDPSource receives PCM datagrams and delivers their payloads in sequence order.
// Duplicates, stale packets and packets whose format does not match the
// recording are dropped.
type UDPSource struct {
	config  UDPConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex // guards conn and cancel
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// receive loop state, only touched by the receive goroutine
	settings       audio.Settings
	onBuffer       func([]byte)
	stream         uint32
	streamLocked   bool
	lastSeq        uint32
	haveSeq        bool
	formatMismatch bool

	packetsReceived  atomic.Uint64
	packetsDelivered atomic.Uint64
	parseErrors      atomic.Uint64
	duplicates       atomic.Uint64
	lostPackets      atomic.Uint64
	dropped          atomic.Uint64
}

// UDPStatistics represents receive counters of a UDP source
type UDPStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsDelivered uint64 `json:"packets_delivered"`
	ParseErrors      uint64 `json:"parse_errors"`
	Duplicates       uint64 `json:"duplicates"`
	LostPackets      uint64 `json:"lost_packets"`
	Dropped          uint64 `json:"dropped"`
}

// NewUDPSource creates an unstarted UDP source
func NewUDPSource(config UDPConfig) *UDPSource {
	if config.BufferSize <= 0 {
		config.BufferSize = protocol.MaxPacketSize
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPSource{
		config:  config,
		logger:  logger.With(slog.String("source", udpSourceName)),
		metrics: config.Metrics,
	}
}

// Start begins listening for datagrams
func (s *UDPSource) Start(settings audio.Settings, onBuffer func([]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return &capture.SourceSetupError{Reason: "UDP source already started"}
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.Port)))
	if err != nil {
		return &capture.SourceSetupError{Reason: "resolve UDP address", Err: err}
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return &capture.SourceSetupError{Reason: "listen on UDP", Err: err}
	}

	if err := conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.settings = settings
	s.onBuffer = onBuffer
	s.resetStream()
	s.stream = s.config.StreamID
	s.streamLocked = s.config.StreamID != 0

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel

	s.wg.Add(1)
	go s.receiveLoop(ctx, conn)

	s.logger.Info("UDP source started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)
	return nil
}

// Stop closes the socket and waits for the receive loop. No buffer is
// delivered once Stop returns.
func (s *UDPSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	s.cancel()
	var closeErr error
	if err := s.conn.Close(); err != nil {
		closeErr = fmt.Errorf("failed to close UDP socket: %w", err)
	}
	s.wg.Wait()
	s.conn = nil
	s.cancel = nil

	stats := s.GetStatistics()
	s.logger.Info("UDP source stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_delivered", stats.PacketsDelivered),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("lost_packets", stats.LostPackets),
	)
	return closeErr
}

// LocalAddr returns the bound address while started, or nil
func (s *UDPSource) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// receiveLoop is the main packet receiving loop
func (s *UDPSource) receiveLoop(ctx context.Context, conn *net.UDPConn) {
	defer s.wg.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(udpReadDeadline)); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		s.packetsReceived.Add(1)
		s.metrics.RecordPacketReceived(udpSourceName)

		s.handlePacket(buffer[:n], remoteAddr)
	}
}

// handlePacket processes a single datagram
func (s *UDPSource) handlePacket(data []byte, remoteAddr *net.UDPAddr) {
	packet, err := protocol.ParsePacket(data)
	if err != nil {
		s.parseErrors.Add(1)
		s.drop("malformed")
		s.logger.Debug("Failed to parse packet",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	header := packet.Header
	if s.streamLocked && header.StreamID != s.stream {
		s.drop("foreign_stream")
		return
	}
	if !s.streamLocked {
		s.stream = header.StreamID
		s.streamLocked = true
		s.logger.Info("Receiving audio stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("remote_addr", remoteAddr.String()),
		)
	}

	switch header.PacketType {
	case protocol.PacketTypeFormat:
		s.processFormatPacket(header, packet.Format)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(header, packet.Audio)
	case protocol.PacketTypeEnd:
		s.logger.Info("Audio stream ended",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("lost_packets", s.lostPackets.Load()),
		)
		s.resetStream()
	}
}

// processFormatPacket checks an announced format against the recording settings
func (s *UDPSource) processFormatPacket(header *protocol.Header, format *protocol.FormatPayload) {
	matches := int(format.SampleRate) == s.settings.SampleRate &&
		int(format.Channels) == s.settings.Channels &&
		int(format.BitDepth) == s.settings.BitDepth

	if !matches && !s.formatMismatch {
		s.logger.Warn("Stream format does not match recording, audio will be dropped",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("announced", format.String()),
			slog.Int("sample_rate", s.settings.SampleRate),
			slog.Int("channels", s.settings.Channels),
			slog.Int("bit_depth", s.settings.BitDepth),
		)
	}
	s.formatMismatch = !matches
}

// processAudioPacket delivers the payload if it advances the sequence
func (s *UDPSource) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload) {
	if s.formatMismatch {
		s.drop("format_mismatch")
		return
	}

	if s.haveSeq && payload.Sequence <= s.lastSeq {
		s.duplicates.Add(1)
		s.drop("duplicate")
		return
	}

	if len(payload.AudioData) == 0 {
		s.lastSeq, s.haveSeq = payload.Sequence, true
		return
	}

	if blockAlign := int(s.settings.BlockAlign()); blockAlign > 0 && len(payload.AudioData)%blockAlign != 0 {
		s.drop("misaligned")
		s.logger.Debug("Audio payload is not a whole number of frames",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Int("audio_size", len(payload.AudioData)),
		)
		return
	}

	if s.haveSeq && payload.Sequence > s.lastSeq+1 {
		gap := uint64(payload.Sequence - s.lastSeq - 1)
		s.lostPackets.Add(gap)
		s.logger.Debug("Sequence gap",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("expected", uint64(s.lastSeq+1)),
			slog.Uint64("got", uint64(payload.Sequence)),
		)
	}
	s.lastSeq, s.haveSeq = payload.Sequence, true

	s.packetsDelivered.Add(1)
	s.onBuffer(payload.AudioData)
}

func (s *UDPSource) drop(reason string) {
	s.dropped.Add(1)
	s.metrics.RecordPacketDropped(udpSourceName, reason)
}

// resetStream forgets the current stream so the next one can be accepted
func (s *UDPSource) resetStream() {
	s.haveSeq = false
	s.lastSeq = 0
	s.formatMismatch = false
	if s.config.StreamID == 0 {
		s.streamLocked = false
		s.stream = 0
	}
}

// GetStatistics returns current receive statistics
func (s *UDPSource) GetStatistics() UDPStatistics {
	return UDPStatistics{
		PacketsReceived:  s.packetsReceived.Load(),
		PacketsDelivered: s.packetsDelivered.Load(),
		ParseErrors:      s.parseErrors.Load(),
		Duplicates:       s.duplicates.Load(),
		LostPackets:      s.lostPackets.Load(),
		Dropped:          s.dropped.Load(),
	}
}
