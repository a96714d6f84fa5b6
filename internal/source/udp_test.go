package source

import (
	"bytes"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
	"github.com/raghavsethi/expo-audio-stream/internal/metrics"
	"github.com/raghavsethi/expo-audio-stream/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// bufferCollector records delivered buffers
type bufferCollector struct {
	mu      sync.Mutex
	buffers [][]byte
}

func (c *bufferCollector) onBuffer(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffers = append(c.buffers, append([]byte(nil), b...))
}

func (c *bufferCollector) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.buffers...)
}

var mono16k = audio.Settings{SampleRate: 16000, Channels: 1, BitDepth: 16}

func startUDP(t *testing.T, cfg UDPConfig) (*UDPSource, *bufferCollector, *net.UDPConn) {
	t.Helper()
	cfg.BindAddress = "127.0.0.1"
	cfg.Logger = testLogger()

	src := NewUDPSource(cfg)
	collector := &bufferCollector{}
	if err := src.Start(mono16k, collector.onBuffer); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { src.Stop() })

	conn, err := net.DialUDP("udp", nil, src.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return src, collector, conn
}

func send(t *testing.T, conn *net.UDPConn, packet []byte) {
	t.Helper()
	if _, err := conn.Write(packet); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func audioPacket(t *testing.T, stream, seq uint32, pcm []byte) []byte {
	t.Helper()
	packet, err := protocol.EncodeAudioPacket(stream, seq, pcm)
	if err != nil {
		t.Fatalf("EncodeAudioPacket failed: %v", err)
	}
	return packet
}

func waitForPackets(t *testing.T, src *UDPSource, n uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for src.GetStatistics().PacketsReceived < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d packets, got %d", n, src.GetStatistics().PacketsReceived)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestUDPSourceDeliversInSequence(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	src, collector, conn := startUDP(t, UDPConfig{Metrics: m})

	send(t, conn, protocol.EncodeFormatPacket(7, protocol.FormatPayload{SampleRate: 16000, Channels: 1, BitDepth: 16}))
	send(t, conn, audioPacket(t, 7, 1, []byte{1, 1}))
	send(t, conn, audioPacket(t, 7, 2, []byte{2, 2}))
	send(t, conn, audioPacket(t, 7, 2, []byte{2, 2})) // duplicate
	send(t, conn, audioPacket(t, 7, 1, []byte{1, 1})) // stale
	send(t, conn, audioPacket(t, 7, 4, []byte{4, 4})) // gap of one
	send(t, conn, []byte{0xDE, 0xAD})                 // malformed
	send(t, conn, audioPacket(t, 7, 5, []byte{5}))    // half a frame
	send(t, conn, audioPacket(t, 8, 1, []byte{8, 8})) // another stream

	waitForPackets(t, src, 9)

	got := collector.all()
	want := [][]byte{{1, 1}, {2, 2}, {4, 4}}
	if len(got) != len(want) {
		t.Fatalf("Delivered %d buffers, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Errorf("Buffer %d = %v, want %v", i, got[i], want[i])
		}
	}

	stats := src.GetStatistics()
	if stats.Duplicates != 2 || stats.LostPackets != 1 || stats.ParseErrors != 1 || stats.PacketsDelivered != 3 {
		t.Errorf("Unexpected statistics: %+v", stats)
	}
	if got := testutil.ToFloat64(m.PacketsDropped.WithLabelValues("udp", "duplicate")); got != 2 {
		t.Errorf("duplicate drops = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PacketsDropped.WithLabelValues("udp", "foreign_stream")); got != 1 {
		t.Errorf("foreign stream drops = %v, want 1", got)
	}
}

func TestUDPSourceEndReleasesStream(t *testing.T) {
	src, collector, conn := startUDP(t, UDPConfig{})

	send(t, conn, audioPacket(t, 1, 10, []byte{1, 0}))
	send(t, conn, protocol.EncodeEndPacket(1))
	send(t, conn, audioPacket(t, 2, 1, []byte{2, 0}))

	waitForPackets(t, src, 3)

	if got := len(collector.all()); got != 2 {
		t.Errorf("Delivered %d buffers, want 2", got)
	}
}

func TestUDPSourceFormatMismatch(t *testing.T) {
	src, collector, conn := startUDP(t, UDPConfig{StreamID: 3})

	send(t, conn, protocol.EncodeFormatPacket(3, protocol.FormatPayload{SampleRate: 48000, Channels: 2, BitDepth: 16}))
	send(t, conn, audioPacket(t, 3, 1, []byte{1, 1, 1, 1}))
	send(t, conn, protocol.EncodeFormatPacket(3, protocol.FormatPayload{SampleRate: 16000, Channels: 1, BitDepth: 16}))
	send(t, conn, audioPacket(t, 3, 2, []byte{2, 2}))

	waitForPackets(t, src, 4)

	got := collector.all()
	if len(got) != 1 || !bytes.Equal(got[0], []byte{2, 2}) {
		t.Errorf("Delivered %v, want only the buffer after the matching format", got)
	}
}

func TestUDPSourceStopAndRestart(t *testing.T) {
	src := NewUDPSource(UDPConfig{BindAddress: "127.0.0.1", Logger: testLogger()})
	collector := &bufferCollector{}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop before Start failed: %v", err)
	}

	if err := src.Start(mono16k, collector.onBuffer); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(mono16k, collector.onBuffer); err == nil {
		t.Error("Expected error for second Start")
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if src.LocalAddr() != nil {
		t.Error("LocalAddr should be nil after Stop")
	}

	if err := src.Start(mono16k, collector.onBuffer); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
