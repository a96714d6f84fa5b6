package capture

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
)

func TestShouldEmit(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	interval := time.Second

	tests := []struct {
		name string
		now  time.Time
		last *time.Time
		want bool
	}{
		{"no previous emission", base, nil, true},
		{"same instant", base, &base, false},
		{"just before interval", base.Add(999 * time.Millisecond), &base, false},
		{"exactly interval", base.Add(time.Second), &base, true},
		{"past interval", base.Add(3 * time.Second), &base, true},
		{"clock went backwards", base.Add(-time.Second), &base, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldEmit(tt.now, tt.last, interval); got != tt.want {
				t.Errorf("ShouldEmit() = %v, want %v", got, tt.want)
			}
			// repeated identical inputs give the same answer
			if got := ShouldEmit(tt.now, tt.last, interval); got != tt.want {
				t.Errorf("second ShouldEmit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClampInterval(t *testing.T) {
	tests := []struct {
		ms   int
		want time.Duration
	}{
		{-5, MinEmissionInterval},
		{0, MinEmissionInterval},
		{10, MinEmissionInterval},
		{99, MinEmissionInterval},
		{100, 100 * time.Millisecond},
		{1000, time.Second},
		{60000, time.Minute},
		{60001, MaxEmissionInterval},
		{3_600_000, MaxEmissionInterval},
		{math.MaxInt, MaxEmissionInterval},
	}

	for _, tt := range tests {
		if got := ClampInterval(tt.ms); got != tt.want {
			t.Errorf("ClampInterval(%d) = %v, want %v", tt.ms, got, tt.want)
		}
	}
}

func TestParseEmissionMode(t *testing.T) {
	for input, want := range map[string]EmissionMode{
		"":           EmitAccumulated,
		"accumulate": EmitAccumulated,
		"latest":     EmitLatest,
	} {
		got, err := ParseEmissionMode(input)
		if err != nil {
			t.Errorf("ParseEmissionMode(%q) failed: %v", input, err)
		}
		if got != want {
			t.Errorf("ParseEmissionMode(%q) = %q, want %q", input, got, want)
		}
	}

	if _, err := ParseEmissionMode("sometimes"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}

// feedEmitter pushes n blocks of size bytes spaced step apart and returns the chunks
func feedEmitter(e *emitter, start time.Time, n, size int, step time.Duration) []Chunk {
	var chunks []Chunk
	var total uint64
	for i := 1; i <= n; i++ {
		block := audio.Block{
			Data:       bytes.Repeat([]byte{byte(i)}, size),
			ReceivedAt: start.Add(time.Duration(i) * step),
		}
		total += uint64(size)
		if chunk, ok := e.observe(block, total); ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func TestEmitterAccumulate(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := newEmitter(EmitAccumulated, time.Second, start)

	chunks := feedEmitter(e, start, 50, 2048, 40*time.Millisecond)

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}

	var offset uint64
	for i, chunk := range chunks {
		if chunk.FromOffset != offset {
			t.Errorf("chunk %d: FromOffset = %d, want %d", i, chunk.FromOffset, offset)
		}
		if chunk.DeltaSize != 25*2048 || len(chunk.Payload) != int(chunk.DeltaSize) {
			t.Errorf("chunk %d: DeltaSize = %d, payload = %d, want %d", i, chunk.DeltaSize, len(chunk.Payload), 25*2048)
		}
		offset += uint64(chunk.DeltaSize)
		if chunk.TotalSize != offset {
			t.Errorf("chunk %d: TotalSize = %d, want %d", i, chunk.TotalSize, offset)
		}
	}

	// the first chunk starts with block 1 and ends with block 25
	if chunks[0].Payload[0] != 1 || chunks[0].Payload[len(chunks[0].Payload)-1] != 25 {
		t.Error("First chunk does not span blocks 1..25")
	}
}

func TestEmitterLatest(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := newEmitter(EmitLatest, time.Second, start)

	chunks := feedEmitter(e, start, 50, 2048, 40*time.Millisecond)

	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}

	first := chunks[0]
	if first.DeltaSize != 2048 || len(first.Payload) != 2048 {
		t.Errorf("DeltaSize = %d, want 2048", first.DeltaSize)
	}
	if first.FromOffset != 24*2048 || first.TotalSize != 25*2048 {
		t.Errorf("FromOffset/TotalSize = %d/%d, want %d/%d", first.FromOffset, first.TotalSize, 24*2048, 25*2048)
	}
	if first.Payload[0] != 25 {
		t.Errorf("Payload comes from block %d, want 25", first.Payload[0])
	}
}

func TestEmitterPendingBoundedByMaxInterval(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	// an hour was requested; one block per second of audio for ten minutes
	e := newEmitter(EmitAccumulated, ClampInterval(3_600_000), start)

	const blockSize = 1920
	limit := int(MaxEmissionInterval/time.Second) * blockSize

	var total uint64
	var chunks int
	for i := 1; i <= 600; i++ {
		block := audio.Block{
			Data:       make([]byte, blockSize),
			ReceivedAt: start.Add(time.Duration(i) * time.Second),
		}
		total += blockSize
		if chunk, ok := e.observe(block, total); ok {
			chunks++
			if len(chunk.Payload) > limit {
				t.Fatalf("Chunk of %d bytes exceeds %d", len(chunk.Payload), limit)
			}
		}
		if len(e.pending) > limit {
			t.Fatalf("After %ds pending holds %d bytes, limit %d", i, len(e.pending), limit)
		}
	}

	if chunks != 10 {
		t.Errorf("Expected 10 chunks over ten minutes, got %d", chunks)
	}
}
