package capture

import (
	"fmt"
	"time"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
)

const (
	// MinEmissionInterval is the shortest cadence at which chunks are emitted
	MinEmissionInterval = 100 * time.Millisecond
	// MaxEmissionInterval is the longest cadence. Accumulated chunks hold at
	// most this much audio in memory.
	MaxEmissionInterval = time.Minute
)

// EmissionMode selects what an emitted chunk carries
type EmissionMode string

const (
	// EmitAccumulated delivers every byte written since the previous emission
	EmitAccumulated EmissionMode = "accumulate"
	// EmitLatest delivers only the buffer that triggered the emission
	EmitLatest EmissionMode = "latest"
)

// ParseEmissionMode maps a configuration string to a mode. Empty selects EmitAccumulated.
func ParseEmissionMode(s string) (EmissionMode, error) {
	switch EmissionMode(s) {
	case "", EmitAccumulated:
		return EmitAccumulated, nil
	case EmitLatest:
		return EmitLatest, nil
	default:
		return "", fmt.Errorf("unknown emission mode %q (want %q or %q)", s, EmitAccumulated, EmitLatest)
	}
}

// ShouldEmit reports whether a chunk is due at now. A nil lastEmissionAt means
// nothing was emitted yet.
func ShouldEmit(now time.Time, lastEmissionAt *time.Time, interval time.Duration) bool {
	if lastEmissionAt == nil {
		return true
	}
	return now.Sub(*lastEmissionAt) >= interval
}

// ClampInterval converts a millisecond interval and bounds it to
// [MinEmissionInterval, MaxEmissionInterval]
func ClampInterval(ms int) time.Duration {
	if int64(ms) > MaxEmissionInterval.Milliseconds() {
		return MaxEmissionInterval
	}
	interval := time.Duration(ms) * time.Millisecond
	if interval < MinEmissionInterval {
		return MinEmissionInterval
	}
	return interval
}

// emitter tracks emission state for one session. It is only touched from the
// sink writer goroutine.
type emitter struct {
	mode     EmissionMode
	interval time.Duration

	lastEmissionAt   *time.Time
	lastEmittedBytes uint64
	pending          []byte // accumulate mode only
}

func newEmitter(mode EmissionMode, interval time.Duration, startedAt time.Time) *emitter {
	return &emitter{
		mode:           mode,
		interval:       interval,
		lastEmissionAt: &startedAt,
	}
}

// observe records a block that reached the file and returns a chunk when one is due.
// total is the payload size including block.
func (e *emitter) observe(block audio.Block, total uint64) (Chunk, bool) {
	if e.mode == EmitAccumulated {
		e.pending = append(e.pending, block.Data...)
	}

	if !ShouldEmit(block.ReceivedAt, e.lastEmissionAt, e.interval) {
		return Chunk{}, false
	}

	var chunk Chunk
	switch e.mode {
	case EmitLatest:
		chunk = Chunk{
			FromOffset: total - uint64(len(block.Data)),
			Payload:    block.Data,
			DeltaSize:  uint32(len(block.Data)),
			TotalSize:  total,
		}
	default:
		chunk = Chunk{
			FromOffset: e.lastEmittedBytes,
			Payload:    e.pending,
			DeltaSize:  uint32(total - e.lastEmittedBytes),
			TotalSize:  total,
		}
		e.pending = nil
	}

	at := block.ReceivedAt
	e.lastEmissionAt = &at
	e.lastEmittedBytes = total

	return chunk, true
}
