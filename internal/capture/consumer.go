package capture

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

const defaultDispatchQueueSize = 32

// Chunk is newly captured audio handed to a Consumer
type Chunk struct {
	Location   string    `json:"location"`
	FromOffset uint64    `json:"from_offset"` // payload offset of the first byte, header excluded
	Payload    []byte    `json:"-"`
	DeltaSize  uint32    `json:"delta_size"`
	TotalSize  uint64    `json:"total_size"`
	MimeType   string    `json:"mime_type"`
	SessionID  string    `json:"session_id"`
	EmittedAt  time.Time `json:"emitted_at"`
}

// Consumer receives emitted chunks. OnChunk is called from a single goroutine,
// in emission order, and must not retain Payload past the call unless it copies it.
type Consumer interface {
	OnChunk(chunk Chunk)
}

// ConsumerFunc adapts a function to the Consumer interface
type ConsumerFunc func(chunk Chunk)

func (f ConsumerFunc) OnChunk(chunk Chunk) { f(chunk) }

// MultiConsumer fans a chunk out to several consumers in order
type MultiConsumer []Consumer

func (m MultiConsumer) OnChunk(chunk Chunk) {
	for _, c := range m {
		c.OnChunk(chunk)
	}
}

// LogConsumer logs chunk metadata
type LogConsumer struct {
	logger *slog.Logger
}

// NewLogConsumer creates a consumer that logs each chunk at info level
func NewLogConsumer(logger *slog.Logger) *LogConsumer {
	return &LogConsumer{logger: logger}
}

func (c *LogConsumer) OnChunk(chunk Chunk) {
	c.logger.Info("Audio chunk emitted",
		slog.String("session_id", chunk.SessionID),
		slog.String("location", chunk.Location),
		slog.Uint64("from_offset", chunk.FromOffset),
		slog.Uint64("delta_size", uint64(chunk.DeltaSize)),
		slog.Uint64("total_size", chunk.TotalSize),
	)
}

// Dispatcher delivers chunks to a Consumer on its own goroutine so the emitting
// side never waits for the consumer
type Dispatcher struct {
	consumer Consumer
	logger   *slog.Logger

	queue chan Chunk
	done  chan struct{}

	mu        sync.Mutex
	accepting bool
	abandoned atomic.Bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// NewDispatcher starts a dispatcher with a queue of queueSize chunks
func NewDispatcher(consumer Consumer, queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize < 1 {
		queueSize = defaultDispatchQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		consumer:  consumer,
		logger:    logger,
		queue:     make(chan Chunk, queueSize),
		done:      make(chan struct{}),
		accepting: true,
	}

	go d.run()

	return d
}

// Submit enqueues a chunk. It returns false when the dispatcher was drained or
// the queue is full; the chunk is dropped in both cases.
func (d *Dispatcher) Submit(chunk Chunk) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.accepting {
		return false
	}

	select {
	case d.queue <- chunk:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("Consumer is not keeping up, chunk dropped",
			slog.String("session_id", chunk.SessionID),
			slog.Uint64("from_offset", chunk.FromOffset),
			slog.Uint64("delta_size", uint64(chunk.DeltaSize)),
		)
		return false
	}
}

// Drain stops accepting chunks and waits until every queued chunk was delivered
// or ctx is done. Chunks still queued when ctx expires are discarded; once Drain
// returns the consumer is not called again, apart from a call already in progress.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.accepting {
		d.accepting = false
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.abandoned.Store(true)
		d.logger.Warn("Chunk dispatcher drain timed out",
			slog.Int("pending", len(d.queue)),
		)
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for chunk := range d.queue {
		if d.abandoned.Load() {
			continue
		}
		d.deliver(chunk)
	}
}

// deliver calls the consumer with panic recovery
func (d *Dispatcher) deliver(chunk Chunk) {
	defer func() {
		if r := recover(); r != nil {
			d.panics.Add(1)
			d.logger.Error("Consumer panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	d.consumer.OnChunk(chunk)
	d.delivered.Add(1)
}

// Delivered returns the number of chunks handed to the consumer
func (d *Dispatcher) Delivered() uint64 {
	return d.delivered.Load()
}

// Dropped returns the number of chunks rejected because the queue was full
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Panics returns the number of consumer calls that panicked
func (d *Dispatcher) Panics() uint64 {
	return d.panics.Load()
}
