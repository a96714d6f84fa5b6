package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the capture service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Recording lifecycle metrics
	Recording          prometheus.Gauge
	RecordingsStarted  prometheus.Counter
	RecordingsFinished prometheus.Counter
	RecordingFailures  *prometheus.CounterVec
	RecordingDuration  prometheus.Histogram
	RecordingSize      prometheus.Histogram
	FinalizeDuration   prometheus.Histogram

	// Capture path metrics
	BuffersReceived prometheus.Counter
	BytesReceived   prometheus.Counter
	BuffersDropped  prometheus.Counter

	// Sink metrics
	BytesWritten  prometheus.Counter
	WriteFailures prometheus.Counter

	// Emission metrics
	ChunksEmitted prometheus.Counter
	ChunksDropped prometheus.Counter
	ChunkSize     prometheus.Histogram

	// Source metrics
	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Recording: factory.NewGauge(prometheus.GaugeOpts{
			Name: "capture_recording",
			Help: "1 while a recording is in progress",
		}),
		RecordingsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_recordings_finished_total",
			Help: "Total number of recordings stopped and finalized",
		}),
		RecordingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_recording_failures_total",
			Help: "Total number of recordings that could not be started or finalized",
		}, []string{"reason"}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_recording_duration_seconds",
			Help:    "Duration of finished recordings",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34 minutes
		}),
		RecordingSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_recording_size_bytes",
			Help:    "Size of finished recording files",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 10), // 64KB to ~16GB
		}),
		FinalizeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_finalize_duration_seconds",
			Help:    "Time spent draining and sealing a recording on stop",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),

		BuffersReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_buffers_received_total",
			Help: "Total number of PCM buffers delivered by the audio source",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_bytes_received_total",
			Help: "Total PCM bytes delivered by the audio source",
		}),
		BuffersDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_buffers_dropped_total",
			Help: "Total number of buffers dropped because the write queue was full",
		}),

		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_bytes_written_total",
			Help: "Total PCM bytes persisted to recording files",
		}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_write_failures_total",
			Help: "Total number of buffers that could not be written",
		}),

		ChunksEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_chunks_emitted_total",
			Help: "Total number of chunks handed to the consumer",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "capture_chunks_dropped_total",
			Help: "Total number of chunks dropped because the consumer queue was full",
		}),
		ChunkSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capture_chunk_size_bytes",
			Help:    "Payload size of emitted chunks",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_source_packets_received_total",
			Help: "Total number of packets received by network audio sources",
		}, []string{"source"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_source_packets_dropped_total",
			Help: "Total number of packets discarded by network audio sources",
		}, []string{"source", "reason"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capture_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capture_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordRecordingStarted marks a recording as in progress
func (m *Metrics) RecordRecordingStarted() {
	if m == nil {
		return
	}
	m.RecordingsStarted.Inc()
	m.Recording.Set(1)
}

// RecordRecordingFinished records a finalized recording
func (m *Metrics) RecordRecordingFinished(durationSeconds float64, sizeBytes int64, finalizeSeconds float64) {
	if m == nil {
		return
	}
	m.RecordingsFinished.Inc()
	m.Recording.Set(0)
	m.RecordingDuration.Observe(durationSeconds)
	m.RecordingSize.Observe(float64(sizeBytes))
	m.FinalizeDuration.Observe(finalizeSeconds)
}

// RecordRecordingFailure counts a failed start or finalize
func (m *Metrics) RecordRecordingFailure(reason string) {
	if m == nil {
		return
	}
	m.RecordingFailures.WithLabelValues(reason).Inc()
}

// RecordBufferReceived counts a buffer delivered by the source
func (m *Metrics) RecordBufferReceived(size int) {
	if m == nil {
		return
	}
	m.BuffersReceived.Inc()
	m.BytesReceived.Add(float64(size))
}

// RecordBufferDropped counts a buffer rejected by the write queue
func (m *Metrics) RecordBufferDropped() {
	if m == nil {
		return
	}
	m.BuffersDropped.Inc()
}

// RecordBlockWritten counts bytes persisted by the sink
func (m *Metrics) RecordBlockWritten(size int) {
	if m == nil {
		return
	}
	m.BytesWritten.Add(float64(size))
}

// RecordWriteFailure counts a buffer the sink could not persist
func (m *Metrics) RecordWriteFailure() {
	if m == nil {
		return
	}
	m.WriteFailures.Inc()
}

// RecordChunkEmitted records a chunk queued for the consumer
func (m *Metrics) RecordChunkEmitted(sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksEmitted.Inc()
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordChunkDropped counts a chunk the consumer queue rejected
func (m *Metrics) RecordChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

// RecordPacketReceived counts a packet received by a network source
func (m *Metrics) RecordPacketReceived(source string) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(source).Inc()
}

// RecordPacketDropped counts a packet discarded by a network source
func (m *Metrics) RecordPacketDropped(source, reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(source, reason).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
