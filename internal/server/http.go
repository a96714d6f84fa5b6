package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raghavsethi/expo-audio-stream/internal/audio"
	"github.com/raghavsethi/expo-audio-stream/internal/capture"
	"github.com/raghavsethi/expo-audio-stream/internal/config"
	"github.com/raghavsethi/expo-audio-stream/internal/metrics"
)

const (
	serviceName = "audio-capture-service"

	// maxStartBodySize bounds the start request body
	maxStartBodySize = 4096
)

// HTTPServer exposes the recorder over a JSON control API
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	recorder *capture.Recorder
	metrics  *metrics.Metrics
	version  string

	startTime time.Time
}

// Options carries the optional collaborators of the HTTP server
type Options struct {
	Gatherer prometheus.Gatherer // served on /metrics, nil uses the default gatherer
	Metrics  *metrics.Metrics
	Version  string
}

// StartRequest is the body of POST /recordings/start. Zero fields fall back to
// the recording defaults of the configuration.
type StartRequest struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
	IntervalMs int `json:"interval_ms"`
}

// StartResponse is returned when a recording starts
type StartResponse struct {
	SessionID string `json:"session_id"`
	Location  string `json:"location"`
}

// StopResponse wraps the result of stopping, which is null when nothing was recording
type StopResponse struct {
	Result *capture.RecordingResult `json:"result"`
	Error  string                   `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	recorder *capture.Recorder, opts Options) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		recorder:  recorder,
		metrics:   opts.Metrics,
		version:   opts.Version,
		startTime: time.Now(),
	}
	if h.version == "" {
		h.version = "dev"
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux, opts.Gatherer)
	h.handler = mux

	h.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Address, fmt.Sprint(cfg.Port)),
		Handler:      mux,
		ReadTimeout:  cfg.GetReadTimeoutDuration(),
		WriteTimeout: cfg.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed handler, for embedding and tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/recordings/start", h.withMetrics("/recordings/start", h.handleStart))
	mux.HandleFunc("/recordings/stop", h.withMetrics("/recordings/stop", h.handleStop))
	mux.HandleFunc("/recordings/status", h.withMetrics("/recordings/status", h.handleStatus))
	mux.HandleFunc("/recordings", h.withMetrics("/recordings", h.handleRecordings))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprint(ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleStart implements POST /recordings/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req StartRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxStartBodySize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error(), Code: "bad_request"})
		return
	}

	settings, intervalMs := h.applyDefaults(req)

	id, location, err := h.recorder.Start(settings, intervalMs)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, StartResponse{SessionID: id, Location: location})
}

// applyDefaults fills zero request fields from the recording configuration
func (h *HTTPServer) applyDefaults(req StartRequest) (audio.Settings, int) {
	defaults := h.config.Recording

	settings := audio.Settings{
		SampleRate: req.SampleRate,
		Channels:   req.Channels,
		BitDepth:   req.BitDepth,
	}
	if settings.SampleRate == 0 {
		settings.SampleRate = defaults.SampleRate
	}
	if settings.Channels == 0 {
		settings.Channels = defaults.Channels
	}
	if settings.BitDepth == 0 {
		settings.BitDepth = defaults.BitDepth
	}

	intervalMs := req.IntervalMs
	if intervalMs == 0 {
		intervalMs = defaults.IntervalMs
	}
	return settings, intervalMs
}

// handleStop implements POST /recordings/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.config.Recording.GetStopTimeoutDuration())
	defer cancel()

	result, err := h.recorder.Stop(ctx)
	if err != nil {
		// the file is closed either way; report what was recorded with the failure
		h.writeJSON(w, http.StatusInternalServerError, StopResponse{Result: result, Error: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, StopResponse{Result: result})
}

// handleStatus implements GET /recordings/status
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	h.writeJSON(w, http.StatusOK, h.recorder.Status())
}

// handleRecordings implements GET and DELETE /recordings
func (h *HTTPServer) handleRecordings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		files, err := h.recorder.ListFiles()
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"directory": h.recorder.Directory(),
			"total":     len(files),
			"files":     files,
		})

	case http.MethodDelete:
		removed, err := h.recorder.ClearFiles()
		if err != nil {
			h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"removed": removed,
				"error":   err.Error(),
			})
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})

	default:
		methodNotAllowed(w, http.MethodGet+", "+http.MethodDelete)
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	status := h.recorder.Status()
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": h.version,
		},
		"components": map[string]interface{}{
			"recorder": map[string]interface{}{
				"state":      status.State,
				"session_id": status.SessionID,
				"directory":  h.recorder.Directory(),
			},
			"source": map[string]interface{}{
				"type": h.config.Source.Type,
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	// nothing secret in the configuration, but keep the log file path private
	sanitized := *h.config
	if sanitized.Logging.IsFile() {
		sanitized.Logging.Output = "file"
	}

	h.writeJSON(w, http.StatusOK, sanitized)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	if r.URL.Path != "/" {
		h.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no such endpoint: " + r.URL.Path, Code: "not_found"})
		return
	}

	apiDoc := map[string]interface{}{
		"service": serviceName,
		"version": h.version,
		"endpoints": map[string]interface{}{
			"GET /":                  "API documentation",
			"GET /health":            "Service health check",
			"POST /recordings/start": "Start a recording",
			"GET /recordings/status": "Status of the current or last recording",
			"POST /recordings/stop":  "Stop the recording and seal the file",
			"GET /recordings":        "List recording files",
			"DELETE /recordings":     "Delete recording files except the active one",
			"GET /config":            "Get service configuration",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}

// writeError maps capture errors onto status codes
func (h *HTTPServer) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", slog.String("code", code), slog.String("error", err.Error()))
	}
	h.writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	var setupErr *capture.SourceSetupError
	var fileErr *capture.FileCreationError
	var ioErr *capture.IOError

	switch {
	case errors.Is(err, capture.ErrAlreadyRecording):
		return http.StatusConflict, "already_recording"
	case errors.Is(err, capture.ErrInvalidFormat):
		return http.StatusBadRequest, "invalid_format"
	case errors.Is(err, capture.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.As(err, &setupErr):
		return http.StatusInternalServerError, "source_setup"
	case errors.As(err, &fileErr):
		return http.StatusInternalServerError, "file_creation"
	case errors.As(err, &ioErr):
		return http.StatusInternalServerError, "io"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("Failed to write response", slog.String("error", err.Error()))
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
