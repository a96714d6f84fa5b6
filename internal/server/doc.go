// Package server implements the HTTP control API of the capture service.
// It starts and stops recordings, reports status, lists and clears recording
// files, and serves health, configuration and Prometheus metrics endpoints.
package server
