package acquisition

import (
	"context"
	"errors"
	"fmt"

	"gemmad/internal/delivery"
)

// ErrNotInitialized is reported by Ask before the engine handle exists.
var ErrNotInitialized = errors.New("model not initialized")

// ErrClosed is reported by Ask and Init after Close.
var ErrClosed = errors.New("controller closed")

// IsNotInitialized reports whether err indicates an Ask before readiness.
func IsNotInitialized(err error) bool {
	return errors.Is(err, ErrNotInitialized) || errors.Is(err, ErrClosed)
}

// serviceUnavailableError: the model is not bundled and no delivery service
// exists, or the service refused the fetch request.
type serviceUnavailableError struct{ msg string }

func (e serviceUnavailableError) Error() string { return "delivery service unavailable: " + e.msg }

// IsServiceUnavailable reports whether err indicates a missing delivery service.
func IsServiceUnavailable(err error) bool {
	var target serviceUnavailableError
	return errors.As(err, &target)
}

// DownloadFailedError carries the delivery error code of a failed pack download.
type DownloadFailedError struct {
	Pack string
	Code delivery.ErrorCode
}

func (e DownloadFailedError) Error() string {
	return fmt.Sprintf("download of pack %q failed: %s (%d)", e.Pack, e.Code, int(e.Code))
}

// IsDownloadFailed reports whether err is a DownloadFailedError.
func IsDownloadFailed(err error) bool {
	var target DownloadFailedError
	return errors.As(err, &target)
}

type locationUnresolvedError struct{ pack string }

func (e locationUnresolvedError) Error() string {
	return "pack " + e.pack + " completed but its location is unknown"
}

// IsLocationUnresolved reports whether a completed download had no location.
func IsLocationUnresolved(err error) bool {
	var target locationUnresolvedError
	return errors.As(err, &target)
}

type engineLoadError struct {
	path string
	err  error
}

func (e engineLoadError) Error() string { return "load " + e.path + ": " + e.err.Error() }
func (e engineLoadError) Unwrap() error { return e.err }

// IsEngineLoadFailed reports whether the engine rejected the model file.
func IsEngineLoadFailed(err error) bool {
	var target engineLoadError
	return errors.As(err, &target)
}

type generationError struct{ err error }

func (e generationError) Error() string { return "generation failed: " + e.err.Error() }
func (e generationError) Unwrap() error { return e.err }

// IsGenerationFailed reports whether a session failed to produce a result.
func IsGenerationFailed(err error) bool {
	var target generationError
	return errors.As(err, &target)
}

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{}

func (tooBusyError) Error() string { return "too busy" }

// ErrTooBusy is returned by Ask when admission times out or the queue is full.
var ErrTooBusy error = tooBusyError{}

// IsTooBusy reports whether err indicates backpressure.
func IsTooBusy(err error) bool {
	var target tooBusyError
	return errors.As(err, &target)
}

// staleAttemptError is returned internally when a newer attempt superseded
// the one that produced a result.
type staleAttemptError struct{ attempt string }

func (e staleAttemptError) Error() string { return "attempt " + e.attempt + " superseded" }

// Kind returns a short label for err, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsNotInitialized(err):
		return "not_initialized"
	case IsServiceUnavailable(err):
		return "service_unavailable"
	case IsDownloadFailed(err):
		return "download_failed"
	case IsLocationUnresolved(err):
		return "location_unresolved"
	case IsEngineLoadFailed(err):
		return "engine_load_failed"
	case IsTooBusy(err):
		return "too_busy"
	case IsGenerationFailed(err):
		return "generation_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}
