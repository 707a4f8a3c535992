// Package pkg provides shared utilities for the usbaudio firmware.
//
// This package contains common functionality used by the device stack,
// the audio class and the streaming loop, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB protocol errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with component context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentAudio, "sampling rate set", "rate", 48000)
//
// # Errors
//
// Common USB errors are defined as sentinel values. Non-blocking
// endpoint operations report [ErrWouldBlock] when nothing could be moved:
//
//	if errors.Is(err, pkg.ErrWouldBlock) {
//	    // Try again on the next poll
//	}
package pkg
