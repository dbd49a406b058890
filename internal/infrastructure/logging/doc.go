// Package logging provides structured logging for tsdbsink.
//
// This package wraps Go's standard log/slog package so every subsystem logs
// with the same handler, level and default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("sink started", "mode", "async")
//	logger.Error("write failed", "error", err)
//
// Never log secrets, tokens or passwords.
package logging
