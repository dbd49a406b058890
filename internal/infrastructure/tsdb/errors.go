package tsdb

import "errors"

// Sentinel errors for VictoriaMetrics operations.
//
// Overload responses (HTTP 429 and 503) wrap both ErrWriteFailed and
// backend.ErrOverloaded:
//
//	if errors.Is(err, backend.ErrOverloaded) {
//	    // Slow down
//	}
var (
	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrWriteFailed indicates a batch write failed.
	ErrWriteFailed = errors.New("tsdb: write failed")

	// ErrDisabled indicates TSDB integration is disabled in config.
	ErrDisabled = errors.New("tsdb: disabled in configuration")
)
