package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
)

// Sentinel errors for sink operations.
var (
	// ErrMapping indicates a record could not be converted to a data point.
	ErrMapping = errors.New("sink: mapping failed")

	// ErrTimeout indicates the synchronous wait elapsed before all writes completed.
	ErrTimeout = errors.New("sink: write wait timed out")

	// ErrRetry marks a record failure that should be redelivered.
	ErrRetry = errors.New("sink: record should be retried")

	// ErrFatal marks a record failure that stops the sink.
	ErrFatal = errors.New("sink: fatal record failure")

	// ErrNotPrepared indicates Execute was called before Prepare.
	ErrNotPrepared = errors.New("sink: not prepared")
)

// MappingError is returned when a FieldMapper fails for a record.
type MappingError struct {
	// Mapper is the index of the failing FieldMapper.
	Mapper int

	// Field is the part being extracted: metric, timestamp, value or tags.
	Field string

	Err error
}

// Error implements the error interface.
func (e *MappingError) Error() string {
	return fmt.Sprintf("sink: mapper %d %s: %v", e.Mapper, e.Field, e.Err)
}

// Unwrap supports errors.Is for both ErrMapping and the cause.
func (e *MappingError) Unwrap() []error {
	return []error{ErrMapping, e.Err}
}

// Kind classifies a request or record error.
type Kind int

const (
	// KindNone is the kind of a nil error.
	KindNone Kind = iota
	// KindMapping is a failure to build a data point.
	KindMapping
	// KindOverload is a backend overload signal.
	KindOverload
	// KindTimeout is an elapsed synchronous wait.
	KindTimeout
	// KindTransport is any other backend failure.
	KindTransport
)

// String returns the kind name used in logs, metrics and the journal.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindMapping:
		return "mapping"
	case KindOverload:
		return "overload"
	case KindTimeout:
		return "timeout"
	default:
		return "transport"
	}
}

// Classify returns the Kind of err.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrMapping):
		return KindMapping
	case backend.IsOverload(err):
		return KindOverload
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindTransport
	}
}

// IsRetryable reports whether err asks for the record to be redelivered.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetry)
}

// IsFatal reports whether err has stopped the sink.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
