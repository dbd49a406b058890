package sink

import (
	"fmt"
	"strings"
)

// Mode is the per-record acknowledgement mode.
type Mode int

const (
	// ModeAsync acknowledges from the completion path; Execute returns at once.
	ModeAsync Mode = iota
	// ModeSync waits for the writes (optionally bounded) before acknowledging.
	ModeSync
	// ModeThrottled is a one-record override after an overload signal: it
	// waits like ModeSync and then enforces the cool-down floor.
	ModeThrottled
)

func (m Mode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeSync:
		return "sync"
	case ModeThrottled:
		return "throttled"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// FailStrategy decides what happens after a record has failed.
type FailStrategy int

const (
	// FailNoop does nothing beyond the fail call.
	FailNoop FailStrategy = iota
	// FailLog logs the failure and journals the record when a journal is set.
	FailLog
	// FailFast escalates the failure and stops the sink.
	FailFast
	// FailRetry escalates the failure as a redelivery request.
	FailRetry
)

func (s FailStrategy) String() string {
	switch s {
	case FailNoop:
		return "noop"
	case FailLog:
		return "log"
	case FailFast:
		return "failfast"
	case FailRetry:
		return "retry"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseFailStrategy parses a strategy name, ignoring case.
func ParseFailStrategy(s string) (FailStrategy, error) {
	switch strings.ToLower(s) {
	case "noop", "":
		return FailNoop, nil
	case "log":
		return FailLog, nil
	case "failfast":
		return FailFast, nil
	case "retry":
		return FailRetry, nil
	default:
		return FailNoop, fmt.Errorf("sink: unknown fail strategy %q", s)
	}
}
