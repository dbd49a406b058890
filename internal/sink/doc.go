// Package sink turns upstream records into time-series writes and reports
// each record's outcome back upstream exactly once.
//
// # Processing
//
// For every record, Execute:
//  1. Maps it with each FieldMapper, in order, into write requests. Mapping
//     failures become already-failed requests.
//  2. Combines the requests into one outcome (completion order, or mapper
//     order when PreserveOrder or EmitResults is set).
//  3. Attaches the success/error callbacks, which run on completion no matter
//     how the record is acknowledged.
//  4. Acknowledges according to the record's mode.
//
// # Modes
//
//   - ModeAsync: Execute returns at once; the terminal call comes from the
//     completion path.
//   - ModeSync: Execute waits for the outcome, bounded by Timeout. A timeout
//     fails the record; the writes still complete later.
//   - ModeThrottled: chosen for the one record following a backend overload
//     signal. It waits like ModeSync and then sleeps out the remainder of the
//     cool-down floor before clearing the throttle flag.
//
// # Failures
//
// Every failed record gets exactly one Collector.Fail call. The fail strategy
// shapes the error passed to it: FailRetry wraps ErrRetry so the collector can
// redeliver, FailFast wraps ErrFatal and stops the sink, FailLog logs and
// journals, FailNoop does nothing more.
//
// # Thread Safety
//
// Execute must be called from one goroutine per Sink. Completion callbacks
// run on backend goroutines; collector calls are serialised by the sink.
package sink
