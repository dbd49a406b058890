package sink

import "sync/atomic"

// Throttle is the shared overload flag.
//
// Any completion path may raise it with Signal; only the processing goroutine
// clears it, once per throttled record. Signals are idempotent: raising the
// flag twice before it is cleared still costs a single throttled record.
type Throttle struct {
	active  atomic.Bool
	signals atomic.Int64
	cycles  atomic.Int64
}

// Signal raises the flag.
func (t *Throttle) Signal() {
	t.signals.Add(1)
	t.active.Store(true)
}

// Active reports whether the next record must run throttled.
func (t *Throttle) Active() bool {
	return t.active.Load()
}

// Clear lowers the flag and counts a completed throttle cycle.
func (t *Throttle) Clear() {
	t.active.Store(false)
	t.cycles.Add(1)
}

// Signals returns how many overload signals have been raised.
func (t *Throttle) Signals() int64 {
	return t.signals.Load()
}

// Cycles returns how many throttled records have completed.
func (t *Throttle) Cycles() int64 {
	return t.cycles.Load()
}
