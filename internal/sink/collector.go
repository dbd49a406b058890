package sink

import (
	"sync"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
)

// Collector receives the terminal outcome of each record from the upstream
// framework's point of view. Exactly one of its methods is called per record.
//
// Collector implementations need not be safe for concurrent use; the sink
// serialises every call.
type Collector interface {
	// Ack confirms the record was fully processed.
	Ack(rec mapper.Record)

	// Emit re-emits the write results for the record downstream and
	// confirms it. Results are in mapper order.
	Emit(rec mapper.Record, results []backend.Point)

	// Fail reports that the record could not be processed. err is the
	// error after the fail strategy has been applied.
	Fail(rec mapper.Record, err error)
}

// ackSink serialises collector calls from the processing goroutine and the
// completion goroutines.
type ackSink struct {
	mu sync.Mutex
	c  Collector
}

func (a *ackSink) ack(rec mapper.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.c.Ack(rec)
}

func (a *ackSink) emit(rec mapper.Record, results []backend.Point) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.c.Emit(rec, results)
}

func (a *ackSink) fail(rec mapper.Record, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.c.Fail(rec, err)
}
