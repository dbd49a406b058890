package sink_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/future"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/sink"
)

// fakeWriter answers the n-th AddPoint call with errs[n] (nil = success).
// With hold set, futures stay pending until release or resolve is called.
type fakeWriter struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	written []backend.Point

	hold    bool
	held    []func(backend.Point, error)
	heldPts []backend.Point
}

func (w *fakeWriter) AddPoint(p backend.Point) *future.Future[backend.Point] {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.calls
	w.calls++

	if w.hold {
		f, resolve := future.New[backend.Point]()
		w.held = append(w.held, resolve)
		w.heldPts = append(w.heldPts, p)
		return f
	}

	var err error
	if n < len(w.errs) {
		err = w.errs[n]
	}
	if err != nil {
		return future.Failed[backend.Point](err)
	}
	w.written = append(w.written, p)
	return future.Resolved(p)
}

func (w *fakeWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *fakeWriter) points() []backend.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]backend.Point(nil), w.written...)
}

// resolve completes the i-th held request.
func (w *fakeWriter) resolve(i int, err error) {
	w.mu.Lock()
	r, p := w.held[i], w.heldPts[i]
	w.mu.Unlock()
	r(p, err)
}

// release completes every held request successfully.
func (w *fakeWriter) release() {
	w.mu.Lock()
	held := len(w.held)
	w.mu.Unlock()
	for i := range held {
		w.resolve(i, nil)
	}
}

type call struct {
	kind    string
	id      string
	results []backend.Point
	err     error
}

// fakeCollector records every terminal call.
type fakeCollector struct {
	mu    sync.Mutex
	calls []call
	ch    chan call
}

func newCollector() *fakeCollector {
	return &fakeCollector{ch: make(chan call, 256)}
}

func (c *fakeCollector) add(cl call) {
	c.mu.Lock()
	c.calls = append(c.calls, cl)
	c.mu.Unlock()
	c.ch <- cl
}

func (c *fakeCollector) Ack(rec mapper.Record) { c.add(call{kind: "ack", id: rec.ID()}) }

func (c *fakeCollector) Emit(rec mapper.Record, results []backend.Point) {
	c.add(call{kind: "emit", id: rec.ID(), results: results})
}

func (c *fakeCollector) Fail(rec mapper.Record, err error) {
	c.add(call{kind: "fail", id: rec.ID(), err: err})
}

func (c *fakeCollector) next(t *testing.T) call {
	t.Helper()
	select {
	case cl := <-c.ch:
		return cl
	case <-time.After(2 * time.Second):
		t.Fatal("no terminal call within 2s")
		return call{}
	}
}

func (c *fakeCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// fakeJournal records dead letters.
type fakeJournal struct {
	mu      sync.Mutex
	records []string
}

func (j *fakeJournal) Record(_ context.Context, rec mapper.Record, _ error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec.ID())
	return nil
}

// newSink builds a prepared sink.
func newSink(t *testing.T, cfg sink.Config, w backend.Writer, c sink.Collector, m *mapper.Mapper) *sink.Sink {
	t.Helper()
	s, err := sink.New(cfg, sink.Deps{
		Writer:    w,
		Mapper:    m,
		Collector: c,
		Logger:    logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Prepare(mapper.Options{}); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	return s
}

// point returns a record readable by the default field set.
func point(id string, value any) *mapper.MapRecord {
	return mapper.NewRecord(id, map[string]any{
		"metric":    "sys.cpu",
		"timestamp": int64(1700000000),
		"value":     value,
		"tags":      map[string]any{"host": "a"},
	})
}

// multi returns a mapper with n field sets reading m<i>/v<i>, and a
// matching record.
func multi(id string, n int) (*mapper.Mapper, *mapper.MapRecord) {
	m := mapper.New()
	fields := map[string]any{
		"timestamp": int64(1700000000),
		"tags":      map[string]any{"host": "a"},
	}
	for i := range n {
		metric, value := "m"+strconv.Itoa(i), "v"+strconv.Itoa(i)
		m.Add(mapper.NewFieldSet(metric, "timestamp", value, "tags"))
		fields[metric] = "metric." + strconv.Itoa(i)
		fields[value] = int64(i)
	}
	return m, mapper.NewRecord(id, fields)
}

func waitSink(t *testing.T, s *sink.Sink) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}
