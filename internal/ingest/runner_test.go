package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/future"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/sink"
)

const cpuPayload = `{"metric":"sys.cpu","timestamp":1700000000,"value":42,"tags":{"host":"a"}}`

// fakeSubscriber keeps the handler so tests can deliver messages.
type fakeSubscriber struct {
	mu      sync.Mutex
	filters []string
	qos     byte
	handler mqtt.MessageHandler
	ready   chan struct{}
	err     error
}

func newSubscriber() *fakeSubscriber {
	return &fakeSubscriber{ready: make(chan struct{})}
}

func (s *fakeSubscriber) SubscribeAll(filters []string, qos byte, handler mqtt.MessageHandler) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	s.filters, s.qos, s.handler = filters, qos, handler
	s.mu.Unlock()
	close(s.ready)
	return nil
}

// deliver waits for the subscription and hands a message to the handler.
func (s *fakeSubscriber) deliver(t *testing.T, topic, payload string) (*mqtt.Message, *atomic.Int32, error) {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not subscribe")
	}

	acks := &atomic.Int32{}
	msg := mqtt.NewMessage(topic, []byte(payload), func() { acks.Add(1) })
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	return msg, acks, h(msg)
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	ch chan published
}

func (p *fakePublisher) PublishDefault(topic string, payload []byte) error {
	p.ch <- published{topic: topic, payload: payload}
	return nil
}

type writerFunc func(p backend.Point) *future.Future[backend.Point]

func (f writerFunc) AddPoint(p backend.Point) *future.Future[backend.Point] { return f(p) }

// okWriter succeeds every write.
var okWriter = writerFunc(func(p backend.Point) *future.Future[backend.Point] {
	return future.Resolved(p)
})

// failingWriter fails the first n writes with a transport error.
func failingWriter(n int32) (writerFunc, *atomic.Int32) {
	calls := &atomic.Int32{}
	return func(p backend.Point) *future.Future[backend.Point] {
		if calls.Add(1) <= n {
			return future.Failed[backend.Point](errors.New("connection refused"))
		}
		return future.Resolved(p)
	}, calls
}

type harness struct {
	runner *Runner
	sub    *fakeSubscriber
	sink   *sink.Sink
	errCh  chan error
	cancel context.CancelFunc
}

func start(t *testing.T, cfg sink.Config, w backend.Writer, opts Options) *harness {
	t.Helper()

	sub := newSubscriber()
	opts.Subscriber = sub
	opts.Logger = logging.Discard()
	if len(opts.Source.Topics) == 0 {
		opts.Source.Topics = []string{"sensors/#"}
	}
	opts.Source.QoS = 1

	r, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s, err := sink.New(cfg, sink.Deps{Writer: w, Collector: r, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("sink.New() error = %v", err)
	}
	if err := s.Prepare(mapper.Options{DefaultTag: mapper.FallbackTag}); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx, s) }()

	h := &harness{runner: r, sub: sub, sink: s, errCh: errCh, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		<-errCh
		r.Close()
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{Source: config.SourceConfig{Topics: []string{"a"}}}); err == nil {
		t.Error("New() without subscriber should fail")
	}
	if _, err := New(Options{Subscriber: newSubscriber()}); err == nil {
		t.Error("New() without topics should fail")
	}

	r, err := New(Options{Subscriber: newSubscriber(), Source: config.SourceConfig{Topics: []string{"a"}}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cap(r.queue) != defaultBuffer {
		t.Errorf("queue capacity = %d, want %d", cap(r.queue), defaultBuffer)
	}
}

func TestRun_SubscribesAndAcks(t *testing.T) {
	h := start(t, sink.Config{}, okWriter, Options{
		Source: config.SourceConfig{Topics: []string{"sensors/#", "hosts/+/cpu"}},
	})

	_, acks, err := h.sub.deliver(t, "sensors/cpu", cpuPayload)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	waitFor(t, "ack", func() bool { return acks.Load() == 1 })

	h.sub.mu.Lock()
	filters, qos := h.sub.filters, h.sub.qos
	h.sub.mu.Unlock()
	if len(filters) != 2 || qos != 1 {
		t.Errorf("subscribed filters = %v qos = %d", filters, qos)
	}

	stats := h.runner.Stats()
	if stats.Received != 1 || stats.Dropped != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	waitFor(t, "sink ack count", func() bool { return h.sink.Stats().Acked == 1 })
}

func TestRun_InvalidPayloadReturnsError(t *testing.T) {
	h := start(t, sink.Config{}, okWriter, Options{})

	if _, _, err := h.sub.deliver(t, "sensors/cpu", "not json"); !errors.Is(err, mapper.ErrInvalidPayload) {
		t.Fatalf("handler error = %v, want ErrInvalidPayload", err)
	}
	if got := h.runner.Stats().Invalid; got != 1 {
		t.Errorf("Invalid = %d, want 1", got)
	}
	if got := h.sink.Stats().Records; got != 0 {
		t.Errorf("sink records = %d, want 0", got)
	}
}

func TestRun_EmitPublishesResults(t *testing.T) {
	pub := &fakePublisher{ch: make(chan published, 4)}
	h := start(t, sink.Config{EmitResults: true}, okWriter, Options{
		Source:    config.SourceConfig{OutputTopic: "tsdbsink/out"},
		Publisher: pub,
	})

	_, acks, err := h.sub.deliver(t, "sensors/cpu", cpuPayload)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	select {
	case p := <-pub.ch:
		if p.topic != "tsdbsink/out" {
			t.Errorf("topic = %q", p.topic)
		}
		var out Emitted
		if err := json.Unmarshal(p.payload, &out); err != nil {
			t.Fatalf("decoding emitted payload: %v", err)
		}
		if out.Topic != "sensors/cpu" || len(out.Points) != 1 {
			t.Fatalf("emitted = %+v", out)
		}
		if pt := out.Points[0]; pt.Metric != "sys.cpu" || !pt.Value.IsInt() || pt.Value.Int() != 42 {
			t.Errorf("point = %+v", pt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing published")
	}

	waitFor(t, "ack", func() bool { return acks.Load() == 1 })
}

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	release chan struct{}
	topics  chan string
}

func (p *blockingPublisher) PublishDefault(topic string, _ []byte) error {
	p.topics <- topic
	<-p.release
	return nil
}

func TestEmit_SlowPublishDoesNotBlockCollector(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{}), topics: make(chan string, 4)}
	r, err := New(Options{
		Subscriber: newSubscriber(),
		Source:     config.SourceConfig{Topics: []string{"sensors/#"}, OutputTopic: "tsdbsink/out"},
		Publisher:  pub,
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	record := func(id string) (*Record, *atomic.Int32) {
		acks := &atomic.Int32{}
		decoded, err := mapper.DecodeJSON(id, "sensors/cpu", []byte(cpuPayload))
		if err != nil {
			t.Fatalf("DecodeJSON() error = %v", err)
		}
		msg := mqtt.NewMessage("sensors/cpu", []byte(cpuPayload), func() { acks.Add(1) })
		return &Record{MapRecord: decoded, msg: msg, attempts: 1}, acks
	}

	emitted, emittedAcks := record("a")
	acked, ackedAcks := record("b")

	returned := make(chan struct{})
	go func() {
		r.Emit(emitted, []backend.Point{{Metric: "sys.cpu"}})
		r.Ack(acked)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on the publisher")
	}
	if got := <-pub.topics; got != "tsdbsink/out" {
		t.Errorf("published to %q", got)
	}
	if ackedAcks.Load() != 1 {
		t.Error("record b not acked while a was publishing")
	}
	if emittedAcks.Load() != 0 {
		t.Error("record a acked before its results were published")
	}

	close(pub.release)
	r.Close()
	if emittedAcks.Load() != 1 {
		t.Errorf("record a acks = %d after Close, want 1", emittedAcks.Load())
	}

	// Emits after Close are settled without publishing.
	late, lateAcks := record("c")
	r.Emit(late, nil)
	if lateAcks.Load() != 1 {
		t.Errorf("late record acks = %d, want 1", lateAcks.Load())
	}
}

func TestRun_EmitDefaultsToResultsTopic(t *testing.T) {
	r, err := New(Options{Subscriber: newSubscriber(), Source: config.SourceConfig{Topics: []string{"a"}}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	want := mqtt.Topics{}.Results()
	if got := r.outputTopic(); got != want {
		t.Errorf("outputTopic() = %q, want %q", got, want)
	}
}

func TestRun_RetryRedeliversUntilSuccess(t *testing.T) {
	w, calls := failingWriter(2)
	h := start(t, sink.Config{FailStrategy: sink.FailRetry}, w, Options{MaxRedeliveries: 3})

	_, acks, err := h.sub.deliver(t, "sensors/cpu", cpuPayload)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	waitFor(t, "ack", func() bool { return acks.Load() == 1 })
	if got := calls.Load(); got != 3 {
		t.Errorf("writes = %d, want 3", got)
	}
	stats := h.runner.Stats()
	if stats.Redelivered != 2 || stats.Dropped != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestRun_RetryExhaustedDrops(t *testing.T) {
	w, calls := failingWriter(100)
	h := start(t, sink.Config{FailStrategy: sink.FailRetry}, w, Options{MaxRedeliveries: 1})

	_, acks, err := h.sub.deliver(t, "sensors/cpu", cpuPayload)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}

	waitFor(t, "drop", func() bool { return h.runner.Stats().Dropped == 1 })
	if got := acks.Load(); got != 1 {
		t.Errorf("acks = %d, want 1", got)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("writes = %d, want 2", got)
	}
}

func TestRun_NoopFailureAcks(t *testing.T) {
	w, _ := failingWriter(1)
	h := start(t, sink.Config{}, w, Options{MaxRedeliveries: 3})

	_, acks, err := h.sub.deliver(t, "sensors/cpu", cpuPayload)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	waitFor(t, "ack", func() bool { return acks.Load() == 1 })
	if got := h.runner.Stats().Redelivered; got != 0 {
		t.Errorf("Redelivered = %d, want 0", got)
	}
}

func TestRun_FailFastStops(t *testing.T) {
	w, _ := failingWriter(1)
	h := start(t, sink.Config{FailStrategy: sink.FailFast}, w, Options{})

	if _, _, err := h.sub.deliver(t, "sensors/cpu", cpuPayload); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	select {
	case err := <-h.errCh:
		if !sink.IsFatal(err) {
			t.Errorf("Run() error = %v, want fatal", err)
		}
		h.errCh <- err // for cleanup
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop")
	}

	if _, err := h.runner.Submit(context.Background(), "sensors/cpu", []byte(cpuPayload)); !errors.Is(err, ErrStopped) {
		t.Errorf("Submit() after stop error = %v, want ErrStopped", err)
	}
}

func TestRun_SubscribeFailure(t *testing.T) {
	sub := newSubscriber()
	sub.err = errors.New("not connected")
	r, err := New(Options{Subscriber: sub, Source: config.SourceConfig{Topics: []string{"a"}}, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s, err := sink.New(sink.Config{}, sink.Deps{Writer: okWriter, Collector: r, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("sink.New() error = %v", err)
	}
	if err := r.Run(context.Background(), s); err == nil {
		t.Error("Run() should fail when subscribing fails")
	}
}

func TestSubmit(t *testing.T) {
	h := start(t, sink.Config{}, okWriter, Options{})

	id, err := h.runner.Submit(context.Background(), "sensors/cpu", []byte(cpuPayload))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if id == "" {
		t.Error("Submit() returned empty id")
	}
	waitFor(t, "ack", func() bool { return h.sink.Stats().Acked == 1 })

	if _, err := h.runner.Submit(context.Background(), "sensors/cpu", []byte("[1,2]")); !errors.Is(err, mapper.ErrInvalidPayload) {
		t.Errorf("Submit(invalid) error = %v, want ErrInvalidPayload", err)
	}
}

func TestSubmit_ContextCancelledWhenFull(t *testing.T) {
	r, err := New(Options{
		Subscriber: newSubscriber(),
		Source:     config.SourceConfig{Topics: []string{"a"}, Buffer: 1},
		Logger:     logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := r.Submit(context.Background(), "a", []byte(cpuPayload)); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Submit(ctx, "a", []byte(cpuPayload)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() on full queue error = %v, want DeadlineExceeded", err)
	}
}

func TestFail_QueueFullDrops(t *testing.T) {
	r, err := New(Options{
		Subscriber:      newSubscriber(),
		Source:          config.SourceConfig{Topics: []string{"a"}, Buffer: 1},
		MaxRedeliveries: 5,
		Logger:          logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := r.Submit(context.Background(), "a", []byte(cpuPayload)); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	acks := &atomic.Int32{}
	decoded, err := mapper.DecodeJSON("r1", "a", []byte(cpuPayload))
	if err != nil {
		t.Fatalf("DecodeJSON() error = %v", err)
	}
	rec := &Record{MapRecord: decoded, msg: mqtt.NewMessage("a", nil, func() { acks.Add(1) }), attempts: 1}

	r.Fail(rec, sink.ErrRetry)
	if acks.Load() != 1 {
		t.Errorf("acks = %d, want 1", acks.Load())
	}
	if rec.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", rec.Attempts())
	}
	if r.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", r.Stats().Dropped)
	}
}
