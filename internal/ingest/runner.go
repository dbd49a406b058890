package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/sink"
)

const defaultBuffer = 256

// ErrStopped is returned by Submit once the runner has stopped.
var ErrStopped = errors.New("ingest: runner stopped")

// Subscriber delivers source messages. Satisfied by *mqtt.Client.
type Subscriber interface {
	SubscribeAll(filters []string, qos byte, handler mqtt.MessageHandler) error
}

// Publisher sends emitted results downstream. Satisfied by *mqtt.Client.
type Publisher interface {
	PublishDefault(topic string, payload []byte) error
}

// Executor processes one record. Satisfied by *sink.Sink.
type Executor interface {
	Execute(ctx context.Context, rec mapper.Record) error
}

// Options configures a Runner.
type Options struct {
	Source config.SourceConfig

	// MaxRedeliveries bounds how often a record failed with a redelivery
	// request is executed again.
	MaxRedeliveries int

	Subscriber Subscriber

	// Publisher is required when the sink emits results.
	Publisher Publisher

	// Logger defaults to logging.Default().
	Logger *logging.Logger
}

// Stats is a snapshot of the runner counters.
type Stats struct {
	Received    int64 `json:"received"`
	Invalid     int64 `json:"invalid"`
	Redelivered int64 `json:"redelivered"`
	Dropped     int64 `json:"dropped"`
	Queued      int   `json:"queued"`
}

// Runner moves records from the source into the sink and settles their
// broker messages.
type Runner struct {
	cfg             config.SourceConfig
	maxRedeliveries int
	sub             Subscriber
	pub             Publisher
	logger          *logging.Logger

	queue    chan *Record
	done     chan struct{}
	stopOnce sync.Once
	seq      atomic.Uint64

	// Emitted results are published off the sink's serialised collector path.
	outbox       chan emission
	outboxMu     sync.RWMutex
	outboxClosed bool
	publishing   sync.WaitGroup

	received    atomic.Int64
	invalid     atomic.Int64
	redelivered atomic.Int64
	dropped     atomic.Int64
}

// New creates a Runner. Pass it to sink.New as the Collector, then call Run
// with the sink.
func New(opts Options) (*Runner, error) {
	if opts.Subscriber == nil {
		return nil, errors.New("ingest: subscriber is required")
	}
	if len(opts.Source.Topics) == 0 {
		return nil, errors.New("ingest: at least one source topic is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	buffer := opts.Source.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if opts.MaxRedeliveries < 0 {
		opts.MaxRedeliveries = 0
	}

	r := &Runner{
		cfg:             opts.Source,
		maxRedeliveries: opts.MaxRedeliveries,
		sub:             opts.Subscriber,
		pub:             opts.Publisher,
		logger:          opts.Logger.With("component", "ingest"),
		queue:           make(chan *Record, buffer),
		done:            make(chan struct{}),
	}
	if r.pub != nil {
		r.outbox = make(chan emission, buffer)
		r.publishing.Add(1)
		go r.publishLoop()
	}
	return r, nil
}

// Close publishes the emissions still in the outbox and stops the publish
// loop. Call it after the sink has drained and before the MQTT client is
// closed. Results emitted after Close are not published.
func (r *Runner) Close() {
	r.outboxMu.Lock()
	if r.outbox == nil || r.outboxClosed {
		r.outboxMu.Unlock()
		return
	}
	r.outboxClosed = true
	close(r.outbox)
	r.outboxMu.Unlock()

	r.publishing.Wait()
}

// Run subscribes to the source topics and executes records until ctx is
// cancelled or the sink escalates a fatal failure, which is returned.
//
// Records still queued when Run returns are left unacknowledged so the
// broker redelivers them.
func (r *Runner) Run(ctx context.Context, exec Executor) error {
	if err := r.sub.SubscribeAll(r.cfg.Topics, byte(r.cfg.QoS), r.handle); err != nil { //nolint:gosec // QoS validated by config
		r.stop()
		return fmt.Errorf("ingest: %w", err)
	}
	defer r.stop()

	r.logger.Info("ingest started", "topics", r.cfg.Topics, "buffer", cap(r.queue))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("ingest stopped", "queued", len(r.queue))
			return nil
		case rec := <-r.queue:
			queueDepth.Set(float64(len(r.queue)))
			err := exec.Execute(ctx, rec)
			switch {
			case err == nil:
			case sink.IsFatal(err):
				r.logger.Error("sink stopped, ingest halting", "record", rec.ID(), "error", err)
				return err
			case sink.IsRetryable(err):
				r.logger.Debug("record failed with redelivery request", "record", rec.ID(), "attempts", rec.attempts)
			default:
				return fmt.Errorf("ingest: executing %s: %w", rec.ID(), err)
			}
		}
	}
}

// Submit queues a payload as if it had arrived on topic. It is used to
// replay dead letters; the record has no broker message to acknowledge.
func (r *Runner) Submit(ctx context.Context, topic string, payload []byte) (string, error) {
	id := r.nextID(topic)
	decoded, err := mapper.DecodeJSON(id, topic, payload)
	if err != nil {
		return "", err
	}

	rec := &Record{MapRecord: decoded, msg: mqtt.NewMessage(topic, payload, nil), attempts: 1}
	if err := r.enqueue(ctx, rec); err != nil {
		return "", err
	}
	return id, nil
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Received:    r.received.Load(),
		Invalid:     r.invalid.Load(),
		Redelivered: r.redelivered.Load(),
		Dropped:     r.dropped.Load(),
		Queued:      len(r.queue),
	}
}

// handle runs on paho's delivery goroutine. A returned error makes the
// MQTT client log and acknowledge the message.
func (r *Runner) handle(msg *mqtt.Message) error {
	r.received.Add(1)

	id := r.nextID(msg.Topic)
	decoded, err := mapper.DecodeJSON(id, msg.Topic, msg.Payload)
	if err != nil {
		r.invalid.Add(1)
		messagesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("ingest: dropping %s: %w", id, err)
	}

	rec := &Record{MapRecord: decoded, msg: msg, attempts: 1}
	if err := r.enqueue(context.Background(), rec); err != nil {
		// Left unacknowledged for redelivery.
		r.logger.Debug("not queued", "record", id, "error", err)
	}
	return nil
}

func (r *Runner) enqueue(ctx context.Context, rec *Record) error {
	select {
	case <-r.done:
		return ErrStopped
	default:
	}

	select {
	case r.queue <- rec:
		messagesTotal.WithLabelValues("queued").Inc()
		queueDepth.Set(float64(len(r.queue)))
		return nil
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Runner) nextID(topic string) string {
	return fmt.Sprintf("%s#%d", topic, r.seq.Add(1))
}
