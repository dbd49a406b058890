package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/future"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/mapper"
)

const (
	// DefaultCooldown is the minimum duration of a throttled record.
	DefaultCooldown = time.Second

	// journalTimeout bounds a single dead-letter write.
	journalTimeout = 5 * time.Second
)

// Config controls how the sink orchestrates writes.
type Config struct {
	// Async selects ModeAsync over ModeSync for unthrottled records.
	Async bool

	// Timeout bounds the synchronous wait. Zero waits indefinitely.
	Timeout time.Duration

	FailStrategy FailStrategy

	// PreserveOrder keeps results in mapper order.
	PreserveOrder bool

	// EmitResults replaces Ack with Emit. Implies PreserveOrder.
	EmitResults bool

	// Cooldown is the minimum duration of a throttled record. Zero
	// disables the floor; ConfigFrom defaults it to DefaultCooldown.
	Cooldown time.Duration

	// OverloadRetries is how many times an overloaded request is re-issued.
	OverloadRetries int

	// OverloadBackoff is the delay before an overloaded request is re-issued.
	OverloadBackoff time.Duration
}

// ConfigFrom converts the YAML sink section.
func ConfigFrom(c config.SinkConfig) (Config, error) {
	strategy, err := ParseFailStrategy(c.FailStrategy)
	if err != nil {
		return Config{}, err
	}
	cooldown := c.Cooldown()
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	return Config{
		Async:           c.Async,
		Timeout:         c.Timeout(),
		FailStrategy:    strategy,
		PreserveOrder:   c.PreserveOrder,
		EmitResults:     c.EmitResults,
		Cooldown:        cooldown,
		OverloadRetries: c.OverloadRetries,
		OverloadBackoff: c.OverloadBackoff(),
	}, nil
}

// Journal persists failed records. It is used by the log fail strategy.
type Journal interface {
	Record(ctx context.Context, rec mapper.Record, cause error) error
}

// Deps holds the sink's collaborators.
type Deps struct {
	Writer    backend.Writer
	Mapper    *mapper.Mapper
	Collector Collector

	// Logger defaults to logging.Default().
	Logger *logging.Logger

	// Journal is optional.
	Journal Journal
}

// SuccessCallback runs on the combined results of a successful record. It may
// replace the results or turn the outcome into a failure.
type SuccessCallback func(results []backend.Point) ([]backend.Point, error)

// ErrorCallback runs on the error of a failed record. A non-nil return value
// replaces the error.
type ErrorCallback func(err error) error

// Sink writes records to a time-series backend.
//
// Execute must be called from a single goroutine per Sink. Completions arrive
// on backend goroutines; the only state they share with the processing
// goroutine is the throttle flag, the counters and the collector (which is
// serialised internally).
type Sink struct {
	cfg        Config
	writer     backend.Writer
	mapper     *mapper.Mapper
	acks       *ackSink
	journal    Journal
	logger     *logging.Logger
	throttle   Throttle
	defaultTag mapper.Tag

	mu        sync.RWMutex
	prepared  bool
	fatal     error
	onSuccess SuccessCallback
	onError   ErrorCallback
	observer  Observer

	pending sync.WaitGroup

	records       atomic.Int64
	acked         atomic.Int64
	emitted       atomic.Int64
	failed        atomic.Int64
	requests      atomic.Int64
	requestErrors atomic.Int64
	inFlight      atomic.Int64
}

// New creates a Sink. Prepare must be called before Execute.
func New(cfg Config, deps Deps) (*Sink, error) {
	if deps.Writer == nil {
		return nil, errors.New("sink: writer is required")
	}
	if deps.Collector == nil {
		return nil, errors.New("sink: collector is required")
	}
	if deps.Mapper == nil {
		deps.Mapper = mapper.Default()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if cfg.EmitResults {
		cfg.PreserveOrder = true
	}

	return &Sink{
		cfg:     cfg,
		writer:  deps.Writer,
		mapper:  deps.Mapper,
		acks:    &ackSink{c: deps.Collector},
		journal: deps.Journal,
		logger:  deps.Logger.With("component", "sink"),
	}, nil
}

// SetOnSuccess sets the callback applied to successful combined outcomes.
func (s *Sink) SetOnSuccess(cb SuccessCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSuccess = cb
}

// SetOnError sets the callback applied to failed combined outcomes.
func (s *Sink) SetOnError(cb ErrorCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = cb
}

// SetObserver sets the function that receives sink events.
func (s *Sink) SetObserver(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = obs
}

// Prepare prepares the mappers with opts. It must be called once before the
// first Execute.
func (s *Sink) Prepare(opts mapper.Options) error {
	if err := s.mapper.Prepare(opts); err != nil {
		return fmt.Errorf("sink: preparing mappers: %w", err)
	}

	s.mu.Lock()
	s.defaultTag = opts.DefaultTag
	s.prepared = true
	s.mu.Unlock()

	s.logger.Info("sink prepared",
		"mode", s.baseMode().String(),
		"timeout", s.cfg.Timeout,
		"fail_strategy", s.cfg.FailStrategy.String(),
		"preserve_order", s.cfg.PreserveOrder,
		"emit_results", s.cfg.EmitResults,
		"mappers", s.mapper.Len(),
	)
	return nil
}

// Execute processes one record.
//
// In ModeAsync it returns once the writes are dispatched. In ModeSync and
// ModeThrottled it returns after the record's terminal collector call. The
// returned error is non-nil only when the fail strategy escalates (ErrRetry,
// ErrFatal), when the sink has stopped, or when it was never prepared.
func (s *Sink) Execute(ctx context.Context, rec mapper.Record) error {
	s.mu.RLock()
	prepared, fatal := s.prepared, s.fatal
	s.mu.RUnlock()
	if !prepared {
		return ErrNotPrepared
	}
	if fatal != nil {
		return fatal
	}

	s.records.Add(1)
	s.pending.Add(1)
	start := time.Now()
	mode := s.selectMode()

	requests := s.dispatch(rec)
	outcome := future.Then(s.aggregate(requests), s.applyCallbacks)

	switch mode {
	case ModeAsync:
		outcome.OnComplete(func(results []backend.Point, err error) {
			s.finish(rec, mode, len(requests), start, results, err)
		})
		return nil
	case ModeThrottled:
		return s.executeThrottled(ctx, rec, outcome, len(requests), start)
	default:
		return s.await(ctx, rec, mode, outcome, len(requests), start)
	}
}

func (s *Sink) baseMode() Mode {
	if s.cfg.Async {
		return ModeAsync
	}
	return ModeSync
}

func (s *Sink) selectMode() Mode {
	if s.throttle.Active() {
		return ModeThrottled
	}
	return s.baseMode()
}

// await waits for the combined outcome, bounded by the configured timeout,
// and makes the terminal call. The outcome keeps resolving after a timeout;
// its callbacks still run but no second terminal call is made.
func (s *Sink) await(ctx context.Context, rec mapper.Record, mode Mode, outcome *future.Future[[]backend.Point], n int, start time.Time) error {
	results, err := outcome.Wait(ctx, s.cfg.Timeout)
	switch {
	case errors.Is(err, future.ErrTimeout):
		err = fmt.Errorf("%w: %d requests pending after %v", ErrTimeout, n, s.cfg.Timeout)
	case errors.Is(err, context.Canceled):
		err = fmt.Errorf("sink: wait aborted: %w", err)
	}

	escalated := s.finish(rec, mode, n, start, results, err)
	if IsRetryable(escalated) || IsFatal(escalated) {
		return escalated
	}
	return nil
}

// executeThrottled runs one record synchronously after an overload signal,
// then sleeps out the rest of the cool-down floor. The flag is cleared
// whatever the outcome.
func (s *Sink) executeThrottled(ctx context.Context, rec mapper.Record, outcome *future.Future[[]backend.Point], n int, start time.Time) error {
	defer func() {
		s.throttle.Clear()
		throttleActive.Set(0)
		throttleCyclesTotal.Inc()
	}()

	s.logger.Warn("throttling", "record", rec.ID(), "requests", n)
	s.notify(Event{
		Type:     EventThrottled,
		RecordID: rec.ID(),
		Mode:     ModeThrottled.String(),
		Requests: n,
		Time:     time.Now(),
	})

	err := s.await(ctx, rec, ModeThrottled, outcome, n, start)

	if elapsed := time.Since(start); elapsed < s.cfg.Cooldown {
		rest := s.cfg.Cooldown - elapsed
		s.logger.Info("throttled wait was short, cooling down",
			"record", rec.ID(), "elapsed", elapsed, "sleep", rest)

		timer := time.NewTimer(rest)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	s.logger.Info("done throttling", "record", rec.ID())
	return err
}

// applyCallbacks runs the user callbacks on the combined outcome. It runs on
// the completion path, independent of acknowledgement.
func (s *Sink) applyCallbacks(results []backend.Point, err error) (out []backend.Point, outErr error) {
	s.mu.RLock()
	onSuccess, onError := s.onSuccess, s.onError
	s.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			out, outErr = nil, fmt.Errorf("sink: callback panic: %v", r)
		}
		if backend.IsOverload(outErr) {
			s.signalOverload()
		}
	}()

	if err == nil {
		if onSuccess != nil {
			return onSuccess(results)
		}
		return results, nil
	}

	if onError != nil {
		if replaced := onError(err); replaced != nil {
			err = replaced
		}
	}
	return nil, err
}

// finish makes the record's single terminal collector call and returns the
// error after the fail strategy has been applied.
func (s *Sink) finish(rec mapper.Record, mode Mode, n int, start time.Time, results []backend.Point, err error) error {
	defer s.pending.Done()

	elapsed := time.Since(start)
	recordDuration.WithLabelValues(mode.String()).Observe(elapsed.Seconds())

	ev := Event{
		Type:     EventRecordCompleted,
		RecordID: rec.ID(),
		Mode:     mode.String(),
		Requests: n,
		Duration: float64(elapsed.Microseconds()) / 1000,
		Time:     time.Now(),
	}

	if err == nil {
		if s.cfg.EmitResults {
			s.acks.emit(rec, results)
			s.emitted.Add(1)
			ev.Outcome = "emit"
		} else {
			s.acks.ack(rec)
			s.acked.Add(1)
			ev.Outcome = "ack"
		}
		recordsTotal.WithLabelValues(ev.Outcome).Inc()
		s.notify(ev)
		return nil
	}

	escalated := s.applyStrategy(rec, err)
	s.acks.fail(rec, escalated)
	s.failed.Add(1)
	recordsTotal.WithLabelValues("fail").Inc()

	ev.Outcome = "fail"
	ev.Kind = Classify(err).String()
	ev.Error = err.Error()
	s.notify(ev)

	return escalated
}

func (s *Sink) applyStrategy(rec mapper.Record, err error) error {
	kind := Classify(err).String()

	switch s.cfg.FailStrategy {
	case FailLog:
		s.logger.Error("record failed", "record", rec.ID(), "kind", kind, "error", err)
		if s.journal != nil {
			ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			defer cancel()
			if jerr := s.journal.Record(ctx, rec, err); jerr != nil {
				s.logger.Error("dead-letter write failed", "record", rec.ID(), "error", jerr)
			}
		}
		return err

	case FailRetry:
		s.logger.Error("record failed, requesting redelivery", "record", rec.ID(), "kind", kind, "error", err)
		return fmt.Errorf("%w: %w", ErrRetry, err)

	case FailFast:
		fatal := fmt.Errorf("%w: record %s: %w", ErrFatal, rec.ID(), err)
		s.logger.Error("record failed, stopping sink", "record", rec.ID(), "kind", kind, "error", err)
		s.mu.Lock()
		if s.fatal == nil {
			s.fatal = fatal
		}
		s.mu.Unlock()
		return fatal

	default:
		return err
	}
}

func (s *Sink) signalOverload() {
	s.throttle.Signal()
	throttleActive.Set(1)
}

func (s *Sink) notify(ev Event) {
	s.mu.RLock()
	obs := s.observer
	s.mu.RUnlock()
	if obs != nil {
		obs(ev)
	}
}

// Throttled reports whether the next record will run throttled.
func (s *Sink) Throttled() bool {
	return s.throttle.Active()
}

// Err returns the error that stopped the sink, or nil.
func (s *Sink) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatal
}

// Wait blocks until every executed record has had its terminal call, or ctx
// is done.
func (s *Sink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sink: waiting for pending records: %w", ctx.Err())
	}
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() Stats {
	mode := s.baseMode()
	if s.throttle.Active() {
		mode = ModeThrottled
	}
	return Stats{
		Mode:           mode.String(),
		FailStrategy:   s.cfg.FailStrategy.String(),
		Throttled:      s.throttle.Active(),
		Records:        s.records.Load(),
		Acked:          s.acked.Load(),
		Emitted:        s.emitted.Load(),
		Failed:         s.failed.Load(),
		Requests:       s.requests.Load(),
		RequestErrors:  s.requestErrors.Load(),
		InFlight:       s.inFlight.Load(),
		OverloadSignal: s.throttle.Signals(),
		ThrottleCycles: s.throttle.Cycles(),
		Stopped:        s.Err() != nil,
	}
}
