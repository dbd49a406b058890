package future

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrTimeout is returned by Wait when the timeout elapses before the future resolves.
var ErrTimeout = errors.New("future: wait timed out")

// Future holds the eventual result of an asynchronous operation.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

// New returns an unresolved future and the function that resolves it.
// Only the first call to resolve has any effect; later calls are ignored.
func New[T any]() (*Future[T], func(T, error)) {
	f := &Future[T]{done: make(chan struct{})}
	return f, f.resolve
}

// Resolved returns a future that has already succeeded with v.
func Resolved[T any](v T) *Future[T] {
	f, resolve := New[T]()
	resolve(v, nil)
	return f
}

// Failed returns a future that has already failed with err.
func Failed[T any](err error) *Future[T] {
	f, resolve := New[T]()
	var zero T
	resolve(zero, err)
	return f
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed once the future resolves.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has resolved.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the future resolves and returns its value and error.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.val, f.err
}

// Wait blocks until the future resolves, the timeout elapses, or ctx is done.
//
// A timeout of zero or less waits indefinitely (ctx still applies). Giving up
// on the wait does not affect the future: it still resolves later and its
// continuations still run.
//
// Returns:
//   - T, error: The future's result once resolved
//   - ErrTimeout: If the timeout elapsed first
//   - ctx.Err(): If the context was cancelled first
func (f *Future[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	if timeout <= 0 {
		select {
		case <-f.done:
			return f.val, f.err
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.val, f.err
	case <-timer.C:
		return zero, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to be called with the result once the future
// resolves. fn runs on its own goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.val, f.err)
	}()
}

// Then returns a future resolved with the result of fn applied to f's result.
// fn runs as soon as f resolves, independently of whether the returned future
// is ever waited on.
func Then[T, U any](f *Future[T], fn func(T, error) (U, error)) *Future[U] {
	out, resolve := New[U]()
	f.OnComplete(func(v T, err error) {
		resolve(fn(v, err))
	})
	return out
}

// GroupError is the error of a group in which at least one member failed.
// It unwraps to the first failure.
type GroupError struct {
	Err    error
	Failed int
	Total  int
}

// Error implements the error interface.
func (e *GroupError) Error() string {
	if e.Total <= 1 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%d of %d requests failed, first: %v", e.Failed, e.Total, e.Err)
}

// Unwrap returns the first failure for errors.Is/As support.
func (e *GroupError) Unwrap() error {
	return e.Err
}

// Group combines fs into one future that resolves once every member has
// resolved. Values are collected in completion order.
func Group[T any](fs []*Future[T]) *Future[[]T] {
	return join(fs, false)
}

// GroupInOrder is like Group but the values keep the order of fs.
func GroupInOrder[T any](fs []*Future[T]) *Future[[]T] {
	return join(fs, true)
}

func join[T any](fs []*Future[T], ordered bool) *Future[[]T] {
	if len(fs) == 0 {
		return Resolved([]T{})
	}

	out, resolve := New[[]T]()

	go func() {
		var (
			g       errgroup.Group
			mu      sync.Mutex
			failed  atomic.Int32
			arrived = make([]T, 0, len(fs))
			indexed = make([]T, len(fs))
		)

		for i, f := range fs {
			g.Go(func() error {
				v, err := f.Result()
				if err != nil {
					failed.Add(1)
					return err
				}
				if ordered {
					indexed[i] = v
					return nil
				}
				mu.Lock()
				arrived = append(arrived, v)
				mu.Unlock()
				return nil
			})
		}

		// errgroup.Group without a context never cancels siblings; Wait
		// returns the first error once every member has returned.
		if err := g.Wait(); err != nil {
			resolve(nil, &GroupError{Err: err, Failed: int(failed.Load()), Total: len(fs)})
			return
		}
		if ordered {
			resolve(indexed, nil)
			return
		}
		resolve(arrived, nil)
	}()

	return out
}
