package influxdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/future"
)

// AddPoint writes p to the configured bucket and returns a future that
// resolves with the write result.
//
// The write runs on its own goroutine. AddPoint fails immediately with
// backend.ErrOverloaded when MaxPending writes are already in flight, and
// with backend.ErrClosed after Close.
func (c *Client) AddPoint(p backend.Point) *future.Future[backend.Point] {
	if err := p.Validate(); err != nil {
		return future.Failed[backend.Point](err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return future.Failed[backend.Point](backend.ErrClosed)
	}
	if !c.inflight.TryAcquire(1) {
		return future.Failed[backend.Point](fmt.Errorf("%w: %d writes in flight", backend.ErrOverloaded, c.maxPending))
	}

	f, resolve := future.New[backend.Point]()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.inflight.Release(1)

		err := c.write(p)
		if err != nil {
			c.reportError(err)
		}
		resolve(p, err)
	}()

	return f
}

func (c *Client) write(p backend.Point) error {
	status := new(atomic.Int32)
	ctx, cancel := context.WithTimeout(context.WithValue(context.Background(), statusKey{}, status), defaultWriteTimeout)
	defer cancel()

	point := influxdb2.NewPoint(
		p.Metric,
		p.Tags,
		map[string]interface{}{backend.FieldName: p.Value.Interface()},
		p.Time(),
	)

	err := c.writeAPI.WritePoint(ctx, point)
	if err == nil {
		return nil
	}
	if isOverloadStatus(int(status.Load())) || isOverloadError(err) {
		return fmt.Errorf("%w: %w: %w", ErrWriteFailed, backend.ErrOverloaded, err)
	}
	return fmt.Errorf("%w: %w", ErrWriteFailed, err)
}

func isOverloadStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

func isOverloadError(err error) bool {
	var herr *influxhttp.Error
	return errors.As(err, &herr) && isOverloadStatus(herr.StatusCode)
}

type statusKey struct{}

// statusTransport records the last response status of a write in the
// request context, so overload can be detected whatever error the client
// library builds from the response.
type statusTransport struct {
	next http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err == nil {
		if status, ok := req.Context().Value(statusKey{}).(*atomic.Int32); ok {
			status.Store(int32(resp.StatusCode))
		}
	}
	return resp, err
}
