package tsdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/backend"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/future"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// pendingPoint is a point waiting for its batch to be flushed.
type pendingPoint struct {
	point   backend.Point
	line    string
	resolve func(backend.Point, error)
}

// AddPoint queues p for the next flush and returns a future that resolves
// with the flush result.
//
// AddPoint never blocks on the network. It fails immediately with
// backend.ErrOverloaded when more than max_pending points are outstanding,
// with backend.ErrClosed after Close, and with backend.ErrInvalidPoint for
// points that cannot be encoded.
func (c *Client) AddPoint(p backend.Point) *future.Future[backend.Point] {
	if err := p.Validate(); err != nil {
		return future.Failed[backend.Point](err)
	}

	// Close waits for the read lock, so every appended point is seen by
	// its final Flush.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return future.Failed[backend.Point](backend.ErrClosed)
	}
	if c.pending.Add(1) > c.maxPending {
		c.pending.Add(-1)
		return future.Failed[backend.Point](fmt.Errorf("%w: %d points pending", backend.ErrOverloaded, c.maxPending))
	}

	f, resolve := future.New[backend.Point]()

	c.batchMu.Lock()
	c.batch = append(c.batch, pendingPoint{
		point:   p,
		line:    backend.FormatLine(p),
		resolve: resolve,
	})
	full := len(c.batch) >= c.batchSize
	c.batchMu.Unlock()

	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}

	return f
}

// Flush sends all pending points to VictoriaMetrics and resolves their
// futures with the result.
//
// This is called automatically by the flush timer and when the batch
// is full. It can also be called manually for testing or shutdown.
// Concurrent calls are serialised.
func (c *Client) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.batchMu.Lock()
	if len(c.batch) == 0 {
		c.batchMu.Unlock()
		return
	}
	entries := c.batch
	c.batch = make([]pendingPoint, 0, c.batchSize)
	c.batchMu.Unlock()

	err := c.send(entries)

	for _, e := range entries {
		e.resolve(e.point, err)
	}
	c.pending.Add(-int64(len(entries)))

	if err != nil {
		c.reportError(err)
	}
}

// send POSTs one batch to /write.
func (c *Client) send(entries []pendingPoint) error {
	body, err := c.encode(entries)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/write", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	req.Header.Set("Content-Type", "text/plain")
	if c.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %w: HTTP %d", ErrWriteFailed, backend.ErrOverloaded, resp.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", ErrWriteFailed, resp.StatusCode, bytes.TrimSpace(msg))
	}
}

// encode joins the batch into newline-delimited line protocol, gzipped when
// enabled.
func (c *Client) encode(entries []pendingPoint) ([]byte, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf

	var zw *gzip.Writer
	if c.gzip {
		zw = gzip.NewWriter(&buf)
		w = zw
	}

	for i, e := range entries {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return nil, err
			}
		}
		if _, err := io.WriteString(w, e.line); err != nil {
			return nil, err
		}
	}

	if zw != nil {
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("closing gzip stream: %w", err)
		}
	}
	return buf.Bytes(), nil
}
