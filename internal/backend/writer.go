package backend

import (
	"errors"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/future"
)

var (
	// ErrOverloaded indicates the backend is shedding load and the caller
	// should throttle before sending more.
	ErrOverloaded = errors.New("backend: overloaded, please throttle")

	// ErrInvalidPoint indicates a point was rejected before being sent.
	ErrInvalidPoint = errors.New("backend: invalid point")

	// ErrClosed indicates a write was attempted after the writer was closed.
	ErrClosed = errors.New("backend: writer closed")
)

// Writer sends data points to a time-series store.
//
// AddPoint must not block on the network. The returned future resolves once
// the point has been accepted or has definitively failed.
type Writer interface {
	AddPoint(p Point) *future.Future[Point]
}

// IsOverload reports whether err signals backend overload.
func IsOverload(err error) bool {
	return errors.Is(err, ErrOverloaded)
}
