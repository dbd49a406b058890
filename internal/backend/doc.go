// Package backend defines the contract between the sink and a time-series
// storage client.
//
// A Writer accepts one data point at a time and returns a future that
// resolves with the stored point once the backend has durably accepted it,
// or with an error. A backend that cannot keep up fails the future with
// ErrOverloaded; the sink treats that as a request to slow down rather than
// as a hard failure.
//
// The package also owns the shared wire representation: Point, the
// integer-or-float Value, and the line protocol encoder used by the HTTP
// backends.
package backend
