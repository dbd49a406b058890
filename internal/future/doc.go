// Package future provides a small generic future type used to compose
// asynchronous storage writes.
//
// A Future is resolved exactly once, either with a value or with an error.
// Waiters block on Wait; continuations registered with OnComplete or Then run
// on their own goroutine once the future resolves, whether or not anybody is
// waiting on it.
//
// # Combinators
//
//   - Group resolves when every member has resolved; values are collected in
//     completion order.
//   - GroupInOrder is the same, but values keep the order of the input slice.
//
// Both combinators wait for every member even after one has failed. The first
// failure becomes the group's error; no member is ever cancelled.
//
// # Usage
//
//	f, resolve := future.New[int]()
//	go func() { resolve(42, nil) }()
//
//	v, err := f.Wait(ctx, time.Second)
package future
