// SPDX-FileCopyrightText: © 2026 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package worker provides background worker tasks.
package worker

import (
	"context"
	"sync"
)

// Worker is a set of managed background go routines.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once

	haltCh chan interface{}
}

// Go excutes the function fn in a new Go routine.  Multiple Go routines may
// be started under the same Worker.  It is the function's responsiblity to
// monitor the channel returned by `Worker.HaltCh()` and to return.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals all Go routines started under a Worker to terminate, and waits
// till all go routines have returned.  Calling Halt more than once is safe.
func (w *Worker) Halt() {
	w.Signal()
	w.Wait()
}

// Signal closes the halt channel without waiting for the Go routines to
// return.  It is meant to be called from inside one of them.
func (w *Worker) Signal() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
}

// HaltCh returns the channel that will be closed on a call to Halt.
func (w *Worker) HaltCh() <-chan interface{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

// IsHalted returns true once Halt or Signal has been called.
func (w *Worker) IsHalted() bool {
	select {
	case <-w.HaltCh():
		return true
	default:
		return false
	}
}

// Context returns a context that is cancelled when the Worker halts.
// The returned cancel func must be called to release resources.
func (w *Worker) Context() (context.Context, context.CancelFunc) {
	ctx, cancelFn := context.WithCancel(context.Background())
	go func() {
		select {
		case <-w.HaltCh():
			cancelFn()
		case <-ctx.Done():
		}
	}()
	return ctx, cancelFn
}

func (w *Worker) init() {
	w.haltCh = make(chan interface{})
}
