// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"sync"
	"time"
)

// Status is a completion handle for an in-flight DAQ transition or
// acquisition unit. It is marked done exactly once, possibly with an error.
type Status struct {
	mu   sync.Mutex
	done chan struct{}
	err  error
}

// NewStatus returns a Status that is not yet done.
func NewStatus() *Status {
	return &Status{done: make(chan struct{})}
}

// Done returns a channel that is closed when the status completes.
func (st *Status) Done() <-chan struct{} { return st.done }

// Err returns the completion error, if any. It is only meaningful after
// the Done channel has been closed.
func (st *Status) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Finish marks the status as done. Extra calls are no-ops.
func (st *Status) Finish(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	select {
	case <-st.done:
	default:
		st.err = err
		close(st.done)
	}
}

func (st *Status) isDone() bool {
	select {
	case <-st.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the status completes, the timeout expires or the
// context is canceled. A timeout yields a TimeoutError carrying the
// elapsed and expected durations; a canceled context yields ErrCancelled.
// A timeout <= 0 means no timeout.
func (st *Status) Wait(ctx context.Context, timeout time.Duration) error {
	start := time.Now()

	var tmo <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		tmo = timer.C
	}

	select {
	case <-st.done:
		return st.Err()
	case <-tmo:
		return &TimeoutError{
			Elapsed:  time.Since(start),
			Expected: timeout,
		}
	case <-ctx.Done():
		return ErrCancelled
	}
}
