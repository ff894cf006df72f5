// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnavailable is returned when the remote DAQ can not be reached
	// or is not allocated to this session.
	ErrUnavailable = errors.New("daq: DAQ is unavailable")

	// ErrCancelled is returned when a blocking wait is interrupted.
	// The session is brought to a stopped state before it is returned.
	ErrCancelled = errors.New("daq: wait cancelled")
)

// InvalidStateError is returned when an operation is not allowed in the
// current session state, e.g. a configure during an open run.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("daq: could not %s from state %v", e.Op, e.State)
}

// TimeoutError is returned when a wait exceeded its allotted time.
type TimeoutError struct {
	Elapsed  time.Duration
	Expected time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"daq: wait timed out after %v (expected %v)",
		e.Elapsed, e.Expected,
	)
}
