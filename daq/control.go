// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"time"
)

// State is the session state as reported by the DAQ.
type State int

const (
	// Disconnected means there is no active session.
	Disconnected State = iota
	// Connected means there is an active session.
	Connected
	// Configured means the session holds a valid configuration.
	Configured
	// Open means we are in the middle of a run.
	Open
	// Running means we are collecting data in a run.
	Running
)

func (st State) String() string {
	switch st {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Configured:
		return "Configured"
	case Open:
		return "Open"
	case Running:
		return "Running"
	}
	return "Unknown"
}

// ControlVar is a named position readout attached to the data stream.
type ControlVar struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Args holds the arguments sent to the DAQ control service on a
// configure or begin transition.
//
// Events and L3TEvents are mutually exclusive; when L3TEvents is set,
// the requested count only tallies events that pass the level-3 trigger.
// A zero event count means "run until stopped". Duration, when non-zero,
// sizes the acquisition by wall-clock time instead.
type Args struct {
	Record    *bool         `json:"record,omitempty"`
	Events    *int          `json:"events,omitempty"`
	L3TEvents *int          `json:"l3t_events,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Controls  []ControlVar  `json:"controls,omitempty"`
}

// Control is the opaque remote DAQ control service. The wire protocol and
// the distributed run-control behind it are not this package's concern:
// implementations only need to honor the session state machine
// (Disconnected, Connected, Configured, Open, Running).
type Control interface {
	// State reports the current session state.
	State() State

	// Connect acquires the session, giving control to this process.
	Connect() error
	// Disconnect releases the session.
	Disconnect() error

	// Configure applies a run configuration. Valid from Connected or
	// Configured only.
	Configure(args Args) error
	// Begin starts one acquisition unit sized per args.
	Begin(args Args) error
	// Stop pauses acquisition without closing the run.
	Stop() error
	// EndRun stops acquisition and closes the run.
	EndRun() error

	// End blocks until the current acquisition unit has finished or the
	// context is canceled.
	End(ctx context.Context) error
}

// Positioner provides the current position of a named device. Devices
// handed to the configuration as controls are read out at each begin and
// their values placed into the DAQ data stream.
type Positioner interface {
	Name() string
	Position() float64
}
