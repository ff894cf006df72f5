// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides simulated backends for offline use and tests: a
// DAQ control service, an event sequencer and a statistics service.
//
// A process selects its backend once, at construction time, by handing
// the chosen implementation to the consuming package (e.g. sim.NewControl
// to daq.New). There is no process-wide mode flag.
package sim // import "github.com/go-pcds/daqctl/sim"

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-pcds/daqctl/daq"
)

// eventRate is the simulated beam rate used to convert event counts into
// wall-clock time.
const eventRate = 120 // Hz

type transition struct {
	ignore []daq.State // states in which the transition is a no-op
	from   []daq.State // states the transition is legal from
	to     daq.State
}

var transitions = map[string]transition{
	"connect": {
		ignore: []daq.State{daq.Connected, daq.Configured, daq.Open, daq.Running},
		from:   []daq.State{daq.Disconnected},
		to:     daq.Connected,
	},
	"disconnect": {
		from: []daq.State{daq.Disconnected, daq.Connected, daq.Configured},
		to:   daq.Disconnected,
	},
	"configure": {
		from: []daq.State{daq.Connected, daq.Configured},
		to:   daq.Configured,
	},
	"begin": {
		from: []daq.State{daq.Configured, daq.Open},
		to:   daq.Running,
	},
	"stop": {
		ignore: []daq.State{daq.Disconnected, daq.Connected, daq.Configured, daq.Open},
		from:   []daq.State{daq.Running},
		to:     daq.Open,
	},
	"endrun": {
		ignore: []daq.State{daq.Disconnected, daq.Connected, daq.Configured},
		from:   []daq.State{daq.Open, daq.Running},
		to:     daq.Configured,
	},
}

// Control is a simulated DAQ control service implementing daq.Control.
// It honors the same session state machine as the live service, sizes
// acquisitions from the begin arguments and counts recorded runs.
type Control struct {
	mu     sync.Mutex
	state  daq.State
	record bool
	runs   int

	acq chan struct{} // closed when the current acquisition finishes

	connErr    error
	beginDelay time.Duration
}

var _ daq.Control = (*Control)(nil)

// NewControl returns a disconnected simulated control service.
func NewControl() *Control {
	return &Control{state: daq.Disconnected}
}

// SetConnectError injects a connect failure, simulating a DAQ that is not
// allocated to this session.
func (ctl *Control) SetConnectError(err error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.connErr = err
}

// SetBeginDelay delays the next begin transition, simulating a slow DAQ.
func (ctl *Control) SetBeginDelay(d time.Duration) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.beginDelay = d
}

// RunNumber returns the number of recorded runs begun so far.
func (ctl *Control) RunNumber() int {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.runs
}

// State implements daq.Control.
func (ctl *Control) State() daq.State {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.state
}

// do applies the named transition. It reports whether the transition took
// place; a transition from a state that is neither ignored nor legal is
// an error.
func (ctl *Control) do(name string) (bool, error) {
	tr, ok := transitions[name]
	if !ok {
		return false, fmt.Errorf("sim: unknown transition %q", name)
	}
	for _, st := range tr.ignore {
		if ctl.state == st {
			return false, nil
		}
	}
	for _, st := range tr.from {
		if ctl.state == st {
			ctl.state = tr.to
			return true, nil
		}
	}
	return false, fmt.Errorf(
		"sim: invalid transition %q from state %v", name, ctl.state,
	)
}

// Connect implements daq.Control.
func (ctl *Control) Connect() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.connErr != nil {
		return ctl.connErr
	}
	_, err := ctl.do("connect")
	return err
}

// Disconnect implements daq.Control.
func (ctl *Control) Disconnect() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	_, err := ctl.do("disconnect")
	return err
}

// Configure implements daq.Control.
func (ctl *Control) Configure(args daq.Args) error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ok, err := ctl.do("configure")
	if err != nil || !ok {
		return err
	}
	if _, err := pickDuration(args); err != nil {
		return err
	}
	if args.Record != nil {
		ctl.record = *args.Record
	}
	return nil
}

// Begin implements daq.Control. A bounded acquisition stops itself once
// its time is up; an infinite one runs until Stop or EndRun.
func (ctl *Control) Begin(args daq.Args) error {
	ctl.mu.Lock()
	dur, err := pickDuration(args)
	if err != nil {
		ctl.mu.Unlock()
		return err
	}
	ok, err := ctl.do("begin")
	if err != nil || !ok {
		ctl.mu.Unlock()
		return err
	}
	if ctl.record {
		ctl.runs++
	}
	delay := ctl.beginDelay
	ctl.beginDelay = 0
	acq := make(chan struct{})
	ctl.acq = acq
	ctl.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if dur > 0 {
		go func() {
			timer := time.NewTimer(dur)
			defer timer.Stop()
			select {
			case <-acq:
			case <-timer.C:
				_ = ctl.Stop()
			}
		}()
	}
	return nil
}

// pickDuration converts begin/configure arguments into an acquisition
// length. Zero means run until stopped.
func pickDuration(args daq.Args) (time.Duration, error) {
	for _, ev := range []*int{args.Events, args.L3TEvents} {
		if ev == nil {
			continue
		}
		if *ev < 0 {
			return 0, fmt.Errorf("sim: invalid event count %d", *ev)
		}
		if *ev == 0 {
			return 0, nil
		}
		return time.Duration(float64(*ev) / eventRate * float64(time.Second)), nil
	}
	if args.Duration != 0 {
		if args.Duration < 0 {
			return 0, fmt.Errorf("sim: invalid duration %v", args.Duration)
		}
		return args.Duration, nil
	}
	return 0, fmt.Errorf("sim: begin requires events or duration")
}

// Stop implements daq.Control.
func (ctl *Control) Stop() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ok, err := ctl.do("stop")
	if err != nil {
		return err
	}
	if ok {
		ctl.finishAcq()
	}
	return nil
}

// EndRun implements daq.Control.
func (ctl *Control) EndRun() error {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ok, err := ctl.do("endrun")
	if err != nil {
		return err
	}
	if ok {
		ctl.finishAcq()
	}
	return nil
}

func (ctl *Control) finishAcq() {
	if ctl.acq != nil {
		select {
		case <-ctl.acq:
		default:
			close(ctl.acq)
		}
	}
}

// End implements daq.Control: it blocks until the current acquisition has
// finished.
func (ctl *Control) End(ctx context.Context) error {
	ctl.mu.Lock()
	if ctl.state != daq.Running {
		ctl.mu.Unlock()
		return fmt.Errorf("sim: not running")
	}
	acq := ctl.acq
	ctl.mu.Unlock()

	select {
	case <-acq:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
