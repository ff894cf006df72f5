// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq provides a session controller for the hutch DAQ.
//
// The remote DAQ is an opaque control service reached through the Control
// interface. A Daq tracks the session state machine (Disconnected,
// Connected, Configured, Open, Running), caches run configuration with
// partial-override semantics, and exposes the stage/trigger/read/unstage
// lifecycle consumed by a stepped-scan loop.
//
// A single logical session owns the remote resource; Daq performs no
// internal parallelism beyond completion tracking and is not meant to be
// driven from several goroutines at once.
package daq // import "github.com/go-pcds/daqctl/daq"

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

const (
	// beginTimeout bounds how long we wait for the DAQ to be ready for a
	// begin transition.
	beginTimeout = 15 * time.Second
	// beginThrottle keeps begins at least this far from the last stop.
	beginThrottle = 1 * time.Second
)

// StopNotifier delivers end-of-run notifications from the scan
// orchestration loop. The returned cancel function removes the
// subscription.
type StopNotifier interface {
	NotifyStop(fn func()) (cancel func())
}

// Daq drives one session of the hutch DAQ.
type Daq struct {
	msg *log.Logger
	ctl Control

	connected bool
	cfg       *Config  // last applied configuration, nil when unconfigured
	queued    []Option // staged for the next configure

	mu       sync.Mutex // guards begun and lastStop
	begun    *Config    // sizing of the current begin cycle, nil when idle
	lastStop time.Time

	preRun       State
	notify       StopNotifier
	cancelNotify func()

	runNum       func(ctx context.Context) (int, error)
	runNumFailed bool
}

// New returns a Daq session controller driving the given control service.
// The control backend (live or simulated) is selected here, once, for the
// lifetime of the process.
func New(ctl Control) *Daq {
	d := &Daq{
		msg: log.New(os.Stdout, "daq: ", 0),
		ctl: ctl,
	}
	Register(d)
	return d
}

// SetNotifier attaches the scan-loop notifier used by Stage to end runs
// when the surrounding scan stops.
func (d *Daq) SetNotifier(n StopNotifier) { d.notify = n }

// SetRunNumberFunc installs the run-number lookup used to announce
// recorded runs. The lookup is cosmetic: after one failure it is disabled
// for the rest of the session.
func (d *Daq) SetRunNumberFunc(fn func(ctx context.Context) (int, error)) {
	d.runNum = fn
}

// Connected reports whether we hold an active session.
func (d *Daq) Connected() bool { return d.connected }

// Configured reports whether the session holds an applied configuration.
func (d *Daq) Configured() bool { return d.cfg != nil }

// State reports the session state from the DAQ.
func (d *Daq) State() State {
	if !d.connected {
		return Disconnected
	}
	return d.ctl.State()
}

// Config returns the applied configuration, or the defaults when the
// session has not been configured yet.
func (d *Daq) Config() Config {
	if d.cfg != nil {
		return d.cfg.clone()
	}
	return Config{}
}

// NextConfig returns the configuration that would result from the next
// configure, i.e. the applied configuration overlaid with staged options.
func (d *Daq) NextConfig() Config {
	cfg := d.Config()
	for _, opt := range d.queued {
		opt(&cfg)
	}
	return cfg
}

// Record reports the record flag of the next configuration. Nil means the
// choice is inherited from the operator GUI.
func (d *Daq) Record() *bool { return d.NextConfig().Record }

// SetRecord stages the record flag for the next configure.
func (d *Daq) SetRecord(rec bool) { d.Preconfig(WithRecord(rec)) }

// Connect acquires the live DAQ session, giving control to this process.
// Connecting an already-connected session is a no-op.
func (d *Daq) Connect() error {
	if d.connected {
		d.msg.Printf("connect requested, but already connected to DAQ")
		return nil
	}
	err := d.ctl.Connect()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	d.connected = true
	d.msg.Printf("connected to DAQ")
	return nil
}

// Disconnect releases the session, giving control back to the operator
// GUI. The applied configuration is kept staged so a later connect can
// re-apply it.
func (d *Daq) Disconnect() {
	if d.connected {
		if err := d.EndRun(); err != nil {
			d.msg.Printf("could not end run on disconnect: %+v", err)
		}
		if err := d.ctl.Disconnect(); err != nil {
			d.msg.Printf("could not disconnect: %+v", err)
		}
	}
	if d.cfg != nil {
		cfg := d.cfg.clone()
		d.queued = []Option{func(o *Config) { *o = cfg.clone() }}
		d.cfg = nil
	}
	d.connected = false
	d.msg.Printf("DAQ is disconnected")
}

func (d *Daq) checkConnect(op string) error {
	if d.connected {
		return nil
	}
	d.msg.Printf("DAQ is not connected. attempting to connect...")
	if err := d.Connect(); err != nil {
		return fmt.Errorf("daq: could not %s: %w", op, err)
	}
	return nil
}

// Preconfig stages configuration options to be applied at the next
// configure. Unlike Configure, this never talks to the DAQ and is legal
// in any session state.
func (d *Daq) Preconfig(opts ...Option) {
	d.queued = append(d.queued, opts...)
	d.msg.Printf("queued config: %v", d.NextConfig())
}

// Configure applies the staged configuration overlaid with opts to the
// DAQ. It is rejected with an InvalidStateError while a run is open, as
// some parameters can not change mid-run.
func (d *Daq) Configure(opts ...Option) error {
	if err := d.checkConnect("configure"); err != nil {
		return err
	}
	if state := d.State(); state != Connected && state != Configured {
		return &InvalidStateError{Op: "configure", State: state}
	}

	cfg := d.NextConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := checkDuration(cfg); err != nil {
		return err
	}

	err := d.ctl.Configure(configArgs(cfg))
	if err != nil {
		d.cfg = nil
		return fmt.Errorf("daq: could not configure: %w", err)
	}
	d.cfg = &cfg
	d.queued = nil
	d.msg.Printf("daq configured: %v", cfg)
	return nil
}

// Kickoff starts one acquisition unit without blocking. Options are
// per-call overrides and do not mutate the applied configuration. The
// returned Status completes when the DAQ has begun acquiring.
//
// Staged configuration changes are applied first; an open run makes that
// reconfiguration fail with an InvalidStateError.
func (d *Daq) Kickoff(opts ...Option) (*Status, error) {
	if err := d.checkConnect("kickoff"); err != nil {
		return nil, err
	}

	eff := d.NextConfig()
	for _, opt := range opts {
		opt(&eff)
	}
	if err := checkDuration(eff); err != nil {
		return nil, err
	}

	if len(d.queued) > 0 || d.cfg == nil {
		err := d.Configure()
		var ise *InvalidStateError
		if errors.As(err, &ise) {
			return nil, fmt.Errorf(
				"daq: illegal reconfigure during an open run, end it with EndRun before using a new configuration: %w",
				err,
			)
		}
		if err != nil {
			return nil, err
		}
	}

	var nextRun int
	if d.State() == Configured && d.cfg != nil &&
		d.cfg.Record != nil && *d.cfg.Record &&
		d.runNum != nil && !d.runNumFailed {
		prev, err := d.runNum(context.Background())
		switch {
		case err != nil:
			d.msg.Printf("could not get run number in kickoff: %+v", err)
			// only try once, to avoid repeated lookup timeouts.
			d.runNumFailed = true
		default:
			nextRun = prev + 1
		}
	}

	st := NewStatus()
	go d.kickoff(st, eff, nextRun)
	return st, nil
}

func (d *Daq) kickoff(st *Status, eff Config, nextRun int) {
	// stop and start over if a begin is already in flight.
	if state := d.State(); state == Open || state == Running {
		if err := d.Stop(); err != nil {
			st.Finish(fmt.Errorf("daq: begin failed: %w", err))
			return
		}
	}

	// the DAQ can take a few hundred ms after a previous begin to be
	// ready again.
	ready := false
	for tmo := beginTimeout + beginThrottle; tmo > 0; tmo -= 100 * time.Millisecond {
		if state := d.State(); state == Configured || state == Open {
			ready = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !ready {
		st.Finish(fmt.Errorf("daq: begin failed: DAQ not ready in state %v", d.State()))
		return
	}

	if nextRun > 0 {
		d.msg.Printf("beginning daq run %d", nextRun)
	}

	d.mu.Lock()
	throttle := beginThrottle - time.Since(d.lastStop)
	d.mu.Unlock()
	if throttle > 0 {
		time.Sleep(throttle)
	}

	err := d.ctl.Begin(beginArgs(eff))
	if err != nil {
		st.Finish(fmt.Errorf("daq: begin failed: %w", err))
		return
	}

	d.mu.Lock()
	d.begun = &eff
	d.mu.Unlock()
	st.Finish(nil)
}

// Begin starts the DAQ and blocks until acquisition has begun, honoring
// the configured settle delay. The returned Status completes when the
// acquisition unit finishes; for an infinite run it completes right away.
func (d *Daq) Begin(ctx context.Context, opts ...Option) (*Status, error) {
	// an explicit record override is staged around the begin so the
	// applied configuration is left untouched.
	var probe Config
	for _, opt := range opts {
		opt(&probe)
	}
	if probe.Record != nil {
		old := d.Record()
		if old == nil || *old != *probe.Record {
			d.queued = append(d.queued, WithRecord(*probe.Record))
			defer func() {
				if old == nil {
					d.queued = append(d.queued, WithGUIRecord())
				} else {
					d.queued = append(d.queued, WithRecord(*old))
				}
			}()
		}
	}

	st, err := d.Kickoff(opts...)
	if err != nil {
		return nil, err
	}
	err = st.Wait(ctx, beginTimeout+beginThrottle)
	if err != nil {
		return nil, fmt.Errorf("daq: could not begin: %w", err)
	}
	// some DAQ configurations report begin done too early; the
	// configured sleep absorbs that.
	if sleep := d.Config().BeginSleep; sleep > 0 {
		time.Sleep(sleep)
	}
	return d.endStatus(), nil
}

// BeginWait begins acquisition and blocks until the unit has finished.
// With endRun the run is closed afterwards. A canceled context stops
// acquisition gracefully, ends the run and returns ErrCancelled.
func (d *Daq) BeginWait(ctx context.Context, endRun bool, opts ...Option) error {
	if _, err := d.Begin(ctx, opts...); err != nil {
		return err
	}
	err := d.Wait(ctx, 0)
	if errors.Is(err, ErrCancelled) {
		d.msg.Printf("begin interrupted, ending run")
		if eerr := d.EndRun(); eerr != nil {
			d.msg.Printf("could not end run: %+v", eerr)
		}
		return err
	}
	if err != nil {
		return err
	}
	if endRun {
		return d.EndRun()
	}
	return nil
}

// BeginInfinite starts the DAQ to run in the background until stopped.
func (d *Daq) BeginInfinite(opts ...Option) error {
	_, err := d.Begin(context.Background(), append(opts, WithInfinite())...)
	return err
}

// Wait blocks until the DAQ is done acquiring. It returns right away when
// nothing has been begun. A canceled context transitions the session
// through Stop before returning ErrCancelled, never leaving the run
// unmonitored; an expired timeout yields a TimeoutError. Wait never
// queries the control service before waiting: a remote backend busy
// with an acquisition must not delay the cancellation path.
func (d *Daq) Wait(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	begun := d.begun
	d.mu.Unlock()
	if begun == nil {
		return nil
	}
	if !begun.Sized() {
		return fmt.Errorf("daq: cannot wait, daq configured to run forever")
	}

	err := d.endStatus().Wait(ctx, timeout)
	if errors.Is(err, ErrCancelled) {
		if serr := d.Stop(); serr != nil {
			d.msg.Printf("could not stop after cancelled wait: %+v", serr)
		}
		return err
	}
	return err
}

// endStatus returns a Status completing when the DAQ finishes acquiring.
// For an infinite (or idle) cycle the status is already complete: there
// is nothing to wait for.
func (d *Daq) endStatus() *Status {
	st := NewStatus()

	d.mu.Lock()
	begun := d.begun
	d.mu.Unlock()

	if begun == nil || !begun.Sized() {
		st.Finish(nil)
		return st
	}

	go func() {
		// End reports an error when nothing is running; that simply
		// means there is nothing left to wait for.
		if err := d.ctl.End(context.Background()); err != nil {
			d.msg.Printf("wait for end of acquisition: %+v", err)
		}
		d.mu.Lock()
		d.lastStop = time.Now()
		d.begun = nil
		d.mu.Unlock()
		st.Finish(nil)
	}()
	return st
}

// Stop pauses the current acquisition without closing the run. A later
// begin resumes within the same open run.
func (d *Daq) Stop() error {
	if err := d.checkConnect("stop"); err != nil {
		return err
	}
	if err := d.ctl.Stop(); err != nil {
		return fmt.Errorf("daq: could not stop: %w", err)
	}
	d.mu.Lock()
	d.begun = nil
	d.lastStop = time.Now()
	d.mu.Unlock()
	return nil
}

// EndRun stops acquisition and marks the run as finished. Ending an
// already-closed run is a no-op.
func (d *Daq) EndRun() error {
	if err := d.Stop(); err != nil {
		return err
	}
	if err := d.ctl.EndRun(); err != nil {
		return fmt.Errorf("daq: could not end run: %w", err)
	}
	return nil
}

// Trigger starts one acquisition unit sized per the current
// configuration, blocking until acquisition has begun. The returned
// Status completes once the unit has finished. Triggering a session
// configured to run forever is an error.
func (d *Daq) Trigger() (*Status, error) {
	if err := d.checkConnect("trigger"); err != nil {
		return nil, err
	}
	if !d.NextConfig().Sized() {
		return nil, fmt.Errorf(
			"daq: cannot start daq in scan step, configure events or duration first",
		)
	}
	return d.Begin(context.Background())
}

// Read stops the DAQ if it is still acquiring. The DAQ reports no data to
// the scan loop; Read exists so a step can wait on everything else and
// then quiesce the DAQ.
func (d *Daq) Read() error {
	if d.State() == Running {
		return d.Stop()
	}
	return nil
}

// Complete returns a Status completing when the DAQ has finished
// acquiring. A free-running DAQ is stopped so the status can complete.
func (d *Daq) Complete() *Status {
	st := d.endStatus()
	d.mu.Lock()
	begun := d.begun
	d.mu.Unlock()
	if begun == nil || !begun.Sized() {
		if err := d.Stop(); err != nil {
			d.msg.Printf("could not stop free-running daq: %+v", err)
		}
	}
	return st
}

// Stage prepares the DAQ for a scan: the session state is snapshotted for
// Unstage to restore, any open run is ended so the scan can open its own,
// and, when a notifier is attached, runs are ended on scan-stop
// notifications.
func (d *Daq) Stage() error {
	d.preRun = d.State()
	if d.notify != nil && d.cancelNotify == nil {
		d.cancelNotify = d.notify.NotifyStop(func() {
			if err := d.EndRun(); err != nil {
				d.msg.Printf("could not end run on scan stop: %+v", err)
			}
		})
	}
	return d.EndRun()
}

// Unstage rolls the session back to the state snapshotted at Stage:
// disconnect if we started disconnected, resume an infinite run if we
// started running. Intermediate states only need the run ended.
func (d *Daq) Unstage() error {
	if d.cancelNotify != nil {
		d.cancelNotify()
		d.cancelNotify = nil
	}
	if state := d.State(); state == Open || state == Running {
		if err := d.EndRun(); err != nil {
			return err
		}
	}
	switch d.preRun {
	case Disconnected:
		d.Disconnect()
	case Running:
		return d.BeginInfinite()
	}
	return nil
}

// Pause stops acquisition when the surrounding scan is interrupted. The
// run is left open.
func (d *Daq) Pause() error {
	if d.State() == Running {
		return d.Stop()
	}
	return nil
}

// Resume restarts acquisition after Pause.
func (d *Daq) Resume() error {
	if d.State() == Open {
		_, err := d.Begin(context.Background())
		return err
	}
	return nil
}

var (
	regMu  sync.Mutex
	regDaq *Daq
)

// Register saves the session controller as the process-wide instance.
// There is only ever one logical session per process; New calls this.
func Register(d *Daq) {
	regMu.Lock()
	defer regMu.Unlock()
	regDaq = d
}

// Get returns the registered session controller, or nil when none exists.
func Get() *Daq {
	regMu.Lock()
	defer regMu.Unlock()
	return regDaq
}
