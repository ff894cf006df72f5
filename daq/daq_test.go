// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-pcds/daqctl/daq"
	"github.com/go-pcds/daqctl/sim"
)

func TestConnectDisconnect(t *testing.T) {
	ctl := sim.NewControl()
	d := daq.New(ctl)

	if d.Connected() {
		t.Fatalf("new session is already connected")
	}
	if got, want := d.State(), daq.Disconnected; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	if err := d.Connect(); err != nil {
		t.Fatalf("could not connect: %+v", err)
	}
	if got, want := d.State(), daq.Connected; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	// connecting twice is a no-op.
	if err := d.Connect(); err != nil {
		t.Fatalf("could not re-connect: %+v", err)
	}

	d.Disconnect()
	if d.Connected() {
		t.Fatalf("session still connected after disconnect")
	}
	if got, want := d.State(), daq.Disconnected; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
}

func TestConnectUnavailable(t *testing.T) {
	ctl := sim.NewControl()
	ctl.SetConnectError(fmt.Errorf("daq allocated to another session"))
	d := daq.New(ctl)

	err := d.Connect()
	if !errors.Is(err, daq.ErrUnavailable) {
		t.Fatalf("invalid error: got=%v, want=%v", err, daq.ErrUnavailable)
	}
	if d.Connected() {
		t.Fatalf("session connected despite error")
	}
}

func TestConfigure(t *testing.T) {
	d := daq.New(sim.NewControl())

	// configure auto-connects.
	if err := d.Configure(daq.WithEvents(120), daq.WithRecord(false)); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if !d.Configured() {
		t.Fatalf("session not configured")
	}
	if got, want := d.State(), daq.Configured; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	cfg := d.Config()
	if cfg.Events == nil || *cfg.Events != 120 {
		t.Fatalf("invalid configured events: got=%v, want=120", cfg.Events)
	}
	if cfg.Record == nil || *cfg.Record {
		t.Fatalf("invalid configured record: got=%v, want=false", cfg.Record)
	}
}

func TestConfigurePreserved(t *testing.T) {
	d := daq.New(sim.NewControl())

	if err := d.Configure(daq.WithEvents(240)); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	d.Disconnect()

	// the applied configuration survives a disconnect, staged for the
	// next configure.
	if d.Configured() {
		t.Fatalf("session still configured after disconnect")
	}
	next := d.NextConfig()
	if next.Events == nil || *next.Events != 240 {
		t.Fatalf("staged events lost on disconnect: got=%v, want=240", next.Events)
	}

	if err := d.Configure(); err != nil {
		t.Fatalf("could not re-configure: %+v", err)
	}
	cfg := d.Config()
	if cfg.Events == nil || *cfg.Events != 240 {
		t.Fatalf("invalid re-applied events: got=%v, want=240", cfg.Events)
	}
}

func TestConfigureSubSecondDuration(t *testing.T) {
	d := daq.New(sim.NewControl())
	err := d.Configure(daq.WithDuration(500 * time.Millisecond))
	if err == nil {
		t.Fatalf("expected an error for a sub-second duration")
	}
}

func TestConfigureDuringRun(t *testing.T) {
	d := daq.New(sim.NewControl())
	if err := d.Configure(daq.WithEvents(120)); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if err := d.BeginInfinite(); err != nil {
		t.Fatalf("could not begin: %+v", err)
	}
	defer func() { _ = d.EndRun() }()

	err := d.Configure(daq.WithEvents(240))
	var ise *daq.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("invalid error: got=%v, want=*InvalidStateError", err)
	}
	if got, want := ise.State, daq.Running; got != want {
		t.Fatalf("invalid error state: got=%v, want=%v", got, want)
	}

	// preconfig is legal mid-run and applies at the next configure.
	d.Preconfig(daq.WithEvents(240))
	next := d.NextConfig()
	if next.Events == nil || *next.Events != 240 {
		t.Fatalf("invalid staged events: got=%v, want=240", next.Events)
	}
	if err := d.EndRun(); err != nil {
		t.Fatalf("could not end run: %+v", err)
	}
	if err := d.Configure(); err != nil {
		t.Fatalf("could not re-configure: %+v", err)
	}
	cfg := d.Config()
	if cfg.Events == nil || *cfg.Events != 240 {
		t.Fatalf("staged events not applied: got=%v, want=240", cfg.Events)
	}
}

func TestPreconfig(t *testing.T) {
	d := daq.New(sim.NewControl())

	// preconfig never talks to the DAQ.
	d.Preconfig(daq.WithEvents(120))
	if d.Connected() {
		t.Fatalf("preconfig connected to the DAQ")
	}
	next := d.NextConfig()
	if next.Events == nil || *next.Events != 120 {
		t.Fatalf("invalid staged events: got=%v, want=120", next.Events)
	}

	d.SetRecord(true)
	if rec := d.Record(); rec == nil || !*rec {
		t.Fatalf("invalid staged record: got=%v, want=true", rec)
	}
}

func TestBeginWaitEnd(t *testing.T) {
	ctl := sim.NewControl()
	d := daq.New(ctl)

	// 12 events at the simulated rate is a 100ms acquisition.
	if err := d.Configure(daq.WithEvents(12)); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	st, err := d.Begin(context.Background())
	if err != nil {
		t.Fatalf("could not begin: %+v", err)
	}
	if got, want := d.State(), daq.Running; got != want {
		t.Fatalf("invalid state after begin: got=%v, want=%v", got, want)
	}

	if err := st.Wait(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("could not wait for acquisition: %+v", err)
	}
	if got, want := d.State(), daq.Open; got != want {
		t.Fatalf("invalid state after acquisition: got=%v, want=%v", got, want)
	}

	if err := d.EndRun(); err != nil {
		t.Fatalf("could not end run: %+v", err)
	}
	if got, want := d.State(), daq.Configured; got != want {
		t.Fatalf("invalid state after end-run: got=%v, want=%v", got, want)
	}
}

func TestBeginWaitRecords(t *testing.T) {
	ctl := sim.NewControl()
	d := daq.New(ctl)

	d.SetRecord(true)
	err := d.BeginWait(context.Background(), true, daq.WithEvents(12))
	if err != nil {
		t.Fatalf("could not begin-wait: %+v", err)
	}
	if got, want := ctl.RunNumber(), 1; got != want {
		t.Fatalf("invalid run count: got=%d, want=%d", got, want)
	}
	if got, want := d.State(), daq.Configured; got != want {
		t.Fatalf("invalid state after end-run: got=%v, want=%v", got, want)
	}
}

func TestBeginRecordOverride(t *testing.T) {
	ctl := sim.NewControl()
	d := daq.New(ctl)

	d.SetRecord(true)
	err := d.BeginWait(context.Background(), true,
		daq.WithEvents(12), daq.WithRecord(false),
	)
	if err != nil {
		t.Fatalf("could not begin-wait: %+v", err)
	}
	if got, want := ctl.RunNumber(), 0; got != want {
		t.Fatalf("unrecorded run was counted: got=%d, want=%d", got, want)
	}
	// the explicit override does not stick.
	if rec := d.Record(); rec == nil || !*rec {
		t.Fatalf("record override leaked into configuration: got=%v, want=true", rec)
	}
}

func TestWaitForever(t *testing.T) {
	d := daq.New(sim.NewControl())
	if err := d.BeginInfinite(); err != nil {
		t.Fatalf("could not begin: %+v", err)
	}
	defer func() { _ = d.EndRun() }()

	err := d.Wait(context.Background(), 0)
	if err == nil || !strings.Contains(err.Error(), "forever") {
		t.Fatalf("invalid error: got=%v, want a run-forever error", err)
	}
}

func TestWaitIdle(t *testing.T) {
	d := daq.New(sim.NewControl())
	if err := d.Connect(); err != nil {
		t.Fatalf("could not connect: %+v", err)
	}
	// nothing is being acquired: wait returns right away.
	if err := d.Wait(context.Background(), 0); err != nil {
		t.Fatalf("could not wait on idle session: %+v", err)
	}
}

func TestWaitCancelled(t *testing.T) {
	d := daq.New(sim.NewControl())

	// 600 events is a 5s acquisition, long enough to cancel mid-flight.
	if err := d.Configure(daq.WithEvents(600)); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if _, err := d.Begin(context.Background()); err != nil {
		t.Fatalf("could not begin: %+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := d.Wait(ctx, 0)
	if !errors.Is(err, daq.ErrCancelled) {
		t.Fatalf("invalid error: got=%v, want=%v", err, daq.ErrCancelled)
	}
	// a cancelled wait must not leave the run unmonitored.
	if got, want := d.State(), daq.Open; got != want {
		t.Fatalf("invalid state after cancelled wait: got=%v, want=%v", got, want)
	}
}

func TestTriggerUnsized(t *testing.T) {
	d := daq.New(sim.NewControl())
	if err := d.Configure(); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if _, err := d.Trigger(); err == nil {
		t.Fatalf("expected an error triggering an unsized configuration")
	}
}

func TestTrigger(t *testing.T) {
	d := daq.New(sim.NewControl())
	if err := d.Configure(daq.WithEvents(12)); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	st, err := d.Trigger()
	if err != nil {
		t.Fatalf("could not trigger: %+v", err)
	}
	if err := st.Wait(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("could not wait for step: %+v", err)
	}
	if err := d.Read(); err != nil {
		t.Fatalf("could not read: %+v", err)
	}
}

func TestRunNumberLookupFailsOnce(t *testing.T) {
	d := daq.New(sim.NewControl())

	var calls int
	d.SetRunNumberFunc(func(ctx context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("lookup timed out")
	})

	d.SetRecord(true)
	for i := 0; i < 2; i++ {
		if err := d.BeginWait(context.Background(), true, daq.WithEvents(12)); err != nil {
			t.Fatalf("could not begin-wait (run %d): %+v", i, err)
		}
	}
	// the lookup is cosmetic: one failure disables it for the session.
	if got, want := calls, 1; got != want {
		t.Fatalf("invalid number of lookup calls: got=%d, want=%d", got, want)
	}
}

func TestStageUnstageFromDisconnected(t *testing.T) {
	d := daq.New(sim.NewControl())

	if err := d.Stage(); err != nil {
		t.Fatalf("could not stage: %+v", err)
	}
	if !d.Connected() {
		t.Fatalf("stage did not connect")
	}
	if err := d.Unstage(); err != nil {
		t.Fatalf("could not unstage: %+v", err)
	}
	if got, want := d.State(), daq.Disconnected; got != want {
		t.Fatalf("unstage did not restore state: got=%v, want=%v", got, want)
	}
}

func TestStageUnstageFromConnected(t *testing.T) {
	d := daq.New(sim.NewControl())

	if err := d.Connect(); err != nil {
		t.Fatalf("could not connect: %+v", err)
	}
	if err := d.Stage(); err != nil {
		t.Fatalf("could not stage: %+v", err)
	}
	if err := d.Unstage(); err != nil {
		t.Fatalf("could not unstage: %+v", err)
	}
	if got, want := d.State(), daq.Connected; got != want {
		t.Fatalf("unstage did not restore state: got=%v, want=%v", got, want)
	}
}

func TestStageUnstageFromConfigured(t *testing.T) {
	d := daq.New(sim.NewControl())

	if err := d.Configure(daq.WithEvents(120)); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}
	if err := d.Stage(); err != nil {
		t.Fatalf("could not stage: %+v", err)
	}
	if err := d.Unstage(); err != nil {
		t.Fatalf("could not unstage: %+v", err)
	}
	if got, want := d.State(), daq.Configured; got != want {
		t.Fatalf("unstage did not restore state: got=%v, want=%v", got, want)
	}
}

func TestStageUnstageFromRunning(t *testing.T) {
	d := daq.New(sim.NewControl())

	if err := d.BeginInfinite(); err != nil {
		t.Fatalf("could not begin: %+v", err)
	}
	if err := d.Stage(); err != nil {
		t.Fatalf("could not stage: %+v", err)
	}
	if got, want := d.State(), daq.Configured; got != want {
		t.Fatalf("stage did not end the run: got=%v, want=%v", got, want)
	}

	if err := d.Unstage(); err != nil {
		t.Fatalf("could not unstage: %+v", err)
	}
	if got, want := d.State(), daq.Running; got != want {
		t.Fatalf("unstage did not resume the run: got=%v, want=%v", got, want)
	}
	if err := d.EndRun(); err != nil {
		t.Fatalf("could not end run: %+v", err)
	}
}

func TestPauseResume(t *testing.T) {
	d := daq.New(sim.NewControl())
	if err := d.BeginInfinite(); err != nil {
		t.Fatalf("could not begin: %+v", err)
	}
	defer func() { _ = d.EndRun() }()

	if err := d.Pause(); err != nil {
		t.Fatalf("could not pause: %+v", err)
	}
	if got, want := d.State(), daq.Open; got != want {
		t.Fatalf("invalid state after pause: got=%v, want=%v", got, want)
	}

	if err := d.Resume(); err != nil {
		t.Fatalf("could not resume: %+v", err)
	}
	if got, want := d.State(), daq.Running; got != want {
		t.Fatalf("invalid state after resume: got=%v, want=%v", got, want)
	}
}
