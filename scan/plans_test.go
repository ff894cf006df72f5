// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan_test

import (
	"context"
	"testing"

	"github.com/go-pcds/daqctl/daq"
	"github.com/go-pcds/daqctl/scan"
	"github.com/go-pcds/daqctl/sim"
)

func TestCalibCycle(t *testing.T) {
	d := daq.New(sim.NewControl())
	if err := d.Configure(daq.WithEvents(12)); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	if err := scan.CalibCycle(context.Background(), d); err != nil {
		t.Fatalf("could not run calib cycle: %+v", err)
	}
	if got := d.State(); got == daq.Running {
		t.Fatalf("daq still running after calib cycle")
	}
}

func TestCalibCycleForever(t *testing.T) {
	d := daq.New(sim.NewControl())
	if err := d.Configure(); err != nil {
		t.Fatalf("could not configure: %+v", err)
	}

	err := scan.CalibCycle(context.Background(), d)
	if err == nil {
		t.Fatalf("expected an error for an unsized calib cycle")
	}
}

func TestRunDuring(t *testing.T) {
	d := daq.New(sim.NewControl())

	var wasRunning bool
	err := scan.RunDuring(context.Background(), d, func(ctx context.Context) error {
		wasRunning = d.State() == daq.Running
		return nil
	})
	if err != nil {
		t.Fatalf("could not run during: %+v", err)
	}
	if !wasRunning {
		t.Fatalf("daq not running during the plan")
	}
	if got := d.State(); got == daq.Running || got == daq.Open {
		t.Fatalf("run left open after the plan: state=%v", got)
	}
}

func TestRunDuringScanStop(t *testing.T) {
	bus := scan.NewBus()
	d := daq.New(sim.NewControl())
	d.SetNotifier(bus)

	err := scan.RunDuring(context.Background(), d, func(ctx context.Context) error {
		// a stop document from the scan driver ends the daq run.
		bus.PublishStop(scan.StopDoc{ExitStatus: "success"})
		if got := d.State(); got == daq.Running {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil {
		t.Fatalf("could not run during: %+v", err)
	}
}
