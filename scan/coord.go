// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-pcds/daqctl/daq"
)

// Device is an independently clocked acquisition device taking part in a
// coordinated run: typically the DAQ session and an event sequencer.
type Device interface {
	// Start begins the device's acquisition.
	Start() error
	// Stop halts the device's acquisition.
	Stop() error
	// Infinite reports whether the device runs until stopped.
	Infinite() bool
	// Wait blocks until the device's acquisition finishes.
	Wait(ctx context.Context) error
}

// Coordinator runs a DAQ and a sequencer together, stopping whichever
// device is free-running once the bounded one finishes. Ordering is
// cooperative: each device clocks itself and the coordinator only waits
// on completion signals.
type Coordinator struct {
	Daq Device
	Seq Device
}

// Run starts both devices and blocks until the coordinated acquisition
// is over. At least one device must be bounded.
func (co *Coordinator) Run(ctx context.Context) error {
	daqInf := co.Daq.Infinite()
	seqInf := co.Seq.Infinite()
	if daqInf && seqInf {
		return fmt.Errorf("scan: both devices run forever, nothing would stop them")
	}

	if err := co.Daq.Start(); err != nil {
		return fmt.Errorf("scan: could not start daq: %w", err)
	}
	if err := co.Seq.Start(); err != nil {
		_ = co.Daq.Stop()
		return fmt.Errorf("scan: could not start sequencer: %w", err)
	}

	switch {
	case !daqInf && seqInf:
		if err := co.Daq.Wait(ctx); err != nil {
			_ = co.Seq.Stop()
			return fmt.Errorf("scan: could not wait for daq: %w", err)
		}
		if err := co.Seq.Stop(); err != nil {
			return fmt.Errorf("scan: could not stop sequencer: %w", err)
		}
		return nil

	case daqInf && !seqInf:
		if err := co.Seq.Wait(ctx); err != nil {
			_ = co.Daq.Stop()
			return fmt.Errorf("scan: could not wait for sequencer: %w", err)
		}
		if err := co.Daq.Stop(); err != nil {
			return fmt.Errorf("scan: could not stop daq: %w", err)
		}
		return nil

	default:
		grp, ctx := errgroup.WithContext(ctx)
		grp.Go(func() error { return co.Daq.Wait(ctx) })
		grp.Go(func() error { return co.Seq.Wait(ctx) })
		if err := grp.Wait(); err != nil {
			_ = co.Seq.Stop()
			_ = co.Daq.Stop()
			return fmt.Errorf("scan: could not wait for devices: %w", err)
		}
		return nil
	}
}

// DaqFlyer adapts a DAQ session to the Device interface.
type DaqFlyer struct {
	Daq *daq.Daq
}

// Start implements Device: it kicks the DAQ off and waits for the begin
// transition to complete.
func (fl *DaqFlyer) Start() error {
	st, err := fl.Daq.Kickoff()
	if err != nil {
		return err
	}
	return st.Wait(context.Background(), 30*time.Second)
}

// Stop implements Device.
func (fl *DaqFlyer) Stop() error { return fl.Daq.Stop() }

// Infinite implements Device.
func (fl *DaqFlyer) Infinite() bool { return !fl.Daq.NextConfig().Sized() }

// Wait implements Device: it blocks until the current acquisition is
// done collecting.
func (fl *DaqFlyer) Wait(ctx context.Context) error {
	return fl.Daq.Wait(ctx, 0)
}
