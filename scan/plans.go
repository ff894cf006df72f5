// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scan

import (
	"context"
	"fmt"

	"github.com/go-pcds/daqctl/daq"
)

// CalibCycle puts the DAQ through one bounded calibration cycle: begin
// with the effective configuration, wait for the acquisition to finish.
// A configuration that would run forever is refused up front.
func CalibCycle(ctx context.Context, d *daq.Daq, opts ...daq.Option) error {
	cfg := d.NextConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.Sized() {
		return fmt.Errorf(
			"scan: daq is configured to run forever, size the calib cycle with events or duration",
		)
	}
	st, err := d.Begin(ctx, opts...)
	if err != nil {
		return fmt.Errorf("scan: could not begin calib cycle: %w", err)
	}
	if err := st.Wait(ctx, 0); err != nil {
		return fmt.Errorf("scan: could not complete calib cycle: %w", err)
	}
	return nil
}

// RunDuring runs fn with the DAQ collecting in the background: the DAQ is
// configured for an unbounded acquisition, staged so a scan stop ends the
// run, and started before fn. The run is ended when fn returns, whatever
// the outcome.
func RunDuring(ctx context.Context, d *daq.Daq, fn func(ctx context.Context) error, opts ...daq.Option) error {
	if err := d.Configure(append(opts, daq.WithInfinite())...); err != nil {
		return fmt.Errorf("scan: could not configure daq: %w", err)
	}
	if err := d.Stage(); err != nil {
		return fmt.Errorf("scan: could not stage daq: %w", err)
	}
	defer func() {
		_ = d.Unstage()
	}()

	if err := d.BeginInfinite(); err != nil {
		return fmt.Errorf("scan: could not begin daq: %w", err)
	}
	defer func() {
		_ = d.EndRun()
	}()

	if err := fn(ctx); err != nil {
		return fmt.Errorf("scan: could not run plan: %w", err)
	}
	return nil
}
