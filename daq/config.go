// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the run configuration of a DAQ session.
//
// Events and Duration are mutually exclusive acquisition sizes; when both
// are unset (or events is zero) the DAQ runs until stopped. Record is
// tri-state: explicitly true, explicitly false, or nil to inherit the
// choice made on the operator GUI.
type Config struct {
	Events     *int
	Duration   *time.Duration
	Record     *bool
	UseL3T     bool
	Controls   []Positioner
	BeginSleep time.Duration
}

func (cfg Config) clone() Config {
	o := cfg
	if cfg.Events != nil {
		v := *cfg.Events
		o.Events = &v
	}
	if cfg.Duration != nil {
		v := *cfg.Duration
		o.Duration = &v
	}
	if cfg.Record != nil {
		v := *cfg.Record
		o.Record = &v
	}
	o.Controls = append([]Positioner(nil), cfg.Controls...)
	return o
}

// Sized reports whether the configuration describes a bounded acquisition.
func (cfg Config) Sized() bool {
	if cfg.Events != nil && *cfg.Events > 0 {
		return true
	}
	if cfg.Duration != nil && *cfg.Duration > 0 {
		return true
	}
	return false
}

func (cfg Config) String() string {
	var parts []string
	if cfg.Events != nil {
		parts = append(parts, fmt.Sprintf("events=%d", *cfg.Events))
	}
	if cfg.Duration != nil {
		parts = append(parts, fmt.Sprintf("duration=%v", *cfg.Duration))
	}
	if cfg.Record != nil {
		parts = append(parts, fmt.Sprintf("record=%v", *cfg.Record))
	}
	if cfg.UseL3T {
		parts = append(parts, "use_l3t=true")
	}
	if len(cfg.Controls) > 0 {
		names := make([]string, len(cfg.Controls))
		for i, ctl := range cfg.Controls {
			names[i] = ctl.Name()
		}
		parts = append(parts, "controls="+strings.Join(names, ","))
	}
	if cfg.BeginSleep != 0 {
		parts = append(parts, fmt.Sprintf("begin_sleep=%v", cfg.BeginSleep))
	}
	return strings.Join(parts, ", ")
}

// Option modifies a single field of a run configuration, leaving the
// others untouched. Options handed to Preconfig, Configure or Begin only
// override the fields they name.
type Option func(*Config)

// WithEvents sizes acquisitions by event count. A zero count means "run
// until stopped". This clears any queued duration.
func WithEvents(n int) Option {
	return func(cfg *Config) {
		cfg.Events = &n
		cfg.Duration = nil
	}
}

// WithDuration sizes acquisitions by wall-clock time. This clears any
// queued event count.
func WithDuration(d time.Duration) Option {
	return func(cfg *Config) {
		cfg.Duration = &d
		cfg.Events = nil
	}
}

// WithInfinite configures the DAQ to run until stopped.
func WithInfinite() Option {
	return func(cfg *Config) {
		cfg.Events = nil
		cfg.Duration = nil
	}
}

// WithRecord selects explicitly whether runs are recorded.
func WithRecord(rec bool) Option {
	return func(cfg *Config) { cfg.Record = &rec }
}

// WithGUIRecord defers the record choice to the operator GUI.
func WithGUIRecord() Option {
	return func(cfg *Config) { cfg.Record = nil }
}

// WithL3T selects whether event counts tally only events passing the
// level-3 trigger.
func WithL3T(use bool) Option {
	return func(cfg *Config) { cfg.UseL3T = use }
}

// WithControls attaches named position readouts to the data stream. Their
// values are read out anew at each begin.
func WithControls(ctrls ...Positioner) Option {
	return func(cfg *Config) { cfg.Controls = ctrls }
}

// WithBeginSleep adds a settle delay after the DAQ reports a begin
// transition done. Some DAQ configurations report begin early.
func WithBeginSleep(d time.Duration) Option {
	return func(cfg *Config) { cfg.BeginSleep = d }
}

// configArgs returns the arguments sent to the control service on a
// configure transition.
func configArgs(cfg Config) Args {
	var (
		zero int
		args Args
	)
	args.Record = cfg.Record
	if cfg.UseL3T {
		args.L3TEvents = &zero
	} else {
		args.Events = &zero
	}
	args.Controls = controlVars(cfg.Controls)
	return args
}

// beginArgs returns the arguments sent to the control service on a begin
// transition, sized per the effective configuration.
func beginArgs(cfg Config) Args {
	var args Args
	switch {
	case cfg.Events != nil:
		if cfg.UseL3T {
			args.L3TEvents = cfg.Events
		} else {
			args.Events = cfg.Events
		}
	case cfg.Duration != nil:
		args.Duration = *cfg.Duration
	default:
		// run until stopped.
		var zero int
		args.Events = &zero
	}
	args.Controls = controlVars(cfg.Controls)
	return args
}

func controlVars(ctrls []Positioner) []ControlVar {
	if len(ctrls) == 0 {
		return nil
	}
	vars := make([]ControlVar, len(ctrls))
	for i, ctl := range ctrls {
		vars[i] = ControlVar{Name: ctl.Name(), Value: ctl.Position()}
	}
	return vars
}

func checkDuration(cfg Config) error {
	if cfg.Duration != nil && *cfg.Duration < time.Second {
		return fmt.Errorf(
			"daq: duration below 1s is unreliable, size short runs with events instead (got %v)",
			*cfg.Duration,
		)
	}
	return nil
}
