// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"testing"
	"time"
)

func TestOptionsExclusive(t *testing.T) {
	var cfg Config
	WithEvents(1000)(&cfg)
	if cfg.Events == nil || *cfg.Events != 1000 {
		t.Fatalf("invalid events: got=%v, want=1000", cfg.Events)
	}

	WithDuration(5 * time.Second)(&cfg)
	if cfg.Events != nil {
		t.Fatalf("duration did not clear events: got=%v", *cfg.Events)
	}
	if cfg.Duration == nil || *cfg.Duration != 5*time.Second {
		t.Fatalf("invalid duration: got=%v, want=5s", cfg.Duration)
	}

	WithEvents(120)(&cfg)
	if cfg.Duration != nil {
		t.Fatalf("events did not clear duration: got=%v", *cfg.Duration)
	}

	WithInfinite()(&cfg)
	if cfg.Events != nil || cfg.Duration != nil {
		t.Fatalf("infinite did not clear sizing: events=%v duration=%v",
			cfg.Events, cfg.Duration,
		)
	}
}

func TestConfigSized(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
		want bool
	}{
		{name: "empty", want: false},
		{name: "events", opts: []Option{WithEvents(100)}, want: true},
		{name: "zero-events", opts: []Option{WithEvents(0)}, want: false},
		{name: "duration", opts: []Option{WithDuration(2 * time.Second)}, want: true},
		{name: "infinite", opts: []Option{WithEvents(100), WithInfinite()}, want: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var cfg Config
			for _, opt := range tc.opts {
				opt(&cfg)
			}
			if got := cfg.Sized(); got != tc.want {
				t.Fatalf("invalid sized: got=%v, want=%v", got, tc.want)
			}
		})
	}
}

func TestRecordTriState(t *testing.T) {
	var cfg Config
	if cfg.Record != nil {
		t.Fatalf("default record is not inherit: got=%v", *cfg.Record)
	}

	WithRecord(true)(&cfg)
	if cfg.Record == nil || !*cfg.Record {
		t.Fatalf("invalid record: got=%v, want=true", cfg.Record)
	}

	WithRecord(false)(&cfg)
	if cfg.Record == nil || *cfg.Record {
		t.Fatalf("invalid record: got=%v, want=false", cfg.Record)
	}

	WithGUIRecord()(&cfg)
	if cfg.Record != nil {
		t.Fatalf("gui-record did not clear record: got=%v", *cfg.Record)
	}
}

func TestConfigArgs(t *testing.T) {
	var cfg Config
	WithRecord(true)(&cfg)

	args := configArgs(cfg)
	if args.Record == nil || !*args.Record {
		t.Fatalf("invalid record arg: got=%v", args.Record)
	}
	if args.Events == nil || *args.Events != 0 {
		t.Fatalf("configure must request zero events: got=%v", args.Events)
	}
	if args.L3TEvents != nil {
		t.Fatalf("unexpected l3t events arg: got=%v", *args.L3TEvents)
	}

	WithL3T(true)(&cfg)
	args = configArgs(cfg)
	if args.L3TEvents == nil || *args.L3TEvents != 0 {
		t.Fatalf("configure with l3t must request zero l3t events: got=%v", args.L3TEvents)
	}
	if args.Events != nil {
		t.Fatalf("unexpected events arg: got=%v", *args.Events)
	}
}

func TestBeginArgs(t *testing.T) {
	var cfg Config
	WithEvents(240)(&cfg)
	args := beginArgs(cfg)
	if args.Events == nil || *args.Events != 240 {
		t.Fatalf("invalid events arg: got=%v, want=240", args.Events)
	}

	WithL3T(true)(&cfg)
	args = beginArgs(cfg)
	if args.L3TEvents == nil || *args.L3TEvents != 240 {
		t.Fatalf("invalid l3t events arg: got=%v, want=240", args.L3TEvents)
	}
	if args.Events != nil {
		t.Fatalf("unexpected events arg: got=%v", *args.Events)
	}

	WithDuration(3 * time.Second)(&cfg)
	args = beginArgs(cfg)
	if args.Duration != 3*time.Second {
		t.Fatalf("invalid duration arg: got=%v, want=3s", args.Duration)
	}

	WithInfinite()(&cfg)
	args = beginArgs(cfg)
	if args.Events == nil || *args.Events != 0 {
		t.Fatalf("infinite begin must request zero events: got=%v", args.Events)
	}
}

func TestCheckDuration(t *testing.T) {
	var cfg Config
	WithDuration(500 * time.Millisecond)(&cfg)
	if err := checkDuration(cfg); err == nil {
		t.Fatalf("expected an error for a sub-second duration")
	}

	WithDuration(time.Second)(&cfg)
	if err := checkDuration(cfg); err != nil {
		t.Fatalf("could not check 1s duration: %+v", err)
	}
}

type fakePos struct {
	name string
	pos  float64
}

func (p fakePos) Name() string      { return p.name }
func (p fakePos) Position() float64 { return p.pos }

func TestControlVars(t *testing.T) {
	var cfg Config
	WithControls(fakePos{"mot_x", 1.5}, fakePos{"mot_y", -2})(&cfg)

	vars := controlVars(cfg.Controls)
	if len(vars) != 2 {
		t.Fatalf("invalid number of control vars: got=%d, want=2", len(vars))
	}
	if vars[0].Name != "mot_x" || vars[0].Value != 1.5 {
		t.Fatalf("invalid control var: got=%+v", vars[0])
	}
	if vars[1].Name != "mot_y" || vars[1].Value != -2 {
		t.Fatalf("invalid control var: got=%+v", vars[1])
	}
}
