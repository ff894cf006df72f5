// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scanvars mirrors scan progress to a set of named telemetry
// variables so operators can follow a scan from the control room.
package scanvars // import "github.com/go-pcds/daqctl/scanvars"

import (
	"log"
	"os"
	"sync"

	"github.com/go-pcds/daqctl/daq"
	"github.com/go-pcds/daqctl/scan"
)

// Telemetry variable suffixes, appended to the hutch prefix.
const (
	SuffixIStep  = ":ISTEP"
	SuffixIsScan = ":ISSCAN"
	SuffixVar0   = ":SCANVAR00"
	SuffixVar1   = ":SCANVAR01"
	SuffixVar2   = ":SCANVAR02"
	SuffixMax0   = ":MAX00"
	SuffixMax1   = ":MAX01"
	SuffixMax2   = ":MAX02"
	SuffixMin0   = ":MIN00"
	SuffixMin1   = ":MIN01"
	SuffixMin2   = ":MIN02"
	SuffixNSteps = ":NSTEPS"
	SuffixNShots = ":NSHOTS"
)

var (
	varSuffixes = [3]string{SuffixVar0, SuffixVar1, SuffixVar2}
	maxSuffixes = [3]string{SuffixMax0, SuffixMax1, SuffixMax2}
	minSuffixes = [3]string{SuffixMin0, SuffixMin1, SuffixMin2}
)

// Putter writes values to named telemetry variables.
type Putter interface {
	Put(name string, value interface{}) error
}

// ScanVars mirrors run lifecycle documents to telemetry variables under
// a common prefix. Write failures are logged, never propagated: telemetry
// must not interrupt a scan.
type ScanVars struct {
	msg    *log.Logger
	prefix string
	put    Putter
	bus    *scan.Bus
	iStart int

	mu  sync.Mutex
	sub int
	on  bool
}

var _ scan.Handler = (*ScanVars)(nil)

// VarsOption configures a ScanVars.
type VarsOption func(*ScanVars)

// WithIStart offsets the step counter. The default of zero is offset by
// one from the one-indexed step numbers in event documents.
func WithIStart(i int) VarsOption {
	return func(sv *ScanVars) { sv.iStart = i }
}

// New returns a ScanVars mirroring documents from the bus to telemetry
// variables under the given prefix, e.g. "XPP:SCAN".
func New(prefix string, put Putter, bus *scan.Bus, opts ...VarsOption) *ScanVars {
	sv := &ScanVars{
		msg:    log.New(os.Stdout, "scanvars: ", 0),
		prefix: prefix,
		put:    put,
		bus:    bus,
	}
	for _, opt := range opts {
		opt(sv)
	}
	return sv
}

// Enable subscribes to the document bus. Extra calls are no-ops.
func (sv *ScanVars) Enable() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.on {
		return
	}
	sv.sub = sv.bus.Subscribe(sv)
	sv.on = true
}

// Disable unsubscribes from the document bus. Extra calls are no-ops.
func (sv *ScanVars) Disable() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if !sv.on {
		return
	}
	sv.bus.Unsubscribe(sv.sub)
	sv.on = false
}

func (sv *ScanVars) set(suffix string, value interface{}) {
	name := sv.prefix + suffix
	if err := sv.put.Put(name, value); err != nil {
		sv.msg.Printf("could not put %s=%v: %+v", name, value, err)
	}
}

// RunStart implements scan.Handler: it initializes the telemetry
// variables from the start document and the session's DAQ configuration.
func (sv *ScanVars) RunStart(doc scan.StartDoc) {
	sv.set(SuffixIStep, sv.iStart)
	sv.set(SuffixIsScan, 1)

	for i, name := range doc.Motors {
		if i > 2 {
			break
		}
		sv.set(varSuffixes[i], name)
	}

	n := len(doc.Starts)
	if len(doc.Stops) < n {
		n = len(doc.Stops)
	}
	for i := 0; i < n && i < 3; i++ {
		lo, hi := doc.Starts[i], doc.Stops[i]
		if lo > hi {
			lo, hi = hi, lo
		}
		sv.set(maxSuffixes[i], hi)
		sv.set(minSuffixes[i], lo)
	}

	if doc.NSteps > 0 {
		sv.set(SuffixNSteps, doc.NSteps)
	}

	d := daq.Get()
	switch {
	case d == nil:
		sv.msg.Printf("skip %s, no daq session", SuffixNShots)
	case d.NextConfig().Events == nil:
		sv.msg.Printf("skip %s, daq sized by duration", SuffixNShots)
	default:
		sv.set(SuffixNShots, *d.NextConfig().Events)
	}
}

// RunEvent implements scan.Handler: it advances the step counter. Event
// documents arrive after the step they describe, so the counter is set
// for the next step.
func (sv *ScanVars) RunEvent(doc scan.EventDoc) {
	sv.set(SuffixIStep, doc.SeqNum-1+sv.iStart)
}

// RunStop implements scan.Handler: it resets every variable to its
// default, zero for numbers and empty for strings.
func (sv *ScanVars) RunStop(doc scan.StopDoc) {
	sv.set(SuffixIStep, 0)
	sv.set(SuffixIsScan, 0)
	for i := 0; i < 3; i++ {
		sv.set(varSuffixes[i], "")
		sv.set(maxSuffixes[i], 0)
		sv.set(minSuffixes[i], 0)
	}
	sv.set(SuffixNSteps, 0)
	sv.set(SuffixNShots, 0)
}
