// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ami provides a polling proxy for the hutch statistics service.
//
// A Det names one scalar variable on the service. Triggering a Det opens
// a fresh accumulation window; once a minimum sampling duration has
// elapsed (and, when paired with a DAQ session, the run is no longer
// collecting) the accumulated mean and rms become available through Get.
package ami // import "github.com/go-pcds/daqctl/ami"

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-pcds/daqctl/daq"
)

// ErrNotReady is returned by Det.Get before the current accumulation
// window has completed. Stale data is never returned.
var ErrNotReady = errors.New("ami: accumulation window not complete")

// Stats holds the accumulated statistics of one sampling window.
type Stats struct {
	Mean    float64 `json:"mean"`
	RMS     float64 `json:"rms"`
	Err     float64 `json:"err"`
	Entries int     `json:"entries"`
}

// Entry is a live accumulation window for one named scalar on the
// statistics service.
type Entry interface {
	// Get returns the statistics accumulated so far.
	Get() (Stats, error)
	// Clear drops the accumulated samples.
	Clear()
	// Close releases the window.
	Close() error
}

// Proxy is the remote statistics service. One proxy serves the whole
// process; implementations are selected once at start-up.
type Proxy interface {
	// Entry opens an accumulation window for the named scalar, with an
	// optional filter expression.
	Entry(name, filter string) (Entry, error)
	// SetFilter installs the level-3 trigger filter expression.
	SetFilter(expr string) error
}

// Det is a detector reading a named scalar from the statistics service.
type Det struct {
	msg   *log.Logger
	proxy Proxy

	name   string
	filter string
	minDur time.Duration
	norm   string   // name of the normalization variable, "" for none
	paired *daq.Daq // when set, windows only complete once the run stops

	mu       sync.Mutex
	entry    Entry
	ref      Entry
	window   *daq.Status
	last     Stats
	hasStats bool
}

// DetOption configures a Det.
type DetOption func(*Det)

// WithFilter restricts accumulation to events matching the expression.
func WithFilter(expr string) DetOption {
	return func(det *Det) { det.filter = expr }
}

// WithMinDuration sets the minimum sampling time of a window.
func WithMinDuration(d time.Duration) DetOption {
	return func(det *Det) { det.minDur = d }
}

// WithNormalizeBy divides the accumulated mean and rms by the concurrent
// mean of the named variable.
func WithNormalizeBy(name string) DetOption {
	return func(det *Det) { det.norm = name }
}

// WithDaq pairs the detector with a DAQ session: a window only completes
// once the session has stopped collecting.
func WithDaq(d *daq.Daq) DetOption {
	return func(det *Det) { det.paired = d }
}

// NewDet returns a detector for the named scalar on the given proxy.
func NewDet(proxy Proxy, name string, opts ...DetOption) *Det {
	det := &Det{
		msg:   log.New(os.Stdout, "ami: ", 0),
		proxy: proxy,
		name:  name,
	}
	for _, opt := range opts {
		opt(det)
	}
	return det
}

// Name returns the variable name on the statistics service.
func (det *Det) Name() string { return det.name }

// Trigger resets the accumulation window and begins a new sampling
// period. The returned Status completes once the minimum sampling
// duration has elapsed and, when paired with a DAQ, the run has stopped
// collecting.
func (det *Det) Trigger() (*daq.Status, error) {
	entry, err := det.proxy.Entry(det.name, det.filter)
	if err != nil {
		return nil, fmt.Errorf("ami: could not open entry %q: %w", det.name, err)
	}

	var ref Entry
	if det.norm != "" {
		ref, err = det.proxy.Entry(det.norm, det.filter)
		if err != nil {
			_ = entry.Close()
			return nil, fmt.Errorf(
				"ami: could not open normalization entry %q: %w", det.norm, err,
			)
		}
	}

	st := daq.NewStatus()

	det.mu.Lock()
	if det.entry != nil {
		_ = det.entry.Close()
	}
	if det.ref != nil {
		_ = det.ref.Close()
	}
	det.entry = entry
	det.ref = ref
	det.window = st
	det.mu.Unlock()

	go func() {
		if det.minDur > 0 {
			time.Sleep(det.minDur)
		}
		if det.paired != nil {
			for det.paired.State() == daq.Running {
				time.Sleep(100 * time.Millisecond)
			}
		}
		st.Finish(nil)
	}()
	return st, nil
}

// Get returns the statistics of the last completed window, normalized
// when a normalization variable is configured. Before the window
// completes, Get returns ErrNotReady.
func (det *Det) Get() (Stats, error) {
	det.mu.Lock()
	defer det.mu.Unlock()

	if det.window != nil {
		select {
		case <-det.window.Done():
		default:
			return Stats{}, ErrNotReady
		}
	}

	if det.entry != nil {
		stats, err := det.entry.Get()
		if err != nil {
			return Stats{}, fmt.Errorf("ami: could not get %q: %w", det.name, err)
		}
		if det.ref != nil {
			ref, err := det.ref.Get()
			if err != nil {
				return Stats{}, fmt.Errorf(
					"ami: could not get normalization %q: %w", det.norm, err,
				)
			}
			if ref.Mean != 0 {
				stats.Mean /= ref.Mean
				stats.RMS /= ref.Mean
			}
			_ = det.ref.Close()
			det.ref = nil
		}
		_ = det.entry.Close()
		det.entry = nil
		det.last = stats
		det.hasStats = true
	}

	if !det.hasStats {
		return Stats{}, ErrNotReady
	}
	return det.last, nil
}
