// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-pcds/daqctl/ami"
)

// AmiProxy is a simulated statistics service implementing ami.Proxy.
// Each open entry accumulates pseudo-random samples at a fixed tick.
type AmiProxy struct {
	mu     sync.Mutex
	tick   time.Duration
	filter string
	closed bool
}

var _ ami.Proxy = (*AmiProxy)(nil)

// NewAmiProxy returns a simulated statistics service accumulating one
// sample per tick.
func NewAmiProxy(tick time.Duration) *AmiProxy {
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	return &AmiProxy{tick: tick}
}

// Filter returns the currently installed filter expression.
func (p *AmiProxy) Filter() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// SetFilter implements ami.Proxy.
func (p *AmiProxy) SetFilter(expr string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("sim: ami proxy closed")
	}
	p.filter = expr
	return nil
}

// Close stops the proxy. Further Entry calls fail.
func (p *AmiProxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Entry implements ami.Proxy.
func (p *AmiProxy) Entry(name, filter string) (ami.Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("sim: ami proxy closed")
	}
	e := &amiEntry{
		name: name,
		stop: make(chan struct{}),
	}
	go e.run(p.tick)
	return e, nil
}

// amiEntry accumulates pseudo-random samples for one named scalar.
type amiEntry struct {
	name string
	stop chan struct{}

	mu  sync.Mutex
	n   int
	sum float64
	sq  float64
}

func (e *amiEntry) run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			v := rand.Float64()
			e.mu.Lock()
			e.n++
			e.sum += v
			e.sq += v * v
			e.mu.Unlock()
		}
	}
}

// Get implements ami.Entry.
func (e *amiEntry) Get() (ami.Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.n == 0 {
		return ami.Stats{}, nil
	}
	mean := e.sum / float64(e.n)
	variance := e.sq/float64(e.n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	rms := math.Sqrt(variance)
	return ami.Stats{
		Mean:    mean,
		RMS:     rms,
		Err:     rms / math.Sqrt(float64(e.n)),
		Entries: e.n,
	}, nil
}

// Clear implements ami.Entry.
func (e *amiEntry) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.n = 0
	e.sum = 0
	e.sq = 0
}

// Close implements ami.Entry.
func (e *amiEntry) Close() error {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	return nil
}
