// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Sequencer is a simulated event sequencer. It plays either a fixed
// number of pulses at the simulated beam rate or runs until stopped.
type Sequencer struct {
	mu      sync.Mutex
	pulses  int // 0 means run until stopped
	running bool
	done    chan struct{}
}

// NewSequencer returns an idle sequencer playing n pulses per start.
// A zero count makes the sequencer free-running.
func NewSequencer(n int) *Sequencer {
	return &Sequencer{pulses: n}
}

// Infinite reports whether the sequencer is free-running.
func (seq *Sequencer) Infinite() bool {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	return seq.pulses == 0
}

// Running reports whether a sequence is playing.
func (seq *Sequencer) Running() bool {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	return seq.running
}

// Start begins playing the sequence.
func (seq *Sequencer) Start() error {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	if seq.running {
		return fmt.Errorf("sim: sequencer already running")
	}
	seq.running = true
	done := make(chan struct{})
	seq.done = done
	if seq.pulses > 0 {
		dur := time.Duration(float64(seq.pulses) / eventRate * float64(time.Second))
		go func() {
			timer := time.NewTimer(dur)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.C:
				_ = seq.Stop()
			}
		}()
	}
	return nil
}

// Stop halts the sequence. Stopping an idle sequencer is a no-op.
func (seq *Sequencer) Stop() error {
	seq.mu.Lock()
	defer seq.mu.Unlock()
	if !seq.running {
		return nil
	}
	seq.running = false
	select {
	case <-seq.done:
	default:
		close(seq.done)
	}
	return nil
}

// Wait blocks until the current sequence has finished playing.
func (seq *Sequencer) Wait(ctx context.Context) error {
	seq.mu.Lock()
	if !seq.running {
		seq.mu.Unlock()
		return nil
	}
	done := seq.done
	seq.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
