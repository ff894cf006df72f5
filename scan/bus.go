// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scan synchronizes the DAQ session with step-scan progress.
//
// A Bus carries run lifecycle documents (start, per-step event, stop)
// from a scan driver to subscribed handlers, and a Coordinator arbitrates
// completion between the DAQ and an independently clocked sequencer.
package scan // import "github.com/go-pcds/daqctl/scan"

import (
	"log"
	"os"
	"sync"
)

// StartDoc announces a new scan: the motors involved, their sweep bounds
// and the number of steps.
type StartDoc struct {
	Motors []string  `json:"motors"`
	Starts []float64 `json:"starts"`
	Stops  []float64 `json:"stops"`
	NSteps int       `json:"nsteps"`
}

// EventDoc announces one completed scan step.
type EventDoc struct {
	SeqNum int `json:"seq_num"`
}

// StopDoc announces the end of a scan.
type StopDoc struct {
	ExitStatus string `json:"exit_status"`
}

// Handler receives run lifecycle documents.
type Handler interface {
	RunStart(doc StartDoc)
	RunEvent(doc EventDoc)
	RunStop(doc StopDoc)
}

// Bus fans run lifecycle documents out to subscribed handlers.
// A zero Bus is ready to use.
type Bus struct {
	msg *log.Logger

	mu    sync.Mutex
	next  int
	subs  map[int]Handler
	stops map[int]func()
}

// NewBus returns an empty document bus.
func NewBus() *Bus {
	return &Bus{
		msg:   log.New(os.Stdout, "scan: ", 0),
		subs:  make(map[int]Handler),
		stops: make(map[int]func()),
	}
}

// Subscribe registers a handler for run lifecycle documents and returns
// its subscription token.
func (bus *Bus) Subscribe(h Handler) int {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.subs == nil {
		bus.subs = make(map[int]Handler)
	}
	id := bus.next
	bus.next++
	bus.subs[id] = h
	return id
}

// Unsubscribe drops the handler with the given token.
func (bus *Bus) Unsubscribe(id int) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	delete(bus.subs, id)
}

// NotifyStop registers a callback invoked on every stop document and
// returns a cancel function. It lets a DAQ session end its run when the
// scan driver stops, whatever the reason.
func (bus *Bus) NotifyStop(fn func()) (cancel func()) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	if bus.stops == nil {
		bus.stops = make(map[int]func())
	}
	id := bus.next
	bus.next++
	bus.stops[id] = fn
	return func() {
		bus.mu.Lock()
		defer bus.mu.Unlock()
		delete(bus.stops, id)
	}
}

func (bus *Bus) handlers() []Handler {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	hs := make([]Handler, 0, len(bus.subs))
	for _, h := range bus.subs {
		hs = append(hs, h)
	}
	return hs
}

// PublishStart delivers a start document to all subscribed handlers.
func (bus *Bus) PublishStart(doc StartDoc) {
	for _, h := range bus.handlers() {
		h.RunStart(doc)
	}
}

// PublishEvent delivers a step event document to all subscribed handlers.
func (bus *Bus) PublishEvent(doc EventDoc) {
	for _, h := range bus.handlers() {
		h.RunEvent(doc)
	}
}

// PublishStop delivers a stop document to all subscribed handlers and
// fires the registered stop callbacks.
func (bus *Bus) PublishStop(doc StopDoc) {
	for _, h := range bus.handlers() {
		h.RunStop(doc)
	}
	bus.mu.Lock()
	fns := make([]func(), 0, len(bus.stops))
	for _, fn := range bus.stops {
		fns = append(fns, fn)
	}
	bus.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
