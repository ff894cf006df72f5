// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scanvars

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// MemPV is an in-memory Putter, useful offline and in tests.
type MemPV struct {
	mu   sync.Mutex
	vars map[string]interface{}
}

var _ Putter = (*MemPV)(nil)

// NewMemPV returns an empty in-memory variable store.
func NewMemPV() *MemPV {
	return &MemPV{vars: make(map[string]interface{})}
}

// Put implements Putter.
func (pv *MemPV) Put(name string, value interface{}) error {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	pv.vars[name] = value
	return nil
}

// Get returns the last value put under name.
func (pv *MemPV) Get(name string) (interface{}, bool) {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	v, ok := pv.vars[name]
	return v, ok
}

// Gateway is a Putter writing variables over a TCP connection to a
// telemetry gateway, one JSON request per put.
type Gateway struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
}

var _ Putter = (*Gateway)(nil)

type gatewayRequest struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

type gatewayReply struct {
	Msg string `json:"msg"`
}

// NewGateway dials the telemetry gateway at the given address.
func NewGateway(addr string, timeout time.Duration) (*Gateway, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("scanvars: could not dial gateway %q: %w", addr, err)
	}
	return &Gateway{conn: conn, timeout: timeout}, nil
}

// Put implements Putter.
func (gw *Gateway) Put(name string, value interface{}) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.timeout > 0 {
		deadline := time.Now().Add(gw.timeout)
		if err := gw.conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("scanvars: could not set deadline: %w", err)
		}
	}

	req := gatewayRequest{Name: name, Value: value}
	if err := json.NewEncoder(gw.conn).Encode(req); err != nil {
		return fmt.Errorf("scanvars: could not send put %q: %w", name, err)
	}

	var rep gatewayReply
	if err := json.NewDecoder(gw.conn).Decode(&rep); err != nil {
		return fmt.Errorf("scanvars: could not read reply for %q: %w", name, err)
	}
	if rep.Msg != "ok" {
		return fmt.Errorf("scanvars: gateway refused put %q: %s", name, rep.Msg)
	}
	return nil
}

// Close closes the gateway connection.
func (gw *Gateway) Close() error {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.conn.Close()
}
