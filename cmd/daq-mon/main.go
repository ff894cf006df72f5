// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq-mon is a telemetry gateway: it accepts variable puts over
// TCP and broadcasts live snapshots to control-room displays over
// websockets.
package main // import "github.com/go-pcds/daqctl/cmd/daq-mon"

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/yaml.v3"
)

func main() {
	var (
		cfgFile = flag.String("cfg", "", "path to a YAML configuration file")
	)

	flag.Parse()

	log.SetPrefix("daq-mon: ")
	log.SetFlags(0)

	cfg := defaultConfig()
	if *cfgFile != "" {
		var err error
		cfg, err = loadConfig(*cfgFile)
		if err != nil {
			log.Fatalf("could not load config: %+v", err)
		}
	}

	run(cfg)
}

type config struct {
	PutAddr  string `yaml:"put_addr"`
	WebAddr  string `yaml:"web_addr"`
	Snapshot int    `yaml:"snapshot_seconds"`
}

func defaultConfig() config {
	return config{
		PutAddr:  ":8400",
		WebAddr:  ":8401",
		Snapshot: 2,
	}
}

func loadConfig(fname string) (config, error) {
	cfg := defaultConfig()
	raw, err := os.ReadFile(fname)
	if err != nil {
		return cfg, fmt.Errorf("could not read %q: %w", fname, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse %q: %w", fname, err)
	}
	return cfg, nil
}

func run(cfg config) {
	gw := newGateway(time.Duration(cfg.Snapshot) * time.Second)

	lis, err := net.Listen("tcp", cfg.PutAddr)
	if err != nil {
		log.Fatalf("could not listen on %q: %+v", cfg.PutAddr, err)
	}
	go gw.servePuts(lis)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.handleWS)

	log.Printf("puts on %q, displays on %q...", cfg.PutAddr, cfg.WebAddr)
	err = http.ListenAndServe(cfg.WebAddr, mux)
	if err != nil {
		log.Fatalf("could not serve %q: %+v", cfg.WebAddr, err)
	}
}

type gateway struct {
	mu      sync.RWMutex
	vars    map[string]interface{}
	clients map[*wsClient]bool
}

func newGateway(snapshot time.Duration) *gateway {
	gw := &gateway{
		vars:    make(map[string]interface{}),
		clients: make(map[*wsClient]bool),
	}
	go gw.snapshotLoop(snapshot)
	return gw
}

func (gw *gateway) servePuts(lis net.Listener) {
	defer lis.Close()
	for {
		conn, err := lis.Accept()
		if err != nil {
			log.Printf("could not accept connection: %+v", err)
			return
		}
		go gw.handlePuts(conn)
	}
}

type putRequest struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

type putReply struct {
	Msg string `json:"msg"`
}

func (gw *gateway) handlePuts(conn net.Conn) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req putRequest
		if err := dec.Decode(&req); err != nil {
			return
		}
		if req.Name == "" {
			_ = enc.Encode(putReply{Msg: "missing variable name"})
			continue
		}
		gw.mu.Lock()
		gw.vars[req.Name] = req.Value
		gw.mu.Unlock()
		_ = enc.Encode(putReply{Msg: "ok"})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (gw *gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("could not upgrade connection: %+v", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	go c.writePump()

	gw.mu.Lock()
	gw.clients[c] = true
	gw.mu.Unlock()

	// drain the reader so control frames are processed; displays never
	// send data.
	go func() {
		defer gw.drop(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (gw *gateway) drop(c *wsClient) {
	gw.mu.Lock()
	if gw.clients[c] {
		delete(gw.clients, c)
		close(c.send)
	}
	gw.mu.Unlock()
}

func (gw *gateway) snapshotLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for range tick.C {
		gw.mu.RLock()
		snap, err := json.Marshal(gw.vars)
		gw.mu.RUnlock()

		if err != nil {
			log.Printf("could not encode snapshot: %+v", err)
			continue
		}
		gw.broadcast(snap)
	}
}

// broadcast fans the snapshot out to all displays. Sends happen under
// the read lock, so a concurrent drop cannot close a send channel
// mid-broadcast; slow displays are dropped once the lock is released.
func (gw *gateway) broadcast(snap []byte) {
	var slow []*wsClient
	gw.mu.RLock()
	for c := range gw.clients {
		select {
		case c.send <- snap:
		default:
			slow = append(slow, c)
		}
	}
	gw.mu.RUnlock()

	for _, c := range slow {
		gw.drop(c)
	}
}
