// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remote exposes a DAQ control service over TCP, one JSON
// request per command, and provides the matching client.
package remote // import "github.com/go-pcds/daqctl/remote"

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-pcds/daqctl/daq"
)

// Request is one command sent to the control server.
type Request struct {
	Name string           `json:"name"`
	Args *json.RawMessage `json:"args,omitempty"`
}

// Reply is the server's answer to a request. Msg is "ok" on success and
// the error text otherwise; State carries the session state after the
// command.
type Reply struct {
	Msg   string `json:"msg"`
	State string `json:"state"`
}

// Server exposes a DAQ control service over TCP.
type Server struct {
	lis net.Listener
	msg *log.Logger
	ctl daq.Control
}

// Serve listens on addr and handles control connections for ctl. It only
// returns on a listener error.
func Serve(addr string, ctl daq.Control) error {
	srv, err := NewServer(addr, ctl)
	if err != nil {
		return fmt.Errorf("remote: could not create control server: %w", err)
	}
	return srv.Serve()
}

// NewServer returns a control server listening on addr.
func NewServer(addr string, ctl daq.Control) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("remote: could not listen on %q: %w", addr, err)
	}
	return &Server{
		lis: lis,
		msg: log.New(os.Stdout, "daq-svc: ", 0),
		ctl: ctl,
	}, nil
}

// Addr returns the address the server listens on.
func (srv *Server) Addr() string { return srv.lis.Addr().String() }

// Serve accepts and handles control connections until the listener is
// closed. Each connection is served on its own goroutine: a client waits
// for end-of-acquisition on a dedicated connection, so the control
// service must be safe for concurrent use.
func (srv *Server) Serve() error {
	defer srv.Close()

	for {
		conn, err := srv.lis.Accept()
		if err != nil {
			return fmt.Errorf("remote: could not accept connection: %w", err)
		}
		go func() {
			if err := srv.handle(conn); err != nil {
				srv.msg.Printf("could not serve connection: %+v", err)
			}
		}()
	}
}

// Close closes the listener.
func (srv *Server) Close() error {
	return srv.lis.Close()
}

func (srv *Server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

loop:
	for {
		var req Request
		err := json.NewDecoder(conn).Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			srv.reply(conn, err)
			continue
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		switch strings.ToLower(req.Name) {
		case "state":
			srv.reply(conn, nil)

		case "connect":
			srv.reply(conn, srv.ctl.Connect())

		case "disconnect":
			srv.reply(conn, srv.ctl.Disconnect())

		case "configure", "begin":
			var args daq.Args
			if req.Args != nil {
				if err := json.Unmarshal(*req.Args, &args); err != nil {
					srv.msg.Printf("could not decode %q payload: %+v", req.Name, err)
					srv.reply(conn, err)
					continue
				}
			}
			switch strings.ToLower(req.Name) {
			case "configure":
				err = srv.ctl.Configure(args)
			case "begin":
				err = srv.ctl.Begin(args)
			}
			if err != nil {
				srv.msg.Printf("could not %s: %+v", req.Name, err)
			}
			srv.reply(conn, err)

		case "stop":
			srv.reply(conn, srv.ctl.Stop())

		case "endrun":
			srv.reply(conn, srv.ctl.EndRun())

		case "end":
			// the client waits on a dedicated connection and abandons
			// it on cancellation; here the acquisition itself is the
			// only bound.
			err = srv.ctl.End(context.Background())
			srv.reply(conn, err)

		default:
			srv.msg.Printf("unknown command name=%q", req.Name)
			srv.reply(conn, fmt.Errorf("remote: unknown command %q", req.Name))
			continue
		}
	}
	return nil
}

func (srv *Server) reply(conn net.Conn, err error) {
	rep := Reply{
		Msg:   "ok",
		State: srv.ctl.State().String(),
	}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}
	_ = json.NewEncoder(conn).Encode(rep)
}

// Client drives a remote control server. It implements daq.Control.
// Commands are serialized on a single connection; End waits on a
// dedicated connection so that commands issued while a wait is pending
// (Stop, State) go through right away.
type Client struct {
	msg  *log.Logger
	addr string

	mu    sync.Mutex // guards conn and state
	conn  net.Conn
	state daq.State
}

var _ daq.Control = (*Client)(nil)

// Dial connects to the control server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("remote: could not dial %q: %w", addr, err)
	}
	return &Client{
		msg:  log.New(os.Stdout, "daq-cli: ", 0),
		addr: addr,
		conn: conn,
	}, nil
}

// Close closes the connection to the server.
func (cli *Client) Close() error {
	return cli.conn.Close()
}

func (cli *Client) send(name string, args interface{}) error {
	cli.mu.Lock()
	defer cli.mu.Unlock()

	req := Request{Name: name}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("remote: could not encode %q args: %w", name, err)
		}
		msg := json.RawMessage(raw)
		req.Args = &msg
	}

	if err := json.NewEncoder(cli.conn).Encode(req); err != nil {
		return fmt.Errorf("remote: could not send %q: %w", name, err)
	}

	var rep Reply
	if err := json.NewDecoder(cli.conn).Decode(&rep); err != nil {
		return fmt.Errorf("remote: could not read %q reply: %w", name, err)
	}
	cli.state = parseState(rep.State)
	if rep.Msg != "ok" {
		return fmt.Errorf("remote: %s failed: %s", name, rep.Msg)
	}
	return nil
}

func parseState(name string) daq.State {
	for _, st := range []daq.State{
		daq.Disconnected, daq.Connected, daq.Configured, daq.Open, daq.Running,
	} {
		if st.String() == name {
			return st
		}
	}
	return daq.Disconnected
}

// State implements daq.Control. A wire error is logged and reported as
// Disconnected.
func (cli *Client) State() daq.State {
	if err := cli.send("state", nil); err != nil {
		cli.msg.Printf("could not query state: %+v", err)
		return daq.Disconnected
	}
	return cli.state
}

// Connect implements daq.Control.
func (cli *Client) Connect() error { return cli.send("connect", nil) }

// Disconnect implements daq.Control.
func (cli *Client) Disconnect() error { return cli.send("disconnect", nil) }

// Configure implements daq.Control.
func (cli *Client) Configure(args daq.Args) error { return cli.send("configure", args) }

// Begin implements daq.Control.
func (cli *Client) Begin(args daq.Args) error { return cli.send("begin", args) }

// Stop implements daq.Control.
func (cli *Client) Stop() error { return cli.send("stop", nil) }

// EndRun implements daq.Control.
func (cli *Client) EndRun() error { return cli.send("endrun", nil) }

// End implements daq.Control: it blocks until the server reports the
// acquisition done or the context is canceled. The wait runs on a
// dedicated connection so the command connection stays free for the
// Stop or State a caller issues while the wait is pending.
func (cli *Client) End(ctx context.Context) error {
	conn, err := net.DialTimeout("tcp", cli.addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("remote: could not dial %q: %w", cli.addr, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(Request{Name: "end"}); err != nil {
		return fmt.Errorf("remote: could not send %q: %w", "end", err)
	}

	done := make(chan error, 1)
	go func() {
		var rep Reply
		if err := json.NewDecoder(conn).Decode(&rep); err != nil {
			done <- fmt.Errorf("remote: could not read %q reply: %w", "end", err)
			return
		}
		if rep.Msg != "ok" {
			done <- fmt.Errorf("remote: end failed: %s", rep.Msg)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = conn.SetReadDeadline(time.Now())
		<-done
		return ctx.Err()
	}
}
