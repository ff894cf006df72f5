// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq-repl is an interactive shell driving a DAQ control
// service.
package main // import "github.com/go-pcds/daqctl/cmd/daq-repl"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/go-pcds/daqctl/daq"
	"github.com/go-pcds/daqctl/remote"
	"github.com/go-pcds/daqctl/sim"
)

func main() {
	var (
		addr = flag.String("addr", "", "address of the DAQ control service (empty: simulate)")
	)

	flag.Parse()

	log.SetPrefix("daq-repl: ")
	log.SetFlags(0)

	var ctl daq.Control
	switch *addr {
	case "":
		log.Printf("no control service address, using simulated backend")
		ctl = sim.NewControl()
	default:
		cli, err := remote.Dial(*addr)
		if err != nil {
			log.Fatalf("could not dial control service: %+v", err)
		}
		defer cli.Close()
		ctl = cli
	}

	repl(daq.New(ctl))
}

func repl(d *daq.Daq) {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	for {
		line, err := term.Prompt("daq> ")
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				fmt.Println()
				return
			}
			log.Printf("could not read line: %+v", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		if line == "quit" || line == "exit" {
			return
		}
		if err := eval(d, strings.Fields(line)); err != nil {
			log.Printf("error: %+v", err)
		}
	}
}

func eval(d *daq.Daq, words []string) error {
	switch words[0] {
	case "help":
		fmt.Print(`commands:
  state                  display the session state
  connect                connect to the DAQ
  disconnect             disconnect from the DAQ
  configure [opt...]     apply configuration (events=N duration=D record=BOOL)
  begin [opt...]         start an acquisition
  wait                   block until the acquisition is done collecting
  stop                   stop collecting, keep the run open
  endrun                 stop collecting and close the run
  quit                   leave the shell
`)
		return nil

	case "state":
		fmt.Printf("state: %v (config: %v)\n", d.State(), d.NextConfig())
		return nil

	case "connect":
		return d.Connect()

	case "disconnect":
		d.Disconnect()
		return nil

	case "configure":
		opts, err := parseOpts(words[1:])
		if err != nil {
			return err
		}
		return d.Configure(opts...)

	case "begin":
		opts, err := parseOpts(words[1:])
		if err != nil {
			return err
		}
		st, err := d.Begin(context.Background(), opts...)
		if err != nil {
			return err
		}
		if d.NextConfig().Sized() {
			return st.Wait(context.Background(), 0)
		}
		return nil

	case "wait":
		return d.Wait(context.Background(), 0)

	case "stop":
		return d.Stop()

	case "endrun":
		return d.EndRun()

	default:
		return fmt.Errorf("unknown command %q (try \"help\")", words[0])
	}
}

func parseOpts(words []string) ([]daq.Option, error) {
	var opts []daq.Option
	for _, word := range words {
		k, v, ok := strings.Cut(word, "=")
		if !ok {
			return nil, fmt.Errorf("invalid option %q, want key=value", word)
		}
		switch k {
		case "events":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid events %q: %w", v, err)
			}
			opts = append(opts, daq.WithEvents(n))
		case "duration":
			dur, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", v, err)
			}
			opts = append(opts, daq.WithDuration(dur))
		case "record":
			rec, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid record %q: %w", v, err)
			}
			opts = append(opts, daq.WithRecord(rec))
		default:
			return nil, fmt.Errorf("unknown option %q", k)
		}
	}
	return opts, nil
}
