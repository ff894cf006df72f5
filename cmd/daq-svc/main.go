// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq-svc serves a simulated DAQ control service over TCP, for
// offline operation and integration tests.
package main // import "github.com/go-pcds/daqctl/cmd/daq-svc"

import (
	"flag"
	"log"

	"github.com/go-pcds/daqctl/remote"
	"github.com/go-pcds/daqctl/sim"
)

func main() {
	var (
		addr = flag.String("addr", ":8765", "[ip]:port to listen on")
	)

	flag.Parse()

	log.SetPrefix("daq-svc: ")
	log.SetFlags(0)

	run(*addr)
}

func run(addr string) {
	log.Printf("running daq control service on %q...", addr)
	err := remote.Serve(addr, sim.NewControl())
	if err != nil {
		log.Fatalf("could not serve %q: %+v", addr, err)
	}
}
