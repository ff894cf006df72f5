// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq-tdaq joins a TDAQ network and drives a DAQ session from
// its run control transitions.
package main // import "github.com/go-pcds/daqctl/cmd/daq-tdaq"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"

	"github.com/go-pcds/daqctl/daq"
	"github.com/go-pcds/daqctl/remote"
	"github.com/go-pcds/daqctl/sim"
)

func main() {
	cmd := flags.New()

	var ctl daq.Control
	switch addr := os.Getenv("DAQ_CTL_ADDR"); addr {
	case "":
		ctl = sim.NewControl()
	default:
		cli, err := remote.Dial(addr)
		if err != nil {
			log.Panicf("could not dial control service: %+v", err)
		}
		defer cli.Close()
		ctl = cli
	}

	dev := node{daq: daq.New(ctl)}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type node struct {
	daq *daq.Daq
}

func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	return dev.daq.Configure()
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	return dev.daq.Connect()
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.daq.Disconnect()
	return dev.daq.Connect()
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return dev.daq.BeginInfinite()
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	return dev.daq.EndRun()
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	dev.daq.Disconnect()
	return nil
}

func (dev *node) run(ctx tdaq.Context) error {
	<-ctx.Ctx.Done()
	return nil
}
