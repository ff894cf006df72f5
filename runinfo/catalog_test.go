// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package runinfo

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/go-pcds/daqctl/internal/fakedb"
)

func init() {
	drvName = "fakedb"
}

func TestOpenCatalog(t *testing.T) {
	cat, err := OpenCatalog("fakedb")
	if err != nil {
		t.Fatalf("could not open catalog: %+v", err)
	}
	defer cat.Close()
}

func TestLastRun(t *testing.T) {
	cat, err := OpenCatalog("fakedb")
	if err != nil {
		t.Fatalf("could not open catalog: %+v", err)
	}
	defer cat.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"num"},
		Values: [][]driver.Value{
			{int64(412)},
		},
	}, func(ctx context.Context) error {
		run, err := cat.LastRun(ctx, "xpp")
		if err != nil {
			t.Fatalf("could not retrieve last run: %+v", err)
		}

		if got, want := run, 412; got != want {
			t.Fatalf("invalid last run: got=%d, want=%d", got, want)
		}
		return nil
	})
}

func TestRunExperiment(t *testing.T) {
	cat, err := OpenCatalog("fakedb")
	if err != nil {
		t.Fatalf("could not open catalog: %+v", err)
	}
	defer cat.Close()

	_ = fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"experiment"},
		Values: [][]driver.Value{
			{"xppx1003"},
		},
	}, func(ctx context.Context) error {
		exp, err := cat.RunExperiment(ctx, "xpp", 412)
		if err != nil {
			t.Fatalf("could not retrieve experiment: %+v", err)
		}

		if got, want := exp, "xppx1003"; got != want {
			t.Fatalf("invalid experiment: got=%q, want=%q", got, want)
		}
		return nil
	})
}
