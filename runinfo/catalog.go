// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package runinfo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const host = "psdb"

var (
	usr = "daq_reader"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// Catalog exposes convenience methods to retrieve run bookkeeping from
// the facility's run catalog database.
type Catalog struct {
	db   *sql.DB
	name string // name of the run catalog database
}

// OpenCatalog opens a connection to the run catalog database dbname.
func OpenCatalog(dbname string) (*Catalog, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("runinfo: could not open %q db: %w", dbname, err)
	}

	if err := pingDB(db, dbname); err != nil {
		return nil, fmt.Errorf("runinfo: could not ping %q db: %w", dbname, err)
	}

	return &Catalog{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func pingDB(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("runinfo: could not ping %q db: %w", dbname, err)
	}
	return nil
}

// Close closes the connection to the run catalog.
func (cat *Catalog) Close() error {
	return cat.db.Close()
}

// LastRun returns the number of the last run recorded for the hutch.
func (cat *Catalog) LastRun(ctx context.Context, hutch string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var num int
	rows, err := cat.db.QueryContext(
		ctx,
		"SELECT num FROM runs WHERE hutch = ? ORDER BY begin_time DESC LIMIT 1",
		hutch,
	)
	if err != nil {
		return num, fmt.Errorf("runinfo: could not query last run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := rows.Scan(&num); err != nil {
			return num, fmt.Errorf("runinfo: could not get last run value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return num, fmt.Errorf("runinfo: could not scan db for last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return num, fmt.Errorf("runinfo: context error while retrieving last run: %w", err)
	}

	return num, nil
}

// RunExperiment returns the name of the experiment a run was taken for.
func (cat *Catalog) RunExperiment(ctx context.Context, hutch string, run int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var exp string
	rows, err := cat.db.QueryContext(
		ctx,
		"SELECT experiment FROM runs WHERE hutch = ? AND num = ? LIMIT 1",
		hutch, run,
	)
	if err != nil {
		return exp, fmt.Errorf("runinfo: could not query experiment: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := rows.Scan(&exp); err != nil {
			return exp, fmt.Errorf("runinfo: could not get experiment value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return exp, fmt.Errorf("runinfo: could not scan db for experiment: %w", err)
	}

	return exp, nil
}
