// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runinfo looks up facility run bookkeeping: the hutch this
// session runs in, run numbers and the statistics service endpoint. The
// lookups shell out to the facility's deployed scripts and query its run
// catalog database.
package runinfo // import "github.com/go-pcds/daqctl/runinfo"

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	cnfPath     = "/reg/g/pcds/dist/pds/%s/scripts/%s.cnf"
	scriptsPath = "/reg/g/pcds/engineering_tools/%s/scripts/%s"
	toolsPath   = "/reg/g/pcds/dist/pds/tools/%s/%s"
)

// Scripts runs the facility's deployed lookup scripts. The zero value
// uses the default deployment paths and timeouts.
type Scripts struct {
	// Root overrides the script deployment root, for tests.
	Root string
	// Timeout bounds each script call. Zero means 5 seconds.
	Timeout time.Duration
}

func (s *Scripts) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 5 * time.Second
}

func (s *Scripts) path(format, dir, name string) string {
	p := fmt.Sprintf(format, dir, name)
	if s.Root != "" {
		p = s.Root + p
	}
	return p
}

func (s *Scripts) run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fmt.Errorf("runinfo: could not run %s: %w", name, err)
	}
	return string(out), nil
}

// HutchName returns the name of the hutch this session runs in,
// lowercase.
func (s *Scripts) HutchName(ctx context.Context) (string, error) {
	script := s.path(scriptsPath, "latest", "get_hutch_name")
	out, err := s.run(ctx, script)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(out)), nil
}

// RunNumber returns the latest run number of the hutch. With live set,
// it returns the number of the currently open run instead of the last
// closed one. An empty hutch means "the hutch this host belongs to".
func (s *Scripts) RunNumber(ctx context.Context, hutch string, live bool) (int, error) {
	dir := hutch
	if dir == "" {
		dir = "latest"
	}
	script := s.path(scriptsPath, dir, "get_lastRun")
	var args []string
	if hutch != "" {
		args = append(args, "-i", hutch)
	}
	if live {
		args = append(args, "-l")
	}
	out, err := s.run(ctx, script, args...)
	if err != nil {
		return 0, err
	}
	num, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("runinfo: could not parse run number %q: %w", out, err)
	}
	return num, nil
}

var (
	amiProxyRe = regexp.MustCompile(`ami_proxy.*-s\s+(\d+\.\d+\.\d+\.\d+)`)
	domainRe   = regexp.MustCompile(`\.pcdsn\.?$`)
)

// AmiProxy returns the host name of the hutch's statistics service,
// resolved from the process manager status of the ami_proxy process.
func (s *Scripts) AmiProxy(ctx context.Context, hutch string) (string, error) {
	hutch = strings.ToLower(hutch)
	cnf := s.path(cnfPath, hutch, hutch)
	procmgr := s.path(toolsPath, "procmgr", "procmgr")

	// procmgr exits non-zero when some processes are down; the status
	// listing is still usable.
	ctxRun, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()
	out, err := exec.CommandContext(ctxRun, procmgr, "status", cnf, "ami_proxy").Output()
	if len(out) == 0 && err != nil {
		return "", fmt.Errorf("runinfo: could not run procmgr: %w", err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		m := amiProxyRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		hosts, err := net.DefaultResolver.LookupAddr(ctx, m[1])
		if err != nil || len(hosts) == 0 {
			return "", fmt.Errorf("runinfo: could not resolve proxy %s: %w", m[1], err)
		}
		return domainRe.ReplaceAllString(strings.TrimSuffix(hosts[0], "."), ""), nil
	}
	return "", fmt.Errorf("runinfo: no ami_proxy found for hutch %q", hutch)
}
