// Copyright 2023 The go-pcds Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ami

import (
	"fmt"
	"strings"
	"sync"
)

// bykikCode is the event code of the beam-kill event.
const bykikCode = 162

var (
	regMu   sync.Mutex
	proxy   Proxy
	monitor *Det
)

// RegisterProxy installs the process-wide statistics service. It is
// called once at start-up, before any detector is created with Default.
func RegisterProxy(p Proxy) {
	regMu.Lock()
	defer regMu.Unlock()
	proxy = p
}

// DefaultProxy returns the process-wide statistics service, or nil when
// none has been registered.
func DefaultProxy() Proxy {
	regMu.Lock()
	defer regMu.Unlock()
	return proxy
}

// SetMonitor designates a detector as the beam-presence monitor. Filter
// helpers normalize against it.
func SetMonitor(det *Det) {
	regMu.Lock()
	defer regMu.Unlock()
	monitor = det
}

// Monitor returns the beam-presence monitor detector, or nil.
func Monitor() *Det {
	regMu.Lock()
	defer regMu.Unlock()
	return monitor
}

// Range bounds one scalar in a filter expression.
type Range struct {
	Name string
	Low  float64
	High float64
}

// FilterString builds a filter expression from scalar ranges and event
// codes, joined with the given operator ("AND" or "OR"). When orBykik is
// set, the beam-kill event code is accepted regardless of the other
// terms, so beam-off calibration events still pass.
func FilterString(op string, ranges []Range, eventCodes []int, orBykik bool) (string, error) {
	switch op {
	case "AND", "OR":
	default:
		return "", fmt.Errorf("ami: invalid filter operator %q", op)
	}

	var terms []string
	for _, r := range ranges {
		if r.Low >= r.High {
			return "", fmt.Errorf(
				"ami: invalid filter range for %q: low %v >= high %v",
				r.Name, r.Low, r.High,
			)
		}
		terms = append(terms, fmt.Sprintf("%v<%s<%v", r.Low, r.Name, r.High))
	}
	for _, code := range eventCodes {
		terms = append(terms, fmt.Sprintf("evr_code_%d>0", code))
	}
	if len(terms) == 0 {
		return "", fmt.Errorf("ami: empty filter")
	}

	expr := strings.Join(terms, " "+op+" ")
	if orBykik {
		expr = fmt.Sprintf("(%s) OR evr_code_%d>0", expr, bykikCode)
	}
	return expr, nil
}

// SetFilter builds a filter expression and installs it as the level-3
// trigger filter on the process-wide statistics service.
func SetFilter(op string, ranges []Range, eventCodes []int, orBykik bool) error {
	p := DefaultProxy()
	if p == nil {
		return fmt.Errorf("ami: no statistics service registered")
	}
	expr, err := FilterString(op, ranges, eventCodes, orBykik)
	if err != nil {
		return err
	}
	return p.SetFilter(expr)
}
