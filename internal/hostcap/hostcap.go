// SPDX-License-Identifier: MPL-2.0

// Package hostcap answers the real-time privilege question from the
// capabilities of the running process.
package hostcap

import (
	"context"
	"sync"
)

// Probe reports whether this process may use real-time scheduling. The
// host is queried once; the answer is cached.
type Probe struct {
	once   sync.Once
	result bool
	err    error

	check func() (bool, error)
}

// New returns a Probe backed by the host capability check.
func New() *Probe {
	return &Probe{check: realtimeCapable}
}

// Check runs the host query (once) and returns its outcome.
func (p *Probe) Check() (bool, error) {
	p.once.Do(func() {
		p.result, p.err = p.check()
	})
	return p.result, p.err
}

// HasRealtimePrivilege implements dispatch.Privileges. A failed query
// counts as no privilege.
func (p *Probe) HasRealtimePrivilege(context.Context) bool {
	ok, err := p.Check()
	return err == nil && ok
}
