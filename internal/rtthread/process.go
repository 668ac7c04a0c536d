// SPDX-License-Identifier: MPL-2.0

package rtthread

import "github.com/invowk/cokernel/internal/features"

// Process is the per-address-space binding created by a successful feature
// negotiation. It is immutable once published.
type Process struct {
	pid      int
	features features.Info
}

// NewProcess creates a binding for pid with the negotiated features.
func NewProcess(pid int, info features.Info) *Process {
	return &Process{pid: pid, features: info}
}

// PID returns the host process id.
func (p *Process) PID() int { return p.pid }

// Features returns the negotiation report the binding was created with.
func (p *Process) Features() features.Info { return p.features }
