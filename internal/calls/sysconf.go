// SPDX-License-Identifier: MPL-2.0

package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/invowk/cokernel/internal/systab"
	"github.com/invowk/cokernel/pkg/abi"
)

// Sysconf option codes.
const (
	ConfVersion = iota
	ConfNrPipes
	ConfNrTimers
	ConfPolicies
	ConfDebug
	ConfWatchdog
)

// VersionCode is the co-kernel version reported by sysconf, encoded as
// major<<16 | minor<<8 | revision.
const VersionCode = 3<<16 | 2<<8 | 0

// ErrUnknownName is returned when a policy or debug option name is unknown.
var ErrUnknownName = errors.New("unknown name")

var (
	policyBits = []string{"fifo", "rr", "weak", "sporadic", "quota", "tp"}
	debugBits  = []string{"assert", "context", "locking", "user", "relax"}
)

// Sysconf holds the values reported by the configuration queries.
type Sysconf struct {
	ClockFreq       uint64
	NrPipes         int
	NrTimers        int
	WatchdogTimeout int
	Policies        uint32
	Debug           uint32
}

// PolicyMask converts scheduling policy names into the sysconf bitmask.
func PolicyMask(names []string) (uint32, error) { return mask(policyBits, names) }

// DebugMask converts debug option names into the sysconf bitmask.
func DebugMask(names []string) (uint32, error) { return mask(debugBits, names) }

func mask(bits, names []string) (uint32, error) {
	var m uint32
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		found := false
		for i, b := range bits {
			if b == n {
				m |= 1 << i
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q (expected one of %s)", ErrUnknownName, name, strings.Join(bits, ", "))
		}
	}
	return m, nil
}

func (c *core) sysconf(_ context.Context, req *systab.Request) abi.Status {
	switch req.Args[0] {
	case ConfVersion:
		return VersionCode
	case ConfNrPipes:
		return abi.Status(c.Sysconf.NrPipes)
	case ConfNrTimers:
		return abi.Status(c.Sysconf.NrTimers)
	case ConfPolicies:
		return abi.Status(c.Sysconf.Policies)
	case ConfDebug:
		return abi.Status(c.Sysconf.Debug)
	case ConfWatchdog:
		return abi.Status(c.Sysconf.WatchdogTimeout)
	default:
		return abi.StatusInvalid
	}
}

func (c *core) sysctl(context.Context, *systab.Request) abi.Status {
	return abi.StatusInvalid
}
