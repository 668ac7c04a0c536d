// SPDX-License-Identifier: MPL-2.0

// Package features implements feature-set negotiation between a process and
// the co-kernel, performed once by the binding call before any other call is
// allowed.
package features

import (
	"errors"
	"fmt"
	"strings"
)

// Feature bits.
const (
	SMP Set = 1 << iota
	NoSMP
	FastSynch
	NoFastSynch
	Control
	PrioCeiling

	featureLimit
)

const (
	// Mandatory features must be matched exactly when requested.
	Mandatory = SMP | NoSMP | FastSynch | NoFastSynch
	// Default is the feature set supported out of the box.
	Default = SMP | FastSynch | Control | PrioCeiling
	// ABIRevision is the ABI revision implemented by this engine.
	ABIRevision = 18
)

var (
	// ErrMissingFeatures is returned when a requested mandatory feature is
	// not supported.
	ErrMissingFeatures = errors.New("mandatory features missing")
	// ErrABIMismatch is returned when the caller was built for another ABI
	// revision.
	ErrABIMismatch = errors.New("ABI revision mismatch")
	// ErrUnknownFeature is returned by ParseSet for unknown labels.
	ErrUnknownFeature = errors.New("unknown feature")
)

var labels = [...]string{"smp", "nosmp", "fastsynch", "nofastsynch", "control", "prioceiling"}

type (
	// Set is a bitmask of features.
	Set uint64

	// Info is the negotiation report handed back to the caller.
	Info struct {
		// All is every feature the co-kernel supports.
		All Set
		// Man is the mandatory subset of the request.
		Man Set
		// Mis is the mandatory subset of the request that is unsupported.
		Mis Set
		// Req is the raw request.
		Req Set
		// ABIRev is the co-kernel ABI revision.
		ABIRev int
	}
)

// String lists the feature labels separated by spaces.
func (s Set) String() string {
	var parts []string
	for i, label := range labels {
		if s&(1<<i) != 0 {
			parts = append(parts, label)
		}
	}
	if rest := s &^ (featureLimit - 1); rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint64(rest)))
	}
	return strings.Join(parts, " ")
}

// Has reports whether every feature of want is present.
func (s Set) Has(want Set) bool { return s&want == want }

// ParseSet builds a set from feature labels.
func ParseSet(names []string) (Set, error) {
	var s Set
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		found := false
		for i, label := range labels {
			if label == n {
				s |= 1 << i
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
		}
	}
	return s, nil
}

// Offer is what the co-kernel puts on the table for negotiation.
type Offer struct {
	Supported Set
	ABIRev    int
}

// Negotiate checks a binding request against the supported set at the
// built-in ABI revision. The report is always filled in, even when an
// error is returned, so callers can tell what was missing.
func Negotiate(supported, req Set, abiRev int) (Info, error) {
	return Offer{Supported: supported, ABIRev: ABIRevision}.Negotiate(req, abiRev)
}

// Negotiate checks a binding request issued at revision abiRev.
// Missing mandatory features are reported before an ABI mismatch.
func (o Offer) Negotiate(req Set, abiRev int) (Info, error) {
	man := req & Mandatory
	info := Info{
		All:    o.Supported,
		Man:    man,
		Mis:    man &^ o.Supported,
		Req:    req,
		ABIRev: o.ABIRev,
	}
	if info.Mis != 0 {
		return info, fmt.Errorf("%w: %s", ErrMissingFeatures, info.Mis)
	}
	if abiRev != o.ABIRev {
		return info, fmt.Errorf("%w: caller %d, co-kernel %d", ErrABIMismatch, abiRev, o.ABIRev)
	}
	return info, nil
}
