// SPDX-License-Identifier: MPL-2.0

// Package execmode defines the execution-mode policy attached to every call
// descriptor: which domain the call must run in, whether the caller needs a
// real-time binding, and how the dispatcher retries and restarts it.
package execmode

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// Individual flags. Values match the historical bit layout so that modes
// printed in hex stay comparable with older traces.
const (
	// RunInRelaxed requires the call to run in the relaxed domain.
	RunInRelaxed Flags = 1 << iota
	// RunInControl requires the call to run in the control domain.
	RunInControl
	// RequiresBinding requires the caller to own a thread control block.
	RequiresBinding
	// SwitchBack returns the caller to its original domain after the call.
	SwitchBack
	// RunInCurrent runs the call wherever the caller currently is.
	RunInCurrent
	// Conforming resolves to RunInControl for bound callers, RunInRelaxed
	// otherwise.
	Conforming
	// Adaptive retries once in the opposite domain on StatusNotSupported.
	Adaptive
	// NoTransparentRestart reports signal interruption instead of restarting.
	NoTransparentRestart
	// OneWay documents calls that never return to their call site.
	OneWay

	flagLimit
)

// Named compositions used by the call table.
const (
	// Init is the mode of calls that create bindings.
	Init = RunInRelaxed
	// Relaxed runs in the relaxed domain, bound or not.
	Relaxed = RunInRelaxed
	// Control runs in the control domain, bound or not.
	Control = RunInControl
	// Current runs where the caller is.
	Current = RunInCurrent
	// Primary is a bound call in the control domain.
	Primary = RequiresBinding | RunInControl
	// Secondary is a bound call in the relaxed domain.
	Secondary = RequiresBinding | RunInRelaxed
	// DownUp runs relaxed and switches back afterwards.
	DownUp = RunInRelaxed | SwitchBack
	// NonRestartable is Primary without transparent restart.
	NonRestartable = Primary | NoTransparentRestart
	// Probing picks the caller's natural domain and falls back once.
	Probing = Conforming | Adaptive
	// OneWayTrap is the mode of the emergency domain-drop trap.
	OneWayTrap = OneWay | NoTransparentRestart

	domainMask = RunInRelaxed | RunInControl
	validMask  = flagLimit - 1
)

var (
	// ErrInvalidFlags is the sentinel error wrapped by InvalidFlagsError.
	ErrInvalidFlags = errors.New("invalid execution mode")
	// ErrUnknownMode is returned by Parse for names it does not know.
	ErrUnknownMode = errors.New("unknown execution mode")
)

type (
	// Flags is a bitset of execution-mode flags.
	Flags uint16

	// InvalidFlagsError is returned when a mode is internally inconsistent.
	// It wraps ErrInvalidFlags for errors.Is() compatibility.
	InvalidFlagsError struct {
		Value  Flags
		Reason string
	}
)

var flagNames = [...]struct {
	flag Flags
	name string
}{
	{RunInRelaxed, "relaxed"},
	{RunInControl, "control"},
	{RequiresBinding, "binding"},
	{SwitchBack, "switchback"},
	{RunInCurrent, "current"},
	{Conforming, "conforming"},
	{Adaptive, "adaptive"},
	{NoTransparentRestart, "norestart"},
	{OneWay, "oneway"},
}

// composites is ordered so that the first exact match wins; Init and
// Relaxed share a value and "relaxed" is the preferred spelling.
var composites = [...]struct {
	mode Flags
	name string
}{
	{0, "none"},
	{Relaxed, "relaxed"},
	{Control, "control"},
	{Current, "current"},
	{Primary, "primary"},
	{Secondary, "secondary"},
	{DownUp, "downup"},
	{NonRestartable, "nonrestartable"},
	{Probing, "probing"},
	{OneWayTrap, "oneway"},
	{Init, "init"},
}

// Has reports whether every flag of want is set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Any reports whether at least one flag of want is set.
func (f Flags) Any(want Flags) bool { return f&want != 0 }

// Resolve returns the effective mode for a caller: Conforming becomes
// RunInControl when the caller has a thread binding and RunInRelaxed
// otherwise, and is cleared. The receiver is left untouched.
func (f Flags) Resolve(hasThread bool) Flags {
	if !f.Has(Conforming) {
		return f
	}
	f &^= Conforming
	if hasThread {
		return f | RunInControl
	}
	return f | RunInRelaxed
}

// Flip swaps the requested domain and consumes Adaptive, so that a flipped
// mode can never be flipped again.
func (f Flags) Flip() Flags {
	return f ^ (RunInRelaxed | RunInControl | Adaptive)
}

// Validate checks that the mode is one the dispatcher can execute.
func (f Flags) Validate() error {
	if f&^validMask != 0 {
		return &InvalidFlagsError{Value: f, Reason: "unknown bits set"}
	}
	if f.Has(domainMask) {
		return &InvalidFlagsError{Value: f, Reason: "both domains requested"}
	}
	if f.Has(Conforming) && f.Any(domainMask|RunInCurrent) {
		return &InvalidFlagsError{Value: f, Reason: "conforming mode also names a domain"}
	}
	if f.Has(Adaptive) && !f.Has(Conforming) && bits.OnesCount16(uint16(f&domainMask)) != 1 {
		return &InvalidFlagsError{Value: f, Reason: "adaptive mode needs exactly one domain to flip"}
	}
	return nil
}

// Name returns the composite name matching f exactly, or "".
func (f Flags) Name() string {
	for _, c := range composites {
		if c.mode == f {
			return c.name
		}
	}
	return ""
}

// String renders the set flags joined by '|'.
func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
		}
	}
	if rest := f &^ validMask; rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint16(rest)))
	}
	return strings.Join(parts, "|")
}

// Parse accepts a composite name ("primary") or '|'-separated flag names
// ("relaxed|switchback").
func Parse(raw string) (Flags, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, c := range composites {
		if c.name == s {
			return c.mode, nil
		}
	}
	var f Flags
	for part := range strings.SplitSeq(s, "|") {
		part = strings.TrimSpace(part)
		found := false
		for _, fn := range flagNames {
			if fn.name == part {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: %q", ErrUnknownMode, raw)
		}
	}
	return f, nil
}

// Error implements the error interface for InvalidFlagsError.
func (e *InvalidFlagsError) Error() string {
	return fmt.Sprintf("invalid execution mode %s (%#x): %s", e.Value, uint16(e.Value), e.Reason)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidFlagsError) Unwrap() error {
	return ErrInvalidFlags
}
