// SPDX-License-Identifier: MPL-2.0

// Package systab holds the call descriptor table: the static mapping from
// call id to handler and execution mode.
//
// The table is dense. Every slot starts bound to a placeholder answering
// abi.StatusNotImplemented, then registered handlers are overlaid by a Builder.
// Once built, a Table never changes and may be read concurrently without
// synchronization.
package systab

import (
	"context"
	"errors"
	"fmt"

	"github.com/invowk/cokernel/internal/execmode"
	"github.com/invowk/cokernel/internal/rtthread"
	"github.com/invowk/cokernel/pkg/abi"
)

var (
	// ErrUnknownCall is returned when a call name or id cannot be resolved.
	ErrUnknownCall = errors.New("unknown call")
	// ErrCallOutOfRange is returned when registering outside [0, NrCalls).
	ErrCallOutOfRange = errors.New("call id out of range")
	// ErrDuplicateHandler is returned when a slot is registered twice.
	ErrDuplicateHandler = errors.New("duplicate handler")
)

type (
	// Request is what a handler sees of the call it serves.
	Request struct {
		ID      abi.CallID
		Args    abi.Args
		Frame   abi.Frame
		Thread  *rtthread.Thread
		Process *rtthread.Process
	}

	// Handler serves one call and returns its status.
	Handler func(ctx context.Context, req *Request) abi.Status

	// Descriptor binds a call id to its handler and execution mode.
	Descriptor struct {
		ID      abi.CallID
		Name    string
		Handler Handler
		Mode    execmode.Flags
		// Bound is false for slots still served by the placeholder.
		Bound bool
	}

	// Table is the immutable call descriptor table.
	Table struct {
		entries [NrCalls]Descriptor
	}

	// Builder accumulates handler registrations before building a Table.
	Builder struct {
		handlers map[abi.CallID]Handler
		modes    map[abi.CallID]execmode.Flags
		errs     []error
	}
)

// NotImplemented is the placeholder bound to every slot without a handler.
func NotImplemented(context.Context, *Request) abi.Status {
	return abi.StatusNotImplemented
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		handlers: make(map[abi.CallID]Handler),
		modes:    make(map[abi.CallID]execmode.Flags),
	}
}

// Register binds h to id. Errors are collected and reported by Build.
func (b *Builder) Register(id abi.CallID, h Handler) *Builder {
	switch {
	case id < 0 || id >= NrCalls:
		b.errs = append(b.errs, fmt.Errorf("register %s: %w", CallName(id), ErrCallOutOfRange))
	case h == nil:
		b.errs = append(b.errs, fmt.Errorf("register %s: nil handler", CallName(id)))
	case b.handlers[id] != nil:
		b.errs = append(b.errs, fmt.Errorf("register %s: %w", CallName(id), ErrDuplicateHandler))
	default:
		b.handlers[id] = h
	}
	return b
}

// RegisterWithMode binds h to an id that has no well-known mode, such as a
// vendor extension slot. Well-known calls keep their static mode.
func (b *Builder) RegisterWithMode(id abi.CallID, mode execmode.Flags, h Handler) *Builder {
	if id >= 0 && id < numKnownCalls {
		b.errs = append(b.errs, fmt.Errorf("register %s: mode of a well-known call is fixed", CallName(id)))
		return b
	}
	b.modes[id] = mode
	return b.Register(id, h)
}

// Build validates the registrations and returns the table.
func (b *Builder) Build() (*Table, error) {
	t := &Table{}
	for i := range t.entries {
		id := abi.CallID(i)
		d := Descriptor{ID: id, Name: CallName(id), Handler: NotImplemented}
		if id < numKnownCalls {
			d.Mode = known[id].mode
		}
		if m, ok := b.modes[id]; ok {
			d.Mode = m
		}
		if h, ok := b.handlers[id]; ok {
			d.Handler = h
			d.Bound = true
		}
		if err := d.Mode.Validate(); err != nil {
			b.errs = append(b.errs, fmt.Errorf("descriptor %s: %w", d.Name, err))
		}
		t.entries[i] = d
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}
	return t, nil
}

// InRange reports whether id designates a table slot.
func (t *Table) InRange(id abi.CallID) bool { return id >= 0 && id < NrCalls }

// Lookup returns the descriptor of id. The caller must check InRange first.
func (t *Table) Lookup(id abi.CallID) Descriptor { return t.entries[id] }

// Len returns the number of slots.
func (t *Table) Len() int { return NrCalls }

// Descriptors returns a copy of every descriptor, bound or not, in id order.
func (t *Table) Descriptors() []Descriptor {
	out := make([]Descriptor, NrCalls)
	copy(out, t.entries[:])
	return out
}

// Known returns the descriptors of well-known calls and of extension slots
// that have a handler.
func (t *Table) Known() []Descriptor {
	var out []Descriptor
	for _, d := range t.entries {
		if d.ID < numKnownCalls || d.Bound {
			out = append(out, d)
		}
	}
	return out
}
