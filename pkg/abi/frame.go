// SPDX-License-Identifier: MPL-2.0

package abi

import "fmt"

const (
	// CallBit marks the call word of a frame issued to this subsystem.
	// Frames without it belong to the host and fall through untouched. It
	// sits above the 32-bit id field so that no id can alias another.
	CallBit uint64 = 1 << 32

	// NumArgs is the number of argument words carried by a frame.
	NumArgs = 5
)

const (
	// Width64 is the native 64-bit calling convention.
	Width64 Width = 64
	// Width32 is a 32-bit caller on a 64-bit host; results are sign-extended
	// from 32 bits.
	Width32 Width = 32
)

type (
	// CallID identifies an entry of the call descriptor table.
	CallID int32

	// Args holds the decoded argument words of a call.
	Args [NumArgs]uint64

	// Width is the word width of the caller's ABI.
	Width uint8

	// Frame is the architecture-neutral view of a trapped call.
	Frame interface {
		// IsCall reports whether the frame is a call of this subsystem, as
		// opposed to a host call that must fall through.
		IsCall() bool
		// CallID returns the decoded call id. Only meaningful if IsCall.
		CallID() CallID
		// Args returns the five decoded argument words.
		Args() Args
		// Status decodes the result word.
		Status() Status
		// SetStatus encodes st into the result word.
		SetStatus(st Status)
	}

	// ControlTransfer is implemented by frames whose return site can be
	// rewritten by a handler.
	ControlTransfer interface {
		IP() uint64
		SetIP(ip uint64)
		// SetResultWord stores a raw result word, bypassing status encoding.
		SetResultWord(w uint64)
	}

	// Regs is the reference register frame. Its layout mirrors a trapped
	// syscall on a 64-bit host: the call word, five argument registers, the
	// result register and the instruction pointer.
	Regs struct {
		Orig  uint64
		Arg   Args
		Ret   uint64
		PC    uint64
		Width Width
	}
)

// NewCall builds a frame for call id with up to five arguments.
func NewCall(id CallID, args ...uint64) *Regs {
	r := &Regs{Orig: CallBit | uint64(uint32(id)), Width: Width64}
	copy(r.Arg[:], args)
	return r
}

// NewHostCall builds a frame for a host call number.
func NewHostCall(nr uint64, args ...uint64) *Regs {
	r := &Regs{Orig: nr &^ CallBit, Width: Width64}
	copy(r.Arg[:], args)
	return r
}

// IsCall reports whether the call word carries CallBit.
func (r *Regs) IsCall() bool { return r.Orig&CallBit != 0 }

// CallID returns the 32-bit id field of the call word.
func (r *Regs) CallID() CallID { return CallID(int32(uint32(r.Orig &^ CallBit))) }

// Args returns the argument words, truncated to 32 bits for 32-bit callers.
func (r *Regs) Args() Args {
	if r.Width != Width32 {
		return r.Arg
	}
	var a Args
	for i, w := range r.Arg {
		a[i] = uint64(uint32(w))
	}
	return a
}

// Status decodes the result word according to the caller's width.
func (r *Regs) Status() Status {
	if r.Width == Width32 {
		return Status(int32(uint32(r.Ret)))
	}
	return Status(int64(r.Ret))
}

// SetStatus encodes st in the caller's native representation.
func (r *Regs) SetStatus(st Status) {
	if r.Width == Width32 {
		r.Ret = uint64(uint32(int32(st)))
		return
	}
	r.Ret = uint64(int64(st))
}

// IP returns the return address.
func (r *Regs) IP() uint64 { return r.PC }

// SetIP rewrites the return address.
func (r *Regs) SetIP(ip uint64) { r.PC = ip }

// SetResultWord stores w verbatim.
func (r *Regs) SetResultWord(w uint64) { r.Ret = w }

// String formats the frame for logs.
func (r *Regs) String() string {
	if !r.IsCall() {
		return fmt.Sprintf("host(%d)", r.Orig)
	}
	return fmt.Sprintf("call(%d, %#x, %#x, %#x, %#x, %#x) = %s",
		r.CallID(), r.Arg[0], r.Arg[1], r.Arg[2], r.Arg[3], r.Arg[4], r.Status())
}
