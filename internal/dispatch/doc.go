// SPDX-License-Identifier: MPL-2.0

// Package dispatch implements the dual-domain call dispatcher.
//
// Every call issued by an application thread is routed to the domain able
// to serve it. The control domain offers bounded latency but no host
// facilities; the relaxed domain runs under host scheduling and may block.
// The engine reads the execution mode of the call from the descriptor
// table, migrates the caller when the mode requires it, retries adaptive
// calls once in the opposite domain, and interposes on pending signals and
// cancellation before switching the caller back.
//
// Two entry points mirror the two interrupt stages of a real pipeline:
// HandleControl sees every frame first, HandleRelaxed sees what the control
// stage propagated. Both run the same state machine parameterized by their
// home domain. Dispatch chains them.
//
// The engine owns no thread state. Migration, binding lookup, privilege,
// signal and cancellation services are collaborators supplied by the
// embedding co-kernel (see package sim for an in-process one).
package dispatch
