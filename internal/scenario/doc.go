// SPDX-License-Identifier: MPL-2.0

// Package scenario loads CUE scenario files and replays them through the
// dispatch engine against the simulated co-kernel.
//
// A scenario declares threads, optional scripted handlers and a list of
// steps. Each step issues one call (or one host syscall frame) from one
// thread, may inject events before the call or while its handler runs, and
// states the expected status, disposition, final domain and handler trace.
// Run reports every unmet expectation instead of stopping at the first.
package scenario
