// SPDX-License-Identifier: MPL-2.0

// Package abi defines the call frame seen by the dispatch engine and the
// status values written back to callers.
//
// The engine never touches registers directly: it decodes a call id and five
// argument words through Frame and encodes exactly one result word. Regs is
// the reference frame used by the simulator, the CLI and the tests.
package abi
