// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the CLI commands for cokernel.
//
// The commands drive the dispatch engine against the simulated co-kernel:
// listing the call table, explaining call statuses, replaying scenario
// files and stress-testing domain switches.
package cmd
