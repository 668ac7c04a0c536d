// SPDX-License-Identifier: MPL-2.0

// Package logging builds the charmbracelet/log loggers shared by the
// dispatcher, the call handlers and the CLI.
package logging
