// SPDX-License-Identifier: MPL-2.0

// Package config loads the cokernel configuration using Viper with CUE as
// the file format.
//
// The file lives at $XDG_CONFIG_HOME/cokernel/config.cue on Linux,
// ~/Library/Application Support/cokernel/config.cue on macOS and
// %APPDATA%\cokernel\config.cue on Windows; a config.cue in the working
// directory is used when the per-user file is absent. The file is
// validated against the embedded schema (config_schema.cue) before being
// merged over the defaults, then checked once more with Config.IsValid for
// rules CUE cannot express.
package config
