// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// EnvLevel overrides the configured level when set.
const EnvLevel = "COKERNEL_LOG_LEVEL"

// ErrInvalidLevel is the sentinel wrapped by InvalidLevelError.
var ErrInvalidLevel = errors.New("invalid log level")

type (
	// InvalidLevelError is returned when a level name is not recognized.
	InvalidLevelError struct {
		Value string
	}

	// Options configures a logger.
	Options struct {
		// Level is a level name accepted by ParseLevel. Empty means info.
		Level string
		// Prefix is printed before every message.
		Prefix string
		// Timestamp enables the time column.
		Timestamp bool
		// Writer receives the output. Nil means os.Stderr.
		Writer io.Writer
		// IgnoreEnv disables the EnvLevel override.
		IgnoreEnv bool
	}
)

// Error implements the error interface for InvalidLevelError.
func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (expected trace, debug, info, warn, error or fatal)", e.Value)
}

// Unwrap returns ErrInvalidLevel for errors.Is() compatibility.
func (e *InvalidLevelError) Unwrap() error { return ErrInvalidLevel }

// ParseLevel maps a level name to a log.Level. Names are case-insensitive
// and the usual aliases are accepted: trace maps to debug, warning to
// warn and err to error.
func ParseLevel(name string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "debug":
		return log.DebugLevel, nil
	case "", "info":
		return log.InfoLevel, nil
	case "warn", "warning":
		return log.WarnLevel, nil
	case "error", "err":
		return log.ErrorLevel, nil
	case "fatal":
		return log.FatalLevel, nil
	default:
		return log.InfoLevel, &InvalidLevelError{Value: name}
	}
}

// New builds a logger from opts. The EnvLevel variable, when set and
// valid, takes precedence over opts.Level.
func New(opts Options) (*log.Logger, error) {
	name := opts.Level
	if !opts.IgnoreEnv {
		if env, ok := os.LookupEnv(EnvLevel); ok && env != "" {
			name = env
		}
	}
	level, err := ParseLevel(name)
	if err != nil {
		return nil, err
	}

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.Timestamp,
		TimeFormat:      time.TimeOnly,
	}), nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
