// SPDX-License-Identifier: MPL-2.0

package abi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Linux errno values used by the call ABI. They are fixed by the wire
// format, so they are spelled out rather than taken from the host's errno
// table (which differs across platforms).
const (
	errnoEPERM      = 1
	errnoEINTR      = 4
	errnoENOEXEC    = 8
	errnoEAGAIN     = 11
	errnoEFAULT     = 14
	errnoEINVAL     = 22
	errnoENOSYS     = 38
	errnoEOPNOTSUPP = 95
	errnoECANCELED  = 125
	// errnoERESTARTSYS never reaches a well-behaved caller: the host turns it
	// into a transparent restart of the call.
	errnoERESTARTSYS = 512
)

// Named call statuses.
const (
	// StatusOK is the plain success value.
	StatusOK Status = 0
	// StatusPermissionDenied is returned when the caller lacks the required
	// privilege or binding.
	StatusPermissionDenied Status = -errnoEPERM
	// StatusInterrupted reports a call interrupted by a host signal that must
	// not be restarted.
	StatusInterrupted Status = -errnoEINTR
	// StatusNoExec is returned by feature negotiation on ABI mismatch.
	StatusNoExec Status = -errnoENOEXEC
	// StatusMigrationFailed is the fallback status of a failed harden.
	StatusMigrationFailed Status = -errnoEAGAIN
	// StatusFault reports an invalid argument address.
	StatusFault Status = -errnoEFAULT
	// StatusInvalid reports an invalid argument value.
	StatusInvalid Status = -errnoEINVAL
	// StatusNotImplemented is answered for call ids outside the table and
	// for slots without a handler.
	StatusNotImplemented Status = -errnoENOSYS
	// StatusNotSupported is returned by a handler declining to run in the
	// current domain.
	StatusNotSupported Status = -errnoEOPNOTSUPP
	// StatusCancelled is written when cooperative cancellation took over.
	StatusCancelled Status = -errnoECANCELED
	// StatusRestart asks the host to transparently restart the call.
	StatusRestart Status = -errnoERESTARTSYS
)

// ErrInvalidStatus is the sentinel error wrapped by InvalidStatusError.
var ErrInvalidStatus = errors.New("invalid status")

type (
	// Status is the value a call leaves in the result word: a negated errno
	// on failure, a non-negative value on success.
	Status int64

	// StatusError carries a call status through Go error returns, e.g. from
	// a migration primitive. It wraps the sentinel registered for the
	// status when there is one.
	StatusError struct {
		Status Status
		Op     string
	}

	// InvalidStatusError is returned by ParseStatus for unknown names.
	// It wraps ErrInvalidStatus for errors.Is() compatibility.
	InvalidStatusError struct {
		Value string
	}
)

var statusNames = map[Status]string{
	StatusOK:               "OK",
	StatusPermissionDenied: "EPERM",
	StatusInterrupted:      "EINTR",
	StatusNoExec:           "ENOEXEC",
	StatusMigrationFailed:  "EAGAIN",
	StatusFault:            "EFAULT",
	StatusInvalid:          "EINVAL",
	StatusNotImplemented:   "ENOSYS",
	StatusNotSupported:     "EOPNOTSUPP",
	StatusCancelled:        "ECANCELED",
	StatusRestart:          "ERESTARTSYS",
}

// IsError reports whether the status denotes a failure.
func (s Status) IsError() bool { return s < 0 }

// Errno returns the positive errno of a failure status, or 0.
func (s Status) Errno() int {
	if s >= 0 {
		return 0
	}
	return int(-s)
}

// String renders errno names for known failures and the plain value
// otherwise.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	if s < 0 {
		return fmt.Sprintf("errno(%d)", -s)
	}
	return strconv.FormatInt(int64(s), 10)
}

// Err converts a failure status into an error; success yields nil.
func (s Status) Err() error {
	if !s.IsError() {
		return nil
	}
	return &StatusError{Status: s}
}

// ParseStatus accepts an errno name ("EPERM"), "ok", or a decimal value.
func ParseStatus(raw string) (Status, error) {
	trimmed := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Status(n), nil
	}
	upper := strings.ToUpper(trimmed)
	for st, name := range statusNames {
		if name == upper {
			return st, nil
		}
	}
	return 0, &InvalidStatusError{Value: raw}
}

// StatusFromError maps an error returned by a collaborator to the status
// written into the call frame.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) && se.Status.IsError() {
		return se.Status
	}
	return StatusMigrationFailed
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	}
	return e.Status.String()
}

// Is matches two StatusErrors carrying the same status.
func (e *StatusError) Is(target error) bool {
	var other *StatusError
	if errors.As(target, &other) {
		return other.Status == e.Status
	}
	return false
}

// Error implements the error interface for InvalidStatusError.
func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %q (expected an errno name, \"ok\" or an integer)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidStatusError) Unwrap() error {
	return ErrInvalidStatus
}
