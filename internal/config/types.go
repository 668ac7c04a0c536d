// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"

	"github.com/invowk/cokernel/internal/calls"
	"github.com/invowk/cokernel/internal/features"
	"github.com/invowk/cokernel/internal/logging"
)

const (
	// PrivilegeThread grants privilege per simulated thread.
	PrivilegeThread PrivilegeMode = "thread"
	// PrivilegeHost derives privilege from the capabilities of this process.
	PrivilegeHost PrivilegeMode = "host"
	// PrivilegeGranted treats every caller as privileged.
	PrivilegeGranted PrivilegeMode = "granted"
	// PrivilegeDenied treats every caller as unprivileged.
	PrivilegeDenied PrivilegeMode = "denied"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidPrivilegeMode is returned when a PrivilegeMode value is not recognized.
	ErrInvalidPrivilegeMode = errors.New("invalid privilege mode")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidFeaturesConfig is the sentinel error wrapped by InvalidFeaturesConfigError.
	ErrInvalidFeaturesConfig = errors.New("invalid features config")
	// ErrInvalidSysconfConfig is the sentinel error wrapped by InvalidSysconfConfigError.
	ErrInvalidSysconfConfig = errors.New("invalid sysconf config")
	// ErrInvalidUIConfig is the sentinel error wrapped by InvalidUIConfigError.
	ErrInvalidUIConfig = errors.New("invalid UI config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrNegativeValue is returned for counters and sizes below zero.
	ErrNegativeValue = errors.New("value must not be negative")
)

type (
	// LogLevel names the minimum level logged. See logging.ParseLevel.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// PrivilegeMode selects where the real-time privilege answer comes from.
	PrivilegeMode string

	// InvalidPrivilegeModeError is returned when a PrivilegeMode value is not recognized.
	// It wraps ErrInvalidPrivilegeMode for errors.Is() compatibility.
	InvalidPrivilegeModeError struct {
		Value PrivilegeMode
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidFeaturesConfigError is returned when a FeaturesConfig has invalid fields.
	InvalidFeaturesConfigError struct {
		FieldErrors []error
	}

	// InvalidSysconfConfigError is returned when a SysconfConfig has invalid fields.
	InvalidSysconfConfigError struct {
		FieldErrors []error
	}

	// InvalidUIConfigError is returned when a UIConfig has invalid fields.
	InvalidUIConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// LogLevel is the minimum level logged
		LogLevel LogLevel `json:"log_level" mapstructure:"log_level"`
		// Dispatch tunes the dispatch engine
		Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`
		// Privilege selects the privilege source
		Privilege PrivilegeConfig `json:"privilege" mapstructure:"privilege"`
		// Features is the binding offer
		Features FeaturesConfig `json:"features" mapstructure:"features"`
		// Sysconf holds the values reported by the configuration queries
		Sysconf SysconfConfig `json:"sysconf" mapstructure:"sysconf"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// DispatchConfig tunes the dispatch engine.
	DispatchConfig struct {
		// WarnDenied logs a warning for every call refused by the permission gate.
		WarnDenied bool `json:"warn_denied" mapstructure:"warn_denied"`
		// TraceCalls logs every handled call at debug level.
		TraceCalls bool `json:"trace_calls" mapstructure:"trace_calls"`
	}

	// PrivilegeConfig selects the privilege source.
	PrivilegeConfig struct {
		Mode PrivilegeMode `json:"mode" mapstructure:"mode"`
	}

	// FeaturesConfig describes what the bind call offers.
	FeaturesConfig struct {
		// Supported lists feature labels (smp, fastsynch, ...).
		Supported []string `json:"supported" mapstructure:"supported"`
		// ABIRevision is the revision callers must have been built for.
		ABIRevision int `json:"abi_revision" mapstructure:"abi_revision"`
	}

	// SysconfConfig holds the values reported by info and sysconf.
	SysconfConfig struct {
		ClockFreq       uint64   `json:"clock_freq" mapstructure:"clock_freq"`
		NrPipes         int      `json:"nr_pipes" mapstructure:"nr_pipes"`
		NrTimers        int      `json:"nr_timers" mapstructure:"nr_timers"`
		WatchdogTimeout int      `json:"watchdog_timeout" mapstructure:"watchdog_timeout"`
		Policies        []string `json:"policies" mapstructure:"policies"`
		Debug           []string `json:"debug" mapstructure:"debug"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is accepted by logging.ParseLevel.
func (l LogLevel) IsValid() (bool, []error) {
	if _, err := logging.ParseLevel(string(l)); err != nil {
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
	return true, nil
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: trace, debug, info, warn, error, fatal)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// String returns the string representation of the PrivilegeMode.
func (m PrivilegeMode) String() string { return string(m) }

// IsValid returns whether the PrivilegeMode is one of the defined modes,
// and a list of validation errors if it is not.
func (m PrivilegeMode) IsValid() (bool, []error) {
	switch m {
	case PrivilegeThread, PrivilegeHost, PrivilegeGranted, PrivilegeDenied:
		return true, nil
	default:
		return false, []error{&InvalidPrivilegeModeError{Value: m}}
	}
}

// Error implements the error interface for InvalidPrivilegeModeError.
func (e *InvalidPrivilegeModeError) Error() string {
	return fmt.Sprintf("invalid privilege mode %q (valid: thread, host, granted, denied)", e.Value)
}

// Unwrap returns ErrInvalidPrivilegeMode for errors.Is() compatibility.
func (e *InvalidPrivilegeModeError) Unwrap() error { return ErrInvalidPrivilegeMode }

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error { return ErrInvalidColorScheme }

// Offer converts the section into the negotiation offer of the bind call.
func (c FeaturesConfig) Offer() (features.Offer, error) {
	set, err := features.ParseSet(c.Supported)
	if err != nil {
		return features.Offer{}, err
	}
	return features.Offer{Supported: set, ABIRev: c.ABIRevision}, nil
}

// IsValid returns whether every feature label is known and the ABI
// revision is positive.
func (c FeaturesConfig) IsValid() (bool, []error) {
	var errs []error
	if _, err := features.ParseSet(c.Supported); err != nil {
		errs = append(errs, err)
	}
	if c.ABIRevision <= 0 {
		errs = append(errs, fmt.Errorf("abi_revision %d: must be positive", c.ABIRevision))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidFeaturesConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidFeaturesConfigError.
func (e *InvalidFeaturesConfigError) Error() string {
	return fmt.Sprintf("invalid features config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidFeaturesConfig for errors.Is() compatibility.
func (e *InvalidFeaturesConfigError) Unwrap() error { return ErrInvalidFeaturesConfig }

// Values converts the section into what the query calls report.
func (c SysconfConfig) Values() (calls.Sysconf, error) {
	policies, err := calls.PolicyMask(c.Policies)
	if err != nil {
		return calls.Sysconf{}, fmt.Errorf("policies: %w", err)
	}
	debug, err := calls.DebugMask(c.Debug)
	if err != nil {
		return calls.Sysconf{}, fmt.Errorf("debug: %w", err)
	}
	return calls.Sysconf{
		ClockFreq:       c.ClockFreq,
		NrPipes:         c.NrPipes,
		NrTimers:        c.NrTimers,
		WatchdogTimeout: c.WatchdogTimeout,
		Policies:        policies,
		Debug:           debug,
	}, nil
}

// IsValid returns whether the SysconfConfig has valid fields.
func (c SysconfConfig) IsValid() (bool, []error) {
	var errs []error
	for name, v := range map[string]int{
		"nr_pipes":         c.NrPipes,
		"nr_timers":        c.NrTimers,
		"watchdog_timeout": c.WatchdogTimeout,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s %d: %w", name, v, ErrNegativeValue))
		}
	}
	if _, err := c.Values(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidSysconfConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidSysconfConfigError.
func (e *InvalidSysconfConfigError) Error() string {
	return fmt.Sprintf("invalid sysconf config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidSysconfConfig for errors.Is() compatibility.
func (e *InvalidSysconfConfigError) Unwrap() error { return ErrInvalidSysconfConfig }

// IsValid returns whether the UIConfig has valid fields.
// It delegates to ColorScheme.IsValid(); bool fields need no validation.
func (c UIConfig) IsValid() (bool, []error) {
	if valid, fieldErrs := c.ColorScheme.IsValid(); !valid {
		return false, []error{&InvalidUIConfigError{FieldErrors: fieldErrs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUIConfigError.
func (e *InvalidUIConfigError) Error() string {
	return fmt.Sprintf("invalid UI config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidUIConfig for errors.Is() compatibility.
func (e *InvalidUIConfigError) Unwrap() error { return ErrInvalidUIConfig }

// IsValid returns whether the Config has valid fields.
// Dispatch has only bool fields and needs no validation.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.LogLevel.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Privilege.Mode.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Features.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Sysconf.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Dispatch: DispatchConfig{
			WarnDenied: false,
			TraceCalls: false,
		},
		Privilege: PrivilegeConfig{Mode: PrivilegeThread},
		Features: FeaturesConfig{
			Supported:   []string{"smp", "fastsynch", "control", "prioceiling"},
			ABIRevision: features.ABIRevision,
		},
		Sysconf: SysconfConfig{
			ClockFreq:       1_000_000_000,
			NrPipes:         32,
			NrTimers:        256,
			WatchdogTimeout: 4,
			Policies:        []string{"fifo", "rr", "weak"},
			Debug:           []string{},
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
		},
	}
}
