// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/invowk/cokernel/internal/issue"
	"github.com/invowk/cokernel/pkg/cueutil"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "cokernel"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the cokernel configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default: // Linux and others
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading. It returns the
// path of the file that was merged, or "" when only defaults apply.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	resolvedPath := ""

	if opts.ConfigFilePath != "" {
		// An explicit --config path is used exclusively.
		if !fileExists(opts.ConfigFilePath) {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Use 'cokernel config show' to see the default configuration").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, opts.ConfigFilePath); err != nil {
			return nil, "", parseFailure(opts.ConfigFilePath, err)
		}
		resolvedPath = opts.ConfigFilePath
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, "", err
		}

		for _, candidate := range []string{
			filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
			ConfigFileName + "." + ConfigFileExt,
		} {
			if !fileExists(candidate) {
				continue
			}
			if err := loadCUEIntoViper(v, candidate); err != nil {
				return nil, "", parseFailure(candidate, err)
			}
			resolvedPath = candidate
			break
		}
		// No config file found: defaults only.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(resolvedPath).
			WithSuggestion("Run 'cokernel config show' to compare with the defaults").
			Wrap(flatten(errs)).
			BuildError()
	}

	return &cfg, resolvedPath, nil
}

func parseFailure(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the configuration values match the expected schema").
		WithSuggestion("See 'cokernel config --help' for configuration options").
		Wrap(err).
		BuildError()
}

// flatten expands the nested field errors of the Invalid*Error values into
// one joined error, keeping each wrapper reachable through errors.Is.
func flatten(errs []error) error {
	var out []error
	for _, err := range errs {
		out = append(out, err)
		var fe interface{ fieldErrors() []error }
		if errors.As(err, &fe) {
			out = append(out, flatten(fe.fieldErrors()))
		}
	}
	return errors.Join(out...)
}

func (e *InvalidConfigError) fieldErrors() []error         { return e.FieldErrors }
func (e *InvalidFeaturesConfigError) fieldErrors() []error { return e.FieldErrors }
func (e *InvalidSysconfConfigError) fieldErrors() []error  { return e.FieldErrors }
func (e *InvalidUIConfigError) fieldErrors() []error       { return e.FieldErrors }

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("dispatch.warn_denied", d.Dispatch.WarnDenied)
	v.SetDefault("dispatch.trace_calls", d.Dispatch.TraceCalls)
	v.SetDefault("privilege.mode", d.Privilege.Mode)
	v.SetDefault("features.supported", d.Features.Supported)
	v.SetDefault("features.abi_revision", d.Features.ABIRevision)
	v.SetDefault("sysconf.clock_freq", d.Sysconf.ClockFreq)
	v.SetDefault("sysconf.nr_pipes", d.Sysconf.NrPipes)
	v.SetDefault("sysconf.nr_timers", d.Sysconf.NrTimers)
	v.SetDefault("sysconf.watchdog_timeout", d.Sysconf.WatchdogTimeout)
	v.SetDefault("sysconf.policies", d.Sysconf.Policies)
	v.SetDefault("sysconf.debug", d.Sysconf.Debug)
	v.SetDefault("ui.color_scheme", d.UI.ColorScheme)
	v.SetDefault("ui.verbose", d.UI.Verbose)
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
//
// This does not use cueutil.ParseAndDecode: the result is merged into
// Viper as a map and every field is optional.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
		return err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return cueutil.FormatError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return cueutil.FormatError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	// Merge over the defaults.
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// CreateDefaultConfig creates a default config file if it doesn't exist
func CreateDefaultConfig() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		return nil
	}

	return writeConfig(cfgPath, DefaultConfig())
}

// Save writes the configuration to the per-user config file.
func Save(cfg *Config) error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	return writeConfig(cfgPath, cfg)
}

func configFilePath() (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt), nil
}

func writeConfig(path string, cfg *Config) error {
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// cokernel configuration file\n\n")

	fmt.Fprintf(&sb, "log_level: %q\n", cfg.LogLevel)

	sb.WriteString("\ndispatch: {\n")
	fmt.Fprintf(&sb, "\twarn_denied: %v\n", cfg.Dispatch.WarnDenied)
	fmt.Fprintf(&sb, "\ttrace_calls: %v\n", cfg.Dispatch.TraceCalls)
	sb.WriteString("}\n")

	sb.WriteString("\nprivilege: {\n")
	fmt.Fprintf(&sb, "\tmode: %q\n", cfg.Privilege.Mode)
	sb.WriteString("}\n")

	sb.WriteString("\nfeatures: {\n")
	fmt.Fprintf(&sb, "\tsupported: %s\n", cueList(cfg.Features.Supported))
	fmt.Fprintf(&sb, "\tabi_revision: %d\n", cfg.Features.ABIRevision)
	sb.WriteString("}\n")

	sb.WriteString("\nsysconf: {\n")
	fmt.Fprintf(&sb, "\tclock_freq: %d\n", cfg.Sysconf.ClockFreq)
	fmt.Fprintf(&sb, "\tnr_pipes: %d\n", cfg.Sysconf.NrPipes)
	fmt.Fprintf(&sb, "\tnr_timers: %d\n", cfg.Sysconf.NrTimers)
	fmt.Fprintf(&sb, "\twatchdog_timeout: %d\n", cfg.Sysconf.WatchdogTimeout)
	fmt.Fprintf(&sb, "\tpolicies: %s\n", cueList(cfg.Sysconf.Policies))
	fmt.Fprintf(&sb, "\tdebug: %s\n", cueList(cfg.Sysconf.Debug))
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}

func cueList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
