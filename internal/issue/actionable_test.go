// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{"operation only", &ActionableError{Operation: "load scenario"}, "failed to load scenario"},
		{
			"operation with resource",
			&ActionableError{Operation: "load scenario", Resource: "./nano.cue"},
			"failed to load scenario: ./nano.cue",
		},
		{
			"full context",
			&ActionableError{Operation: "load configuration", Resource: "config.cue", Cause: errors.New("file not found")},
			"failed to load configuration: config.cue: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_ErrorsIs(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("sentinel")
	err := NewErrorContext().WithOperation("run scenario").Wrap(fmt.Errorf("step 2: %w", sentinel)).BuildError()
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should find the sentinel through the cause chain")
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	root := errors.New("unexpected EOF")
	err := &ActionableError{
		Operation:   "load configuration",
		Resource:    "config.cue",
		Suggestions: []string{"Check the CUE syntax", "Run 'cokernel config show'"},
		Cause:       fmt.Errorf("parse: %w", root),
	}

	short := err.Format(false)
	if !strings.Contains(short, "• Check the CUE syntax") || !strings.Contains(short, "• Run 'cokernel config show'") {
		t.Errorf("Format(false) missing suggestions:\n%s", short)
	}
	if strings.Contains(short, "Error chain") {
		t.Errorf("Format(false) should not include the error chain:\n%s", short)
	}

	long := err.Format(true)
	if !strings.Contains(long, "1. parse: unexpected EOF") || !strings.Contains(long, "2. unexpected EOF") {
		t.Errorf("Format(true) missing chain entries:\n%s", long)
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("x").Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if err := NewErrorContext().BuildError(); err != nil {
		t.Errorf("BuildError() without operation = %v, want nil", err)
	}

	ae := NewErrorContext().
		WithOperation("bind process").
		WithResource("pid 42").
		WithSuggestion("a").
		WithSuggestion("b").
		Build()
	if ae.Operation != "bind process" || ae.Resource != "pid 42" || len(ae.Suggestions) != 2 || !ae.HasSuggestions() {
		t.Errorf("Build() = %+v", ae)
	}
}

func TestWrapWithContext(t *testing.T) {
	t.Parallel()

	if WrapWithContext(nil, "op", "res") != nil {
		t.Error("WrapWithContext(nil) should return nil")
	}
	cause := errors.New("boom")
	ae := WrapWithContext(cause, "simulate", "s.cue")
	if ae.Operation != "simulate" || ae.Resource != "s.cue" || !errors.Is(ae, cause) {
		t.Errorf("WrapWithContext() = %+v", ae)
	}
}
