// SPDX-License-Identifier: MPL-2.0

package scenario

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/invowk/cokernel/internal/calls"
	"github.com/invowk/cokernel/internal/execmode"
	"github.com/invowk/cokernel/internal/issue"
	"github.com/invowk/cokernel/internal/systab"
	"github.com/invowk/cokernel/pkg/abi"
	"github.com/invowk/cokernel/pkg/cueutil"
)

//go:embed scenario_schema.cue
var schema []byte

var (
	// ErrInvalidScenario is the sentinel error wrapped by InvalidScenarioError.
	ErrInvalidScenario = errors.New("invalid scenario")
	// ErrUnknownThread is returned when a step names an undeclared thread.
	ErrUnknownThread = errors.New("unknown thread")
)

type (
	// Scenario is a scripted sequence of calls with expectations.
	Scenario struct {
		Name        string    `json:"name"`
		Description string    `json:"description,omitempty"`
		Threads     []Thread  `json:"threads"`
		Handlers    []Handler `json:"handlers,omitempty"`
		Steps       []Step    `json:"steps"`
	}

	// Thread declares a simulated host thread.
	Thread struct {
		Name   string `json:"name"`
		PID    int    `json:"pid"`
		Shadow bool   `json:"shadow"`
		// BindProcess defaults to Shadow.
		BindProcess *bool    `json:"bind_process,omitempty"`
		Privileged  bool     `json:"privileged"`
		Domain      string   `json:"domain"`
		State       []string `json:"state"`
		Resources   int      `json:"resources"`
	}

	// Handler scripts the results of a call.
	Handler struct {
		Call    string   `json:"call"`
		Mode    string   `json:"mode,omitempty"`
		Results []string `json:"results"`
	}

	// Injection is an event raised on the step's thread.
	Injection struct {
		Signal     bool `json:"signal,omitempty"`
		Kick       bool `json:"kick,omitempty"`
		Cancel     bool `json:"cancel,omitempty"`
		FailHarden bool `json:"fail_harden,omitempty"`
	}

	// Expect lists what a step must produce. Unset fields are not checked.
	Expect struct {
		Status           *string  `json:"status,omitempty"`
		Disposition      *string  `json:"disposition,omitempty"`
		Domain           *string  `json:"domain,omitempty"`
		Invocations      []string `json:"invocations,omitempty"`
		Cancelled        *bool    `json:"cancelled,omitempty"`
		DeliveredSignals *int     `json:"delivered_signals,omitempty"`
	}

	// Step issues one call, or one host syscall when Host is set.
	Step struct {
		Thread string     `json:"thread"`
		Call   string     `json:"call,omitempty"`
		Host   *int       `json:"host,omitempty"`
		Args   []int64    `json:"args"`
		Before *Injection `json:"before,omitempty"`
		During *Injection `json:"during,omitempty"`
		Expect *Expect    `json:"expect,omitempty"`
	}

	// InvalidScenarioError collects the checks the schema cannot express.
	InvalidScenarioError struct {
		Name        string
		FieldErrors []error
	}
)

// Error implements the error interface for InvalidScenarioError.
func (e *InvalidScenarioError) Error() string {
	return fmt.Sprintf("invalid scenario %q: %v", e.Name, errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidScenario for errors.Is() compatibility.
func (e *InvalidScenarioError) Unwrap() error { return ErrInvalidScenario }

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	result, err := cueutil.ParseFile[Scenario](schema, path, "#Scenario")
	if err == nil {
		err = result.Value.Validate()
	}
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load scenario").
			WithResource(path).
			WithSuggestion("Every step must name a declared thread and a known call").
			WithSuggestion("Statuses are errno names such as \"EPERM\", \"OK\" or integers").
			Wrap(err).
			BuildError()
	}
	return result.Value, nil
}

// Parse validates scenario source. name is used in error messages.
func Parse(data []byte, name string) (*Scenario, error) {
	result, err := cueutil.ParseAndDecode[Scenario](schema, data, "#Scenario", cueutil.WithFilename(name))
	if err != nil {
		return nil, err
	}
	if err := result.Value.Validate(); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// Validate checks cross references: thread names, call names, statuses,
// handler modes.
func (s *Scenario) Validate() error {
	var errs []error
	threads := make(map[string]bool, len(s.Threads))
	for i, th := range s.Threads {
		if threads[th.Name] {
			errs = append(errs, fmt.Errorf("threads[%d]: duplicate name %q", i, th.Name))
		}
		threads[th.Name] = true
		if !th.Shadow && th.Domain == "control" {
			errs = append(errs, fmt.Errorf("threads[%d]: a thread without control block cannot start in control", i))
		}
	}

	for i, h := range s.Handlers {
		id, err := systab.LookupName(h.Call)
		if err != nil {
			errs = append(errs, fmt.Errorf("handlers[%d]: %w", i, err))
			continue
		}
		if calls.IsCore(id) {
			errs = append(errs, fmt.Errorf("handlers[%d]: %s is served by the core calls", i, h.Call))
		}
		if h.Mode != "" {
			if systab.IsWellKnown(id) {
				errs = append(errs, fmt.Errorf("handlers[%d]: %s has a fixed mode", i, h.Call))
			} else if _, err := execmode.Parse(h.Mode); err != nil {
				errs = append(errs, fmt.Errorf("handlers[%d]: %w", i, err))
			}
		}
		for j, r := range h.Results {
			if _, err := abi.ParseStatus(r); err != nil {
				errs = append(errs, fmt.Errorf("handlers[%d].results[%d]: %w", i, j, err))
			}
		}
	}

	for i, st := range s.Steps {
		if !threads[st.Thread] {
			errs = append(errs, fmt.Errorf("steps[%d]: %w %q", i, ErrUnknownThread, st.Thread))
		}
		switch {
		case st.Host != nil && st.Call != "":
			errs = append(errs, fmt.Errorf("steps[%d]: call and host are exclusive", i))
		case st.Host == nil && st.Call == "":
			errs = append(errs, fmt.Errorf("steps[%d]: one of call or host is required", i))
		case st.Call != "":
			if _, err := systab.LookupName(st.Call); err != nil {
				errs = append(errs, fmt.Errorf("steps[%d]: %w", i, err))
			}
		}
		if len(st.Args) > abi.NumArgs {
			errs = append(errs, fmt.Errorf("steps[%d]: %d arguments, at most %d", i, len(st.Args), abi.NumArgs))
		}
		if st.Expect != nil && st.Expect.Status != nil {
			if _, err := abi.ParseStatus(*st.Expect.Status); err != nil {
				errs = append(errs, fmt.Errorf("steps[%d].expect.status: %w", i, err))
			}
		}
	}

	if len(errs) > 0 {
		return &InvalidScenarioError{Name: s.Name, FieldErrors: errs}
	}
	return nil
}

func (t Thread) bindsProcess() bool {
	if t.BindProcess != nil {
		return *t.BindProcess
	}
	return t.Shadow
}
