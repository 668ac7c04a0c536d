// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/invowk/cokernel/internal/config"
)

func TestRunSwitchtest(t *testing.T) {
	t.Parallel()

	res, err := runSwitchtest(context.Background(), config.DefaultConfig(), switchtestOptions{threads: 3, iterations: 50})
	if err != nil {
		t.Fatalf("runSwitchtest() unexpected error: %v", err)
	}
	if res.switches != 300 {
		t.Errorf("switches = %d, want 300", res.switches)
	}
	// One bind per thread plus two migrations per iteration.
	if res.stats.Handled != 3+300 {
		t.Errorf("handled = %d, want %d", res.stats.Handled, 3+300)
	}
}

func TestRunSwitchtest_Errors(t *testing.T) {
	t.Parallel()

	for _, opts := range []switchtestOptions{{threads: 0, iterations: 1}, {threads: 1, iterations: 0}} {
		if _, err := runSwitchtest(context.Background(), config.DefaultConfig(), opts); !errors.Is(err, ErrInvalidSwitchtestOptions) {
			t.Errorf("runSwitchtest(%+v) error = %v, want ErrInvalidSwitchtestOptions", opts, err)
		}
	}

	denied := config.DefaultConfig()
	denied.Privilege.Mode = config.PrivilegeDenied
	_, err := runSwitchtest(context.Background(), denied, switchtestOptions{threads: 2, iterations: 1})
	if err == nil || !strings.Contains(err.Error(), "want a switch") {
		t.Errorf("runSwitchtest(denied) error = %v, want a refused migration", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runSwitchtest(ctx, config.DefaultConfig(), switchtestOptions{threads: 2, iterations: 10}); !errors.Is(err, context.Canceled) {
		t.Errorf("runSwitchtest(canceled) error = %v, want context.Canceled", err)
	}
}

func TestSwitchtestCommand(t *testing.T) {
	out, _, err := runCLI(t, "--config", "testdata/config.cue", "switchtest", "-t", "2", "-n", "10")
	if err != nil {
		t.Fatalf("switchtest: %v", err)
	}
	if !strings.Contains(out, "40 switches from 2 thread(s)") {
		t.Errorf("output = %q, want the switch count", out)
	}
}
