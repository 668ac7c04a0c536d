// SPDX-License-Identifier: MPL-2.0

package hostcap

import (
	"context"
	"errors"
	"testing"

	"github.com/invowk/cokernel/internal/dispatch"
)

var _ dispatch.Privileges = (*Probe)(nil)

func TestProbe_CachesResult(t *testing.T) {
	t.Parallel()

	calls := 0
	p := &Probe{check: func() (bool, error) {
		calls++
		return true, nil
	}}
	for range 3 {
		if !p.HasRealtimePrivilege(context.Background()) {
			t.Fatal("HasRealtimePrivilege() = false, want true")
		}
	}
	if calls != 1 {
		t.Errorf("host queried %d times, want 1", calls)
	}
}

func TestProbe_ErrorMeansNoPrivilege(t *testing.T) {
	t.Parallel()

	boom := errors.New("capget: EPERM")
	p := &Probe{check: func() (bool, error) { return true, boom }}
	if p.HasRealtimePrivilege(context.Background()) {
		t.Error("HasRealtimePrivilege() = true after a failed query")
	}
	if _, err := p.Check(); !errors.Is(err, boom) {
		t.Errorf("Check() error = %v, want %v", err, boom)
	}
}

func TestNew_QueriesHost(t *testing.T) {
	t.Parallel()

	// The outcome depends on the test environment; the query itself must work.
	if _, err := New().Check(); err != nil {
		t.Errorf("Check() unexpected error: %v", err)
	}
}
