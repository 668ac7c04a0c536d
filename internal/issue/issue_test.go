// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"strings"
	"testing"

	"github.com/invowk/cokernel/pkg/abi"
)

// Tests in this file swap the package renderer and must not run in parallel.

func TestValues_OrderedAndComplete(t *testing.T) {
	vals := Values()
	if len(vals) != int(ScenarioFailedId) {
		t.Fatalf("Values() returned %d issues, want %d", len(vals), ScenarioFailedId)
	}
	for i, v := range vals {
		if v.Id() != Id(i+1) {
			t.Errorf("Values()[%d].Id() = %d, want %d", i, v.Id(), i+1)
		}
		if strings.TrimSpace(string(v.MarkdownMsg())) == "" {
			t.Errorf("issue %d has no content", v.Id())
		}
	}
}

func TestForStatus(t *testing.T) {
	for _, st := range []abi.Status{
		abi.StatusPermissionDenied, abi.StatusInterrupted, abi.StatusNoExec,
		abi.StatusMigrationFailed, abi.StatusFault, abi.StatusInvalid,
		abi.StatusNotImplemented, abi.StatusNotSupported, abi.StatusCancelled,
		abi.StatusRestart,
	} {
		i := ForStatus(st)
		if i == nil {
			t.Errorf("ForStatus(%s) = nil", st)
			continue
		}
		if i.Status() != st {
			t.Errorf("ForStatus(%s).Status() = %s", st, i.Status())
		}
		if !strings.Contains(string(i.MarkdownMsg()), st.String()) {
			t.Errorf("issue for %s does not name the status", st)
		}
	}
	if ForStatus(abi.StatusOK) != nil {
		t.Error("ForStatus(OK) should be nil")
	}
	if ForStatus(-77) != nil {
		t.Error("ForStatus(-77) should be nil")
	}
}

func TestIssue_LinksAreCloned(t *testing.T) {
	i := Get(PermissionDeniedId)
	links := i.ExtLinks()
	if len(links) == 0 {
		t.Fatal("EPERM issue should link the errno manual")
	}
	links[0] = "modified"
	if i.ExtLinks()[0] == "modified" {
		t.Error("ExtLinks() should return a clone")
	}
}

func TestIssue_Render(t *testing.T) {
	originalRender := render
	defer func() { render = originalRender }()
	render = func(in, _ string) (string, error) { return in, nil }

	withLinks, err := Get(InterruptedId).Render("")
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}
	if !strings.Contains(withLinks, "See also") || !strings.Contains(withLinks, string(errnoManPage)) {
		t.Errorf("Render() with links missing See also section:\n%s", withLinks)
	}

	noLinks, err := Get(ScenarioFailedId).Render("")
	if err != nil {
		t.Fatalf("Render() returned error: %v", err)
	}
	if strings.Contains(noLinks, "See also") {
		t.Error("Render() without links should not contain 'See also'")
	}
}

func TestAllIssuesAreRenderable(t *testing.T) {
	for _, i := range Values() {
		out, err := i.Render("notty")
		if err != nil {
			t.Errorf("Render(%d) returned error: %v", i.Id(), err)
		}
		if strings.TrimSpace(out) == "" {
			t.Errorf("Render(%d) returned empty output", i.Id())
		}
	}
}
