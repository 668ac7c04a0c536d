// SPDX-License-Identifier: MPL-2.0

package execmode

import (
	"errors"
	"testing"
)

func TestFlags_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mode      Flags
		hasThread bool
		want      Flags
	}{
		{"conforming bound", Conforming, true, RunInControl},
		{"conforming unbound", Conforming, false, RunInRelaxed},
		{"probing bound", Probing, true, RunInControl | Adaptive},
		{"probing unbound", Probing, false, RunInRelaxed | Adaptive},
		{"primary untouched", Primary, false, Primary},
		{"current untouched", Current, true, Current},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.mode.Resolve(tt.hasThread)
			if got != tt.want {
				t.Errorf("%s.Resolve(%v) = %s, want %s", tt.mode, tt.hasThread, got, tt.want)
			}
			if got.Has(Conforming) {
				t.Errorf("%s.Resolve(%v) kept the conforming bit", tt.mode, tt.hasThread)
			}
		})
	}
}

func TestFlags_ResolveIsDeterministic(t *testing.T) {
	t.Parallel()

	for _, hasThread := range []bool{true, false} {
		first := Probing.Resolve(hasThread)
		for range 10 {
			if got := Probing.Resolve(hasThread); got != first {
				t.Fatalf("Resolve(%v) changed from %s to %s", hasThread, first, got)
			}
		}
	}
}

func TestFlags_Flip(t *testing.T) {
	t.Parallel()

	got := (RunInRelaxed | Adaptive).Flip()
	if got != RunInControl {
		t.Errorf("Flip() = %s, want control", got)
	}
	got = (RunInControl | Adaptive | NoTransparentRestart).Flip()
	if got != RunInRelaxed|NoTransparentRestart {
		t.Errorf("Flip() = %s, want relaxed|norestart", got)
	}
	if got.Has(Adaptive) {
		t.Error("flipped mode must not stay adaptive")
	}
}

func TestFlags_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    Flags
		wantErr bool
	}{
		{"none", 0, false},
		{"primary", Primary, false},
		{"probing", Probing, false},
		{"oneway", OneWayTrap, false},
		{"relaxed adaptive", RunInRelaxed | Adaptive, false},
		{"both domains", RunInRelaxed | RunInControl, true},
		{"adaptive without domain", Adaptive, true},
		{"adaptive current", Current | Adaptive, true},
		{"conforming with domain", Conforming | RunInControl, true},
		{"unknown bits", Flags(0x8000), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.mode.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("%s.Validate() error = %v, wantErr %v", tt.mode, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFlags) {
				t.Errorf("error should wrap ErrInvalidFlags, got: %v", err)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    Flags
		wantErr bool
	}{
		{"primary", Primary, false},
		{"NonRestartable", NonRestartable, false},
		{"probing", Probing, false},
		{"init", RunInRelaxed, false},
		{"relaxed|switchback", DownUp, false},
		{"binding | control", Primary, false},
		{"sideways", 0, true},
		{"control|bogus", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownMode) {
					t.Fatalf("Parse(%q) error = %v, want ErrUnknownMode", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestFlags_NameAndString(t *testing.T) {
	t.Parallel()

	if got := NonRestartable.Name(); got != "nonrestartable" {
		t.Errorf("Name() = %q, want nonrestartable", got)
	}
	if got := (Primary | SwitchBack).Name(); got != "" {
		t.Errorf("Name() = %q, want empty for non-composite", got)
	}
	if got := Primary.String(); got != "control|binding" {
		t.Errorf("String() = %q, want control|binding", got)
	}
	if got := Flags(0).String(); got != "none" {
		t.Errorf("String() = %q, want none", got)
	}
}
